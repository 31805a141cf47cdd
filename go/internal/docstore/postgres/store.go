// Package postgres stores documents in a single jsonb table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/mcdev12/showdown/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// Schema creates the documents table.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    body       JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_body_gin ON documents USING GIN (body jsonb_path_ops);
`

const (
	getQuery    = `SELECT body FROM documents WHERE collection = $1 AND id = $2`
	upsertQuery = `INSERT INTO documents (collection, id, body, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`
	updateQuery = `UPDATE documents SET body = body || $3::jsonb, updated_at = now()
WHERE collection = $1 AND id = $2`
)

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store implements docstore.Store on Postgres.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	var body pqtype.NullRawMessage
	err := s.db.QueryRowContext(ctx, getQuery, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(sqlutil.FromNullRawMessage(body), out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertQuery, collection, id, sqlutil.ToNullRawMessage(body)); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) SetMany(ctx context.Context, collection string, docs map[string]any) error {
	bodies, err := docstore.EncodeAll(collection, docs)
	if err != nil {
		return err
	}
	return sqlutil.InTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for id, body := range bodies {
			if _, err := stmt.ExecContext(ctx, collection, id, sqlutil.ToNullRawMessage(body)); err != nil {
				return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
			}
		}
		return nil
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode update for %s/%s: %w", collection, id, err)
	}
	res, err := s.db.ExecContext(ctx, updateQuery, collection, id, string(patch))
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]json.RawMessage, error) {
	query, args, err := buildQuery(collection, filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var body pqtype.NullRawMessage
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		out = append(out, sqlutil.FromNullRawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
	}
	return out, nil
}

// buildQuery translates filters into a parameterized select ordered by id.
func buildQuery(collection string, filters []docstore.Filter) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT body FROM documents WHERE collection = $1")
	args := []any{collection}

	for _, f := range filters {
		if !fieldPattern.MatchString(f.Field) {
			return "", nil, fmt.Errorf("invalid filter field %q", f.Field)
		}
		n := len(args) + 1
		switch f.Op {
		case docstore.OpEq:
			v, err := json.Marshal(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode filter value: %w", err)
			}
			fmt.Fprintf(&b, " AND body->'%s' = $%d::jsonb", f.Field, n)
			args = append(args, string(v))
		case docstore.OpContains:
			v, err := json.Marshal([]any{f.Value})
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode filter value: %w", err)
			}
			fmt.Fprintf(&b, " AND body->'%s' @> $%d::jsonb", f.Field, n)
			args = append(args, string(v))
		case docstore.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("filter %s: in expects []string, got %T", f.Field, f.Value)
			}
			fmt.Fprintf(&b, " AND body->>'%s' = ANY($%d)", f.Field, n)
			args = append(args, pq.Array(values))
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args, nil
}
