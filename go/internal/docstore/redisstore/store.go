// Package redisstore keeps documents as JSON strings in Redis. Each collection has a
// set of its ids so queries can enumerate it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 5

// Store implements docstore.Store on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// New returns a store whose keys start with prefix, "showdown" when empty.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "showdown"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) docKey(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, collection, id)
}

func (s *Store) idsKey(collection string) string {
	return fmt.Sprintf("%s:%s:ids", s.prefix, collection)
}

func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	body, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	return s.write(ctx, collection, map[string][]byte{id: body})
}

func (s *Store) SetMany(ctx context.Context, collection string, docs map[string]any) error {
	bodies, err := docstore.EncodeAll(collection, docs)
	if err != nil {
		return err
	}
	return s.write(ctx, collection, bodies)
}

func (s *Store) write(ctx context.Context, collection string, bodies map[string][]byte) error {
	ids := make([]string, 0, len(bodies))
	for id := range bodies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Set(ctx, s.docKey(collection, id), string(bodies[id]), 0)
			pipe.SAdd(ctx, s.idsKey(collection), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	return nil
}

// Update merges fields under WATCH, retrying when the document changes concurrently.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	key := s.docKey(collection, id)
	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		if err != nil {
			return err
		}
		merged, err := docstore.Merge(body, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(merged), 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
		}
		return err
	}
	return fmt.Errorf("failed to update %s/%s: too many concurrent writers", collection, id)
}

// Query loads the whole collection and filters it client side, ordered by id.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]json.RawMessage, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", collection, err)
	}

	var out []json.RawMessage
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// id left behind by a document that no longer exists
			continue
		}
		doc := make(map[string]any)
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, ids[i], err)
		}
		match, err := docstore.Match(doc, filters)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, json.RawMessage(str))
		}
	}
	return out, nil
}
