package postgres

import (
	"testing"

	"github.com/lib/pq"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters []docstore.Filter
		query   string
		args    []any
	}{
		{
			name:  "collection only",
			query: "SELECT body FROM documents WHERE collection = $1 ORDER BY id",
			args:  []any{"rooms"},
		},
		{
			name:    "eq and contains",
			filters: []docstore.Filter{docstore.Eq("round_number", 2), docstore.Contains("participant_ids", "u1")},
			query: "SELECT body FROM documents WHERE collection = $1" +
				" AND body->'round_number' = $2::jsonb" +
				" AND body->'participant_ids' @> $3::jsonb ORDER BY id",
			args: []any{"rooms", "2", `["u1"]`},
		},
		{
			name:    "in",
			filters: []docstore.Filter{docstore.In("id", []string{"a", "b"})},
			query:   "SELECT body FROM documents WHERE collection = $1 AND body->>'id' = ANY($2) ORDER BY id",
			args:    []any{"rooms", pq.Array([]string{"a", "b"})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildQuery("rooms", tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestBuildQueryRejectsUnsafeFields(t *testing.T) {
	_, _, err := buildQuery("rooms", []docstore.Filter{docstore.Eq("id'; DROP TABLE documents; --", "x")})
	assert.Error(t, err)

	_, _, err = buildQuery("rooms", []docstore.Filter{{Field: "id", Op: "like", Value: "x"}})
	assert.Error(t, err)

	_, _, err = buildQuery("rooms", []docstore.Filter{{Field: "id", Op: docstore.OpIn, Value: 3}})
	assert.Error(t, err)
}
