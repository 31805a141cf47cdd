package docstore

import (
	"context"
	"testing"

	"github.com/mcdev12/showdown/go/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Round   int      `json:"round"`
	Members []string `json:"members"`
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, Rooms, "r1", doc{ID: "r1", Status: "voting", Round: 1, Members: []string{"a", "b"}}))
	require.NoError(t, s.Set(ctx, Rooms, "r2", doc{ID: "r2", Status: "results", Round: 1, Members: []string{"c", "d"}}))
	require.NoError(t, s.Set(ctx, Rooms, "r3", doc{ID: "r3", Status: "voting", Round: 2, Members: []string{"a", "c"}}))
}

func TestMemoryGetSetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seed(t, s)

	var got doc
	require.NoError(t, s.Get(ctx, Rooms, "r1", &got))
	assert.Equal(t, "voting", got.Status)

	require.NoError(t, s.Update(ctx, Rooms, "r1", map[string]any{"status": "results"}))
	require.NoError(t, s.Get(ctx, Rooms, "r1", &got))
	assert.Equal(t, "results", got.Status)
	assert.Equal(t, []string{"a", "b"}, got.Members, "update keeps untouched fields")

	err := s.Get(ctx, Rooms, "missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, Tournaments, "missing", map[string]any{"x": 1}), ErrNotFound)
}

func TestMemorySetMany(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SetMany(ctx, Votes, map[string]any{
		"v1": doc{ID: "v1", Status: "auto"},
		"v2": doc{ID: "v2", Status: "human"},
	}))
	raws, err := s.Query(ctx, Votes)
	require.NoError(t, err)
	assert.Len(t, raws, 2)

	err = s.SetMany(ctx, Votes, map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
	raws, err = s.Query(ctx, Votes)
	require.NoError(t, err)
	assert.Len(t, raws, 2, "a failed batch writes nothing")
}

func TestMemoryQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seed(t, s)

	tests := []struct {
		name    string
		filters []Filter
		want    []string
	}{
		{"no filters", nil, []string{"r1", "r2", "r3"}},
		{"eq string", []Filter{Eq("status", "voting")}, []string{"r1", "r3"}},
		{"eq number", []Filter{Eq("round", 1)}, []string{"r1", "r2"}},
		{"combined", []Filter{Eq("status", "voting"), Eq("round", 2)}, []string{"r3"}},
		{"in", []Filter{In("id", []string{"r2", "r3", "r9"})}, []string{"r2", "r3"}},
		{"contains", []Filter{Contains("members", "a")}, []string{"r1", "r3"}},
		{"no match", []Filter{Eq("status", "completed")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := s.Query(ctx, Rooms, tt.filters...)
			require.NoError(t, err)
			docs, err := Decode[doc](raws)
			require.NoError(t, err)

			var ids []string
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMatchRejectsBadFilters(t *testing.T) {
	_, err := Match(map[string]any{"id": "x"}, []Filter{{Field: "id", Op: "gt", Value: 1}})
	assert.Error(t, err)

	_, err = Match(map[string]any{"id": "x"}, []Filter{{Field: "id", Op: OpIn, Value: "x"}})
	assert.Error(t, err)
}
