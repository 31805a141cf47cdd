// Package docstore is the persistence contract of the tournament core: a flat
// collection/id document store with partial updates and simple filtered queries.
// Documents are JSON objects; backends never need multi-document transactions.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mcdev12/showdown/go/internal/apperrors"
)

// Collections used by the tournament core.
const (
	Tournaments = "tournaments"
	Rounds      = "rounds"
	Rooms       = "rooms"
	Votes       = "votes"
	Scores      = "scores"
)

// ErrNotFound is returned by Get and Update for a missing document.
var ErrNotFound = apperrors.NotFound("document not found")

// Op is a filter comparison.
type Op string

const (
	OpEq       Op = "eq"       // field equals value
	OpIn       Op = "in"       // field equals one of the values ([]string)
	OpContains Op = "contains" // array field contains value
)

// Filter is a predicate on a top-level document field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter       { return Filter{Field: field, Op: OpEq, Value: value} }
func In(field string, values []string) Filter { return Filter{Field: field, Op: OpIn, Value: values} }
func Contains(field string, value any) Filter { return Filter{Field: field, Op: OpContains, Value: value} }

// Store is implemented by every persistence backend.
type Store interface {
	// Get decodes the document into out or returns ErrNotFound.
	Get(ctx context.Context, collection, id string, out any) error
	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, doc any) error
	// SetMany writes several documents of one collection atomically.
	SetMany(ctx context.Context, collection string, docs map[string]any) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Query returns every document of collection matching all filters.
	Query(ctx context.Context, collection string, filters ...Filter) ([]json.RawMessage, error)
}

// Match evaluates filters against a decoded document.
func Match(doc map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matchOne(doc[f.Field], f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOne(field any, f Filter) (bool, error) {
	switch f.Op {
	case OpEq:
		return equalJSON(field, f.Value)
	case OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return false, fmt.Errorf("filter %s: in expects []string, got %T", f.Field, f.Value)
		}
		for _, v := range values {
			if ok, _ := equalJSON(field, v); ok {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		items, ok := field.([]any)
		if !ok {
			return false, nil
		}
		for _, item := range items {
			if ok, err := equalJSON(item, f.Value); err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

// equalJSON compares a decoded JSON value with a Go value by normalizing the latter
// through JSON.
func equalJSON(decoded, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal filter value: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return false, fmt.Errorf("failed to normalize filter value: %w", err)
	}
	return reflect.DeepEqual(decoded, normalized), nil
}

// Merge applies fields on top of an encoded document.
func Merge(body []byte, fields map[string]any) ([]byte, error) {
	doc := make(map[string]any)
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return merged, nil
}

// EncodeAll marshals every document of a batch.
func EncodeAll(collection string, docs map[string]any) (map[string][]byte, error) {
	out := make(map[string][]byte, len(docs))
	for id, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
		}
		out[id] = body
	}
	return out, nil
}

// Decode unmarshals query results into a slice of T.
func Decode[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
