package sqlutil

import (
	"encoding/json"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go types and nullable column types

// ToNullRawMessage wraps an encoded document for a jsonb column. Empty input maps to NULL.
func ToNullRawMessage(body []byte) pqtype.NullRawMessage {
	if len(body) == 0 {
		return pqtype.NullRawMessage{Valid: false}
	}
	return pqtype.NullRawMessage{RawMessage: json.RawMessage(body), Valid: true}
}

// FromNullRawMessage unwraps a jsonb column, returning nil for NULL.
func FromNullRawMessage(val pqtype.NullRawMessage) json.RawMessage {
	if !val.Valid {
		return nil
	}
	return val.RawMessage
}
