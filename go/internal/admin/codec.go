package admin

import (
	"encoding/json"
)

// JSONCodec lets connect carry the plain Go request and response structs of this
// package. Clients and handlers must both be built with WithCodec(JSONCodec{}).
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (JSONCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }
