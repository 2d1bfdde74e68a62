package rpc

import "encoding/json"

// jsonCodec lets Connect carry plain Go structs. It takes over the "json"
// codec name so callers post application/json bodies.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
