package service

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec lets Connect carry plain Go structs. It replaces the protobuf
// JSON codec, so "application/json" and "application/connect+json" requests
// decode straight into the message types in messages.go.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// WithJSON is the client option that matches the server codec.
func WithJSON() connect.ClientOption {
	return connect.WithCodec(jsonCodec{})
}
