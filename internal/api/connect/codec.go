// Package connect provides the Connect RPC surface of the playback service.
package connect

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec carries plain Go structs as JSON. It replaces connect's
// protobuf-only "json" codec for both handlers and clients.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, message)
}

// WithJSON selects the JSON codec.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
