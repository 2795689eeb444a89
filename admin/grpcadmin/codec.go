package grpcadmin

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets EvictionAdmin speak plain JSON over gRPC framing instead
// of protobuf wire format, so the admin surface needs no .proto toolchain:
// the request/response types below are ordinary JSON-tagged structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
