package grpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients select with grpc.CallContentSubtype.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec carries the plain Go message structs as JSON.
type Codec struct{}

func (Codec) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (Codec) Unmarshal(data []byte, value any) error {
	return json.Unmarshal(data, value)
}

func (Codec) Name() string {
	return CodecName
}
