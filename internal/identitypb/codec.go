package identitypb

import "encoding/json"

// Codec implements grpc/encoding.Codec over plain JSON instead of
// protobuf wire format, since none of these messages are proto.Message
// values (see the package doc in messages.go for why). Installed
// server-side with grpc.ForceServerCodec so the default proto codec is
// never consulted.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string { return "json" }
