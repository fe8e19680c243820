package remotebridge

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName selects the JSON codec over gRPC's default protobuf-wire
// codec via grpc.CallContentSubtype / grpc.ForceServerCodec — remotebridge
// carries plain Go structs (messages.go), not protoc-generated types, the
// way the teacher's proto.BridgeServiceClient carries .pb.go types. Using
// gRPC's codec extension point keeps the transport (HTTP/2 framing, flow
// control, streaming) genuinely gRPC without requiring a protoc step this
// module has no way to run.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
