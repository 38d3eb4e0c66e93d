package relayer

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as the gRPC wire codec for the relayer
// service. There is no .proto toolchain available to generate message
// types, so frames are plain JSON-tagged Go structs carried over gRPC's
// transport and streaming machinery instead of protobuf wire encoding.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("relayer: marshaling frame: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("relayer: unmarshaling frame: %w", err)
	}
	return nil
}
