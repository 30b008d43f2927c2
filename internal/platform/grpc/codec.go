package grpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype of Covenant wire messages
// (application/grpc+cbor).
const CodecName = "cbor"

var (
	wireEncMode cbor.EncMode
	wireDecMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.CoreDetEncOptions()
	encOpts.NilContainers = cbor.NilContainerAsEmpty
	wireEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor wire encoder: %v", err))
	}
	wireDecMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor wire decoder: %v", err))
	}
	encoding.RegisterCodec(codec{})
}

// codec marshals plain Go structs with deterministic CBOR so that services
// can be declared without generated protobuf types.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	data, err := wireEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal %T: %w", v, err)
	}
	return data, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := wireDecMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return CodecName }

// CallOptions returns the call options every Covenant client stub passes so
// requests are encoded with the CBOR codec.
func CallOptions(opts ...gogrpc.CallOption) []gogrpc.CallOption {
	return append([]gogrpc.CallOption{gogrpc.CallContentSubtype(CodecName)}, opts...)
}
