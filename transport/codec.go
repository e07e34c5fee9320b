package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawBytes is a gRPC message whose wire representation is exactly its
// bytes: the client speaks to the backend using the hand-rolled
// envelope codec from the envelope package (§1 "generated wire
// serialization code" is out of scope), so rather than faking generated
// method stubs, each RPC call below marshals/unmarshals through this
// codec directly over a real grpc.ClientConn.
type rawBytes []byte

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *rawBytes:
		return *m, nil
	case rawBytes:
		return m, nil
	default:
		return nil, fmt.Errorf("rawCodec: unsupported message type %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawBytes)
	if !ok {
		return fmt.Errorf("rawCodec: unsupported message type %T", v)
	}
	*m = append((*m)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
