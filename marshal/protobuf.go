package marshal

import "google.golang.org/protobuf/proto"

// Protobuf marshals generated messages. Keys marshalled this way should use
// Deterministic so that equal messages map to the same server key.
type Protobuf[T proto.Message] struct {
	new           func() T // e.g. func() *pb.User { return &pb.User{} }
	Deterministic bool
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Marshal(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: c.Deterministic}.Marshal(v)
}

func (c Protobuf[T]) Unmarshal(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
