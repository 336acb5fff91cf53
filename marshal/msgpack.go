package marshal

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values with vmihailenco/msgpack/v5.
// The zero value is ready to use. Use `msgpack:"name"` tags for explicit
// field names.
type Msgpack[V any] struct{}

func (Msgpack[V]) Marshal(v V) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack[V]) Unmarshal(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
