// Package marshal converts keys and values to the opaque byte sequences a
// HotRod server stores. A cache handle takes one Marshaller for keys and one
// for values.
package marshal

// Marshaller converts V to and from its wire bytes. Implementations must be
// safe for concurrent use.
type Marshaller[V any] interface {
	Marshal(V) ([]byte, error)
	Unmarshal([]byte) (V, error)
}

// Bytes is the identity marshaller: values go to the server unchanged.
// Unmarshal returns its input without copying; the cache hands it a buffer
// the caller owns.
type Bytes struct{}

var _ Marshaller[[]byte] = Bytes{}

func (Bytes) Marshal(b []byte) ([]byte, error)   { return b, nil }
func (Bytes) Unmarshal(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their raw bytes, without UTF-8 validation.
type String struct{}

func (String) Marshal(s string) ([]byte, error)   { return []byte(s), nil }
func (String) Unmarshal(b []byte) (string, error) { return string(b), nil }
