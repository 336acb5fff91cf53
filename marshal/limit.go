package marshal

import (
	"errors"
	"fmt"
)

var ErrTooLarge = errors.New("marshal: payload too large")

// Limit wraps another marshaller and refuses payloads above the configured
// sizes in either direction. A limit <= 0 disables that check.
type Limit[V any] struct {
	Inner      Marshaller[V]
	MaxMarshal int
	MaxDecode  int
}

func (c Limit[V]) Marshal(v V) ([]byte, error) {
	b, err := c.Inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.MaxMarshal > 0 && len(b) > c.MaxMarshal {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxMarshal)
	}
	return b, nil
}

func (c Limit[V]) Unmarshal(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Unmarshal(b)
}
