package hotrod

import "time"

const (
	DefaultProtocol          = "3.0"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultSocketTimeout     = 30 * time.Second
	DefaultMaxConnsPerServer = 4
	DefaultMaxAuthRounds     = 10
	DefaultPort              = 11222
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
