package wire

import "time"

// Time unit codes used by the expiration byte.
const (
	unitSeconds  byte = 0x00
	unitMillis   byte = 0x01
	unitNanos    byte = 0x02
	unitMicros   byte = 0x03
	unitMinutes  byte = 0x04
	unitHours    byte = 0x05
	unitDays     byte = 0x06
	unitDefault  byte = 0x07
	unitInfinite byte = 0x08
)

// Expiration carries lifespan and max-idle for write operations.
// Zero means "use the server's cache default"; negative means "never expire".
type Expiration struct {
	Lifespan time.Duration
	MaxIdle  time.Duration
}

func unitFor(d time.Duration) byte {
	switch {
	case d == 0:
		return unitDefault
	case d < 0:
		return unitInfinite
	default:
		return unitMillis
	}
}

func millis(d time.Duration) uint64 {
	ms := d.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return uint64(ms)
}

// Encode writes the unit byte followed by the durations that need a value.
func (x Expiration) Encode(e *Encoder) {
	lu, mu := unitFor(x.Lifespan), unitFor(x.MaxIdle)
	e.Byte(lu<<4 | mu)
	if lu == unitMillis {
		e.VLong(millis(x.Lifespan))
	}
	if mu == unitMillis {
		e.VLong(millis(x.MaxIdle))
	}
}

func toDuration(unit byte, v uint64) time.Duration {
	n := time.Duration(v)
	switch unit {
	case unitSeconds:
		return n * time.Second
	case unitMillis:
		return n * time.Millisecond
	case unitNanos:
		return n
	case unitMicros:
		return n * time.Microsecond
	case unitMinutes:
		return n * time.Minute
	case unitHours:
		return n * time.Hour
	case unitDays:
		return n * 24 * time.Hour
	}
	return 0
}

func decodeOne(d *Decoder, unit byte) time.Duration {
	switch unit {
	case unitDefault:
		return 0
	case unitInfinite:
		return -1
	}
	if unit > unitInfinite {
		d.fail(ErrCorrupt)
		return 0
	}
	return toDuration(unit, d.VLong())
}

// DecodeExpiration reads what Encode wrote, accepting every unit code.
func DecodeExpiration(d *Decoder) Expiration {
	b := d.Byte()
	var x Expiration
	x.Lifespan = decodeOne(d, b>>4)
	x.MaxIdle = decodeOne(d, b&0x0f)
	return x
}
