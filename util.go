package hotrod

// ToString returns the bytes of b as a string. Every byte, NUL included, is
// kept; no encoding is assumed.
func ToString(b []byte) string { return string(b) }

// FromString returns a fresh copy of the bytes of s; FromString(ToString(b))
// equals b.
func FromString(s string) []byte {
	if s == "" {
		return []byte{}
	}
	return []byte(s)
}
