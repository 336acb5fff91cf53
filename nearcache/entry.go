package nearcache

import (
	"encoding/binary"
	"errors"
)

// Entry frame: magic(4) | version(1) | gen(8) | epoch(8) | payload.
const (
	entryMagic   = "HRNC"
	entryVersion = 1
	entryHeader  = len(entryMagic) + 1 + 8 + 8
)

var ErrCorrupt = errors.New("nearcache: corrupt entry")

// Stamp is the generation state observed for one key. An entry is valid only
// while both numbers are unchanged.
type Stamp struct {
	Gen   uint64
	Epoch uint64
}

func encodeEntry(s Stamp, payload []byte) []byte {
	out := make([]byte, entryHeader+len(payload))
	copy(out, entryMagic)
	out[4] = entryVersion
	binary.BigEndian.PutUint64(out[5:13], s.Gen)
	binary.BigEndian.PutUint64(out[13:21], s.Epoch)
	copy(out[entryHeader:], payload)
	return out
}

// decodeEntry returns a payload that aliases b.
func decodeEntry(b []byte) (Stamp, []byte, error) {
	if len(b) < entryHeader || string(b[:4]) != entryMagic || b[4] != entryVersion {
		return Stamp{}, nil, ErrCorrupt
	}
	s := Stamp{
		Gen:   binary.BigEndian.Uint64(b[5:13]),
		Epoch: binary.BigEndian.Uint64(b[13:21]),
	}
	return s, b[entryHeader:], nil
}
