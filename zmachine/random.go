package zmachine

import (
	"encoding/binary"
	"fmt"
	"time"
)

// randomStateSize is the encoded size of Random: A, then interval, then
// counter, big-endian.
const randomStateSize = 8 + 4 + 4

// Random is the story-visible random number generator. In standard mode it
// is a linear congruential generator; after a small seed it counts
// 1, 2, ... interval and wraps, which is what test scripts rely on.
type Random struct {
	A        int64
	Interval int32
	Counter  int32
}

// NewRandom returns a generator in its power-on state.
func NewRandom() Random {
	return Random{A: 1}
}

// Seed reseeds the generator. Zero asks for an unpredictable seed; values
// below 1000 select counting mode.
func (r *Random) Seed(value int) {
	switch {
	case value == 0:
		r.A = time.Now().UnixNano() & 0x7FFF
		r.Interval = 0
	case value < 1000:
		r.Counter = 0
		r.Interval = int32(value)
	default:
		r.A = int64(value)
		r.Interval = 0
	}
}

// Next returns a value in [1, n]. n must be positive.
func (r *Random) Next(n uint16) uint16 {
	var result uint32
	if r.Interval != 0 {
		result = uint32(r.Counter)
		r.Counter++
		if r.Counter == r.Interval {
			r.Counter = 0
		}
	} else {
		r.A = 0x015a4e35*r.A + 1
		result = uint32(r.A>>16) & 0x7FFF
	}
	return uint16(result%uint32(n) + 1)
}

// StateSize returns the length of State().
func (r *Random) StateSize() int {
	return randomStateSize
}

// State encodes the generator.
func (r *Random) State() []byte {
	b := make([]byte, randomStateSize)
	binary.BigEndian.PutUint64(b[0:], uint64(r.A))
	binary.BigEndian.PutUint32(b[8:], uint32(r.Interval))
	binary.BigEndian.PutUint32(b[12:], uint32(r.Counter))
	return b
}

// SetState restores a generator encoded by State.
func (r *Random) SetState(b []byte) error {
	if len(b) != randomStateSize {
		return fmt.Errorf("random state is %d bytes, want %d", len(b), randomStateSize)
	}
	r.A = int64(binary.BigEndian.Uint64(b[0:]))
	r.Interval = int32(binary.BigEndian.Uint32(b[8:]))
	r.Counter = int32(binary.BigEndian.Uint32(b[12:]))
	return nil
}
