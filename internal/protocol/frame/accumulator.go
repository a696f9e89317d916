package frame

import "encoding/binary"

// Accumulator assembles one big-endian u16 from partial deliveries.
type Accumulator struct {
	buf [2]byte
	n   int
}

// Need returns how many bytes are still missing.
func (a *Accumulator) Need() int {
	return len(a.buf) - a.n
}

// Write stores at most Need() bytes from the head of p and returns how many
// it consumed. The remainder of p belongs to the caller.
func (a *Accumulator) Write(p []byte) int {
	n := copy(a.buf[a.n:], p)
	a.n += n
	return n
}

// Value returns the assembled integer once both bytes are held.
func (a *Accumulator) Value() (uint16, bool) {
	if a.n != len(a.buf) {
		return 0, false
	}
	return binary.BigEndian.Uint16(a.buf[:]), true
}

func (a *Accumulator) Reset() {
	a.n = 0
}
