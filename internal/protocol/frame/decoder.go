package frame

// Phase is the part of a frame the Decoder is waiting on.
type Phase uint8

const (
	PhaseTypeID Phase = iota
	PhaseLength
	PhasePayload
)

func (p Phase) String() string {
	switch p {
	case PhaseTypeID:
		return "type_id"
	case PhaseLength:
		return "length"
	case PhasePayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Decoder rebuilds frames from arbitrarily chunked input. All partial state
// lives in the Decoder so feeding may stop and resume at any byte.
type Decoder struct {
	phase  Phase
	acc    Accumulator
	typeID uint16
	length int
	buf    []byte
}

func (d *Decoder) Phase() Phase {
	return d.phase
}

// InProgress reports whether a frame has been partially consumed.
func (d *Decoder) InProgress() bool {
	return d.phase != PhaseTypeID || d.acc.Need() != 2
}

// Need returns the bytes required to finish the current phase.
func (d *Decoder) Need() int {
	if d.phase == PhasePayload {
		return d.length - len(d.buf)
	}
	return d.acc.Need()
}

// Feed consumes at most Need() bytes of p and returns how many it used. ok
// is true when those bytes completed a frame; a zero length frame completes
// together with its length field.
func (d *Decoder) Feed(p []byte) (n int, f Frame, ok bool) {
	switch d.phase {
	case PhaseTypeID:
		n = d.acc.Write(p)
		id, done := d.acc.Value()
		if !done {
			return n, Frame{}, false
		}
		d.acc.Reset()
		d.typeID = id
		d.phase = PhaseLength
		return n, Frame{}, false

	case PhaseLength:
		n = d.acc.Write(p)
		length, done := d.acc.Value()
		if !done {
			return n, Frame{}, false
		}
		d.acc.Reset()
		if length == 0 {
			d.phase = PhaseTypeID
			return n, Frame{TypeID: d.typeID, Payload: []byte{}}, true
		}
		d.length = int(length)
		d.buf = make([]byte, 0, length)
		d.phase = PhasePayload
		return n, Frame{}, false

	default:
		n = min(len(p), d.Need())
		d.buf = append(d.buf, p[:n]...)
		if len(d.buf) < d.length {
			return n, Frame{}, false
		}
		f = Frame{TypeID: d.typeID, Payload: d.buf}
		d.buf = nil
		d.length = 0
		d.phase = PhaseTypeID
		return n, f, true
	}
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	*d = Decoder{}
}
