// Package slip implements SLIP byte-stuffing (RFC 1055 alphabet) as used
// by serial HCI transports: frames are delimited by END bytes and literal
// END/ESC occurrences inside the payload are replaced by two-byte escape
// sequences. The encoder and decoder are pure state machines; they perform
// no I/O and hold no buffers of their own beyond caller-provided ones.
package slip

// The standard SLIP alphabet. The escape table is closed: END maps to
// ESC,ESC_END and ESC maps to ESC,ESC_ESC; nothing else is ever escaped.
const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

type encPhase uint8

const (
	encLead encPhase = iota // leading End not yet emitted
	encData                 // emitting payload bytes
	encTail                 // trailing End not yet emitted
	encDone
)

// Encoder turns one payload into its escaped wire form as a lazy byte
// stream: a leading End, each payload byte literal or escaped, then a
// trailing End. It is pull-style: callers take bytes with Next or in bulk
// with Drain until HasData reports false. Start resets it for a new
// payload; a consumed encoder is not restartable otherwise.
type Encoder struct {
	payload []byte
	pos     int
	escaped byte // pending second byte of an escape pair, 0 when none
	phase   encPhase
}

// Start arms the encoder over payload. The slice is borrowed until the
// encoder is exhausted.
func (e *Encoder) Start(payload []byte) {
	e.payload = payload
	e.pos = 0
	e.escaped = 0
	e.phase = encLead
}

// HasData reports whether Next will produce another byte.
func (e *Encoder) HasData() bool { return e.phase != encDone }

// Next returns the next encoded byte. Callers must gate on HasData; after
// exhaustion Next keeps returning End.
func (e *Encoder) Next() byte {
	switch e.phase {
	case encLead:
		e.phase = encData
		if len(e.payload) == 0 {
			e.phase = encTail
		}
		return End
	case encData:
		if e.escaped != 0 {
			b := e.escaped
			e.escaped = 0
			e.advance()
			return b
		}
		b := e.payload[e.pos]
		switch b {
		case End:
			e.escaped = EscEnd
			return Esc
		case Esc:
			e.escaped = EscEsc
			return Esc
		}
		e.advance()
		return b
	case encTail:
		e.phase = encDone
	}
	return End
}

func (e *Encoder) advance() {
	e.pos++
	if e.pos == len(e.payload) {
		e.phase = encTail
	}
}

// Drain fills dst with encoded bytes and returns the count written. It
// stops at len(dst) or when the encoder is exhausted, whichever is first.
func (e *Encoder) Drain(dst []byte) int {
	n := 0
	for e.HasData() && n < len(dst) {
		dst[n] = e.Next()
		n++
	}
	return n
}

// Encode is a convenience that runs a fresh Encoder over payload and
// returns the complete wire form.
func Encode(payload []byte) []byte {
	var e Encoder
	e.Start(payload)
	out := make([]byte, 0, len(payload)+2)
	for e.HasData() {
		out = append(out, e.Next())
	}
	return out
}

type decState uint8

const (
	decAwaitStart decState = iota // before the first payload byte; Ends are delimiters
	decNormal                     // inside a frame, literal bytes
	decEscaped                    // previous byte was Esc
)

// Decoder reassembles one frame into a caller-provided buffer, consuming
// raw wire bytes one at a time via Process. Bytes past the buffer capacity
// are dropped while the decoder keeps scanning for the closing End, so an
// oversized frame never writes out of bounds and the stream stays
// synchronized. FrameSize returns 0 until a frame completes.
type Decoder struct {
	buf      []byte
	pos      int
	size     int
	state    decState
	overflow bool
}

// Init arms the decoder over dst and clears all prior state.
func (d *Decoder) Init(dst []byte) {
	d.buf = dst
	d.pos = 0
	d.size = 0
	d.state = decAwaitStart
	d.overflow = false
}

// Process consumes one raw byte from the wire.
func (d *Decoder) Process(b byte) {
	switch d.state {
	case decAwaitStart:
		switch b {
		case End:
			// repeated delimiters between frames carry no payload
		case Esc:
			d.state = decEscaped
		default:
			d.store(b)
			d.state = decNormal
		}
	case decNormal:
		switch b {
		case End:
			d.size = d.pos
			d.state = decAwaitStart
		case Esc:
			d.state = decEscaped
		default:
			d.store(b)
		}
	case decEscaped:
		switch b {
		case EscEnd:
			d.store(End)
		case EscEsc:
			d.store(Esc)
		default:
			// unknown substitute: keep the byte as-is instead of
			// discarding the whole frame
			d.store(b)
		}
		d.state = decNormal
	}
}

func (d *Decoder) store(b byte) {
	if d.pos < len(d.buf) {
		d.buf[d.pos] = b
		d.pos++
		return
	}
	d.overflow = true
}

// FrameSize returns the length of the completed frame, or 0 while the
// frame is still incomplete. The value persists until the next Init.
func (d *Decoder) FrameSize() int { return d.size }

// Overflowed reports whether any byte was dropped because the destination
// buffer filled up. The reported frame size then covers only the retained
// prefix.
func (d *Decoder) Overflowed() bool { return d.overflow }
