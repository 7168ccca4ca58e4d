// Package uart implements the asynchronous serial transport between a
// Bluetooth host stack and a UART-attached controller. It moves raw byte
// blocks or SLIP-framed packets across a non-blocking descriptor driven by
// an external readiness loop, continuing partial reads and writes across
// readiness events with exactly one pending operation per direction.
package uart

import (
	"errors"
	"log/slog"

	"github.com/kstaniek/go-hciuart/internal/logging"
	"github.com/kstaniek/go-hciuart/slip"
)

const (
	// TxChunkLen bounds a single encoded SLIP chunk handed to the device
	// as one pending write.
	TxChunkLen = 128
	// RxBufferSize bounds a single raw read while receiving a frame.
	RxBufferSize = 128
)

// slowOpMS flags device syscalls that stall the run loop; soft
// observability only, not a deadline.
const slowOpMS = 10

// Event identifies a readiness notification kind.
type Event uint8

const (
	Readable Event = iota
	Writable
)

func (e Event) String() string {
	if e == Writable {
		return "writable"
	}
	return "readable"
}

// RunLoop is the readiness source the transport registers with. Enable
// and Disable toggle level-triggered, sticky per-event flags: an enabled
// event keeps firing while the descriptor stays ready. NowMS is a
// monotonic millisecond clock.
type RunLoop interface {
	Add(fd int, h func(Event))
	Remove(fd int)
	Enable(fd int, ev Event)
	Disable(fd int, ev Event)
	NowMS() uint32
}

// Device is an opened, already-configured non-blocking descriptor. Read
// and Write must never block; a would-block condition is reported as an
// error (unix.EAGAIN for the Port implementation).
type Device interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// LineConfigurer is implemented by devices whose serial line parameters
// can be changed after open.
type LineConfigurer interface {
	SetBaudrate(baud int) error
	SetParity(even bool) error
	SetFlowControl(rtscts bool) error
}

var (
	ErrClosed          = errors.New("uart: transport not open")
	ErrWritePending    = errors.New("uart: write already pending")
	ErrReadPending     = errors.New("uart: read already pending")
	ErrNotConfigurable = errors.New("uart: device does not support line configuration")
)

// mode is the per-direction transfer state. At most one mode is active
// per direction; the dispatcher consults it on every readiness event.
type mode uint8

const (
	modeIdle mode = iota
	modeBlock
	modeFrame
)

// Transport owns all transfer state for one descriptor. It is not safe
// for concurrent use: all methods and callbacks run on the goroutine that
// drives the run loop (see the runloop package), which is also why no
// internal locking exists.
type Transport struct {
	loop RunLoop
	dev  Device
	log  *slog.Logger

	open bool

	rxMode mode
	txMode mode

	// wr is the pending write cursor (block data or the current SLIP
	// chunk); it advances by reslicing as bytes drain.
	wr []byte
	// rd is the pending block read destination; it advances as bytes
	// arrive.
	rd []byte

	enc   slip.Encoder
	dec   slip.Decoder
	chunk [TxChunkLen]byte

	// staging holds the most recent raw read in frame mode; bytes in
	// [stagePos, stageLen) have not been fed to the decoder yet and may
	// belong to a subsequent frame.
	staging  [RxBufferSize]byte
	stagePos int
	stageLen int

	// trackStart is set by ReceiveFrame and cleared by the first physical
	// read, so receive latency is only reported when a read was involved.
	trackStart bool
	rxStartMS  uint32

	blockSent     func()
	blockReceived func()
	frameSent     func()
	frameReceived func(size int)
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger replaces the transport's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTransport wires a transport to an opened device and a run loop. The
// descriptor is not registered until Open.
func NewTransport(dev Device, loop RunLoop, opts ...Option) *Transport {
	t := &Transport{
		dev:  dev,
		loop: loop,
		log:  logging.L(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// OnBlockSent sets the block transmit completion handler.
func (t *Transport) OnBlockSent(fn func()) { t.blockSent = fn }

// OnBlockReceived sets the block receive completion handler.
func (t *Transport) OnBlockReceived(fn func()) { t.blockReceived = fn }

// OnFrameSent sets the frame transmit completion handler.
func (t *Transport) OnFrameSent(fn func()) { t.frameSent = fn }

// OnFrameReceived sets the frame receive completion handler; size is the
// decoded frame length.
func (t *Transport) OnFrameReceived(fn func(size int)) { t.frameReceived = fn }

// Open registers the descriptor with the run loop. The device must
// already be configured and in non-blocking mode.
func (t *Transport) Open() error {
	if t.open {
		return errors.New("uart: transport already open")
	}
	t.reset()
	t.loop.Add(t.dev.Fd(), t.process)
	t.open = true
	t.log.Info("uart_opened", "fd", t.dev.Fd())
	return nil
}

// Close deregisters the descriptor, discards all in-flight state and
// closes the device. Pending operations never complete and their
// callbacks never fire.
func (t *Transport) Close() error {
	if !t.open {
		return nil
	}
	t.open = false
	t.loop.Remove(t.dev.Fd())
	t.reset()
	t.log.Info("uart_closed", "fd", t.dev.Fd())
	return t.dev.Close()
}

func (t *Transport) reset() {
	t.rxMode = modeIdle
	t.txMode = modeIdle
	t.wr = nil
	t.rd = nil
	t.stagePos = 0
	t.stageLen = 0
	t.trackStart = false
	t.rxStartMS = 0
}

// process is the single run loop callback. It routes each readiness event
// to the block or frame engine for its direction; a stale event for a
// closed descriptor is discarded.
func (t *Transport) process(ev Event) {
	if !t.open {
		return
	}
	switch ev {
	case Readable:
		if t.rxMode == modeFrame {
			t.frameReadable()
		} else {
			t.blockReadable()
		}
	case Writable:
		if t.txMode == modeFrame {
			t.frameWritable()
		} else {
			t.blockWritable()
		}
	}
}

// SetBaudrate changes the line speed through the device's LineConfigurer
// capability.
func (t *Transport) SetBaudrate(baud int) error {
	lc, ok := t.dev.(LineConfigurer)
	if !ok {
		return ErrNotConfigurable
	}
	t.log.Info("uart_set_baudrate", "baud", baud)
	return lc.SetBaudrate(baud)
}

// SetParity enables or disables even parity.
func (t *Transport) SetParity(even bool) error {
	lc, ok := t.dev.(LineConfigurer)
	if !ok {
		return ErrNotConfigurable
	}
	return lc.SetParity(even)
}

// SetFlowControl enables or disables RTS/CTS hardware flow control.
func (t *Transport) SetFlowControl(rtscts bool) error {
	lc, ok := t.dev.(LineConfigurer)
	if !ok {
		return ErrNotConfigurable
	}
	return lc.SetFlowControl(rtscts)
}
