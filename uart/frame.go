package uart

import (
	"github.com/kstaniek/go-hciuart/internal/metrics"
)

// SendFrame SLIP-encodes payload and transmits it in chunks of at most
// TxChunkLen bytes; the encoded length is unknown up front and may exceed
// any single buffer. The payload is borrowed until the frame-sent
// callback fires, which happens exactly once per call.
func (t *Transport) SendFrame(payload []byte) error {
	if !t.open {
		return ErrClosed
	}
	if t.txMode != modeIdle {
		t.log.Error("uart_write_pending", "len", len(payload))
		metrics.IncError(metrics.ErrOpPending)
		return ErrWritePending
	}
	t.txMode = modeFrame
	t.enc.Start(payload)
	t.sendChunk()
	return nil
}

// sendChunk drains the encoder into the outgoing chunk buffer and hands
// it to the byte engine as one pending write. Even an empty payload
// yields two delimiter bytes, so the chunk is never empty here.
func (t *Transport) sendChunk() {
	n := t.enc.Drain(t.chunk[:])
	t.log.Debug("uart_frame_chunk", "len", n)
	t.wr = t.chunk[:n]
	t.loop.Enable(t.dev.Fd(), Writable)
}

func (t *Transport) frameWritable() {
	if !t.writeSome() {
		return
	}
	if t.enc.HasData() {
		t.sendChunk()
		return
	}
	t.txMode = modeIdle
	metrics.IncFrameTx()
	if t.frameSent != nil {
		t.frameSent()
	}
}

// ReceiveFrame arms the SLIP decoder over buf and completes once a whole
// frame has been decoded. Bytes left staged by an earlier physical read
// are consumed first; if they already contain a complete frame the
// frame-received callback fires synchronously, before ReceiveFrame
// returns, and no read is requested. The callback may re-enter
// ReceiveFrame for the next frame.
func (t *Transport) ReceiveFrame(buf []byte) error {
	if !t.open {
		return ErrClosed
	}
	if t.rxMode != modeIdle {
		t.log.Error("uart_read_pending", "len", len(buf))
		metrics.IncError(metrics.ErrOpPending)
		return ErrReadPending
	}
	t.rxMode = modeFrame
	t.trackStart = true
	t.dec.Init(buf)

	if t.stagePos < t.stageLen {
		if t.drainStaging() > 0 {
			return nil
		}
	}

	t.loop.Enable(t.dev.Fd(), Readable)
	return nil
}

func (t *Transport) frameReadable() {
	start := t.loop.NowMS()
	if t.trackStart {
		t.trackStart = false
		t.rxStartMS = start
	}

	// each physical read replaces the staging buffer; leftovers were
	// drained before readiness was requested
	n, err := t.dev.Read(t.staging[:])
	if d := t.loop.NowMS() - start; d > slowOpMS {
		t.log.Info("uart_read_slow", "ms", d)
		metrics.IncSlowOp(metrics.OpRead)
	}
	if err != nil {
		t.log.Error("uart_read_error", "error", err)
		metrics.IncError(metrics.ErrRead)
		return
	}

	metrics.AddRxBytes(n)
	t.stagePos = 0
	t.stageLen = n
	t.drainStaging()
}

// drainStaging feeds staged bytes to the decoder one at a time until
// either they run out or a frame completes, and delivers the frame in the
// latter case. Trailing bytes stay staged for the next ReceiveFrame. The
// return value is the completed frame size, 0 if more bytes are needed.
func (t *Transport) drainStaging() int {
	size := 0
	for t.stagePos < t.stageLen && size == 0 {
		t.dec.Process(t.staging[t.stagePos])
		t.stagePos++
		size = t.dec.FrameSize()
	}

	// reset the staging cursors once fully consumed
	if t.stagePos == t.stageLen {
		t.stagePos = 0
		t.stageLen = 0
	}

	if size == 0 {
		return 0
	}

	t.loop.Disable(t.dev.Fd(), Readable)
	t.rxMode = modeIdle

	if t.dec.Overflowed() {
		t.log.Warn("uart_frame_overflow", "size", size)
		metrics.IncRxOverflow()
	}

	// only report latency when a physical read was involved; a frame
	// satisfied purely from staged bytes has no meaningful duration
	if !t.trackStart {
		ms := t.loop.NowMS() - t.rxStartMS
		t.log.Debug("uart_frame_rx", "size", size, "ms", ms)
		metrics.ObserveFrameRxMS(ms)
		t.rxStartMS = 0
	}

	metrics.IncFrameRx()
	if t.frameReceived != nil {
		t.frameReceived(size)
	}
	return size
}
