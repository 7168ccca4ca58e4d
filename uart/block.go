package uart

import (
	"github.com/kstaniek/go-hciuart/internal/metrics"
)

// SendBlock registers data for asynchronous transmission and requests
// write readiness. The slice is borrowed, never copied, until the
// block-sent callback fires. At most one write may be pending.
func (t *Transport) SendBlock(data []byte) error {
	if !t.open {
		return ErrClosed
	}
	if t.txMode != modeIdle {
		t.log.Error("uart_write_pending", "len", len(data))
		metrics.IncError(metrics.ErrOpPending)
		return ErrWritePending
	}
	t.txMode = modeBlock
	t.wr = data
	t.loop.Enable(t.dev.Fd(), Writable)
	return nil
}

// ReceiveBlock registers buf as the destination of exactly len(buf) bytes
// and requests read readiness. At most one read may be pending.
func (t *Transport) ReceiveBlock(buf []byte) error {
	if !t.open {
		return ErrClosed
	}
	if t.rxMode != modeIdle {
		t.log.Error("uart_read_pending", "len", len(buf))
		metrics.IncError(metrics.ErrOpPending)
		return ErrReadPending
	}
	t.rxMode = modeBlock
	t.rd = buf
	t.loop.Enable(t.dev.Fd(), Readable)
	return nil
}

// writeSome performs one non-blocking write against the pending cursor
// and returns true when the pending write has fully drained.
//
// A zero-byte result on a writable descriptor is anomalous: it is logged
// and the operation stays pending without a fresh readiness request. An
// error result (would-block) re-requests readiness and waits for the next
// event. The zero path relies on the source signaling again on its own;
// do not fold it into the error path without checking deployed behavior.
func (t *Transport) writeSome() bool {
	if len(t.wr) == 0 {
		return false
	}

	start := t.loop.NowMS()
	n, err := t.dev.Write(t.wr)
	if d := t.loop.NowMS() - start; d > slowOpMS {
		t.log.Info("uart_write_slow", "ms", d)
		metrics.IncSlowOp(metrics.OpWrite)
	}
	if err != nil {
		t.log.Debug("uart_write_retry", "error", err, "remaining", len(t.wr))
		metrics.IncWriteRetry()
		t.loop.Enable(t.dev.Fd(), Writable)
		return false
	}
	if n == 0 {
		t.log.Error("uart_write_zero", "remaining", len(t.wr))
		metrics.IncError(metrics.ErrWriteZero)
		return false
	}

	metrics.AddTxBytes(n)
	t.wr = t.wr[n:]
	if len(t.wr) > 0 {
		t.loop.Enable(t.dev.Fd(), Writable)
		return false
	}

	t.loop.Disable(t.dev.Fd(), Writable)
	return true
}

// readSome performs one non-blocking read into the pending cursor and
// returns true when the destination is full.
//
// Zero and error results are both logged as errors; neither issues a
// fresh readiness request (see writeSome for the preserved asymmetry).
func (t *Transport) readSome() bool {
	if len(t.rd) == 0 {
		t.log.Info("uart_read_no_pending")
		t.loop.Disable(t.dev.Fd(), Readable)
		return false
	}

	start := t.loop.NowMS()
	n, err := t.dev.Read(t.rd)
	if d := t.loop.NowMS() - start; d > slowOpMS {
		t.log.Info("uart_read_slow", "ms", d)
		metrics.IncSlowOp(metrics.OpRead)
	}
	if err != nil {
		t.log.Error("uart_read_error", "error", err)
		metrics.IncError(metrics.ErrRead)
		return false
	}
	if n == 0 {
		t.log.Error("uart_read_zero", "remaining", len(t.rd))
		metrics.IncError(metrics.ErrReadZero)
		return false
	}

	metrics.AddRxBytes(n)
	t.rd = t.rd[n:]
	if len(t.rd) > 0 {
		return false
	}

	t.loop.Disable(t.dev.Fd(), Readable)
	return true
}

func (t *Transport) blockWritable() {
	if !t.writeSome() {
		return
	}
	t.txMode = modeIdle
	metrics.IncBlockTx()
	if t.blockSent != nil {
		t.blockSent()
	}
}

func (t *Transport) blockReadable() {
	if !t.readSome() {
		return
	}
	t.rxMode = modeIdle
	metrics.IncBlockRx()
	if t.blockReceived != nil {
		t.blockReceived()
	}
}
