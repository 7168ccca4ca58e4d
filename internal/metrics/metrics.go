package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	TxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_tx_bytes_total",
		Help: "Total bytes written to the serial device.",
	})
	RxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_bytes_total",
		Help: "Total bytes read from the serial device.",
	})
	BlocksTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_tx_blocks_total",
		Help: "Total raw blocks fully transmitted.",
	})
	BlocksRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_blocks_total",
		Help: "Total raw blocks fully received.",
	})
	FramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_tx_frames_total",
		Help: "Total SLIP frames fully transmitted.",
	})
	FramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_frames_total",
		Help: "Total SLIP frames delivered to the host stack.",
	})
	WriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_write_retries_total",
		Help: "Write attempts deferred by transient device unavailability.",
	})
	RxOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_overflows_total",
		Help: "Received frames truncated to the destination buffer capacity.",
	})
	SlowOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_slow_ops_total",
		Help: "Device syscalls that exceeded the slow-I/O threshold.",
	}, []string{"op"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_errors_total",
		Help: "Error counters by condition.",
	}, []string{"where"})
	FrameRxSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uart_frame_rx_duration_seconds",
		Help:    "Time from first physical read to frame completion.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrReadZero  = "read_zero"
	ErrRead      = "read_error"
	ErrWriteZero = "write_zero"
	ErrOpPending = "op_pending"
)

// Op label constants for SlowOps.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Handler exposes the default Prometheus registry for the embedding
// application to mount; the library itself never opens a listener.
func Handler() http.Handler { return promhttp.Handler() }

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localTxBytes   uint64
	localRxBytes   uint64
	localBlocksTx  uint64
	localBlocksRx  uint64
	localFramesTx  uint64
	localFramesRx  uint64
	localRetries   uint64
	localOverflows uint64
	localErrors    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	TxBytes      uint64
	RxBytes      uint64
	BlocksTx     uint64
	BlocksRx     uint64
	FramesTx     uint64
	FramesRx     uint64
	WriteRetries uint64
	RxOverflows  uint64
	Errors       uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		TxBytes:      atomic.LoadUint64(&localTxBytes),
		RxBytes:      atomic.LoadUint64(&localRxBytes),
		BlocksTx:     atomic.LoadUint64(&localBlocksTx),
		BlocksRx:     atomic.LoadUint64(&localBlocksRx),
		FramesTx:     atomic.LoadUint64(&localFramesTx),
		FramesRx:     atomic.LoadUint64(&localFramesRx),
		WriteRetries: atomic.LoadUint64(&localRetries),
		RxOverflows:  atomic.LoadUint64(&localOverflows),
		Errors:       atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.

func AddTxBytes(n int) {
	TxBytes.Add(float64(n))
	atomic.AddUint64(&localTxBytes, uint64(n))
}

func AddRxBytes(n int) {
	RxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

func IncBlockTx() {
	BlocksTx.Inc()
	atomic.AddUint64(&localBlocksTx, 1)
}

func IncBlockRx() {
	BlocksRx.Inc()
	atomic.AddUint64(&localBlocksRx, 1)
}

func IncFrameTx() {
	FramesTx.Inc()
	atomic.AddUint64(&localFramesTx, 1)
}

func IncFrameRx() {
	FramesRx.Inc()
	atomic.AddUint64(&localFramesRx, 1)
}

func IncWriteRetry() {
	WriteRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncRxOverflow() {
	RxOverflows.Inc()
	atomic.AddUint64(&localOverflows, 1)
}

func IncSlowOp(op string) { SlowOps.WithLabelValues(op).Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// ObserveFrameRxMS records a frame receive latency measured in run loop
// milliseconds.
func ObserveFrameRxMS(ms uint32) { FrameRxSeconds.Observe(float64(ms) / 1000.0) }

func init() {
	// Pre-register label series so the first event does not pay the
	// registration latency.
	for _, lbl := range []string{ErrReadZero, ErrRead, ErrWriteZero, ErrOpPending} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, op := range []string{OpRead, OpWrite} {
		SlowOps.WithLabelValues(op).Add(0)
	}
}
