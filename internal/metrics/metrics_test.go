package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestCountersVisibleThroughHandler(t *testing.T) {
	AddTxBytes(10)
	AddRxBytes(7)
	IncFrameRx()
	IncError(ErrReadZero)
	ObserveFrameRxMS(12)

	body := scrape(t)
	for _, name := range []string{
		"uart_tx_bytes_total",
		"uart_rx_bytes_total",
		"uart_rx_frames_total",
		"uart_errors_total",
		"uart_frame_rx_duration_seconds",
		"uart_slow_ops_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("scrape missing %s", name)
		}
	}
}

func TestSnapshotMirrorsHelpers(t *testing.T) {
	before := Snap()
	AddTxBytes(5)
	IncBlockTx()
	IncBlockRx()
	IncFrameTx()
	IncWriteRetry()
	IncRxOverflow()
	after := Snap()

	if after.TxBytes != before.TxBytes+5 {
		t.Errorf("TxBytes delta = %d, want 5", after.TxBytes-before.TxBytes)
	}
	if after.BlocksTx != before.BlocksTx+1 {
		t.Errorf("BlocksTx delta = %d, want 1", after.BlocksTx-before.BlocksTx)
	}
	if after.BlocksRx != before.BlocksRx+1 {
		t.Errorf("BlocksRx delta = %d, want 1", after.BlocksRx-before.BlocksRx)
	}
	if after.FramesTx != before.FramesTx+1 {
		t.Errorf("FramesTx delta = %d, want 1", after.FramesTx-before.FramesTx)
	}
	if after.WriteRetries != before.WriteRetries+1 {
		t.Errorf("WriteRetries delta = %d, want 1", after.WriteRetries-before.WriteRetries)
	}
	if after.RxOverflows != before.RxOverflows+1 {
		t.Errorf("RxOverflows delta = %d, want 1", after.RxOverflows-before.RxOverflows)
	}
}
