// Package metrics exposes Prometheus counters for the frame and session
// lifecycle events a running node produces, grounded on the teacher
// corpus's internal/metrics package (promauto counters, a mirrored
// atomic Snapshot, an HTTP mux serving /metrics and /ready).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger = logrus.NewEntry(logrus.StandardLogger())

var (
	FramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_frames_rx_total",
		Help: "Total CAN/CAN-FD frames received off the bus.",
	})
	FramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_frames_tx_total",
		Help: "Total CAN/CAN-FD frames written to the bus.",
	})
	TransfersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_transfers_completed_total",
		Help: "Total transfers fully reassembled and delivered.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_sessions_created_total",
		Help: "Total reassembly sessions created for a new source.",
	})
	SessionsReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_sessions_reset_total",
		Help: "Total sessions reset, by a new transfer id (loss recovery), a timeout seen on ingest, or a timeout sweep.",
	})
	SessionsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_sessions_timed_out_total",
		Help: "Total frames rejected because their session's subscription timeout had elapsed; resets by the periodic sweep are not counted here.",
	})
	CRCFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_crc_failures_total",
		Help: "Total frames rejected with BadMetadata: a toggle mismatch or a failed trailing CRC check.",
	})
	Truncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gocyphal_truncations_total",
		Help: "Total received frames that lost payload bytes because their transfer exceeded its subscription's extent; one transfer can count more than once.",
	})
	RxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gocyphal_rx_errors_total",
		Help: "Receive-side errors by taxonomy value.",
	}, []string{"reason"})

	readinessMu sync.RWMutex
	readinessFn func() bool

	localFramesRx            uint64
	localFramesTx            uint64
	localTransfersCompleted  uint64
)

// Snapshot is a cheap, lock-free copy of the local mirrored counters,
// for logging without going through the Prometheus registry.
type Snapshot struct {
	FramesRx           uint64
	FramesTx           uint64
	TransfersCompleted uint64
}

// Snap returns the current Snapshot.
func Snap() Snapshot {
	return Snapshot{
		FramesRx:           atomic.LoadUint64(&localFramesRx),
		FramesTx:           atomic.LoadUint64(&localFramesTx),
		TransfersCompleted: atomic.LoadUint64(&localTransfersCompleted),
	}
}

// IncFramesRx records one received frame.
func IncFramesRx() {
	FramesRx.Inc()
	atomic.AddUint64(&localFramesRx, 1)
}

// IncFramesTx records one transmitted frame.
func IncFramesTx() {
	FramesTx.Inc()
	atomic.AddUint64(&localFramesTx, 1)
}

// IncTransfersCompleted records one fully reassembled transfer.
func IncTransfersCompleted() {
	TransfersCompleted.Inc()
	atomic.AddUint64(&localTransfersCompleted, 1)
}

// IncRxError records one receive-side error, bucketed by its sentinel
// error's message so the series stays bounded.
func IncRxError(reason string) {
	RxErrors.WithLabelValues(reason).Inc()
}

// IncSessionsCreated records one reassembly session created for a new
// source. Meant to be wired as a session.Hooks.OnSessionCreated callback.
func IncSessionsCreated() {
	SessionsCreated.Inc()
}

// IncSessionsReset records one session reset, whether by a transfer-id
// change or a timeout sweep. Meant to be wired as a
// session.Hooks.OnSessionReset callback.
func IncSessionsReset() {
	SessionsReset.Inc()
}

// IncTruncation records one received frame whose payload bytes were
// dropped because its transfer exceeded its subscription's extent. A
// multi-frame transfer can be recorded once per such frame. Meant to be
// wired as a
// session.Hooks.OnTruncated callback.
func IncTruncation() {
	Truncations.Inc()
}

// SetReadinessFunc registers the function /ready polls.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	defer readinessMu.Unlock()
	readinessFn = fn
}

// IsReady reports whether the registered readiness function says so. A
// node with no readiness function registered is treated as ready so the
// endpoint doesn't flap before one is set.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves /metrics and /ready on addr and returns the server
// so the caller can Shutdown it.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics http server stopped")
		}
	}()
	return srv
}
