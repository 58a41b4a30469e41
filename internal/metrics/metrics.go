// Package metrics exposes Prometheus counters/gauges for the intake
// server, served on an optional HTTP mux the way the teacher's own
// internal/metrics package does, plus cheap local mirrors for periodic
// log-line snapshots when no Prometheus scraper is present.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/fedepagnotta/lottery-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BatchesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_received_total",
		Help: "Total batches accepted and stored.",
	})
	BatchesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_rejected_total",
		Help: "Total batches rejected (parse or storage failure).",
	})
	BetsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bets_stored_total",
		Help: "Total individual bets durably appended.",
	})
	ClientsConnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_connected_total",
		Help: "Total accepted TCP connections.",
	})
	ClientsFinishedSending = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_finished_sending_total",
		Help: "Total clients that reached the END marker and joined the draw barrier.",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_clients",
		Help: "Current number of connected, still-active client sessions.",
	})
	DrawsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draws_run_total",
		Help: "Total draw computations run (expected to be exactly 1 per process lifetime).",
	})
	DrawWinners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "draw_winning_agencies",
		Help: "Number of distinct agencies with at least one winner in the most recent draw.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrFraming = "framing"
	ErrParse   = "parse"
	ErrIO      = "io"
	ErrStorage = "storage"
	ErrBroken  = "broken"
	ErrAccept  = "accept"
	ErrListen  = "listen"
	ErrOther   = "other"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
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

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for periodic logging without scraping Prometheus
// in-process.
var (
	localBatchesOK     uint64
	localBatchesFailed uint64
	localBetsStored    uint64
	localConnected     uint64
	localFinished      uint64
	localDraws         uint64
	localErrors        uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	BatchesOK     uint64
	BatchesFailed uint64
	BetsStored    uint64
	Connected     uint64
	Finished      uint64
	Draws         uint64
	Errors        uint64
}

func Snap() Snapshot {
	return Snapshot{
		BatchesOK:     atomic.LoadUint64(&localBatchesOK),
		BatchesFailed: atomic.LoadUint64(&localBatchesFailed),
		BetsStored:    atomic.LoadUint64(&localBetsStored),
		Connected:     atomic.LoadUint64(&localConnected),
		Finished:      atomic.LoadUint64(&localFinished),
		Draws:         atomic.LoadUint64(&localDraws),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

func IncBatchOK(betCount int) {
	BatchesReceived.Inc()
	BetsStored.Add(float64(betCount))
	atomic.AddUint64(&localBatchesOK, 1)
	atomic.AddUint64(&localBetsStored, uint64(betCount))
}

func IncBatchFailed() {
	BatchesRejected.Inc()
	atomic.AddUint64(&localBatchesFailed, 1)
}

func IncClientConnected() {
	ClientsConnected.Inc()
	atomic.AddUint64(&localConnected, 1)
}

func IncClientFinishedSending() {
	ClientsFinishedSending.Inc()
	atomic.AddUint64(&localFinished, 1)
}

func SetActiveClients(n int) { ActiveClients.Set(float64(n)) }

func IncDraw(winningAgencies int) {
	DrawsRun.Inc()
	DrawWinners.Set(float64(winningAgencies))
	atomic.AddUint64(&localDraws, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first real error doesn't pay first-use registration cost.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrFraming, ErrParse, ErrIO, ErrStorage, ErrBroken, ErrAccept, ErrListen} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
