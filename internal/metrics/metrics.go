package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/sircond/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	LinkTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_frames_total",
		Help: "Total SCP frames written to the serial link.",
	})
	LinkRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rx_frames_total",
		Help: "Total SCP frames decoded from the serial link.",
	})
	LinkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_retries_total",
		Help: "Total outbound request retransmissions.",
	})
	LinkTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_timeouts_total",
		Help: "Total outbound requests that exhausted their retry budget.",
	})
	LinkBusyBackoffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_busy_backoffs_total",
		Help: "Total ACK,BUSY responses deferring the head request.",
	})
	LinkResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_resyncs_total",
		Help: "Total bytes skipped while resynchronizing on stream garbage.",
	})
	LinkChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_checksum_errors_total",
		Help: "Total inbound frames rejected for a bad checksum.",
	})
	LinkFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_consecutive_failures",
		Help: "Current consecutive link failure count.",
	})
	TCPRxLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_lines_total",
		Help: "Total command lines received from TCP clients.",
	})
	TCPTxLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_lines_total",
		Help: "Total text lines sent to TCP clients.",
	})
	BusDroppedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_dropped_lines_total",
		Help: "Total broadcast lines dropped by the event bus due to slow clients.",
	})
	BusKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	ClientsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_rejected_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_clients",
		Help: "Current number of active connected clients.",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	QueueDepthMaxGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_queue_depth_max",
		Help: "Observed max queued lines among clients since last sample window.",
	})
	QueueDepthAvgGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_queue_depth_avg",
		Help: "Approximate average queued lines per client in last sample.",
	})
	ControlHandoffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "control_handoffs_total",
		Help: "Total times the control token changed holder.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (bad sentinel, truncated, oversized payload).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead     = "tcp_read"
	ErrTCPWrite    = "tcp_write"
	ErrHandshake   = "handshake"
	ErrSerialWrite = "serial_write"
	ErrSerialRead  = "serial_read"
	ErrLinkSend    = "link_send"
)

// StartHTTP serves Prometheus metrics at /metrics and the readiness probe
// at /ready on addr, using a mux of its own, and returns the server.
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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localLinkTx       uint64
	localLinkRx       uint64
	localLinkRetries  uint64
	localLinkTimeouts uint64
	localLinkBusy     uint64
	localLinkResync   uint64
	localLinkChksum   uint64
	localTCPRx        uint64
	localTCPTx        uint64
	localBusDrop      uint64
	localBusKick      uint64
	localRejected     uint64
	localErrors       uint64
	localClients      uint64
	localFanout       uint64
	localMalformed    uint64
	localQDMax        uint64
	localQDAvg        uint64
	localHandoffs     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	LinkTx        uint64
	LinkRx        uint64
	LinkRetries   uint64
	LinkTimeouts  uint64
	LinkBusy      uint64
	LinkResyncs   uint64
	LinkChecksum  uint64
	TCPRx         uint64
	TCPTx         uint64
	BusDrops      uint64
	BusKicks      uint64
	Rejected      uint64
	Errors        uint64 // sum across error labels
	Clients       uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
	Handoffs      uint64
}

func Snap() Snapshot {
	return Snapshot{
		LinkTx:        atomic.LoadUint64(&localLinkTx),
		LinkRx:        atomic.LoadUint64(&localLinkRx),
		LinkRetries:   atomic.LoadUint64(&localLinkRetries),
		LinkTimeouts:  atomic.LoadUint64(&localLinkTimeouts),
		LinkBusy:      atomic.LoadUint64(&localLinkBusy),
		LinkResyncs:   atomic.LoadUint64(&localLinkResync),
		LinkChecksum:  atomic.LoadUint64(&localLinkChksum),
		TCPRx:         atomic.LoadUint64(&localTCPRx),
		TCPTx:         atomic.LoadUint64(&localTCPTx),
		BusDrops:      atomic.LoadUint64(&localBusDrop),
		BusKicks:      atomic.LoadUint64(&localBusKick),
		Rejected:      atomic.LoadUint64(&localRejected),
		Errors:        atomic.LoadUint64(&localErrors),
		Clients:       atomic.LoadUint64(&localClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		Malformed:     atomic.LoadUint64(&localMalformed),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
		Handoffs:      atomic.LoadUint64(&localHandoffs),
	}
}

// Wrapper helpers to keep call sites simple.
func IncLinkTx() { LinkTxFrames.Inc(); atomic.AddUint64(&localLinkTx, 1) }

func IncLinkRx() { LinkRxFrames.Inc(); atomic.AddUint64(&localLinkRx, 1) }

func IncLinkRetry() {
	LinkRetries.Inc()
	atomic.AddUint64(&localLinkRetries, 1)
}

func IncLinkTimeout() {
	LinkTimeouts.Inc()
	atomic.AddUint64(&localLinkTimeouts, 1)
}

func IncLinkBusyBackoff() {
	LinkBusyBackoffs.Inc()
	atomic.AddUint64(&localLinkBusy, 1)
}

func AddLinkResyncs(n int) {
	LinkResyncs.Add(float64(n))
	atomic.AddUint64(&localLinkResync, uint64(n))
}

func IncLinkChecksumError() {
	LinkChecksumErrors.Inc()
	atomic.AddUint64(&localLinkChksum, 1)
}

func SetLinkFailures(n int) { LinkFailures.Set(float64(n)) }

func IncTCPRx() {
	TCPRxLines.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxLines.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncBusDrop() {
	BusDroppedLines.Inc()
	atomic.AddUint64(&localBusDrop, 1)
}

func IncBusKick() {
	BusKickedClients.Inc()
	atomic.AddUint64(&localBusKick, 1)
}

func IncClientRejected() {
	ClientsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func SetActiveClients(n int) {
	ActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	BroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncControlHandoff() {
	ControlHandoffs.Inc()
	atomic.AddUint64(&localHandoffs, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	QueueDepthMaxGauge.Set(float64(max))
	QueueDepthAvgGauge.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSerialWrite, ErrSerialRead, ErrLinkSend,
	} {
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
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
