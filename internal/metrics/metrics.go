package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cabinetbench",
		Name:      "operations_total",
		Help:      "Write operations by result (success, failure, skipped)",
	}, []string{"mode", "result"})

	WriteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cabinetbench",
		Name:      "write_latency_seconds",
		Help:      "Round-trip latency of successful writes",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"mode"})

	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cabinetbench",
		Name:      "workers_active",
		Help:      "Workers currently running",
	})

	LeaderLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cabinetbench",
		Name:      "leader_lookups_total",
		Help:      "Worker-side leader lookups by result",
	}, []string{"result"})

	LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cabinetbench",
		Subsystem: "failover",
		Name:      "leader_changes_total",
		Help:      "Leader changes observed after failure injection",
	})

	ReelectionSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cabinetbench",
		Subsystem: "failover",
		Name:      "reelection_seconds",
		Help:      "Last measured re-election time",
	})

	ReelectionTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cabinetbench",
		Subsystem: "failover",
		Name:      "reelection_timeouts_total",
		Help:      "Failovers where no new leader appeared within the timeout",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(Operations)
		prometheus.MustRegister(WriteLatency)
		prometheus.MustRegister(ActiveWorkers)
		prometheus.MustRegister(LeaderLookups)
		prometheus.MustRegister(LeaderChanges)
		prometheus.MustRegister(ReelectionSeconds)
		prometheus.MustRegister(ReelectionTimeouts)
	})
}

// Serve exposes /metrics on addr until the returned server is shut down.
func Serve(addr string, onError func(error)) *http.Server {
	Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	return srv
}
