// Package metrics implements the Metrics Sink: counters, histograms, and
// gauges for the Resolver, plus alert-threshold evaluation and callback
// dispatch. Aggregates are exposed both as a JSON stats snapshot and,
// through a Prometheus registry, over an optional HTTP exporter.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

const (
	serverLatencyRingSize = 1000
	retryHistoryRingSize  = 100
)

var durationBucketsMs = []float64{1, 5, 10, 50, 100, 500, 1000, 5000}

// AlertCallback is notified when a query or server latency exceeds the
// configured threshold, or when the error rate crosses error_rate_threshold.
type AlertCallback func(message string)

// Sink is the process-wide metrics aggregator injected into the Resolver.
type Sink struct {
	logger   *slog.Logger
	registry *prometheus.Registry

	totalQueries      atomic.Int64
	successfulQueries atomic.Int64
	failedQueries     atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	totalRetries      atomic.Int64

	queryDurationSum   atomic.Int64 // milliseconds, for AvgQueryTimeMs
	queryDurationCount atomic.Int64

	errMu       sync.Mutex
	errorCounts map[string]int64
	errorVec    *prometheus.CounterVec

	latMu           sync.Mutex
	serverLatencies map[string]*ring[float64]

	retryMu       sync.Mutex
	retryAttempts map[string]*ring[int]

	thresholdMu        sync.RWMutex
	errorRateThreshold float64
	latencyThresholdMs float64

	alertMu   sync.Mutex
	alertCbs  map[string]AlertCallback

	hitRateGauge   prometheus.Gauge
	queriesTotal   *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	cacheHitsCtr   prometheus.Counter
	cacheMissesCtr prometheus.Counter
	retriesCtr     prometheus.Counter

	exporterMu sync.Mutex
	exporter   *http.Server
}

// New builds a Sink with its own Prometheus registry (so multiple Sinks, as
// in tests, never collide on global registration).
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	s := &Sink{
		logger:          logger,
		registry:        reg,
		errorCounts:     make(map[string]int64),
		serverLatencies: make(map[string]*ring[float64]),
		retryAttempts:   make(map[string]*ring[int]),
		alertCbs:        make(map[string]AlertCallback),
	}

	s.queriesTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "resolvcore_queries_total",
		Help: "Total number of resolutions by outcome.",
	}, []string{"result"})
	s.queryDuration = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:    "resolvcore_query_duration_ms",
		Help:    "Resolution duration in milliseconds.",
		Buckets: durationBucketsMs,
	})
	s.hitRateGauge = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "resolvcore_cache_hit_rate",
		Help: "Cache hit rate as hits/(hits+misses).",
	})
	s.cacheHitsCtr = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "resolvcore_cache_hits_total",
		Help: "Total cache hits.",
	})
	s.cacheMissesCtr = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "resolvcore_cache_misses_total",
		Help: "Total cache misses.",
	})
	s.retriesCtr = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "resolvcore_retries_total",
		Help: "Total retry attempts issued.",
	})
	s.errorVec = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "resolvcore_errors_total",
		Help: "Errors by kind.",
	}, []string{"kind"})

	return s
}

// Registry exposes the underlying Prometheus registry, e.g. for tests that
// want to scrape it directly.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// RecordQuery records the outcome of a completed resolution. If duration
// exceeds the latency threshold, or the running error rate exceeds the
// error-rate threshold, every registered alert callback fires.
func (s *Sink) RecordQuery(host string, d time.Duration, success bool) {
	s.totalQueries.Add(1)
	ms := float64(d.Milliseconds())
	s.queryDurationSum.Add(d.Milliseconds())
	s.queryDurationCount.Add(1)
	s.queryDuration.Observe(ms)

	if success {
		s.successfulQueries.Add(1)
		s.queriesTotal.WithLabelValues("success").Inc()
	} else {
		s.failedQueries.Add(1)
		s.queriesTotal.WithLabelValues("failure").Inc()
	}

	s.thresholdMu.RLock()
	latencyThreshold := s.latencyThresholdMs
	errorThreshold := s.errorRateThreshold
	s.thresholdMu.RUnlock()

	if latencyThreshold > 0 && ms > latencyThreshold {
		s.fireAlert("query latency for " + host + " exceeded threshold")
	}

	failed := s.failedQueries.Load()
	successful := s.successfulQueries.Load()
	if total := failed + successful; total > 0 && errorThreshold > 0 {
		if rate := float64(failed) / float64(total); rate > errorThreshold {
			s.fireAlert("error rate exceeded threshold")
		}
	}
}

// RecordCacheHit increments the cache-hit counter and refreshes the gauge.
func (s *Sink) RecordCacheHit() {
	s.cacheHits.Add(1)
	s.cacheHitsCtr.Inc()
	s.refreshHitRateGauge()
}

// RecordCacheMiss increments the cache-miss counter and refreshes the gauge.
func (s *Sink) RecordCacheMiss() {
	s.cacheMisses.Add(1)
	s.cacheMissesCtr.Inc()
	s.refreshHitRateGauge()
}

func (s *Sink) refreshHitRateGauge() {
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	s.hitRateGauge.Set(rate)
}

// RecordServerLatency appends an observed latency (ms) for server to its
// ring, trimming to the most recent 1000 samples, and fires an alert if it
// exceeds the latency threshold.
func (s *Sink) RecordServerLatency(server string, ms float64) {
	s.latMu.Lock()
	r, ok := s.serverLatencies[server]
	if !ok {
		r = newRing[float64](serverLatencyRingSize)
		s.serverLatencies[server] = r
	}
	r.add(ms)
	s.latMu.Unlock()

	s.thresholdMu.RLock()
	threshold := s.latencyThresholdMs
	s.thresholdMu.RUnlock()
	if threshold > 0 && ms > threshold {
		s.fireAlert("server " + server + " latency exceeded threshold")
	}
}

// RecordError increments error_counts[kind] and the kind-labelled series of
// the resolvcore_errors_total counter.
func (s *Sink) RecordError(kind, detail string) {
	s.errMu.Lock()
	s.errorCounts[kind]++
	s.errMu.Unlock()
	s.errorVec.WithLabelValues(kind).Inc()
	s.logger.Warn("resolution error", "kind", kind, "detail", detail)
}

// RecordRetry increments total_retries and appends attemptIndex to host's
// retry-attempt ring, trimming to the most recent 100.
func (s *Sink) RecordRetry(host string, attemptIndex int) {
	s.totalRetries.Add(1)
	s.retriesCtr.Inc()

	s.retryMu.Lock()
	r, ok := s.retryAttempts[host]
	if !ok {
		r = newRing[int](retryHistoryRingSize)
		s.retryAttempts[host] = r
	}
	r.add(attemptIndex)
	s.retryMu.Unlock()
}

// Stats returns a consistent-per-category snapshot of every aggregate.
func (s *Sink) Stats() domain.MetricsStats {
	avg := 0.0
	if count := s.queryDurationCount.Load(); count > 0 {
		avg = float64(s.queryDurationSum.Load()) / float64(count)
	}

	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	s.errMu.Lock()
	errCounts := make(map[string]int64, len(s.errorCounts))
	for k, v := range s.errorCounts {
		errCounts[k] = v
	}
	s.errMu.Unlock()

	s.latMu.Lock()
	latencies := make(map[string]float64, len(s.serverLatencies))
	for server, r := range s.serverLatencies {
		items := r.items()
		if len(items) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range items {
			sum += v
		}
		latencies[server] = sum / float64(len(items))
	}
	s.latMu.Unlock()

	s.retryMu.Lock()
	retries := make(map[string][]int, len(s.retryAttempts))
	for host, r := range s.retryAttempts {
		retries[host] = r.items()
	}
	s.retryMu.Unlock()

	return domain.MetricsStats{
		TotalQueries:      s.totalQueries.Load(),
		SuccessfulQueries: s.successfulQueries.Load(),
		FailedQueries:     s.failedQueries.Load(),
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheHitRate:      hitRate,
		AvgQueryTimeMs:    avg,
		ErrorCounts:       errCounts,
		ServerLatencies:   latencies,
		TotalRetries:      s.totalRetries.Load(),
		RetryAttempts:     retries,
		Timestamp:         time.Now(),
	}
}

// Reset clears error counts and server-latency samples. The prime counters
// (total_queries, successful_queries, ...) are monotonic and untouched.
func (s *Sink) Reset() {
	s.errMu.Lock()
	s.errorCounts = make(map[string]int64)
	s.errMu.Unlock()

	s.latMu.Lock()
	s.serverLatencies = make(map[string]*ring[float64])
	s.latMu.Unlock()
}

// SetAlertThresholds updates the error-rate ([0,1]) and latency (ms)
// thresholds used by RecordQuery and RecordServerLatency.
func (s *Sink) SetAlertThresholds(errorRate, latencyMs float64) {
	s.thresholdMu.Lock()
	defer s.thresholdMu.Unlock()
	s.errorRateThreshold = errorRate
	s.latencyThresholdMs = latencyMs
}

// RegisterAlertCallback adds a named callback to the alert dispatch set.
func (s *Sink) RegisterAlertCallback(name string, cb AlertCallback) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.alertCbs[name] = cb
}

// ClearAlertCallbacks removes every registered callback.
func (s *Sink) ClearAlertCallbacks() {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.alertCbs = make(map[string]AlertCallback)
}

// fireAlert dispatches message to a snapshot of the registered callbacks,
// so a slow or misbehaving callback never holds the alert lock.
func (s *Sink) fireAlert(message string) {
	s.alertMu.Lock()
	cbs := make([]AlertCallback, 0, len(s.alertCbs))
	for _, cb := range s.alertCbs {
		cbs = append(cbs, cb)
	}
	s.alertMu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("alert callback panicked", "panic", r)
				}
			}()
			cb(message)
		}()
	}
}

// ExportToFile writes the current stats snapshot, plus a wall-clock
// timestamp, as JSON to path.
func (s *Sink) ExportToFile(path string) error {
	snap := s.Stats()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// StartExporter binds an HTTP server serving this Sink's Prometheus
// registry at addr. Binding failure is logged and absorbed by the caller
// per the ExporterStartup error kind: the core continues with in-memory
// metrics even if the exporter never came up.
func (s *Sink) StartExporter(addr string) error {
	s.exporterMu.Lock()
	defer s.exporterMu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := newListener(addr)
	if err != nil {
		return err
	}
	s.exporter = srv
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("metrics exporter stopped", "error", serveErr)
		}
	}()
	return nil
}

// StopExporter shuts down the exporter HTTP server, if running.
func (s *Sink) StopExporter(ctx context.Context) error {
	s.exporterMu.Lock()
	srv := s.exporter
	s.exporter = nil
	s.exporterMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
