package domain

import "time"

// MetricsStats is a read-only copy of every Metrics Sink aggregate at one
// instant. It is not atomic across categories: errors, latencies, and
// retries are each captured under their own lock, not a single global one.
type MetricsStats struct {
	TotalQueries      int64
	SuccessfulQueries int64
	FailedQueries     int64
	CacheHits         int64
	CacheMisses       int64
	CacheHitRate      float64
	AvgQueryTimeMs    float64
	ErrorCounts       map[string]int64
	ServerLatencies   map[string]float64
	TotalRetries      int64
	RetryAttempts     map[string][]int
	Timestamp         time.Time
}
