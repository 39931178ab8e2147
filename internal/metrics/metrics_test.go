package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordQueryTotalsMatchSuccessPlusFailed(t *testing.T) {
	s := New(nil)
	s.RecordQuery("a.example", 10*time.Millisecond, true)
	s.RecordQuery("b.example", 20*time.Millisecond, false)
	s.RecordQuery("c.example", 30*time.Millisecond, true)

	stats := s.Stats()
	assert.EqualValues(t, 3, stats.TotalQueries)
	assert.Equal(t, stats.TotalQueries, stats.SuccessfulQueries+stats.FailedQueries)
	assert.InDelta(t, 20.0, stats.AvgQueryTimeMs, 0.01)
}

func TestCacheHitRateGauge(t *testing.T) {
	s := New(nil)
	s.RecordCacheHit()
	s.RecordCacheHit()
	s.RecordCacheMiss()

	stats := s.Stats()
	assert.InDelta(t, 2.0/3.0, stats.CacheHitRate, 0.0001)
}

func TestRecordErrorIncrementsKindCounter(t *testing.T) {
	s := New(nil)
	s.RecordError("timeout", "deadline exceeded")
	s.RecordError("timeout", "deadline exceeded")
	s.RecordError("nxdomain", "no such host")

	stats := s.Stats()
	assert.EqualValues(t, 2, stats.ErrorCounts["timeout"])
	assert.EqualValues(t, 1, stats.ErrorCounts["nxdomain"])
}

func TestRecordRetryTracksPerHostAttempts(t *testing.T) {
	s := New(nil)
	s.RecordRetry("flaky.example", 1)
	s.RecordRetry("flaky.example", 2)

	stats := s.Stats()
	assert.EqualValues(t, 2, stats.TotalRetries)
	assert.Equal(t, []int{1, 2}, stats.RetryAttempts["flaky.example"])
}

func TestServerLatencyRingTrimsAndAverages(t *testing.T) {
	s := New(nil)
	for i := 0; i < serverLatencyRingSize+10; i++ {
		s.RecordServerLatency("8.8.8.8", 10)
	}
	stats := s.Stats()
	assert.InDelta(t, 10.0, stats.ServerLatencies["8.8.8.8"], 0.001)
}

func TestResetClearsErrorsAndLatenciesNotPrimeCounters(t *testing.T) {
	s := New(nil)
	s.RecordQuery("a.example", time.Millisecond, true)
	s.RecordError("timeout", "x")
	s.RecordServerLatency("1.1.1.1", 5)

	s.Reset()

	stats := s.Stats()
	assert.Empty(t, stats.ErrorCounts)
	assert.Empty(t, stats.ServerLatencies)
	assert.EqualValues(t, 1, stats.TotalQueries, "prime counters must remain monotonic across Reset")
}

func TestAlertCallbackFiresOnLatencyThreshold(t *testing.T) {
	s := New(nil)
	s.SetAlertThresholds(1.0, 5)

	var mu sync.Mutex
	var messages []string
	s.RegisterAlertCallback("test", func(msg string) {
		mu.Lock()
		messages = append(messages, msg)
		mu.Unlock()
	})

	s.RecordQuery("slow.example", 50*time.Millisecond, true)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, messages)
}

func TestClearAlertCallbacksStopsDispatch(t *testing.T) {
	s := New(nil)
	s.SetAlertThresholds(1.0, 1)

	fired := false
	s.RegisterAlertCallback("test", func(string) { fired = true })
	s.ClearAlertCallbacks()

	s.RecordQuery("slow.example", 50*time.Millisecond, true)
	assert.False(t, fired)
}

func TestAlertCallbackPanicDoesNotBreakDispatch(t *testing.T) {
	s := New(nil)
	s.SetAlertThresholds(1.0, 1)

	called := false
	s.RegisterAlertCallback("panicker", func(string) { panic("boom") })
	s.RegisterAlertCallback("survivor", func(string) { called = true })

	s.RecordQuery("slow.example", 50*time.Millisecond, true)
	assert.True(t, called)
}
