package services

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
	"github.com/nimbusdns/resolvcore/internal/core/ports"
)

// --- fakes -------------------------------------------------------------

type fakeProvider struct {
	mu        sync.Mutex
	responses map[string][]ports.ProviderResult // per-hostname queue of results, replayed in order
	calls     map[string]int
	reloaded  []domain.ServerConfig
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		responses: make(map[string][]ports.ProviderResult),
		calls:     make(map[string]int),
	}
}

func (p *fakeProvider) enqueue(hostname string, results ...ports.ProviderResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[hostname] = append(p.responses[hostname], results...)
}

func (p *fakeProvider) Resolve(ctx context.Context, hostname string, family ports.Family) ports.ProviderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[hostname]++
	q := p.responses[hostname]
	if len(q) == 0 {
		return ports.ProviderResult{Status: ports.StatusNotFound}
	}
	next := q[0]
	p.responses[hostname] = q[1:]
	return next
}

func (p *fakeProvider) Reload(servers []domain.ServerConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloaded = servers
	return nil
}

func (p *fakeProvider) callCount(hostname string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[hostname]
}

type fakeMetrics struct {
	mu      sync.Mutex
	queries []string
	hits    int
	misses  int
	retries []string
	errors  []string
}

func (m *fakeMetrics) RecordQuery(host string, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, host)
}
func (m *fakeMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}
func (m *fakeMetrics) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}
func (m *fakeMetrics) RecordServerLatency(server string, ms float64) {}
func (m *fakeMetrics) RecordError(kind, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}
func (m *fakeMetrics) RecordRetry(host string, attemptIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, host)
}
func (m *fakeMetrics) Stats() domain.MetricsStats        { return domain.MetricsStats{} }
func (m *fakeMetrics) ExportToFile(path string) error    { return nil }
func (m *fakeMetrics) StartExporter(addr string) error   { return nil }
func (m *fakeMetrics) StopExporter(ctx context.Context) error { return nil }

func (m *fakeMetrics) retryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retries)
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.AddressChangeEvent
}

func (b *fakeBus) Notify(e domain.AddressChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBus) eventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func testConfig(maxConcurrent int) domain.Config {
	cfg, err := domain.NewConfigBuilder().
		WithServers(domain.ServerConfig{Address: "127.0.0.1", Port: 53, Weight: 1, TimeoutMs: 500, Enabled: true}).
		WithCache(domain.CacheConfig{Enabled: true, TTLSeconds: 60, MaxSize: 1000}).
		WithRetry(domain.RetryConfig{MaxAttempts: 2, BaseDelayMs: 50, MaxDelayMs: 200}).
		WithMetrics(domain.MetricsConfig{ReportIntervalS: 60}).
		WithGlobal(1000, maxConcurrent, false).
		Build()
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestResolver(maxConcurrent int) (*Resolver, *fakeProvider, *fakeMetrics, *fakeBus) {
	provider := newFakeProvider()
	metrics := &fakeMetrics{}
	bus := &fakeBus{}
	r := NewResolver(provider, metrics, bus, nil, nil, nil, nil)
	if err := r.LoadConfig(context.Background(), testConfig(maxConcurrent)); err != nil {
		panic(err)
	}
	return r, provider, metrics, bus
}

func successResult(ip string) ports.ProviderResult {
	return ports.ProviderResult{
		Status: ports.StatusSuccess,
		Nodes:  []ports.AddrInfoNode{{Family: ports.FamilyIPv4Only, Addr: net.ParseIP(ip), RecordType: "A", Authoritative: false}},
	}
}

// --- tests ---------------------------------------------------------------

func TestResolveBeforeLoadConfigReturnsNotInitialized(t *testing.T) {
	provider := newFakeProvider()
	r := NewResolver(provider, &fakeMetrics{}, &fakeBus{}, nil, nil, nil, nil)

	result := r.Resolve(context.Background(), "example.com").Wait()
	assert.Equal(t, ports.StatusNotInitialized, result.Status)
}

func TestResolveCacheMissThenHit(t *testing.T) {
	r, provider, metrics, _ := newTestResolver(10)
	provider.enqueue("example.com", successResult("1.2.3.4"))

	first := r.Resolve(context.Background(), "example.com").Wait()
	require.Equal(t, ports.StatusSuccess, first.Status)
	assert.Equal(t, []string{"1.2.3.4"}, first.Addresses)

	second := r.Resolve(context.Background(), "example.com").Wait()
	require.Equal(t, ports.StatusSuccess, second.Status)
	assert.Equal(t, []string{"1.2.3.4"}, second.Addresses)
	assert.Equal(t, int64(0), second.ElapsedMs)

	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
	assert.Equal(t, 1, provider.callCount("example.com"))
}

func TestResolveRetriesRetryableFailureThenSucceeds(t *testing.T) {
	r, provider, metrics, _ := newTestResolver(10)
	provider.enqueue("flaky.example",
		ports.ProviderResult{Status: ports.StatusRetryable},
		successResult("5.6.7.8"),
	)

	result := r.Resolve(context.Background(), "flaky.example").Wait()
	require.Equal(t, ports.StatusSuccess, result.Status)
	assert.Equal(t, 2, provider.callCount("flaky.example"))
	assert.Equal(t, 1, metrics.retryCount())
}

func TestResolveDoesNotRetryNoDataOrNotFound(t *testing.T) {
	r, provider, metrics, _ := newTestResolver(10)
	provider.enqueue("absent.example", ports.ProviderResult{Status: ports.StatusNoData})

	result := r.Resolve(context.Background(), "absent.example").Wait()
	assert.Equal(t, ports.StatusNoData, result.Status)
	assert.Equal(t, 1, provider.callCount("absent.example"))
	assert.Equal(t, 0, metrics.retryCount())
}

func TestResolveExhaustsRetriesThenFails(t *testing.T) {
	r, provider, metrics, _ := newTestResolver(10)
	for i := 0; i < 5; i++ {
		provider.enqueue("down.example", ports.ProviderResult{Status: ports.StatusRetryable})
	}

	result := r.Resolve(context.Background(), "down.example").Wait()
	assert.Equal(t, ports.StatusRetryable, result.Status)
	// max_attempts=2: the first call plus two retries, three calls total.
	assert.Equal(t, 3, provider.callCount("down.example"))
	assert.Equal(t, 2, metrics.retryCount())
}

func TestAddressChangeEventOnlyFiresWhenAddressesDiffer(t *testing.T) {
	r, provider, _, bus := newTestResolver(10)
	provider.enqueue("stable.example", successResult("1.1.1.1"))
	r.Resolve(context.Background(), "stable.example").Wait()
	require.Equal(t, 1, bus.eventCount())

	provider.enqueue("stable.example", successResult("1.1.1.1"))
	r.Refresh(context.Background(), "stable.example").Wait()

	// same address on refresh: no second event
	assert.Equal(t, 1, bus.eventCount())
}

func TestResolveBatchPreservesOrderAndChunks(t *testing.T) {
	r, provider, _, _ := newTestResolver(2)
	hosts := []string{"a.example", "b.example", "c.example", "d.example", "e.example"}
	for i, h := range hosts {
		provider.enqueue(h, successResult("10.0.0."+string(rune('1'+i))))
	}

	futures := r.ResolveBatch(context.Background(), hosts)
	require.Len(t, futures, len(hosts))
	for i, f := range futures {
		result := f.Wait()
		assert.Equal(t, hosts[i], result.Hostname)
		assert.Equal(t, ports.StatusSuccess, result.Status)
	}
}

func TestClearCacheForcesNextResolveToMiss(t *testing.T) {
	r, provider, metrics, _ := newTestResolver(10)
	provider.enqueue("cached.example", successResult("9.9.9.9"))
	r.Resolve(context.Background(), "cached.example").Wait()

	r.ClearCache()
	provider.enqueue("cached.example", successResult("9.9.9.9"))
	r.Resolve(context.Background(), "cached.example").Wait()

	assert.Equal(t, 2, metrics.misses)
}

func TestLoadConfigReinitializesProviderServers(t *testing.T) {
	_, provider, _, _ := newTestResolver(10)
	assert.Len(t, provider.reloaded, 1)
	assert.Equal(t, "127.0.0.1", provider.reloaded[0].Address)
}
