// Package services implements the Resolver: the component that turns a
// hostname into a ResolveFuture by consulting the Cache, falling back to
// the Address-Info Provider with retry/back-off, and reporting into the
// Metrics Sink and Event Bus along the way.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nimbusdns/resolvcore/internal/cache"
	"github.com/nimbusdns/resolvcore/internal/core/domain"
	"github.com/nimbusdns/resolvcore/internal/core/ports"
)

// Resolver is the core's query-scheduling component: cache lookup, retry
// and back-off, batching, and concurrency control, built from a Config and
// a handful of injected collaborators.
type Resolver struct {
	provider  ports.AddressInfoProvider
	metrics   ports.MetricsSink
	bus       ports.EventBus
	versions  ports.ConfigVersionStore
	loader    ports.ConfigLoader
	persistor ports.CachePersistor
	logger    *slog.Logger

	mu          sync.RWMutex
	cfg         domain.Config
	initialized bool
	cache       *cache.Cache
	configPath  string
	sem         *semaphore.Weighted
}

// NewResolver builds a Resolver with no configuration loaded yet; Resolve
// calls made before LoadConfig succeeds return NotInitialized. versions,
// loader, and persistor may be nil: config versioning, load-from-path, and
// cache persistence are then silently unavailable.
func NewResolver(provider ports.AddressInfoProvider, metrics ports.MetricsSink, bus ports.EventBus, versions ports.ConfigVersionStore, loader ports.ConfigLoader, persistor ports.CachePersistor, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		provider:  provider,
		metrics:   metrics,
		bus:       bus,
		versions:  versions,
		loader:    loader,
		persistor: persistor,
		logger:    logger,
	}
}

// LoadConfig validates cfg, reinitializes the provider with its enabled
// servers, builds a fresh Cache, attempts a persisted-cache restore if
// configured, and starts the metrics exporter if configured.
func (r *Resolver) LoadConfig(ctx context.Context, cfg domain.Config) error {
	return r.loadConfig(ctx, cfg, "explicit")
}

func (r *Resolver) loadConfig(ctx context.Context, cfg domain.Config, reason string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := r.provider.Reload(cfg.EnabledServers()); err != nil {
		return domain.WrapError(domain.KindConfigValidation, "provider reload failed", err)
	}

	newCache := cache.New(time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxSize)
	if cfg.Cache.Enabled && cfg.Cache.Persistent && cfg.Cache.CacheFile != "" && r.persistor != nil {
		if r.persistor.IsValidCache(cfg.Cache.CacheFile) {
			records, err := r.persistor.Load(cfg.Cache.CacheFile)
			if err != nil {
				r.logger.Warn("cache restore failed, starting cold", "error", err)
			} else {
				now := time.Now()
				for _, rec := range records {
					if rec.ExpireAt.After(now) {
						// cache.Update resets the TTL rather than restoring the
						// persisted expire_time — a deliberate consequence.
						newCache.Update(rec.Hostname, rec.Addresses)
					}
				}
			}
		}
	}

	r.mu.Lock()
	wasInitialized := r.initialized
	r.cfg = cfg
	r.cache = newCache
	r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentQueries))
	r.initialized = true
	r.mu.Unlock()

	if cfg.Metrics.Enabled {
		if err := r.metrics.StartExporter(cfg.Metrics.ExporterAddress); err != nil {
			r.logger.Warn("metrics exporter failed to start", "error", err)
		}
	}

	if r.versions != nil {
		snapReason := reason
		if !wasInitialized {
			snapReason = "initial"
		}
		snap := domain.Snapshot{ID: uuid.New().String(), Config: cfg, CreatedAt: time.Now(), Reason: snapReason}
		if err := r.versions.Save(ctx, snap); err != nil {
			r.logger.Warn("config snapshot not recorded", "error", err)
		}
	}
	return nil
}

// LoadConfigFromPath loads a Config from path via the injected
// ConfigLoader, remembers path for ReloadConfig, then delegates to
// LoadConfig.
func (r *Resolver) LoadConfigFromPath(ctx context.Context, path string) error {
	if r.loader == nil {
		return domain.NewError(domain.KindConfigValidation, "no config loader configured")
	}
	cfg, err := r.loader.Load(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.configPath = path
	r.mu.Unlock()
	return r.LoadConfig(ctx, cfg)
}

// ReloadConfig persists the current cache if enabled, then re-applies
// configuration from its original source: the path LoadConfigFromPath was
// given, or, if configuration was supplied directly, the already-accepted
// Config (re-validated and re-applied, which re-initializes the provider
// and cache exactly as a fresh load would).
func (r *Resolver) ReloadConfig(ctx context.Context) error {
	r.mu.RLock()
	cfg := r.cfg
	path := r.configPath
	cacheEnabled := r.initialized && cfg.Cache.Enabled && cfg.Cache.Persistent
	r.mu.RUnlock()

	if cacheEnabled {
		if err := r.SaveCache(); err != nil {
			r.logger.Warn("pre-reload cache save failed", "error", err)
		}
	}

	if path != "" {
		fresh, err := r.loader.Load(path)
		if err != nil {
			return err
		}
		return r.loadConfig(ctx, fresh, "reload")
	}
	return r.loadConfig(ctx, cfg, "reload")
}

// Resolve looks up hostname in the cache, returning a future fulfilled
// immediately on a hit or NotInitialized; on a miss it returns a pending
// future fulfilled from a background goroutine once the provider (with
// retry/back-off) completes.
func (r *Resolver) Resolve(ctx context.Context, hostname string) *ResolveFuture {
	return r.resolve(ctx, hostname, nil)
}

// resolve implements Resolve. prev is the hostname's previous address set
// when the caller has already dropped the record (Refresh); when nil it is
// read from the cache before the lookup, since a miss erases the record.
func (r *Resolver) resolve(ctx context.Context, hostname string, prev []string) *ResolveFuture {
	future := newResolveFuture()

	r.mu.RLock()
	initialized := r.initialized
	c := r.cache
	ipv6 := r.cfg.IPv6Enabled
	retry := r.cfg.Retry
	ttl := r.cfg.Cache.TTLSeconds
	sem := r.sem
	r.mu.RUnlock()

	if !initialized {
		future.fulfill(ResolveResult{Hostname: hostname, Status: ports.StatusNotInitialized})
		return future
	}

	if prev == nil {
		prev, _ = c.Peek(hostname)
	}
	if addrs, hit := c.Get(hostname); hit {
		r.metrics.RecordCacheHit()
		future.fulfill(ResolveResult{Hostname: hostname, Addresses: addrs, Status: ports.StatusSuccess})
		return future
	}
	r.metrics.RecordCacheMiss()

	family := ports.FamilyIPv4Only
	if ipv6 {
		family = ports.FamilyUnspecified
	}

	go r.drive(ctx, hostname, family, retry, ttl, c, sem, prev, future)
	return future
}

// drive runs the retry loop for one query context: it owns its own attempt
// counter (per-context, not a shared static), so concurrent resolutions of
// different hostnames never perturb one another's retry budget.
func (r *Resolver) drive(ctx context.Context, hostname string, family ports.Family, retry domain.RetryConfig, ttlSeconds int, c *cache.Cache, sem *semaphore.Weighted, old []string, future *ResolveFuture) {
	start := time.Now()
	attempt := 0

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			future.fulfill(ResolveResult{Hostname: hostname, Status: ports.StatusRetryable, ElapsedMs: time.Since(start).Milliseconds()})
			return
		}
		result := r.provider.Resolve(ctx, hostname, family)
		sem.Release(1)

		elapsed := time.Since(start)

		if result.Status == ports.StatusSuccess && len(result.Nodes) > 0 {
			addrs := addressesOf(result.Nodes)
			c.Update(hostname, addrs)
			if ev, changed := domain.NewAddressChangeEvent(hostname, old, addrs, "query", recordTypeOf(result.Nodes), ttlSeconds, authoritativeOf(result.Nodes)); changed {
				r.bus.Notify(ev)
			}
			r.metrics.RecordQuery(hostname, elapsed, true)
			future.fulfill(ResolveResult{Hostname: hostname, Addresses: addrs, Status: ports.StatusSuccess, ElapsedMs: elapsed.Milliseconds()})
			return
		}

		r.metrics.RecordError("resolution_failure", fmt.Sprintf("%s: %v", result.Status, result.Err))

		retryable := result.Status != ports.StatusNoData && result.Status != ports.StatusNotFound
		if retryable && attempt < retry.MaxAttempts {
			attempt++
			delay := backoffDelay(retry.BaseDelayMs, retry.MaxDelayMs, attempt)
			r.metrics.RecordRetry(hostname, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				r.metrics.RecordQuery(hostname, time.Since(start), false)
				future.fulfill(ResolveResult{Hostname: hostname, Status: result.Status, ElapsedMs: time.Since(start).Milliseconds()})
				return
			}
			continue
		}

		r.metrics.RecordQuery(hostname, elapsed, false)
		future.fulfill(ResolveResult{Hostname: hostname, Status: result.Status, ElapsedMs: elapsed.Milliseconds()})
		return
	}
}

// ResolveBatch submits hostnames in chunks of min(len(hostnames),
// max_concurrent_queries); each chunk is fully drained before the next is
// submitted. The returned slice preserves input order.
func (r *Resolver) ResolveBatch(ctx context.Context, hostnames []string) []*ResolveFuture {
	r.mu.RLock()
	chunkSize := r.cfg.MaxConcurrentQueries
	r.mu.RUnlock()
	if chunkSize <= 0 || chunkSize > len(hostnames) {
		chunkSize = len(hostnames)
	}
	if chunkSize == 0 {
		return nil
	}

	results := make([]*ResolveFuture, len(hostnames))
	for start := 0; start < len(hostnames); start += chunkSize {
		end := start + chunkSize
		if end > len(hostnames) {
			end = len(hostnames)
		}
		chunk := make([]*ResolveFuture, 0, end-start)
		for i := start; i < end; i++ {
			f := r.Resolve(ctx, hostnames[i])
			results[i] = f
			chunk = append(chunk, f)
		}
		for _, f := range chunk {
			f.Wait()
		}
	}
	return results
}

// Refresh drops hostname from the cache, then resolves it fresh.
func (r *Resolver) Refresh(ctx context.Context, hostname string) *ResolveFuture {
	r.mu.RLock()
	c := r.cache
	initialized := r.initialized
	r.mu.RUnlock()
	var prev []string
	if initialized {
		prev, _ = c.Peek(hostname)
		c.Remove(hostname)
	}
	return r.resolve(ctx, hostname, prev)
}

// SaveCache persists the current cache contents via the injected
// CachePersistor to the configured cache_file.
func (r *Resolver) SaveCache() error {
	r.mu.RLock()
	c := r.cache
	path := r.cfg.Cache.CacheFile
	r.mu.RUnlock()
	if r.persistor == nil || path == "" {
		return domain.NewError(domain.KindPersistence, "no cache persistor or cache_file configured")
	}
	var records []ports.CacheRecord
	c.ForEach(func(hostname string, rec cache.Record) {
		if !rec.Valid {
			return
		}
		records = append(records, ports.CacheRecord{Hostname: rec.Hostname, Addresses: rec.Addresses, ExpireAt: rec.ExpireAt})
	})
	if err := r.persistor.Save(path, records); err != nil {
		return domain.WrapError(domain.KindPersistence, "cache save failed", err)
	}
	return nil
}

// LoadCache restores the cache from the configured cache_file. Each
// not-yet-expired record is reinserted via Update, which resets its TTL —
// a deliberate, documented consequence of restoring from a persisted
// snapshot rather than a live cache.
func (r *Resolver) LoadCache() error {
	r.mu.RLock()
	c := r.cache
	path := r.cfg.Cache.CacheFile
	r.mu.RUnlock()
	if r.persistor == nil || path == "" {
		return domain.NewError(domain.KindPersistence, "no cache persistor or cache_file configured")
	}
	records, err := r.persistor.Load(path)
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "cache load failed", err)
	}
	now := time.Now()
	for _, rec := range records {
		if rec.ExpireAt.After(now) {
			c.Update(rec.Hostname, rec.Addresses)
		}
	}
	return nil
}

// ClearCache empties the cache.
func (r *Resolver) ClearCache() {
	r.mu.RLock()
	c := r.cache
	r.mu.RUnlock()
	if c != nil {
		c.Clear()
	}
}

// Stats returns the current Metrics Sink snapshot.
func (r *Resolver) Stats() domain.MetricsStats {
	return r.metrics.Stats()
}

func addressesOf(nodes []ports.AddrInfoNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Addr != nil {
			out = append(out, n.Addr.String())
		}
	}
	return out
}

func recordTypeOf(nodes []ports.AddrInfoNode) string {
	if len(nodes) == 0 {
		return "A"
	}
	return nodes[0].RecordType
}

func authoritativeOf(nodes []ports.AddrInfoNode) bool {
	for _, n := range nodes {
		if !n.Authoritative {
			return false
		}
	}
	return len(nodes) > 0
}
