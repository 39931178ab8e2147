// Package ports declares the interfaces the Resolver depends on but does
// not implement itself: the address-info provider (out of scope per the
// wire-transport boundary), the metrics sink, the event bus, and the
// config-version store. Concrete implementations live under
// internal/adapters, internal/metrics, and internal/eventbus.
package ports

import (
	"context"
	"net"
	"time"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

// Family is the address-family hint passed to an AddressInfoProvider.
type Family int

const (
	FamilyUnspecified Family = iota
	FamilyIPv4Only
)

// StatusCode distinguishes the terminal and retryable outcomes of a
// provider lookup.
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusNoData
	StatusNotFound
	StatusNotInitialized
	StatusRetryable
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusNoData:
		return "NoData"
	case StatusNotFound:
		return "NotFound"
	case StatusNotInitialized:
		return "NotInitialized"
	case StatusRetryable:
		return "Retryable"
	default:
		return "Unknown"
	}
}

// AddrInfoNode is one resolved address, in the provider's binary form.
type AddrInfoNode struct {
	Family        Family
	Addr          net.IP
	RecordType    string // "A" or "AAAA"
	Authoritative bool
}

// ProviderResult is what an AddressInfoProvider returns for one lookup.
type ProviderResult struct {
	Status StatusCode
	Nodes  []AddrInfoNode
	Err    error
}

// AddressInfoProvider performs the actual DNS lookup for the core. Its
// wire-level transport (framing, sockets, message encoding) is explicitly
// out of scope for the core and lives entirely inside the implementation.
type AddressInfoProvider interface {
	Resolve(ctx context.Context, hostname string, family Family) ProviderResult
	Reload(servers []domain.ServerConfig) error
}

// MetricsSink is the abstract metrics surface the Resolver reports into.
type MetricsSink interface {
	RecordQuery(host string, d time.Duration, success bool)
	RecordCacheHit()
	RecordCacheMiss()
	RecordServerLatency(server string, ms float64)
	RecordError(kind, detail string)
	RecordRetry(host string, attemptIndex int)
	Stats() domain.MetricsStats
	ExportToFile(path string) error
	StartExporter(addr string) error
	StopExporter(ctx context.Context) error
}

// EventBus is the address-change notification surface the Resolver
// publishes into.
type EventBus interface {
	Notify(event domain.AddressChangeEvent)
}

// ConfigVersionStore keeps a history of accepted Config snapshots.
type ConfigVersionStore interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	List(ctx context.Context, limit int) ([]domain.Snapshot, error)
	Latest(ctx context.Context) (domain.Snapshot, error)
	Rollback(ctx context.Context, id string) (domain.Config, error)
}

// ConfigLoader reads a Config from an external source, e.g. a YAML file.
type ConfigLoader interface {
	Load(path string) (domain.Config, error)
}

// CacheRecord is the persistence-shaped view of one cache entry: the shape
// the Resolver exchanges with a CachePersistor, independent of the internal
// Cache package's own Record type.
type CacheRecord struct {
	Hostname  string
	Addresses []string
	ExpireAt  time.Time
}

// CachePersistor saves and restores the Resolver's cache to and from a
// file, and checks a candidate file's validity before a restore is
// attempted.
type CachePersistor interface {
	Save(path string, records []CacheRecord) error
	Load(path string) ([]CacheRecord, error)
	IsValidCache(path string) bool
}
