// Package persist implements the Cache Persistor: it reads and writes the
// Resolver's cache as a versioned JSON snapshot on disk.
package persist

import (
	"encoding/json"
	"os"
	"time"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
	"github.com/nimbusdns/resolvcore/internal/core/ports"
)

const schemaVersion = "1.0"
const maxSnapshotAge = 24 * time.Hour

// snapshotFile is the on-disk JSON shape.
type snapshotFile struct {
	Version   string           `json:"version"`
	Timestamp int64            `json:"timestamp"`
	Records   []snapshotRecord `json:"records"`
}

type snapshotRecord struct {
	Hostname    string   `json:"hostname"`
	IPAddresses []string `json:"ip_addresses"`
	ExpireTime  int64    `json:"expire_time"`
	IsValid     bool     `json:"is_valid"`
}

// Persistor is the file-backed ports.CachePersistor.
type Persistor struct{}

// New returns a Persistor. It holds no state; every call is self-contained.
func New() *Persistor { return &Persistor{} }

// Save writes records to path as a versioned JSON snapshot. It does not
// filter: callers pass only valid entries (the Resolver skips Valid=false
// records in ForEach), and every record is written with is_valid=true.
func (p *Persistor) Save(path string, records []ports.CacheRecord) error {
	out := snapshotFile{
		Version:   schemaVersion,
		Timestamp: time.Now().UnixMilli(),
		Records:   make([]snapshotRecord, 0, len(records)),
	}
	for _, r := range records {
		out.Records = append(out.Records, snapshotRecord{
			Hostname:    r.Hostname,
			IPAddresses: r.Addresses,
			ExpireTime:  r.ExpireAt.Unix(),
			IsValid:     true,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "failed to marshal cache snapshot", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.WrapError(domain.KindPersistence, "failed to write cache file", err)
	}
	return nil
}

// Load parses path and returns every record with is_valid=true and
// expire_time in the future. The file itself is rejected outright if its
// version isn't "1.0", its timestamp is missing, or it is older than 24h.
func (p *Persistor) Load(path string) ([]ports.CacheRecord, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]ports.CacheRecord, 0, len(snap.Records))
	for _, r := range snap.Records {
		if !r.IsValid {
			continue
		}
		expireAt := time.Unix(r.ExpireTime, 0)
		if !expireAt.After(now) {
			continue
		}
		out = append(out, ports.CacheRecord{
			Hostname:  r.Hostname,
			Addresses: append([]string(nil), r.IPAddresses...),
			ExpireAt:  expireAt,
		})
	}
	return out, nil
}

// IsValidCache reports whether path is a structurally valid, non-stale
// snapshot, without loading its records.
func (p *Persistor) IsValidCache(path string) bool {
	_, err := readSnapshot(path)
	return err == nil
}

func readSnapshot(path string) (*snapshotFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindPersistence, "failed to read cache file", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, domain.WrapError(domain.KindPersistence, "failed to parse cache file", err)
	}
	if snap.Version != schemaVersion {
		return nil, domain.NewError(domain.KindPersistence, "unsupported cache file version: "+snap.Version)
	}
	if snap.Timestamp == 0 {
		return nil, domain.NewError(domain.KindPersistence, "cache file is missing a timestamp")
	}
	age := time.Since(time.UnixMilli(snap.Timestamp))
	if age > maxSnapshotAge {
		return nil, domain.NewError(domain.KindPersistence, "cache file is older than 24h")
	}
	return &snap, nil
}
