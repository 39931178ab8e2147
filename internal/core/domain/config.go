package domain

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ServerConfig describes one upstream DNS server in the resolver's pool.
type ServerConfig struct {
	Address   string
	Port      int
	Weight    int
	TimeoutMs int
	Enabled   bool
}

// CacheConfig controls the Resolver's Cache component.
type CacheConfig struct {
	Enabled    bool
	TTLSeconds int
	MaxSize    int
	Persistent bool
	CacheFile  string
}

// RetryConfig controls the Resolver's exponential back-off schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelayMs int
	MaxDelayMs  int
}

// MetricsConfig controls the Metrics Sink and its exporter endpoint.
type MetricsConfig struct {
	Enabled         bool
	MetricsFile     string
	ReportIntervalS int
	ExporterAddress string
}

// Config is the immutable, validated configuration snapshot consumed by the
// Resolver. It is normally produced by ConfigBuilder.Build, which runs
// Validate before returning; Resolver.LoadConfig validates it again.
type Config struct {
	Servers              []ServerConfig
	Cache                CacheConfig
	Retry                RetryConfig
	Metrics              MetricsConfig
	QueryTimeoutMs       int
	MaxConcurrentQueries int
	IPv6Enabled          bool
	Metadata             map[string]string
}

// EnabledServers returns the subset of Servers with Enabled set.
func (c Config) EnabledServers() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ConfigBuilder constructs a Config field-by-field and validates it on Build,
// mirroring the builder-then-validate pattern the rest of this module uses
// for constructor-enforced invariants.
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder returns a builder seeded with the defaults named in the
// configuration contract (cache max_size 10000, etc.).
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: Config{
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 300,
			MaxSize:    10000,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 100,
			MaxDelayMs:  1000,
		},
		Metrics: MetricsConfig{
			ReportIntervalS: 60,
		},
		QueryTimeoutMs:       5000,
		MaxConcurrentQueries: 100,
	}}
}

func (b *ConfigBuilder) WithServers(servers ...ServerConfig) *ConfigBuilder {
	b.cfg.Servers = append([]ServerConfig(nil), servers...)
	return b
}

func (b *ConfigBuilder) WithCache(c CacheConfig) *ConfigBuilder {
	b.cfg.Cache = c
	return b
}

func (b *ConfigBuilder) WithRetry(r RetryConfig) *ConfigBuilder {
	b.cfg.Retry = r
	return b
}

func (b *ConfigBuilder) WithMetrics(m MetricsConfig) *ConfigBuilder {
	b.cfg.Metrics = m
	return b
}

func (b *ConfigBuilder) WithGlobal(queryTimeoutMs, maxConcurrentQueries int, ipv6Enabled bool) *ConfigBuilder {
	b.cfg.QueryTimeoutMs = queryTimeoutMs
	b.cfg.MaxConcurrentQueries = maxConcurrentQueries
	b.cfg.IPv6Enabled = ipv6Enabled
	return b
}

func (b *ConfigBuilder) WithMetadata(meta map[string]string) *ConfigBuilder {
	b.cfg.Metadata = meta
	return b
}

// Build validates the accumulated fields and returns the immutable Config.
// Any violation returns a *Error of kind KindConfigValidation identifying
// the first offending field.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// Validate enforces every rule in the configuration contract. It is exported
// so Resolver.LoadConfig can re-validate a Config that did not necessarily
// come from a ConfigBuilder (e.g. one decoded straight from YAML).
func (c Config) Validate() error {
	if err := c.validateServers(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if c.QueryTimeoutMs < 100 || c.QueryTimeoutMs > 30000 {
		return NewError(KindConfigValidation, "query_timeout_ms must be in [100, 30000]")
	}
	if c.MaxConcurrentQueries < 1 || c.MaxConcurrentQueries > 10000 {
		return NewError(KindConfigValidation, "max_concurrent_queries must be in [1, 10000]")
	}
	return nil
}

func (c Config) validateServers() error {
	if len(c.Servers) == 0 {
		return NewError(KindConfigValidation, "at least one server must be configured")
	}
	seen := make(map[string]bool, len(c.Servers))
	enabledWeight := 0
	anyEnabled := false
	for _, s := range c.Servers {
		if net.ParseIP(s.Address) == nil {
			return NewError(KindConfigValidation, "server address '"+s.Address+"' is not a valid IPv4 or IPv6 address")
		}
		if seen[s.Address] {
			return NewError(KindConfigValidation, "duplicate server address '"+s.Address+"'")
		}
		seen[s.Address] = true
		if s.Port < 1 || s.Port > 65535 {
			return NewError(KindConfigValidation, "server '"+s.Address+"' port must be in [1, 65535]")
		}
		if s.TimeoutMs < 100 || s.TimeoutMs > 10000 {
			return NewError(KindConfigValidation, "server '"+s.Address+"' timeout_ms must be in [100, 10000]")
		}
		if s.Weight < 1 || s.Weight > 100 {
			return NewError(KindConfigValidation, "server '"+s.Address+"' weight must be in [1, 100]")
		}
		if s.Enabled {
			anyEnabled = true
			enabledWeight += s.Weight
		}
	}
	if !anyEnabled {
		return NewError(KindConfigValidation, "at least one server must have enabled=true")
	}
	if enabledWeight <= 0 {
		return NewError(KindConfigValidation, "sum of enabled server weights must be > 0")
	}
	return nil
}

var forbiddenPathChars = []string{"<", ">", ":", "\"", "|", "?", "*"}

func (c Config) validateCache() error {
	if c.Cache.TTLSeconds < 1 || c.Cache.TTLSeconds > 86400 {
		return NewError(KindConfigValidation, "cache.ttl must be in [1, 86400] seconds")
	}
	if c.Cache.MaxSize < 100 || c.Cache.MaxSize > 1000000 {
		return NewError(KindConfigValidation, "cache.max_size must be in [100, 1000000]")
	}
	if c.Cache.Persistent && c.Cache.CacheFile != "" {
		path := c.Cache.CacheFile
		if !filepath.IsAbs(path) {
			return NewError(KindConfigValidation, "cache.cache_file must be an absolute path")
		}
		// Windows-reserved path characters are rejected unconditionally: cache
		// files may be shared across platforms via the persistence format.
		winPath := path
		if len(winPath) >= 2 && winPath[1] == ':' {
			winPath = winPath[2:]
		}
		for _, ch := range forbiddenPathChars {
			if strings.Contains(winPath, ch) {
				return NewError(KindConfigValidation, "cache.cache_file contains a forbidden character: "+ch)
			}
		}
		dir := filepath.Dir(path)
		if info, err := os.Stat(dir); err != nil {
			if !os.IsNotExist(err) {
				return WrapError(KindConfigValidation, "cache.cache_file parent directory is not accessible", err)
			}
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return WrapError(KindConfigValidation, "cache.cache_file parent directory does not exist and could not be created", mkErr)
			}
		} else if !info.IsDir() {
			return NewError(KindConfigValidation, "cache.cache_file parent path is not a directory")
		}
	}
	return nil
}

func (c Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return NewError(KindConfigValidation, "retry.max_attempts must be in [1, 10]")
	}
	if c.Retry.BaseDelayMs < 50 || c.Retry.BaseDelayMs > 1000 {
		return NewError(KindConfigValidation, "retry.base_delay_ms must be in [50, 1000]")
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs || c.Retry.MaxDelayMs > 10000 {
		return NewError(KindConfigValidation, "retry.max_delay_ms must be in [base_delay_ms, 10000]")
	}
	// The unclamped exponential schedule base*2^(i-1) must stay at or below
	// max_delay_ms for every attempt i in [1, max_attempts]; a config whose
	// schedule would need clamping is rejected.
	delay := c.Retry.BaseDelayMs
	for i := 1; i <= c.Retry.MaxAttempts; i++ {
		if delay > c.Retry.MaxDelayMs {
			return NewError(KindConfigValidation, "retry schedule exceeds max_delay_ms")
		}
		delay *= 2
	}
	return nil
}

func (c Config) validateMetrics() error {
	if c.Metrics.ReportIntervalS < 1 || c.Metrics.ReportIntervalS > 3600 {
		return NewError(KindConfigValidation, "metrics.report_interval_s must be in [1, 3600]")
	}
	if !c.Metrics.Enabled {
		return nil
	}
	if c.Metrics.ExporterAddress == "" {
		return NewError(KindConfigValidation, "metrics.exporter_address is required when metrics are enabled")
	}
	host, portStr, err := net.SplitHostPort(c.Metrics.ExporterAddress)
	if err != nil || host == "" {
		return NewError(KindConfigValidation, "metrics.exporter_address must be host:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return NewError(KindConfigValidation, "metrics.exporter_address port must be in [1, 65535]")
	}
	return nil
}
