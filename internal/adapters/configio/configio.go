// Package configio loads the Resolver's YAML configuration file and maps
// it onto the validated, immutable domain.Config.
package configio

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

// rawConfig mirrors the configuration file's top-level keys. Unknown keys
// are ignored by yaml.v3's default decode behavior; missing sections are
// left at their zero value and filled in by ConfigBuilder's defaults.
type rawConfig struct {
	Servers []rawServer       `yaml:"servers"`
	Cache   *rawCache         `yaml:"cache"`
	Retry   *rawRetry         `yaml:"retry"`
	Metrics *rawMetrics       `yaml:"metrics"`
	Global  *rawGlobal        `yaml:"global"`
	Meta    map[string]string `yaml:"metadata"`
}

type rawServer struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	Weight    int    `yaml:"weight"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Enabled   bool   `yaml:"enabled"`
}

type rawCache struct {
	Enabled    bool   `yaml:"enabled"`
	TTLSeconds int    `yaml:"ttl"`
	MaxSize    int    `yaml:"max_size"`
	Persistent bool   `yaml:"persistent"`
	CacheFile  string `yaml:"cache_file"`
}

type rawRetry struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

type rawMetrics struct {
	Enabled         bool   `yaml:"enabled"`
	MetricsFile     string `yaml:"metrics_file"`
	ReportIntervalS int    `yaml:"report_interval_s"`
	ExporterAddress string `yaml:"exporter_address"`
}

type rawGlobal struct {
	QueryTimeoutMs       int  `yaml:"query_timeout_ms"`
	MaxConcurrentQueries int  `yaml:"max_concurrent_queries"`
	IPv6Enabled          bool `yaml:"ipv6_enabled"`
}

// Loader is the ports.ConfigLoader backed by a YAML file on disk.
type Loader struct{}

// New returns a Loader. It holds no state.
func New() *Loader { return &Loader{} }

// Load reads path, decodes it as YAML, and builds/validates the result
// into a domain.Config via domain.NewConfigBuilder. Sections the file
// omits fall back to the builder's defaults rather than the YAML zero
// value, since WithXxx is only called when the section is present.
func (l *Loader) Load(path string) (domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, domain.WrapError(domain.KindConfigValidation, "failed to read config file", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Config{}, domain.WrapError(domain.KindConfigValidation, "failed to parse config file", err)
	}

	builder := domain.NewConfigBuilder()

	if len(raw.Servers) > 0 {
		servers := make([]domain.ServerConfig, 0, len(raw.Servers))
		for _, s := range raw.Servers {
			servers = append(servers, domain.ServerConfig{
				Address:   s.Address,
				Port:      s.Port,
				Weight:    s.Weight,
				TimeoutMs: s.TimeoutMs,
				Enabled:   s.Enabled,
			})
		}
		builder.WithServers(servers...)
	}

	if raw.Cache != nil {
		builder.WithCache(domain.CacheConfig{
			Enabled:    raw.Cache.Enabled,
			TTLSeconds: raw.Cache.TTLSeconds,
			MaxSize:    raw.Cache.MaxSize,
			Persistent: raw.Cache.Persistent,
			CacheFile:  raw.Cache.CacheFile,
		})
	}

	if raw.Retry != nil {
		builder.WithRetry(domain.RetryConfig{
			MaxAttempts: raw.Retry.MaxAttempts,
			BaseDelayMs: raw.Retry.BaseDelayMs,
			MaxDelayMs:  raw.Retry.MaxDelayMs,
		})
	}

	if raw.Metrics != nil {
		builder.WithMetrics(domain.MetricsConfig{
			Enabled:         raw.Metrics.Enabled,
			MetricsFile:     raw.Metrics.MetricsFile,
			ReportIntervalS: raw.Metrics.ReportIntervalS,
			ExporterAddress: raw.Metrics.ExporterAddress,
		})
	}

	if raw.Global != nil {
		builder.WithGlobal(raw.Global.QueryTimeoutMs, raw.Global.MaxConcurrentQueries, raw.Global.IPv6Enabled)
	}

	if len(raw.Meta) > 0 {
		builder.WithMetadata(raw.Meta)
	}

	return builder.Build()
}
