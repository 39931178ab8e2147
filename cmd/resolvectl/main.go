// Command resolvectl is a minimal demo CLI for the Resolver: it loads a
// config file, resolves every hostname given on the command line, and
// prints the results as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/nimbusdns/resolvcore/internal/adapters/configio"
	"github.com/nimbusdns/resolvcore/internal/adapters/confighistory"
	"github.com/nimbusdns/resolvcore/internal/adapters/persist"
	"github.com/nimbusdns/resolvcore/internal/adapters/provider"
	"github.com/nimbusdns/resolvcore/internal/core/ports"
	"github.com/nimbusdns/resolvcore/internal/core/services"
	"github.com/nimbusdns/resolvcore/internal/eventbus"
	"github.com/nimbusdns/resolvcore/internal/metrics"
)

const (
	exitSuccess       = 0
	exitFatal         = 1
	exitConfigInvalid = -1
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: resolvectl <config.yaml> <hostname> [hostname...]")
		return exitConfigInvalid
	}
	configPath := os.Args[1]
	hostnames := os.Args[2:]

	dnsProvider := provider.New(logger)
	metricsSink := metrics.New(logger)
	bus := eventbus.New(logger)
	versions := confighistory.NewMemStore(50)
	loader := configio.New()
	persistor := persist.New()

	resolver := services.NewResolver(dnsProvider, metricsSink, bus, versions, loader, persistor, logger)

	ctx := context.Background()
	if err := resolver.LoadConfigFromPath(ctx, configPath); err != nil {
		logger.Error("failed to load configuration", "error", err)
		return exitConfigInvalid
	}

	futures := resolver.ResolveBatch(ctx, hostnames)
	encoder := json.NewEncoder(os.Stdout)
	failed := false
	for _, f := range futures {
		result := f.Wait()
		if result.Status != ports.StatusSuccess {
			failed = true
		}
		if err := encoder.Encode(result); err != nil {
			logger.Error("failed to encode result", "error", err)
			return exitFatal
		}
	}

	if failed {
		return exitFatal
	}
	return exitSuccess
}
