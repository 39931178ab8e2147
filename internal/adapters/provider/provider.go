// Package provider implements the production Address-Info Provider: it
// issues real A/AAAA queries over UDP against the Resolver's configured,
// weighted server pool using github.com/miekg/dns.
package provider

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
	"github.com/nimbusdns/resolvcore/internal/core/ports"
)

// Pool is the ports.AddressInfoProvider backed by a weighted pool of
// upstream DNS servers. Reload swaps the pool atomically under mu; a
// Resolve in flight during a Reload always completes against the pool it
// started with or the new one, never a half-updated one.
type Pool struct {
	mu      sync.RWMutex
	servers []weightedServer
	logger  *slog.Logger
}

type weightedServer struct {
	addr      string // "host:port"
	weight    int
	timeoutMs int
}

// New returns an empty Pool; Reload must be called with at least one
// enabled server before Resolve can succeed.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger: logger,
	}
}

// Reload replaces the server pool with servers, which must already be
// filtered to the enabled subset of a Config (domain.Config.EnabledServers).
func (p *Pool) Reload(servers []domain.ServerConfig) error {
	pooled := make([]weightedServer, 0, len(servers))
	for _, s := range servers {
		pooled = append(pooled, weightedServer{
			addr:      net.JoinHostPort(s.Address, strconv.Itoa(s.Port)),
			weight:    s.Weight,
			timeoutMs: s.TimeoutMs,
		})
	}
	p.mu.Lock()
	p.servers = pooled
	p.mu.Unlock()
	return nil
}

// Resolve issues an A query against a weighted-random choice of the
// configured pool, and, when family is FamilyUnspecified (ipv6_enabled),
// also issues an AAAA query against the same server and merges the two
// answer sets. The merged status favors the more specific outcome: a
// success on either query wins, otherwise the A query's status is
// returned.
func (p *Pool) Resolve(ctx context.Context, hostname string, family ports.Family) ports.ProviderResult {
	p.mu.RLock()
	servers := p.servers
	p.mu.RUnlock()

	if len(servers) == 0 {
		return ports.ProviderResult{Status: ports.StatusNotInitialized}
	}

	server := pickWeighted(servers)

	v4 := p.exchange(ctx, server, hostname, dns.TypeA)
	if family != ports.FamilyUnspecified {
		return v4
	}

	v6 := p.exchange(ctx, server, hostname, dns.TypeAAAA)
	if v4.Status != ports.StatusSuccess && v6.Status != ports.StatusSuccess {
		return v4
	}
	merged := ports.ProviderResult{Status: ports.StatusSuccess}
	merged.Nodes = append(merged.Nodes, v4.Nodes...)
	merged.Nodes = append(merged.Nodes, v6.Nodes...)
	if len(merged.Nodes) == 0 {
		return ports.ProviderResult{Status: ports.StatusNoData}
	}
	return merged
}

func (p *Pool) exchange(ctx context.Context, server weightedServer, hostname string, qtype uint16) ports.ProviderResult {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), qtype)
	msg.RecursionDesired = true

	timeout := time.Duration(server.timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := &dns.Client{Timeout: timeout}

	reply, _, err := client.ExchangeContext(ctx, msg, server.addr)
	if err != nil {
		p.logger.Debug("dns exchange failed", "server", server.addr, "qtype", qtype, "error", err)
		return ports.ProviderResult{Status: ports.StatusRetryable, Err: err}
	}

	switch reply.Rcode {
	case dns.RcodeSuccess:
		// fall through to node extraction below
	case dns.RcodeNameError:
		return ports.ProviderResult{Status: ports.StatusNotFound}
	default:
		return ports.ProviderResult{Status: ports.StatusRetryable, Err: errRcode(reply.Rcode)}
	}

	nodes := make([]ports.AddrInfoNode, 0, len(reply.Answer))
	for _, rr := range reply.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			nodes = append(nodes, ports.AddrInfoNode{Family: ports.FamilyIPv4Only, Addr: rec.A, RecordType: "A", Authoritative: reply.Authoritative})
		case *dns.AAAA:
			nodes = append(nodes, ports.AddrInfoNode{Family: ports.FamilyUnspecified, Addr: rec.AAAA, RecordType: "AAAA", Authoritative: reply.Authoritative})
		}
	}
	if len(nodes) == 0 {
		return ports.ProviderResult{Status: ports.StatusNoData}
	}
	return ports.ProviderResult{Status: ports.StatusSuccess, Nodes: nodes}
}

func pickWeighted(servers []weightedServer) weightedServer {
	total := 0
	for _, s := range servers {
		total += s.weight
	}
	if total <= 0 {
		return servers[0]
	}
	target := rand.Intn(total)
	for _, s := range servers {
		if target < s.weight {
			return s
		}
		target -= s.weight
	}
	return servers[len(servers)-1]
}

type rcodeError int

func errRcode(rcode int) error { return rcodeError(rcode) }

func (e rcodeError) Error() string { return "dns: rcode " + dns.RcodeToString[int(e)] }
