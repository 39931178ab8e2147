package provider

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
	"github.com/nimbusdns/resolvcore/internal/core/ports"
)

// startStubServer runs a minimal UDP DNS server that answers every A query
// for "present.example." with 203.0.113.5 and NXDOMAINs everything else.
func startStubServer(t *testing.T) (host string, port int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("present.example.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR("present.example. 60 IN A 203.0.113.5")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	server := &dns.Server{PacketConn: conn, Handler: mux}
	go server.ActivateAndServe()
	t.Cleanup(func() { _ = server.Shutdown() })

	addr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port
}

func testConfig(host string, port int) []domain.ServerConfig {
	return []domain.ServerConfig{{Address: host, Port: port, Weight: 1, TimeoutMs: 1000, Enabled: true}}
}

func TestResolveReturnsAddressOnSuccess(t *testing.T) {
	host, port := startStubServer(t)
	p := New(nil)
	require.NoError(t, p.Reload(testConfig(host, port)))

	result := p.Resolve(context.Background(), "present.example", ports.FamilyIPv4Only)
	require.Equal(t, ports.StatusSuccess, result.Status)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "203.0.113.5", result.Nodes[0].Addr.String())
	assert.Equal(t, "A", result.Nodes[0].RecordType)
}

func TestResolveReturnsNotFoundForNXDomain(t *testing.T) {
	host, port := startStubServer(t)
	p := New(nil)
	require.NoError(t, p.Reload(testConfig(host, port)))

	result := p.Resolve(context.Background(), "absent.example", ports.FamilyIPv4Only)
	assert.Equal(t, ports.StatusNotFound, result.Status)
}

func TestResolveWithoutReloadReturnsNotInitialized(t *testing.T) {
	p := New(nil)
	result := p.Resolve(context.Background(), "present.example", ports.FamilyIPv4Only)
	assert.Equal(t, ports.StatusNotInitialized, result.Status)
}

func TestResolveRetryableWhenServerUnreachable(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Reload([]domain.ServerConfig{
		{Address: "127.0.0.1", Port: 1, Weight: 1, TimeoutMs: 100, Enabled: true},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result := p.Resolve(ctx, "present.example", ports.FamilyIPv4Only)
	assert.Equal(t, ports.StatusRetryable, result.Status)
}

func TestPickWeightedFavorsHigherWeight(t *testing.T) {
	servers := []weightedServer{
		{addr: "a", weight: 1},
		{addr: "b", weight: 99},
	}
	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		counts[pickWeighted(servers).addr]++
	}
	assert.Greater(t, counts["b"], counts["a"])
}

func TestJoinHostPortFormatting(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Reload([]domain.ServerConfig{
		{Address: "192.0.2.1", Port: 5353, Weight: 1, TimeoutMs: 500, Enabled: true},
	}))
	assert.Equal(t, "192.0.2.1:"+strconv.Itoa(5353), p.servers[0].addr)
}
