package resolver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestDNSServer 启动一个只应答order-1.internal的本地DNS服务器
func startTestDNSServer(t *testing.T, queries *atomic.Int32) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		queries.Add(1)
		m := new(dns.Msg)
		m.SetReply(req)
		if req.Question[0].Name == "order-1.internal." {
			rr, err := dns.NewRR("order-1.internal. 30 IN A 10.1.2.3")
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

// hostsLookup 模拟系统解析器，只认识hosts中的主机名
func hostsLookup(hosts map[string]string, calls *atomic.Int32) lookupFunc {
	return func(_ context.Context, host string) ([]net.IPAddr, error) {
		if calls != nil {
			calls.Add(1)
		}
		if ip, ok := hosts[host]; ok {
			return []net.IPAddr{{IP: net.ParseIP("fe80::1")}, {IP: net.ParseIP(ip)}}, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
}

func newTestResolver(servers ...string) *Resolver {
	r := New(config.ResolverConfig{
		Nameservers: servers,
		Timeout:     time.Second,
		CacheTTL:    time.Minute,
	}, config.NewNopLogger())
	r.lookup = hostsLookup(nil, nil)
	return r
}

func TestResolveLiteralAndLocalhost(t *testing.T) {
	r := newTestResolver("127.0.0.1:1")
	ctx := context.Background()

	ip, err := r.Resolve(ctx, "10.0.0.8")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.8", ip)

	ip, err = r.Resolve(ctx, "localhost")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)

	_, err = r.Resolve(ctx, "  ")
	assert.Error(t, err)
}

func TestResolveUsesDNSAndCache(t *testing.T) {
	var queries atomic.Int32
	addr := startTestDNSServer(t, &queries)
	r := newTestResolver(addr)
	ctx := context.Background()

	ip, err := r.Resolve(ctx, "order-1.internal")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)

	ip, err = r.Resolve(ctx, "ORDER-1.internal.")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)
	assert.Equal(t, int32(1), queries.Load(), "第二次解析应命中缓存")
}

func TestResolveOrFallback(t *testing.T) {
	var queries atomic.Int32
	addr := startTestDNSServer(t, &queries)
	r := newTestResolver(addr)

	assert.Equal(t, DefaultFallback, r.ResolveOrFallback(context.Background(), "unknown.internal"))
	assert.Equal(t, "10.1.2.3", r.ResolveOrFallback(context.Background(), "order-1.internal"))
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	c.SetWithTTL("host", "10.0.0.1", 10*time.Millisecond)

	ip, ok := c.Get("HOST")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("host")
	assert.False(t, ok, "过期记录不应返回")
	assert.Equal(t, 0, c.Len())

	disabled := NewCache(0)
	disabled.Set("host", "10.0.0.1")
	assert.Equal(t, 0, disabled.Len(), "TTL为0时不缓存")
}

func TestResolveFallsBackToSystemResolver(t *testing.T) {
	var queries, lookups atomic.Int32
	addr := startTestDNSServer(t, &queries)
	r := newTestResolver(addr)
	r.lookup = hostsLookup(map[string]string{"db.hosts": "172.17.0.5"}, &lookups)
	ctx := context.Background()

	// DNS没有该记录，由系统解析器（hosts文件）给出
	ip, err := r.Resolve(ctx, "db.hosts")
	require.NoError(t, err)
	assert.Equal(t, "172.17.0.5", ip)
	assert.Equal(t, int32(1), queries.Load())
	assert.Equal(t, int32(1), lookups.Load())

	ip, err = r.Resolve(ctx, "db.hosts")
	require.NoError(t, err)
	assert.Equal(t, "172.17.0.5", ip)
	assert.Equal(t, int32(1), lookups.Load(), "系统解析结果也应缓存")

	// DNS能解析时不调用系统解析器
	ip, err = r.Resolve(ctx, "order-1.internal")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)
	assert.Equal(t, int32(1), lookups.Load())

	assert.Equal(t, DefaultFallback, r.ResolveOrFallback(ctx, "missing.hosts"))
}

func TestResolveWithoutNameservers(t *testing.T) {
	r := newTestResolver()
	r.servers = nil
	r.lookup = hostsLookup(map[string]string{"orders": "10.2.0.7"}, nil)

	ip, err := r.Resolve(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "10.2.0.7", ip)

	_, err = r.Resolve(context.Background(), "payments")
	assert.Error(t, err)
}

func TestNewUsesSystemResolverByDefault(t *testing.T) {
	r := New(config.ResolverConfig{}, config.NewNopLogger())
	assert.NotNil(t, r.lookup)
	assert.Equal(t, time.Second*3, r.client.Timeout)
}
