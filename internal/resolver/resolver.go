// Package resolver 将实例主机名解析为注册中心需要的IP地址。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DefaultFallback 解析失败时使用的地址
const DefaultFallback = "127.0.0.1"

// ErrNoAddress 解析结果中没有A记录
var ErrNoAddress = errors.New("未找到A记录")

// lookupFunc 系统解析器的查询函数
type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Resolver 基于miekg/dns的主机名解析器
//
// DNS查询失败后再交给系统解析器，以便/etc/hosts与容器内的服务名也能解析。
type Resolver struct {
	servers  []string
	client   *dns.Client
	lookup   lookupFunc
	cache    *Cache
	fallback string
	logger   config.Logger
}

// New 创建解析器，未配置nameserver时读取/etc/resolv.conf
func New(cfg config.ResolverConfig, logger config.Logger) *Resolver {
	servers := cfg.Nameservers
	if len(servers) == 0 {
		servers = systemNameservers()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	fallback := cfg.Fallback
	if fallback == "" {
		fallback = DefaultFallback
	}

	return &Resolver{
		servers: servers,
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
		lookup:   net.DefaultResolver.LookupIPAddr,
		cache:    NewCache(cfg.CacheTTL),
		fallback: fallback,
		logger:   logger,
	}
}

// Resolve 解析主机名对应的IPv4地址
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("主机名不能为空")
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	if strings.EqualFold(host, "localhost") {
		return "127.0.0.1", nil
	}

	if ip, ok := r.cache.Get(host); ok {
		return ip, nil
	}

	var lastErr error
	if len(r.servers) > 0 {
		ip, err := r.exchange(ctx, host)
		if err == nil {
			return ip, nil
		}
		lastErr = err
	}

	ip, err := r.lookupSystem(ctx, host)
	if err == nil {
		r.cache.Set(host, ip)
		return ip, nil
	}
	if lastErr != nil {
		err = fmt.Errorf("%w; 系统解析: %v", lastErr, err)
	}
	return "", fmt.Errorf("解析主机名%s失败: %w", host, err)
}

// exchange 依次向nameserver查询A记录
func (r *Resolver) exchange(ctx context.Context, host string) (string, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(host), dns.TypeA)
	req.RecursionDesired = true

	var lastErr error
	for _, server := range r.serverOrder() {
		resp, _, err := r.client.ExchangeContext(ctx, req, server)
		if err != nil {
			lastErr = fmt.Errorf("查询DNS服务器%s失败: %w", server, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("DNS服务器%s返回%s", server, dns.RcodeToString[resp.Rcode])
			continue
		}

		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				ip := a.A.String()
				r.cache.SetWithTTL(host, ip, time.Duration(a.Hdr.Ttl)*time.Second)
				return ip, nil
			}
		}
		lastErr = ErrNoAddress
	}
	return "", lastErr
}

// lookupSystem 使用系统解析器查询，只返回IPv4地址
func (r *Resolver) lookupSystem(ctx context.Context, host string) (string, error) {
	if r.lookup == nil {
		return "", ErrNoAddress
	}
	addrs, err := r.lookup(ctx, strings.TrimSuffix(host, "."))
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", ErrNoAddress
}

// ResolveOrFallback 解析失败时返回兜底地址
func (r *Resolver) ResolveOrFallback(ctx context.Context, host string) string {
	ip, err := r.Resolve(ctx, host)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("无法解析主机名，使用兜底地址",
				zap.String("host", host),
				zap.String("fallback", r.fallback),
				zap.Error(err))
		}
		return r.fallback
	}
	return ip
}

// serverOrder 随机选择起始服务器，其余服务器作为备份
func (r *Resolver) serverOrder() []string {
	if len(r.servers) <= 1 {
		return r.servers
	}
	start := rand.Intn(len(r.servers))
	order := make([]string, 0, len(r.servers))
	order = append(order, r.servers[start:]...)
	order = append(order, r.servers[:start]...)
	return order
}

func systemNameservers() []string {
	cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return nil
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return servers
}
