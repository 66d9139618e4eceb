// Package registry 实现与Eureka注册中心交互的HTTP客户端。
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// 响应体最多读取的字节数，仅用于错误信息
const maxErrorBody = 4 << 10

// AddressResolver 将主机名解析为IP
type AddressResolver interface {
	ResolveOrFallback(ctx context.Context, host string) string
}

// Client Eureka注册中心客户端
type Client struct {
	servers       []string
	breakers      []*gobreaker.CircuitBreaker
	httpClient    *http.Client
	resolver      AddressResolver
	renewal       time.Duration
	leaseDuration time.Duration
	logger        config.Logger
	next          atomic.Uint32
}

// response 注册中心响应
type response struct {
	url        string
	statusCode int
	body       string
}

// NewClient 创建注册中心客户端，renewal为心跳间隔，写入注册报文的leaseInfo
func NewClient(cfg config.RegistryConfig, renewal time.Duration, resolver AddressResolver, logger config.Logger) (*Client, error) {
	if len(cfg.URLs) == 0 {
		return nil, ErrNoServers
	}

	servers := make([]string, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("无效的注册中心地址 %q", raw)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		servers = append(servers, u.String())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = 90 * time.Second
	}

	c := &Client{
		servers:       servers,
		breakers:      make([]*gobreaker.CircuitBreaker, len(servers)),
		httpClient:    &http.Client{Timeout: timeout},
		resolver:      resolver,
		renewal:       renewal,
		leaseDuration: leaseDuration,
		logger:        logger,
	}

	if cfg.Breaker.Enabled {
		maxFailures := cfg.Breaker.MaxFailures
		if maxFailures == 0 {
			maxFailures = 5
		}
		for i, server := range servers {
			c.breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        server,
				MaxRequests: 1,
				Timeout:     cfg.Breaker.OpenTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= maxFailures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logger.Warn("注册中心熔断状态变化",
						zap.String("server", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
			})
		}
	}

	return c, nil
}

// Servers 返回注册中心地址列表
func (c *Client) Servers() []string {
	return append([]string(nil), c.servers...)
}

// Register 注册实例，注册中心返回204时视为成功
func (c *Client) Register(ctx context.Context, inst *model.Instance) error {
	ip := inst.IPAddr
	if ip == "" {
		ip = c.resolveIP(ctx, inst.HostName)
	}

	body, err := buildPayload(inst, ip, c.renewal, c.leaseDuration)
	if err != nil {
		return err
	}

	c.logger.Debug("发送注册请求",
		zap.String("app", inst.AppName()),
		zap.String("instance", inst.InstanceID()),
		zap.String("ip", ip),
		zap.Bool("ssl", inst.SSLPreferred),
		zap.ByteString("payload", body))

	resp, err := c.doRequest(ctx, http.MethodPost, inst.AppName(), body)
	if err != nil {
		return fmt.Errorf("注册实例失败: %w", err)
	}
	if resp.statusCode != http.StatusNoContent {
		return &StatusError{Op: "register", URL: resp.url, StatusCode: resp.statusCode, Body: resp.body}
	}
	return nil
}

// Heartbeat 续约实例，404时返回ErrInstanceNotFound
func (c *Client) Heartbeat(ctx context.Context, inst *model.Instance) error {
	resp, err := c.doRequest(ctx, http.MethodPut, instancePath(inst), nil)
	if err != nil {
		return fmt.Errorf("发送心跳失败: %w", err)
	}
	switch resp.statusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, inst.InstanceID())
	default:
		return &StatusError{Op: "heartbeat", URL: resp.url, StatusCode: resp.statusCode, Body: resp.body}
	}
}

// Deregister 注销实例，不做重试
func (c *Client) Deregister(ctx context.Context, inst *model.Instance) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, instancePath(inst), nil)
	if err != nil {
		return fmt.Errorf("注销实例失败: %w", err)
	}
	switch resp.statusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	default:
		return &StatusError{Op: "deregister", URL: resp.url, StatusCode: resp.statusCode, Body: resp.body}
	}
}

// doRequest 依次尝试各注册中心，网络错误、5xx或熔断时切换到下一个
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*response, error) {
	start := int(c.next.Add(1)-1) % len(c.servers)

	var lastErr error
	for i := 0; i < len(c.servers); i++ {
		idx := (start + i) % len(c.servers)
		target := c.servers[idx] + path

		resp, err := c.execute(ctx, idx, method, target, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Debug("注册中心请求失败，尝试下一个地址",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err))
	}

	return nil, lastErr
}

// execute 通过熔断器发送一次请求
func (c *Client) execute(ctx context.Context, idx int, method, target string, body []byte) (*response, error) {
	breaker := c.breakers[idx]
	if breaker == nil {
		return c.send(ctx, method, target, body)
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, method, target, body)
	})
	if err != nil {
		return nil, err
	}
	return result.(*response), nil
}

// send 发送HTTP请求，5xx作为错误返回以便计入熔断统计
func (c *Client) send(ctx context.Context, method, target string, body []byte) (*response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	r := &response{url: target, statusCode: resp.StatusCode, body: strings.TrimSpace(string(respBody))}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &StatusError{Op: strings.ToLower(method), URL: target, StatusCode: resp.StatusCode, Body: r.body}
	}
	return r, nil
}

func (c *Client) resolveIP(ctx context.Context, host string) string {
	if c.resolver != nil {
		return c.resolver.ResolveOrFallback(ctx, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return "127.0.0.1"
}

func instancePath(inst *model.Instance) string {
	return inst.AppName() + "/" + url.PathEscape(inst.InstanceID())
}

// IsBreakerOpen 判断错误是否由熔断器拒绝导致
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
