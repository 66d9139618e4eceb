package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultRequestTimeout = 5 * time.Second

// Config etcd连接参数
type Config struct {
	Endpoints      []string
	Username       string
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Prefix         string
}

// Client 封装了etcd客户端
type Client struct {
	client *clientv3.Client
	cfg    Config
}

// NewClient 创建etcd客户端并检查连通性
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd地址不能为空")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.Prefix = normalizePrefix(cfg.Prefix)

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd连接测试失败: %w", err)
	}

	return &Client{client: client, cfg: cfg}, nil
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		prefix = "/eureka-sidecar/instances/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Close 关闭etcd客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}

// Key 返回实例的完整存储键
func (c *Client) Key(id string) string {
	return c.cfg.Prefix + id
}

// Prefix 返回实例键前缀
func (c *Client) Prefix() string {
	return c.cfg.Prefix
}

// Get 获取键值，键不存在时返回nil
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd获取键值失败 [%s]: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// GetWithPrefix 获取指定前缀的所有值
func (c *Client) GetWithPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd获取前缀键值失败 [%s]: %w", prefix, err)
	}

	result := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result = append(result, kv.Value)
	}
	return result, nil
}

// Put 设置键值
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if _, err := c.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("etcd设置键值失败 [%s]: %w", key, err)
	}
	return nil
}

// Delete 删除键值，返回删除的数量
func (c *Client) Delete(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.client.Delete(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("etcd删除键值失败 [%s]: %w", key, err)
	}
	return resp.Deleted, nil
}
