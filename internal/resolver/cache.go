package resolver

import (
	"strings"
	"sync"
	"time"
)

// Cache 主机名解析结果缓存
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	defaultTTL time.Duration
}

// cacheEntry 表示缓存中的一条记录
type cacheEntry struct {
	ip       string
	expireAt time.Time
}

// NewCache 创建新的解析缓存
func NewCache(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		defaultTTL: defaultTTL,
	}
}

// Get 从缓存获取解析结果
func (c *Cache) Get(host string) (string, bool) {
	key := cacheKey(host)

	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if !found {
		return "", false
	}
	if time.Now().After(entry.expireAt) {
		c.deleteExpired(key)
		return "", false
	}
	return entry.ip, true
}

// Set 使用默认TTL写入缓存
func (c *Cache) Set(host, ip string) {
	c.SetWithTTL(host, ip, c.defaultTTL)
}

// SetWithTTL 使用指定TTL写入缓存，TTL不超过默认值
func (c *Cache) SetWithTTL(host, ip string, ttl time.Duration) {
	if ip == "" || c.defaultTTL <= 0 {
		return
	}
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(host)] = &cacheEntry{
		ip:       ip,
		expireAt: time.Now().Add(ttl),
	}
}

// Len 返回缓存条目数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// deleteExpired 删除过期记录
func (c *Cache) deleteExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 再次检查是否过期（可能在获取锁的过程中已被更新）
	entry, found := c.entries[key]
	if found && time.Now().After(entry.expireAt) {
		delete(c.entries, key)
	}
}

func cacheKey(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
