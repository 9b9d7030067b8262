package iceserver

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

const (
	DefaultCacheSize = 16
	minCacheTTL      = time.Second
)

type cacheEntry struct {
	servers   []types.ICEServer
	expiresAt time.Time
}

// Cache holds acquired ICE servers per endpoint and token. Entries expire
// with the ttl they were stored with, bounded by the cache ttl.
type Cache struct {
	lru *expirable.LRU[string, *cacheEntry]
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		lru: expirable.NewLRU[string, *cacheEntry](size, nil, max(ttl, minCacheTTL)),
	}
}

func cacheKey(endpoint, token string) string {
	return endpoint + "|" + token
}

func (c *Cache) Put(endpoint, token string, servers []types.ICEServer, ttl time.Duration) {
	c.lru.Add(cacheKey(endpoint, token), &cacheEntry{
		servers:   servers,
		expiresAt: time.Now().Add(ttl),
	})
}

// Get returns the cached servers and how long they remain valid.
func (c *Cache) Get(endpoint, token string) ([]types.ICEServer, time.Duration, bool) {
	key := cacheKey(endpoint, token)
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		c.lru.Remove(key)
		return nil, 0, false
	}
	return entry.servers, remaining, true
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
