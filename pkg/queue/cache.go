package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/kunal/llm-gateway/pkg/usage"
)

// cacheEntry is one cached response, bounded by ttl (spec's
// supplemented response-cache feature — see SPEC_FULL.md §"response
// cache"). Content-addressed on the normalized message list and the
// resolved model name, since the same prompt routed to a different
// model is a different answer.
type cacheEntry struct {
	result    Result
	modelUsed string
	expiresAt time.Time
}

// responseCache is a small in-memory cache keyed by a SHA-256 digest
// of (agent_kind, messages, resolved model). It never caches across a
// model swap and is never consulted for requests with temperature
// above the near-deterministic threshold, since a cached answer for a
// high-temperature request would silently collapse sampling variance.
type responseCache struct {
	mu  sync.Mutex
	m   map[string]cacheEntry
	ttl time.Duration
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{m: make(map[string]cacheEntry), ttl: ttl}
}

// cacheKey hashes the agent kind, candidate model, and message content.
// It never hashes raw content into logs — only into this in-memory key,
// which is not persisted or exposed outside the process.
func cacheKey(agentKind, model string, messages []usage.Message) string {
	h := sha256.New()
	h.Write([]byte(agentKind))
	h.Write([]byte{0})
	h.Write([]byte(model))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *responseCache) get(key string) (Result, string, bool) {
	if c.ttl <= 0 {
		return Result{}, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Now().After(e.expiresAt) {
		return Result{}, "", false
	}
	return e.result, e.modelUsed, true
}

func (c *responseCache) put(key string, result Result, modelUsed string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cacheEntry{result: result, modelUsed: modelUsed, expiresAt: time.Now().Add(c.ttl)}
}

// sweep drops expired entries, called alongside the result store sweep.
func (c *responseCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.m {
		if now.After(e.expiresAt) {
			delete(c.m, k)
			removed++
		}
	}
	return removed
}
