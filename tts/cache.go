package tts

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCacheSize is the number of rendered replies kept in memory.
const DefaultCacheSize = 256

// Key returns the cache key for text spoken with voice.
func Key(voice, text string) string {
	d := xxhash.New()
	_, _ = d.WriteString(voice)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(text)
	return fmt.Sprintf("%016x", d.Sum64())
}

// Cache holds rendered phone audio until Twilio fetches it. The oldest
// entry is evicted once the cache is full.
type Cache struct {
	max int

	mu    sync.RWMutex
	items map[string][]byte
	order []string
}

// NewCache creates a Cache holding up to max entries.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:   max,
		items: make(map[string][]byte),
	}
}

// Get returns the audio stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[key]
	return data, ok
}

// Put stores audio under key.
func (c *Cache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.items[key] = data
		return
	}
	for len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = data
	c.order = append(c.order, key)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
