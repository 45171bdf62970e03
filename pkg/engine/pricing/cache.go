package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PriceRecord is one cached unit rate.
type PriceRecord struct {
	Price     float64 `json:"price"`
	Unit      string  `json:"unit"`
	Currency  string  `json:"currency"`
	Timestamp int64   `json:"timestamp"`
}

// Cache is a JSON file backed rate cache. Expired records are kept so they can
// serve as last-known rates.
type Cache struct {
	mu      sync.RWMutex
	path    string
	ttl     time.Duration
	records map[string]PriceRecord
	dirty   bool
	now     func() time.Time
}

// Key builds the cache key for an exact rate.
func Key(provider, sku, region, pricingModel string) string {
	return strings.Join([]string{provider, sku, region, pricingModel}, "|")
}

// NewCache loads path if it exists. An empty path keeps the cache in memory.
func NewCache(path string, ttl time.Duration) *Cache {
	c := &Cache{
		path:    path,
		ttl:     ttl,
		records: make(map[string]PriceRecord),
		now:     time.Now,
	}
	c.load()
	return c
}

func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err == nil {
		json.Unmarshal(data, &c.records)
	}
}

// Lookup returns the record for key and whether it is still within the TTL.
func (c *Cache) Lookup(key string) (rec PriceRecord, fresh bool, found bool) {
	c.mu.RLock()
	rec, found = c.records[key]
	c.mu.RUnlock()
	if !found {
		return rec, false, false
	}
	age := c.now().Sub(time.Unix(rec.Timestamp, 0))
	return rec, c.ttl <= 0 || age < c.ttl, true
}

// Put records a freshly fetched rate.
func (c *Cache) Put(key string, rec PriceRecord) {
	if rec.Timestamp == 0 {
		rec.Timestamp = c.now().Unix()
	}
	c.mu.Lock()
	c.records[key] = rec
	c.dirty = true
	c.mu.Unlock()
}

// Len reports the number of records, fresh or expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Save persists the cache if anything changed since the last save.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" || !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pricing cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create pricing cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pricing cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace pricing cache: %w", err)
	}
	c.dirty = false
	return nil
}
