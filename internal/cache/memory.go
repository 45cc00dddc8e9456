package cache

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Service backed by go-cache. It is used by
// single-machine runs and by tests.
type Memory struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
}

type memoryCache struct {
	mu      sync.RWMutex // write-locked by every mutation so Invoke is atomic
	store   *gocache.Cache
	indexes map[Extractor]map[string]map[string]struct{} // extractor -> value -> keys
}

// NewMemory creates an empty in-process Service.
func NewMemory() *Memory {
	return &Memory{caches: make(map[string]*memoryCache)}
}

func (m *Memory) cache(name string) *memoryCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[name]
	if !ok {
		c = &memoryCache{
			store:   gocache.New(gocache.NoExpiration, 0),
			indexes: make(map[Extractor]map[string]map[string]struct{}),
		}
		m.caches[name] = c
	}
	return c
}

func (c *memoryCache) get(key string) ([]byte, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// put and remove require the write lock.
func (c *memoryCache) put(key string, value []byte) {
	if old, ok := c.get(key); ok {
		c.unindex(key, old)
	}
	stored := append([]byte(nil), value...)
	c.store.Set(key, stored, gocache.NoExpiration)
	c.index(key, stored)
}

func (c *memoryCache) remove(key string) {
	if old, ok := c.get(key); ok {
		c.unindex(key, old)
		c.store.Delete(key)
	}
}

func (c *memoryCache) index(key string, value []byte) {
	for e, byValue := range c.indexes {
		v, ok := e.Extract(value)
		if !ok {
			continue
		}
		keys, ok := byValue[v]
		if !ok {
			keys = make(map[string]struct{})
			byValue[v] = keys
		}
		keys[key] = struct{}{}
	}
}

func (c *memoryCache) unindex(key string, value []byte) {
	for e, byValue := range c.indexes {
		v, ok := e.Extract(value)
		if !ok {
			continue
		}
		delete(byValue[v], key)
		if len(byValue[v]) == 0 {
			delete(byValue, v)
		}
	}
}

func (m *Memory) Get(ctx context.Context, cache, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c := m.cache(cache)
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.get(key)
	return v, ok, nil
}

func (m *Memory) GetAll(ctx context.Context, cache string, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := m.cache(cache)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := c.get(key); ok {
			out[key] = v
		}
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, cache, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value)
	return nil
}

func (m *Memory) PutAll(ctx context.Context, cache string, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range entries {
		c.put(key, value)
	}
	return nil
}

func (m *Memory) Remove(ctx context.Context, cache, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
	return nil
}

func (m *Memory) Clear(ctx context.Context, cache string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
	for e := range c.indexes {
		c.indexes[e] = make(map[string]map[string]struct{})
	}
	return nil
}

func (m *Memory) Invoke(ctx context.Context, cache, key string, p Processor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.get(key)
	entry := &Entry{Key: key, Value: value, Present: ok}
	result, err := p.Process(entry)
	if err != nil {
		return nil, err
	}
	switch {
	case entry.removed:
		c.remove(key)
	case entry.dirty:
		c.put(key, entry.Value)
	}
	return result, nil
}

func (m *Memory) Query(ctx context.Context, cache string, f Filter) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := m.cache(cache)
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]byte)
	if byValue, ok := c.indexes[f.Extractor]; ok && f.Extractor != "" {
		for key := range byValue[f.Value] {
			if v, ok := c.get(key); ok {
				out[key] = v
			}
		}
		return out, nil
	}
	for key, item := range c.store.Items() {
		value := item.Object.([]byte)
		if f.Matches(value) {
			out[key] = value
		}
	}
	return out, nil
}

func (m *Memory) Aggregate(ctx context.Context, cache string, f Filter, a Aggregator) (interface{}, error) {
	entries, err := m.Query(ctx, cache, f)
	if err != nil {
		return nil, err
	}
	return a.Aggregate(entries)
}

func (m *Memory) AddIndex(ctx context.Context, cache string, e Extractor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[e]; ok {
		return nil
	}
	byValue := make(map[string]map[string]struct{})
	c.indexes[e] = byValue
	for key, item := range c.store.Items() {
		if v, ok := e.Extract(item.Object.([]byte)); ok {
			keys, ok := byValue[v]
			if !ok {
				keys = make(map[string]struct{})
				byValue[v] = keys
			}
			keys[key] = struct{}{}
		}
	}
	return nil
}

func (m *Memory) RemoveIndex(ctx context.Context, cache string, e Extractor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache(cache)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, e)
	return nil
}

// Indexed reports whether cache has an index on e.
func (m *Memory) Indexed(cache string, e Extractor) bool {
	c := m.cache(cache)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.indexes[e]
	return ok
}

func (m *Memory) Close() error { return nil }
