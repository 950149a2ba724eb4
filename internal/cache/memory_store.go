package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/any-hub/imgcache/internal/cachekey"
)

// memoryItem 是内存层保存的条目快照，载荷只读。
type memoryItem struct {
	entry   Entry
	payload []byte
}

// memoryStore 在任意 Store 之前加一层 ristretto 内存缓存。
// 内存条目的 TTL 等于剩余有效期，命中时仍按 ValidUntil 复核。
type memoryStore struct {
	inner Store
	cache *ristretto.Cache
	now   func() time.Time
}

// NewMemoryStore 包装 inner，maxCostBytes 为内存层可容纳的载荷总字节数。
// maxCostBytes<=0 时直接返回 inner。
func NewMemoryStore(inner Store, maxCostBytes int64, opts ...Option) (Store, error) {
	if inner == nil {
		return nil, errors.New("memory store requires an inner store")
	}
	if maxCostBytes <= 0 {
		return inner, nil
	}

	o := applyOptions(opts)

	// 按平均 4KB 估算条目数，计数器取条目数的 10 倍。
	counters := maxCostBytes / 4096 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        counters,
		MaxCost:            maxCostBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &memoryStore{inner: inner, cache: c, now: o.now}, nil
}

func (m *memoryStore) lookup(key cachekey.Key) (*memoryItem, bool) {
	v, ok := m.cache.Get(string(key))
	if !ok {
		return nil, false
	}
	item, _ := v.(*memoryItem)
	if item == nil {
		m.cache.Del(string(key))
		return nil, false
	}
	if item.entry.Expired(m.now()) {
		m.cache.Del(string(key))
		return nil, false
	}
	return item, true
}

func (m *memoryStore) remember(entry *Entry, payload []byte) {
	if entry == nil {
		return
	}
	ttl := entry.ValidUntil.Sub(m.now())
	if ttl <= 0 {
		return
	}
	cost := int64(len(payload))
	if cost == 0 {
		cost = 1
	}
	m.cache.SetWithTTL(string(entry.Key), &memoryItem{entry: *entry, payload: payload}, cost, ttl)
}

func (m *memoryStore) TryGet(ctx context.Context, key cachekey.Key) (*Entry, []byte, error) {
	if item, ok := m.lookup(key); ok {
		entry := item.entry
		return &entry, item.payload, nil
	}
	entry, payload, err := m.inner.TryGet(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	m.remember(entry, payload)
	return entry, payload, nil
}

func (m *memoryStore) TryGetStream(ctx context.Context, key cachekey.Key) (*ReadResult, error) {
	if item, ok := m.lookup(key); ok {
		return &ReadResult{
			Entry:  item.entry,
			Reader: readSeekNopCloser{bytes.NewReader(item.payload)},
		}, nil
	}
	return m.inner.TryGetStream(ctx, key)
}

func (m *memoryStore) AddOrUpdate(ctx context.Context, key cachekey.Key, payload []byte, validity time.Duration) (*Entry, error) {
	// 先让旧值失效，写入失败时不会继续命中旧载荷。
	m.cache.Del(string(key))
	entry, err := m.inner.AddOrUpdate(ctx, key, payload, validity)
	if err != nil {
		return nil, err
	}
	m.remember(entry, payload)
	return entry, nil
}

func (m *memoryStore) Remove(ctx context.Context, key cachekey.Key) error {
	m.cache.Del(string(key))
	return m.inner.Remove(ctx, key)
}

func (m *memoryStore) BasePath() string {
	return m.inner.BasePath()
}

func (m *memoryStore) Close() error {
	m.cache.Close()
	return m.inner.Close()
}

// Sweep 转交给底层存储；内存条目依赖 TTL 自行淘汰。
func (m *memoryStore) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	sw, ok := m.inner.(Sweeper)
	if !ok {
		return SweepStats{}, nil
	}
	return sw.Sweep(ctx, now)
}

// wait 等待异步写入落入内存层，测试使用。
func (m *memoryStore) wait() {
	m.cache.Wait()
}
