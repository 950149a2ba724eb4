package cache

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/any-hub/imgcache/internal/cachekey"
)

// ErrNilRedisClient 表示未提供 Redis 客户端。
var ErrNilRedisClient = errors.New("redis store: nil client")

// redisStore 以与磁盘相同的帧格式把条目存入 Redis，TTL 即有效期。
// 该实例独占 client，Close 时一并关闭。
type redisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore 创建 Redis 后端，键名为 <prefix>:<key>。
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilRedisClient
	}
	if prefix == "" {
		prefix = "imgcache"
	}
	o := applyOptions(opts)
	return &redisStore{rdb: client, prefix: prefix, now: o.now}, nil
}

func (r *redisStore) redisKey(key cachekey.Key) string {
	return r.prefix + ":" + string(key)
}

func (r *redisStore) TryGet(ctx context.Context, key cachekey.Key) (*Entry, []byte, error) {
	if !key.Valid() {
		return nil, nil, &StoreError{Op: "read", Key: key, Err: ErrInvalidKey}
	}
	raw, err := r.rdb.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, &StoreError{Op: "read", Key: key, Err: err}
	}

	meta, payload, err := decodeFrame(raw)
	if err != nil || meta.Key != string(key) {
		return nil, nil, &StoreError{Op: "read", Key: key, Err: ErrCorrupt}
	}
	entry := meta.entry(r.BasePath() + "/" + string(key))
	if entry.Expired(r.now()) {
		return nil, nil, ErrNotFound
	}
	return &entry, payload, nil
}

func (r *redisStore) TryGetStream(ctx context.Context, key cachekey.Key) (*ReadResult, error) {
	entry, payload, err := r.TryGet(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ReadResult{
		Entry:  *entry,
		Reader: readSeekNopCloser{bytes.NewReader(payload)},
	}, nil
}

func (r *redisStore) AddOrUpdate(ctx context.Context, key cachekey.Key, payload []byte, validity time.Duration) (*Entry, error) {
	if !key.Valid() {
		return nil, &StoreError{Op: "write", Key: key, Err: ErrInvalidKey}
	}
	if validity <= 0 {
		return nil, &StoreError{Op: "write", Key: key, Err: ErrInvalidValidity}
	}

	now := r.now().UTC()
	meta := entryMeta{
		Key:        string(key),
		StoredAt:   now,
		ValidUntil: now.Add(validity),
		Size:       int64(len(payload)),
	}
	frame, err := encodeFrame(meta, payload)
	if err != nil {
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}
	if err := r.rdb.Set(ctx, r.redisKey(key), frame, validity).Err(); err != nil {
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}
	entry := meta.entry(r.BasePath() + "/" + string(key))
	return &entry, nil
}

func (r *redisStore) Remove(ctx context.Context, key cachekey.Key) error {
	if err := r.rdb.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (r *redisStore) BasePath() string {
	return "redis://" + r.prefix
}

func (r *redisStore) Close() error {
	if err := r.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
