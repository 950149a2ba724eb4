package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/any-hub/imgcache/internal/cachekey"
)

// Store 负责管理图片载荷的持久化读写。磁盘布局遵循：
//
//	<StoragePath>/<key[:2]>/<key>    # 帧头 + 原始载荷
//
// 实现必须支持并发调用；同一 key 的并发写入采用 last writer wins 语义。
type Store interface {
	// TryGet 返回未过期的条目及完整载荷。不存在或已过期时返回 ErrNotFound。
	TryGet(ctx context.Context, key cachekey.Key) (*Entry, []byte, error)

	// TryGetStream 返回可流式读取的条目，Reader 定位在载荷起始处，调用方负责 Close。
	TryGetStream(ctx context.Context, key cachekey.Key) (*ReadResult, error)

	// AddOrUpdate 写入载荷并记录过期时间 now+validity，覆盖旧条目。
	AddOrUpdate(ctx context.Context, key cachekey.Key, payload []byte, validity time.Duration) (*Entry, error)

	// Remove 删除条目，条目不存在时不报错。
	Remove(ctx context.Context, key cachekey.Key) error

	// BasePath 返回存储根位置，仅用于日志与诊断。
	BasePath() string

	// Close 释放后端资源。
	Close() error
}

// Entry 描述一个缓存条目的元信息。
type Entry struct {
	Key        cachekey.Key `json:"key"`
	FilePath   string       `json:"file_path"`
	SizeBytes  int64        `json:"size_bytes"`
	StoredAt   time.Time    `json:"stored_at"`
	ValidUntil time.Time    `json:"valid_until"`
}

// Expired 判断条目在 now 时刻是否已经过期（ValidUntil 当刻即视为过期）。
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ValidUntil)
}

// Validity 返回写入时使用的有效期。
func (e Entry) Validity() time.Duration {
	return e.ValidUntil.Sub(e.StoredAt)
}

// ReadResult 组合 Entry 与载荷 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在或已过期。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt 表示条目帧头损坏或长度不符。
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrInvalidKey 表示 key 不是合法的摘要。
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrInvalidValidity 表示有效期不是正数。
	ErrInvalidValidity = errors.New("validity must be positive")
)

// StoreError 携带失败的操作与 key，写入失败（磁盘满、权限不足等）统一以此返回。
type StoreError struct {
	Op  string
	Key cachekey.Key
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Option 调整 Store 的可选行为。
type Option func(*options)

type options struct {
	now            func() time.Time
	shardPrefixLen int
	dirPerm        os.FileMode
}

func defaultOptions() options {
	return options{
		now:            time.Now,
		shardPrefixLen: 2,
		dirPerm:        0o755,
	}
}

// WithClock 替换时钟，测试中用来模拟过期。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithShardPrefixLen 设置目录分片使用的前缀长度，0 表示不分片。
func WithShardPrefixLen(n int) Option {
	return func(o *options) {
		o.shardPrefixLen = n
	}
}

// WithDirPerm 设置创建缓存目录时使用的权限。
func WithDirPerm(mode os.FileMode) Option {
	return func(o *options) {
		o.dirPerm = mode
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// readSeekNopCloser 让内存中的载荷满足 io.ReadSeekCloser。
type readSeekNopCloser struct {
	io.ReadSeeker
}

func (readSeekNopCloser) Close() error { return nil }
