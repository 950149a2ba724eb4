package fetchcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/cachekey"
	"github.com/any-hub/imgcache/internal/fetch"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/retry"
)

// Options 构建 Cache 所需的依赖。
type Options struct {
	Store    cache.Store
	Fetcher  fetch.Fetcher
	Logger   logrus.FieldLogger
	Retry    retry.Policy
	Validity cache.ValidityPolicy
}

// Result 是一次 Get 的结果。Payload 在多个请求者间共享，只读。
type Result struct {
	Key       cachekey.Key
	Path      string
	Payload   []byte
	FromCache bool
	Entry     *cache.Entry
}

// FetchError 表示获取（含全部重试）失败，合并的请求者收到同一个错误。
type FetchError struct {
	Identifier string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// GetOption 调整单次请求的有效期与重试策略。
type GetOption func(*getOptions)

type getOptions struct {
	validity time.Duration
	retry    *retry.Policy
}

// WithValidity 指定写入缓存时的有效期，<=0 时使用默认值。
func WithValidity(d time.Duration) GetOption {
	return func(o *getOptions) {
		o.validity = d
	}
}

// WithRetry 覆盖默认重试策略。仅对发起获取的请求生效，合并进来的请求沿用已在进行的获取。
func WithRetry(p retry.Policy) GetOption {
	return func(o *getOptions) {
		o.retry = &p
	}
}

// Cache 是获取缓存的编排器，整个进程复用一份实例。
type Cache struct {
	store    cache.Store
	fetcher  fetch.Fetcher
	logger   logrus.FieldLogger
	retry    retry.Policy
	validity cache.ValidityPolicy
	inflight *inflightTable
}

// New 校验依赖并创建 Cache。
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("fetchcache: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetchcache: fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	validity := opts.Validity
	if validity.Default <= 0 {
		validity.Default = cache.DefaultValidity
	}
	if validity.Empty <= 0 {
		validity.Empty = cache.DefaultEmptyValidity
	}
	return &Cache{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		logger:   logger,
		retry:    opts.Retry,
		validity: validity,
		inflight: newInflightTable(),
	}, nil
}

// Store 返回底层存储。
func (c *Cache) Store() cache.Store {
	return c.store
}

// Get 返回 identifier 对应的新鲜载荷：命中缓存直接返回，否则加入或发起唯一的一次获取。
// ctx 结束时立即返回 ctx.Err()；只有最后一个等待者离开时才会取消共享的获取。
func (c *Cache) Get(ctx context.Context, identifier string, opts ...GetOption) (*Result, error) {
	o := getOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	key := cachekey.Of(identifier)

	res, err := c.lookup(ctx, identifier, key)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	cl, leader := c.inflight.join(ctx, key)
	if leader {
		go c.run(cl, identifier, key, o)
	} else {
		c.logger.WithFields(logging.FetchFields("fetch_coalesced", identifier, key, false)).Debug("join in-flight fetch")
	}
	return c.inflight.wait(ctx, key, cl)
}

// GetStream 与 Get 语义一致，命中磁盘时直接流式返回文件内容。
func (c *Cache) GetStream(ctx context.Context, identifier string, opts ...GetOption) (io.ReadCloser, error) {
	key := cachekey.Of(identifier)
	result, err := c.store.TryGetStream(ctx, key)
	if err == nil {
		return result.Reader, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, cache.ErrNotFound) {
		c.logger.WithFields(logging.FetchFields("cache_get_failed", identifier, key, false)).
			WithError(err).Warn("cache read failed, treating as miss")
	}

	res, err := c.Get(ctx, identifier, opts...)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(res.Payload)), nil
}

// Invalidate 删除 identifier 的缓存条目，条目不存在时不报错。
func (c *Cache) Invalidate(ctx context.Context, identifier string) error {
	key := cachekey.Of(identifier)
	if err := c.store.Remove(ctx, key); err != nil {
		return err
	}
	c.logger.WithFields(logging.FetchFields("cache_invalidate", identifier, key, false)).Info("cache entry removed")
	return nil
}

// InFlight 返回当前正在进行的获取数量。
func (c *Cache) InFlight() int {
	return c.inflight.len()
}

// lookup 读取缓存。读取失败记录日志后按未命中处理；仅 ctx 结束时返回错误。
func (c *Cache) lookup(ctx context.Context, identifier string, key cachekey.Key) (*Result, error) {
	entry, payload, err := c.store.TryGet(ctx, key)
	if err == nil {
		c.logger.WithFields(logging.FetchFields("cache_hit", identifier, key, true)).Debug("serve from cache")
		return &Result{Key: key, Path: entry.FilePath, Payload: payload, FromCache: true, Entry: entry}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, cache.ErrNotFound) {
		c.logger.WithFields(logging.FetchFields("cache_get_failed", identifier, key, false)).
			WithError(err).Warn("cache read failed, treating as miss")
	}
	return nil, nil
}

// run 在独立 goroutine 中执行获取，结果广播给所有等待者。
func (c *Cache) run(cl *call, identifier string, key cachekey.Key, o getOptions) {
	defer c.inflight.complete(key, cl)
	ctx := cl.ctx

	// 占到槽位后再查一次，避免重复获取刚刚完成的条目。
	if res, err := c.lookup(ctx, identifier, key); err != nil {
		cl.err = err
		return
	} else if res != nil {
		cl.result = res
		return
	}

	policy := c.retry
	if o.retry != nil {
		policy = *o.retry
	}

	start := time.Now()
	payload, err := retry.Do(ctx, policy, func(ctx context.Context, n int) ([]byte, error) {
		return c.fetcher.Fetch(ctx, identifier)
	}, func(n int, err error, wait time.Duration) {
		c.logger.WithFields(logging.FetchFields("fetch_retry", identifier, key, false)).
			WithFields(logrus.Fields{"attempt": n, "wait": wait.String()}).
			WithError(err).Warn("fetch attempt failed")
	})
	if err != nil {
		c.logger.WithFields(logging.FetchFields("fetch_failed", identifier, key, false)).
			WithError(err).Error("fetch failed")
		cl.err = &FetchError{Identifier: identifier, Err: err}
		return
	}
	if payload == nil {
		payload = []byte{}
	}

	validity := c.validity.Resolve(o.validity, len(payload))
	res := &Result{Key: key, Payload: payload}
	entry, werr := c.store.AddOrUpdate(ctx, key, payload, validity)
	if werr != nil {
		c.logger.WithFields(logging.FetchFields("cache_write_failed", identifier, key, false)).
			WithError(werr).Warn("cache write failed, serving fetched bytes")
	} else {
		res.Path = entry.FilePath
		res.Entry = entry
	}

	c.logger.WithFields(logging.FetchFields("fetch_done", identifier, key, false)).
		WithFields(logrus.Fields{
			"size":     len(payload),
			"validity": validity.String(),
			"elapsed":  time.Since(start).String(),
		}).Info("fetched")
	cl.result = res
}
