// Package loader 是面向调用方的加载入口：按槽位管理任务、选择获取路径并保证回调契约。
package loader

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/fetch"
	"github.com/any-hub/imgcache/internal/fetchcache"
	"github.com/any-hub/imgcache/internal/retry"
	"github.com/any-hub/imgcache/internal/tasks"
)

// Result 是一次成功加载的结果。Payload 只读。
type Result struct {
	Identifier string `json:"identifier"`
	Path       string `json:"path,omitempty"`
	Size       int    `json:"size"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format,omitempty"`
	FromCache  bool   `json:"from_cache"`
	Payload    []byte `json:"-"`
}

// Options 构建 Loader 所需的依赖。
type Options struct {
	Cache  *fetchcache.Cache
	Local  fetch.Fetcher
	Retry  retry.Policy
	Logger logrus.FieldLogger
}

// Loader 串联槽位注册表、获取缓存与本地获取器。
type Loader struct {
	cache    *fetchcache.Cache
	local    fetch.Fetcher
	retry    retry.Policy
	logger   logrus.FieldLogger
	registry *tasks.Registry[string]
}

// New 创建 Loader，Cache 必填；Local 为空时文件与资源来源直接失败。
func New(opts Options) (*Loader, error) {
	if opts.Cache == nil {
		return nil, errors.New("loader: fetch cache is required")
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Loader{
		cache:    opts.Cache,
		local:    opts.Local,
		retry:    opts.Retry,
		logger:   logger,
		registry: tasks.NewRegistry[string](),
	}, nil
}

// Slots 返回当前仍有活动任务的槽位数量。
func (l *Loader) Slots() int {
	return l.registry.Len()
}

// Current 返回槽位当前的任务句柄。
func (l *Loader) Current(slot string) (*tasks.Handle, bool) {
	return l.registry.Current(slot)
}

// Load 异步执行 req 并返回任务句柄。slot 非空时新任务替代该槽位上的旧任务，
// 旧任务收到 ErrSuperseded。成功/失败回调恰好触发一个，结束回调总是触发一次，
// 之后句柄的 Done 关闭。
func (l *Loader) Load(ctx context.Context, slot string, req Request) *tasks.Handle {
	h, hctx := tasks.NewHandle(ctx)
	if !req.valid() {
		// 零值 Request 未经 NewRequest 校验
		go l.finish(slot, h, req, Result{}, ErrInvalidRequest)
		return h
	}

	if slot != "" {
		if prev := l.registry.Attach(slot, h); prev != nil && prev != h {
			prev.CancelWithCause(ErrSuperseded)
			l.logger.WithFields(logrus.Fields{
				"action":    "load_superseded",
				"slot":      slot,
				"task":      prev.ID(),
				"successor": h.ID(),
			}).Debug("cancel superseded load")
		}
	}

	go func() {
		res, err := l.load(hctx, req)
		if errors.Is(context.Cause(hctx), ErrSuperseded) {
			res, err = Result{}, ErrSuperseded
		}
		l.finish(slot, h, req, res, err)
	}()
	return h
}

func (l *Loader) finish(slot string, h *tasks.Handle, req Request, res Result, err error) {
	if slot != "" {
		l.registry.Detach(slot, h)
	}
	defer h.Finish()
	defer func() {
		if req.onFinish != nil {
			req.onFinish()
		}
	}()

	if err != nil {
		if req.onError != nil {
			req.onError(err)
		}
		return
	}
	req.onSuccess(res)
}

func (l *Loader) load(ctx context.Context, req Request) (Result, error) {
	id := req.source.identifier()
	res := Result{Identifier: id}

	switch req.source.Kind {
	case KindURL:
		opts := []fetchcache.GetOption{fetchcache.WithValidity(req.validity)}
		if p, ok := req.Retry(); ok {
			opts = append(opts, fetchcache.WithRetry(p))
		}
		got, err := l.cache.Get(ctx, id, opts...)
		if err != nil {
			return Result{}, err
		}
		res.Path = got.Path
		res.Payload = got.Payload
		res.FromCache = got.FromCache
	default:
		payload, err := l.fetchLocal(ctx, req, id)
		if err != nil {
			return Result{}, err
		}
		if req.source.Kind == KindFile {
			res.Path = req.source.Identifier
		}
		res.Payload = payload
	}

	res.Size = len(res.Payload)
	res.Width, res.Height, res.Format = dimensions(res.Payload)
	return res, nil
}

// fetchLocal 读取本地文件或内置资源，内容已在本地，不再写入缓存。
func (l *Loader) fetchLocal(ctx context.Context, req Request, id string) ([]byte, error) {
	if l.local == nil {
		return nil, retry.Permanent(fetch.ErrUnsupportedSource)
	}
	policy := l.retry
	if p, ok := req.Retry(); ok {
		policy = p
	}
	return retry.Do(ctx, policy, func(ctx context.Context, n int) ([]byte, error) {
		return l.local.Fetch(ctx, id)
	}, func(n int, err error, wait time.Duration) {
		l.logger.WithFields(logrus.Fields{
			"action":     "local_retry",
			"identifier": id,
			"attempt":    n,
			"wait":       wait.String(),
		}).WithError(err).Warn("local read failed")
	})
}

// dimensions 只解析图片头部，无法识别时返回 0。
func dimensions(payload []byte) (int, int, string) {
	if len(payload) == 0 {
		return 0, 0, ""
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return 0, 0, ""
	}
	return cfg.Width, cfg.Height, format
}
