package loader

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/any-hub/imgcache/internal/retry"
)

var (
	// ErrInvalidRequest 表示请求参数不合法，在构建阶段即失败。
	ErrInvalidRequest = errors.New("invalid load request")
	// ErrSuperseded 表示同一槽位上有更新的加载替代了本次加载。
	ErrSuperseded = errors.New("load superseded")
)

// Kind 表示来源类型。
type Kind int

const (
	KindURL Kind = iota + 1
	KindFile
	KindAsset
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindFile:
		return "file"
	case KindAsset:
		return "asset"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind 把 url/file/asset 转为 Kind，空字符串视为 url。
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "url":
		return KindURL, nil
	case "file":
		return KindFile, nil
	case "asset":
		return KindAsset, nil
	}
	return 0, fmt.Errorf("%w: unknown source kind %q", ErrInvalidRequest, s)
}

// Source 描述载荷来源。
type Source struct {
	Kind       Kind
	Identifier string
}

// URL 返回远程来源。
func URL(u string) Source { return Source{Kind: KindURL, Identifier: u} }

// File 返回本地文件来源。
func File(path string) Source { return Source{Kind: KindFile, Identifier: path} }

// Asset 返回内置资源来源。
func Asset(name string) Source { return Source{Kind: KindAsset, Identifier: name} }

// identifier 返回交给获取器的规范化标识符。
func (s Source) identifier() string {
	switch s.Kind {
	case KindAsset:
		if strings.HasPrefix(s.Identifier, "asset://") {
			return s.Identifier
		}
		return "asset://" + strings.TrimPrefix(s.Identifier, "/")
	case KindFile:
		if strings.HasPrefix(s.Identifier, "file://") || strings.HasPrefix(s.Identifier, "/") {
			return s.Identifier
		}
		// 相对路径
		return "file://" + s.Identifier
	default:
		return s.Identifier
	}
}

func (s Source) validate() error {
	if strings.TrimSpace(s.Identifier) == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidRequest)
	}
	switch s.Kind {
	case KindURL:
		lower := strings.ToLower(s.Identifier)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("%w: url source must be http(s): %q", ErrInvalidRequest, s.Identifier)
		}
	case KindFile, KindAsset:
	default:
		return fmt.Errorf("%w: unknown source kind %d", ErrInvalidRequest, int(s.Kind))
	}
	return nil
}

// Request 是校验过的不可变加载请求，通过 NewRequest 构建。
type Request struct {
	source    Source
	validity  time.Duration
	retry     *retry.Policy
	onSuccess func(Result)
	onError   func(error)
	onFinish  func()
}

// RequestOption 设置 Request 的可选字段。
type RequestOption func(*Request) error

// WithValidity 覆盖缓存有效期，0 表示使用默认值。
func WithValidity(d time.Duration) RequestOption {
	return func(r *Request) error {
		if d < 0 {
			return fmt.Errorf("%w: negative validity %s", ErrInvalidRequest, d)
		}
		r.validity = d
		return nil
	}
}

// WithRetry 覆盖重试次数与间隔。
func WithRetry(maxRetries int, delay time.Duration) RequestOption {
	return func(r *Request) error {
		if maxRetries < 0 || delay < 0 {
			return fmt.Errorf("%w: negative retry settings (%d, %s)", ErrInvalidRequest, maxRetries, delay)
		}
		r.retry = &retry.Policy{MaxRetries: maxRetries, Delay: delay}
		return nil
	}
}

// WithOnSuccess 设置成功回调。
func WithOnSuccess(fn func(Result)) RequestOption {
	return func(r *Request) error {
		if fn == nil {
			return fmt.Errorf("%w: nil success callback", ErrInvalidRequest)
		}
		r.onSuccess = fn
		return nil
	}
}

// WithOnError 设置失败回调。
func WithOnError(fn func(error)) RequestOption {
	return func(r *Request) error {
		if fn == nil {
			return fmt.Errorf("%w: nil error callback", ErrInvalidRequest)
		}
		r.onError = fn
		return nil
	}
}

// WithOnFinish 设置结束回调，无论成功与否都只触发一次。
func WithOnFinish(fn func()) RequestOption {
	return func(r *Request) error {
		if fn == nil {
			return fmt.Errorf("%w: nil finish callback", ErrInvalidRequest)
		}
		r.onFinish = fn
		return nil
	}
}

// NewRequest 校验来源与选项并返回请求，未设置的回调默认为空操作。
func NewRequest(source Source, opts ...RequestOption) (Request, error) {
	if err := source.validate(); err != nil {
		return Request{}, err
	}
	req := Request{
		source:    source,
		onSuccess: func(Result) {},
		onError:   func(error) {},
		onFinish:  func() {},
	}
	for _, opt := range opts {
		if opt == nil {
			return Request{}, fmt.Errorf("%w: nil option", ErrInvalidRequest)
		}
		if err := opt(&req); err != nil {
			return Request{}, err
		}
	}
	return req, nil
}

// MustRequest 与 NewRequest 相同，参数不合法时 panic。
func MustRequest(source Source, opts ...RequestOption) Request {
	req, err := NewRequest(source, opts...)
	if err != nil {
		panic(err)
	}
	return req
}

// Source 返回请求来源。
func (r Request) Source() Source { return r.source }

// Validity 返回请求指定的有效期，0 表示默认。
func (r Request) Validity() time.Duration { return r.validity }

// Retry 返回请求覆盖的重试策略。
func (r Request) Retry() (retry.Policy, bool) {
	if r.retry == nil {
		return retry.Policy{}, false
	}
	return *r.retry, true
}

func (r Request) valid() bool {
	return r.onSuccess != nil && r.onError != nil && r.onFinish != nil
}
