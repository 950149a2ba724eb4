// Package fetch 定义载荷获取边界：远程 HTTP、本地文件以及内置资源。
// 获取器只负责取回原始字节，缓存与重试由上层负责。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/imgcache/internal/retry"
)

// Fetcher 根据标识符取回完整载荷。
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) ([]byte, error)
}

// FetcherFunc 允许使用普通函数实现 Fetcher。
type FetcherFunc func(ctx context.Context, identifier string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	return f(ctx, identifier)
}

// ErrUnsupportedSource 表示标识符的 scheme 没有对应的获取器。
var ErrUnsupportedSource = errors.New("unsupported source")

// Mux 按 scheme 分发：http/https 走 HTTP，file:// 与绝对路径走 File，asset:// 走 Asset。
type Mux struct {
	HTTP  Fetcher
	File  Fetcher
	Asset Fetcher
}

func (m *Mux) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	target := m.route(identifier)
	if target == nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrUnsupportedSource, identifier))
	}
	return target.Fetch(ctx, identifier)
}

func (m *Mux) route(identifier string) Fetcher {
	scheme := schemeOf(identifier)
	switch scheme {
	case "http", "https":
		return m.HTTP
	case "file":
		return m.File
	case "asset":
		return m.Asset
	case "":
		if strings.HasPrefix(identifier, "/") {
			return m.File
		}
	}
	return nil
}

func schemeOf(identifier string) string {
	idx := strings.Index(identifier, "://")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(identifier[:idx])
}
