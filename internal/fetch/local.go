package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/any-hub/imgcache/internal/retry"
)

// FileFetcher 读取本地文件，接受绝对路径或 file:// 前缀。
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := strings.TrimPrefix(identifier, "file://")
	if p == "" {
		return nil, retry.Permanent(fmt.Errorf("%w: empty file path", ErrUnsupportedSource))
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return data, nil
}

// AssetFetcher 从内置资源目录读取，标识符形如 asset://icons/logo.png。
type AssetFetcher struct {
	FS fs.FS
}

func (a AssetFetcher) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.FS == nil {
		return nil, retry.Permanent(fmt.Errorf("%w: asset root not configured", ErrUnsupportedSource))
	}
	name := path.Clean(strings.TrimPrefix(strings.TrimPrefix(identifier, "asset://"), "/"))
	if !fs.ValidPath(name) || name == "." {
		return nil, retry.Permanent(fmt.Errorf("%w: invalid asset name %q", ErrUnsupportedSource, identifier))
	}
	data, err := fs.ReadFile(a.FS, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return data, nil
}
