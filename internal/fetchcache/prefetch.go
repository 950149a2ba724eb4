package fetchcache

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PrefetchReport 汇总一次预热的结果。
type PrefetchReport struct {
	Requested int `json:"requested"`
	Fetched   int `json:"fetched"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
}

// Prefetch 以至多 concurrency 个并发预热 identifiers，与 Get 共享合并语义。
// 单项失败不会中断其余项，所有失败以 errors.Join 返回。
func (c *Cache) Prefetch(ctx context.Context, identifiers []string, concurrency int, opts ...GetOption) (PrefetchReport, error) {
	report := PrefetchReport{Requested: len(identifiers)}
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(concurrency)

	for _, id := range identifiers {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := c.Get(ctx, id, opts...)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				errs = append(errs, err)
			case res.FromCache:
				report.Cached++
			default:
				report.Fetched++
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}
