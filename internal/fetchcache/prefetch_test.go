package fetchcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPrefetchWarmsCache(t *testing.T) {
	var active, peak atomic.Int32
	fetcher := &funcFetcher{fn: func(ctx context.Context, id string) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if id == "https://cdn.example.com/bad.png" {
			return nil, errors.New("boom")
		}
		return []byte(id), nil
	}}
	c, err := New(Options{Store: newDiskStore(t, nil), Fetcher: fetcher})
	if err != nil {
		t.Fatalf("new cache error: %v", err)
	}

	ids := []string{
		"https://cdn.example.com/1.png",
		"https://cdn.example.com/2.png",
		"https://cdn.example.com/3.png",
		"https://cdn.example.com/4.png",
		"https://cdn.example.com/bad.png",
	}
	report, err := c.Prefetch(context.Background(), ids, 2)
	if err == nil {
		t.Fatalf("expected joined error for failed item")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Identifier != "https://cdn.example.com/bad.png" {
		t.Fatalf("unexpected error %v", err)
	}
	if report.Requested != 5 || report.Fetched != 4 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if peak.Load() > 2 {
		t.Fatalf("concurrency limit exceeded: %d", peak.Load())
	}

	report, err = c.Prefetch(context.Background(), ids[:4], 4)
	if err != nil {
		t.Fatalf("second prefetch error: %v", err)
	}
	if report.Cached != 4 || report.Fetched != 0 {
		t.Fatalf("second prefetch should hit cache: %+v", report)
	}
}

type funcFetcher struct {
	fn func(ctx context.Context, id string) ([]byte, error)
}

func (f *funcFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	return f.fn(ctx, id)
}
