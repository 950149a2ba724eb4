package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/any-hub/imgcache/internal/cachekey"
)

func TestMemoryStoreServesFromMemory(t *testing.T) {
	clock := newFakeClock()
	inner := newTestStore(t, WithClock(clock.Now))
	store, err := NewMemoryStore(inner, 1<<20, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new memory store error: %v", err)
	}
	defer store.Close()

	key := cachekey.Of("https://example.com/mem.png")
	entry, err := store.AddOrUpdate(context.Background(), key, []byte("hot"), time.Hour)
	if err != nil {
		t.Fatalf("add error: %v", err)
	}
	store.(*memoryStore).wait()

	// 删除磁盘文件后仍能从内存命中
	if err := os.Remove(entry.FilePath); err != nil {
		t.Fatalf("remove file error: %v", err)
	}
	_, body, err := store.TryGet(context.Background(), key)
	if err != nil {
		t.Fatalf("expected memory hit, got %v", err)
	}
	if string(body) != "hot" {
		t.Fatalf("unexpected body %q", body)
	}

	result, err := store.TryGetStream(context.Background(), key)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	streamed, _ := io.ReadAll(result.Reader)
	result.Reader.Close()
	if string(streamed) != "hot" {
		t.Fatalf("unexpected streamed body %q", streamed)
	}
}

func TestMemoryStoreHonoursValidUntil(t *testing.T) {
	clock := newFakeClock()
	inner := newTestStore(t, WithClock(clock.Now))
	store, err := NewMemoryStore(inner, 1<<20, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new memory store error: %v", err)
	}
	defer store.Close()

	key := cachekey.Of("https://example.com/short.png")
	if _, err := store.AddOrUpdate(context.Background(), key, []byte("x"), time.Minute); err != nil {
		t.Fatalf("add error: %v", err)
	}
	store.(*memoryStore).wait()

	clock.Advance(2 * time.Minute)
	if _, _, err := store.TryGet(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	inner := newTestStore(t)
	store, err := NewMemoryStore(inner, 1<<20)
	if err != nil {
		t.Fatalf("new memory store error: %v", err)
	}
	defer store.Close()

	key := cachekey.Of("https://example.com/gone.png")
	if _, err := store.AddOrUpdate(context.Background(), key, []byte("x"), time.Hour); err != nil {
		t.Fatalf("add error: %v", err)
	}
	store.(*memoryStore).wait()

	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, _, err := store.TryGet(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestMemoryStoreDisabled(t *testing.T) {
	inner := newTestStore(t)
	store, err := NewMemoryStore(inner, 0)
	if err != nil {
		t.Fatalf("new memory store error: %v", err)
	}
	if store != inner {
		t.Fatalf("zero budget should return inner store")
	}
	if _, ok := store.(Sweeper); !ok {
		t.Fatalf("file store should support sweeping")
	}
}
