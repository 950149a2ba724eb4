package fetchcache

import (
	"context"
	"hash/maphash"
	"sync"

	"github.com/any-hub/imgcache/internal/cachekey"
)

const inflightShards = 64

// call 表示某个 key 正在进行的一次获取。done 关闭后 result/err 只读。
type call struct {
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// waiters 受所在分片的锁保护。
	waiters int

	result *Result
	err    error
}

type inflightShard struct {
	mu    sync.Mutex
	calls map[cachekey.Key]*call
}

// inflightTable 按 key 分片，避免所有 key 竞争同一把锁。
type inflightTable struct {
	seed   maphash.Seed
	shards [inflightShards]inflightShard
}

func newInflightTable() *inflightTable {
	t := &inflightTable{seed: maphash.MakeSeed()}
	for i := range t.shards {
		t.shards[i].calls = make(map[cachekey.Key]*call)
	}
	return t
}

func (t *inflightTable) shard(key cachekey.Key) *inflightShard {
	return &t.shards[maphash.String(t.seed, string(key))%inflightShards]
}

// join 加入已有获取，或登记新的获取并返回 leader=true。
// 获取使用脱离调用方取消的 ctx，只在最后一个等待者离开时取消。
func (t *inflightTable) join(ctx context.Context, key cachekey.Key) (*call, bool) {
	sh := t.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cl, ok := sh.calls[key]; ok {
		cl.waiters++
		return cl, false
	}

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl := &call{
		done:    make(chan struct{}),
		ctx:     fetchCtx,
		cancel:  cancel,
		waiters: 1,
	}
	sh.calls[key] = cl
	return cl, true
}

// wait 阻塞到获取完成或 ctx 结束。
func (t *inflightTable) wait(ctx context.Context, key cachekey.Key, cl *call) (*Result, error) {
	select {
	case <-cl.done:
		return cl.deliver()
	case <-ctx.Done():
	}

	sh := t.shard(key)
	sh.mu.Lock()
	cl.waiters--
	last := cl.waiters == 0
	if last && sh.calls[key] == cl {
		// 后续请求重新发起获取，不再等待即将被取消的这次。
		// 这是同一 key 唯一可能短暂出现两次获取的位置：被取消的获取直到
		// fetcher 响应 ctx 前仍在运行。它完成时 complete 只移除自己的 call。
		delete(sh.calls, key)
	}
	sh.mu.Unlock()

	if last {
		cl.cancel()
	}
	return nil, ctx.Err()
}

// complete 先从表中移除再唤醒等待者。
func (t *inflightTable) complete(key cachekey.Key, cl *call) {
	sh := t.shard(key)
	sh.mu.Lock()
	if sh.calls[key] == cl {
		delete(sh.calls, key)
	}
	sh.mu.Unlock()

	cl.cancel()
	close(cl.done)
}

func (t *inflightTable) len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.calls)
		sh.mu.Unlock()
	}
	return n
}

// waitersFor 返回 key 当前的等待者数量，测试使用。
func (t *inflightTable) waitersFor(key cachekey.Key) int {
	sh := t.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cl, ok := sh.calls[key]; ok {
		return cl.waiters
	}
	return 0
}

func (cl *call) deliver() (*Result, error) {
	if cl.err != nil {
		return nil, cl.err
	}
	res := *cl.result
	return &res, nil
}
