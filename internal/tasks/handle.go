// Package tasks 记录每个消费方槽位当前生效的加载任务，用于识别并取消被替代的任务。
package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle 标识一次逻辑加载。取消只影响该任务自身的等待，不会打断被合并共享的获取。
type Handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
}

// NewHandle 基于 parent 创建任务句柄，返回的 ctx 随 Cancel 结束。
func NewHandle(parent context.Context) (*Handle, context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	h := &Handle{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return h, ctx
}

// ID 返回任务的唯一标识。
func (h *Handle) ID() string {
	return h.id
}

// Cancel 取消任务；重复调用无副作用。
func (h *Handle) Cancel() {
	h.cancel(nil)
}

// CancelWithCause 取消任务并记录原因，context.Cause 可取回。
func (h *Handle) CancelWithCause(cause error) {
	h.cancel(cause)
}

// Cancelled 报告任务是否已被取消。
func (h *Handle) Cancelled() bool {
	return h.ctx.Err() != nil
}

// Done 在任务结束（回调全部执行完毕）后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Finish 标记任务结束，只有第一次调用生效。
func (h *Handle) Finish() {
	h.once.Do(func() {
		close(h.done)
		h.cancel(nil)
	})
}

// Wait 阻塞到任务结束或 ctx 结束。
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
