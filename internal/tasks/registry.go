package tasks

import (
	"sync"
	"weak"
)

// Registry 保存 slot → 当前句柄 的非持有关联：句柄只由执行中的任务与调用方持有，
// 句柄被回收后对应槽位自动视为空。
type Registry[S comparable] struct {
	mu    sync.RWMutex
	slots map[S]weak.Pointer[Handle]
}

// NewRegistry 创建空的注册表。
func NewRegistry[S comparable]() *Registry[S] {
	return &Registry[S]{slots: make(map[S]weak.Pointer[Handle])}
}

// Attach 把 h 记为 slot 的当前句柄，返回此前的句柄（可能为 nil），由调用方决定是否取消。
func (r *Registry[S]) Attach(slot S, h *Handle) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots == nil {
		r.slots = make(map[S]weak.Pointer[Handle])
	}
	var prev *Handle
	if wp, ok := r.slots[slot]; ok {
		prev = wp.Value()
	}
	r.slots[slot] = weak.Make(h)
	return prev
}

// Current 返回 slot 的当前句柄。
func (r *Registry[S]) Current(slot S) (*Handle, bool) {
	r.mu.RLock()
	wp, ok := r.slots[slot]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	h := wp.Value()
	return h, h != nil
}

// Detach 仅当 h 仍是 slot 的当前句柄时清除关联，返回是否清除。
func (r *Registry[S]) Detach(slot S, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.slots[slot]
	if !ok {
		return false
	}
	cur := wp.Value()
	if cur == nil {
		delete(r.slots, slot)
		return false
	}
	if cur != h {
		return false
	}
	delete(r.slots, slot)
	return true
}

// Len 返回仍关联着存活句柄的槽位数量，顺带清理已回收的条目。
func (r *Registry[S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for slot, wp := range r.slots {
		if wp.Value() == nil {
			delete(r.slots, slot)
			continue
		}
		n++
	}
	return n
}
