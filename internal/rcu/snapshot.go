package rcu

import (
	"sync"
	"sync/atomic"
)

// Snapshot 是一个基于 RCU（Read-Copy-Update）机制的无锁快照容器
// 特性：
// - 读操作无锁，适合读多写少场景（每请求读取灰度规则/密钥集）
// - 写操作通过原子指针替换实现
// - 读侧看到的数据始终是一致的快照
type Snapshot[T any] struct {
	ptr atomic.Pointer[T]
	mu  sync.Mutex // serializes Update copy-modify-swap
}

// NewSnapshot 创建一个新的快照容器并初始化
func NewSnapshot[T any](init *T) *Snapshot[T] {
	s := &Snapshot[T]{}
	s.ptr.Store(init)
	return s
}

// Load 读取当前快照（无锁）
// 返回的指针指向不可变数据，可以安全地并发读取
func (s *Snapshot[T]) Load() *T {
	return s.ptr.Load()
}

// Replace 用新快照整体替换当前快照
// 调用者需确保传入的数据是新分配的副本
func (s *Snapshot[T]) Replace(next *T) {
	s.ptr.Store(next)
}

// Update 复制当前快照、应用修改、原子替换。
// 并发的 Update 调用彼此串行，不会丢失更新。
func (s *Snapshot[T]) Update(mutate func(cur T) T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.ptr.Load()
	var copied T
	if cur != nil {
		copied = *cur
	}
	next := mutate(copied)
	s.ptr.Store(&next)
}
