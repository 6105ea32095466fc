// Package logbuf 提供固定容量、最新在前的日志环形缓冲区
package logbuf

import (
	"github.com/betbot/botdash/internal/domain"
)

// DefaultCapacity 默认容量
const DefaultCapacity = 500

// Ring 最新在前的有界日志序列
// 头部插入 O(1)，满时淘汰最旧的一条；非并发安全，由持有者串行访问
type Ring struct {
	buf  []domain.LogEntry
	head int // 最新一条所在下标
	n    int
}

// New 创建容量为 capacity 的缓冲区（<=0 时使用默认容量）
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]domain.LogEntry, capacity)}
}

// Cap 容量
func (r *Ring) Cap() int { return len(r.buf) }

// Len 当前条数
func (r *Ring) Len() int { return r.n }

// PushFront 在头部插入一条日志，返回是否淘汰了最旧的一条
func (r *Ring) PushFront(e domain.LogEntry) (evicted bool) {
	c := len(r.buf)
	r.head = (r.head - 1 + c) % c
	r.buf[r.head] = e
	if r.n < c {
		r.n++
		return false
	}
	return true
}

// Replace 整体替换内容；entries 须为最新在前，超出容量的旧条目被丢弃
func (r *Ring) Replace(entries []domain.LogEntry) {
	clear(r.buf)
	r.head = 0
	r.n = min(len(entries), len(r.buf))
	copy(r.buf, entries[:r.n])
}

// At 返回第 i 新的条目（0 为最新）
func (r *Ring) At(i int) (domain.LogEntry, bool) {
	if i < 0 || i >= r.n {
		return domain.LogEntry{}, false
	}
	return r.buf[(r.head+i)%len(r.buf)], true
}

// Contains 是否已有该 id 的条目
func (r *Ring) Contains(id string) bool {
	for i := 0; i < r.n; i++ {
		if r.buf[(r.head+i)%len(r.buf)].ID == id {
			return true
		}
	}
	return false
}

// Entries 返回最新在前的拷贝
func (r *Ring) Entries() []domain.LogEntry {
	out := make([]domain.LogEntry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
