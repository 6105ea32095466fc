package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// Go() 自动配对 Add/Done；Wait() 之后可以继续复用
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	running int
	pending []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个 goroutine 函数，直到 Run() 才启动
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
}

// Run 启动所有已登记的函数并清空登记列表
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, fn := range fns {
		w.Go(fn)
	}
}

// Go 立即在新 goroutine 中运行 fn
func (w *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	w.wg.Add(1)
	w.mu.Lock()
	w.running++
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.running--
			w.mu.Unlock()
			w.wg.Done()
		}()
		fn()
	}()
}

// Running 返回仍在运行的 goroutine 数量
func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Wait 等待所有 goroutine 完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
