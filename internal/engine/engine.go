// Package engine 客户端舰队状态的调和引擎
//
// 单个 goroutine 持有 State，外部通过消息驱动；快照、推送、操作结果和
// 历史日志都经 Reduce 折叠，读取方拿到的是不可变的 View。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/metrics"
	"github.com/betbot/botdash/internal/snapshot"
	"github.com/betbot/botdash/pkg/syncgroup"
)

var log = logrus.WithField("component", "engine")

// ErrClosed 引擎已关闭
var ErrClosed = errors.New("engine: closed")

const defaultInboxSize = 1024

// Fetcher 引擎依赖的读取接口（*snapshot.Fetcher 实现）
type Fetcher interface {
	FetchFleetSnapshot(ctx context.Context) (snapshot.FleetSnapshot, error)
	FetchLogHistory(ctx context.Context, botID string, limit int) ([]domain.LogEntry, error)
}

// Options 引擎参数
type Options struct {
	LogCapacity     int // 日志环形缓冲区容量，默认 500
	LogHistoryLimit int // 选中 bot 时拉取的历史条数，默认 100
	InboxSize       int
}

type envelope struct {
	msg  Msg
	done chan struct{} // 非空时在消息折叠后关闭
}

// Engine 调和引擎
type Engine struct {
	fetcher Fetcher
	opts    Options
	clock   *Clock

	inbox chan envelope
	view  atomic.Pointer[View]

	subsMu  sync.Mutex
	subs    map[int]chan *View
	nextSub int

	ctx      context.Context
	cancel   context.CancelFunc
	sg       *syncgroup.SyncGroup // 引擎循环、历史加载、事件泵
	watchers *syncgroup.SyncGroup

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New 创建引擎，需调用 Start 启动
func New(fetcher Fetcher, opts Options) *Engine {
	if opts.LogHistoryLimit <= 0 {
		opts.LogHistoryLimit = 100
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		fetcher: fetcher,
		opts:    opts,
		clock:   &Clock{},
		inbox:   make(chan envelope, opts.InboxSize),
		subs:    make(map[int]chan *View),
		ctx:     ctx,
		cancel:  cancel,
		sg:      syncgroup.NewSyncGroup(),

		watchers: syncgroup.NewSyncGroup(),
	}
	e.view.Store(newView(NewState(opts.LogCapacity, e.clock)))
	return e
}

// Start 启动引擎 goroutine，以及 Start 之前通过 Consume 登记的事件泵
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		state := NewState(e.opts.LogCapacity, e.clock)
		e.sg.Add(func() { e.loop(state) })
		e.started.Store(true)
		e.sg.Run()
	})
}

// Close 停止引擎；之后不会再有任何状态变化，迟到的结果被忽略
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		log.Debugf("引擎关闭中，等待 %d 个 goroutine", e.sg.Running())
		e.sg.Wait()

		e.subsMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsMu.Unlock()
		e.watchers.Wait()
		log.Debug("引擎已关闭")
	})
	return nil
}

func (e *Engine) closed() bool {
	return e.ctx.Err() != nil
}

// View 当前视图
func (e *Engine) View() *View {
	return e.view.Load()
}

// Subscribe 订阅视图变化
// 通道容量为 1 且只保留最新视图，慢消费者不会阻塞引擎；订阅时立即收到当前视图
func (e *Engine) Subscribe() (<-chan *View, func()) {
	ch := make(chan *View, 1)

	e.subsMu.Lock()
	if e.closed() {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.view.Load()
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
			e.subsMu.Unlock()
		})
	}
}

// Watch 在独立 goroutine 中对每个新视图调用 fn，fn 中的 panic 会被恢复
func (e *Engine) Watch(fn func(*View)) func() {
	ch, cancel := e.Subscribe()
	e.watchers.Go(func() {
		for v := range ch {
			safeCall(fn, v)
		}
	})
	return cancel
}

func safeCall(fn func(*View), v *View) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("视图回调 panic: %v", r)
		}
	}()
	fn(v)
}

// Post 投递消息，不等待处理
func (e *Engine) Post(m Msg) error {
	return e.post(context.Background(), envelope{msg: m})
}

// Apply 投递消息并等待其被折叠进状态
func (e *Engine) Apply(ctx context.Context, m Msg) error {
	env := envelope{msg: m, done: make(chan struct{})}
	if err := e.post(ctx, env); err != nil {
		return err
	}
	select {
	case <-env.done:
		return nil
	case <-e.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) post(ctx context.Context, env envelope) error {
	if e.closed() {
		return ErrClosed
	}
	select {
	case e.inbox <- env:
		return nil
	case <-e.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh 拉取全量快照并等待其被应用
// 失败时记录到 View.LastError，已有状态不变
func (e *Engine) Refresh(ctx context.Context) error {
	if e.closed() {
		return ErrClosed
	}
	ticket := e.clock.Next()
	snap, err := e.fetcher.FetchFleetSnapshot(ctx)
	if err != nil {
		if e.closed() {
			return ErrClosed
		}
		metrics.SnapshotFailures.Add(1)
		_ = e.Post(RequestFailed{Op: "refresh", Err: err})
		return fmt.Errorf("刷新舰队快照失败: %w", err)
	}
	if err := e.Apply(ctx, SnapshotApplied{Snapshot: snap, Ticket: ticket}); err != nil {
		return err
	}
	metrics.SnapshotsApplied.Add(1)
	return nil
}

// SelectBot 切换选中的 bot（空字符串取消选择），历史日志异步加载
func (e *Engine) SelectBot(botID string) error {
	return e.Post(SelectionChanged{BotID: botID})
}

func (e *Engine) loop(s *State) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case env := <-e.inbox:
			if e.closed() {
				return
			}
			before := s.Version()
			effects := Reduce(s, env.msg)
			if s.Version() != before {
				e.publish(newView(s))
			}
			if env.done != nil {
				close(env.done)
			}
			for _, eff := range effects {
				e.run(eff)
			}
		}
	}
}

func (e *Engine) run(eff Effect) {
	switch eff := eff.(type) {
	case FetchHistory:
		e.sg.Go(func() { e.loadHistory(eff) })
	}
}

func (e *Engine) loadHistory(req FetchHistory) {
	entries, err := e.fetcher.FetchLogHistory(e.ctx, req.BotID, e.opts.LogHistoryLimit)
	if e.closed() {
		return
	}
	if err != nil {
		log.Warnf("加载 bot %s 历史日志失败: %v", req.BotID, err)
	}
	_ = e.Post(LogHistoryLoaded{BotID: req.BotID, Generation: req.Generation, Entries: entries, Err: err})
}

func (e *Engine) publish(v *View) {
	e.view.Store(v)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- v:
		default:
			// 丢弃未被读取的旧视图，只保留最新
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
