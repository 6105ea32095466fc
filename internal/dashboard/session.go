// Package dashboard 组装看板会话：REST 快照、推送流、调和引擎与操作分发
package dashboard

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/action"
	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
	"github.com/betbot/botdash/internal/fleetapi"
	"github.com/betbot/botdash/internal/snapshot"
	"github.com/betbot/botdash/internal/stream"
	"github.com/betbot/botdash/pkg/config"
	"github.com/betbot/botdash/pkg/shutdown"
)

var log = logrus.WithField("component", "dashboard")

// Session 一次看板会话，创建时建立状态，Close 时销毁
type Session struct {
	api        *fleetapi.Client
	engine     *engine.Engine
	stream     *stream.Client
	dispatcher *action.Dispatcher
	shutdown   *shutdown.Manager
}

// NewSession 按客户端配置创建会话（尚未连接）
func NewSession(cfg config.ClientConfig) (*Session, error) {
	api := fleetapi.NewClient(fleetapi.Options{
		BaseURL:    cfg.APIURL,
		Timeout:    cfg.RequestTimeout,
		RetryCount: cfg.RetryCount,
		ProxyURL:   cfg.ProxyURL,
	})

	sc, err := stream.NewClient(&stream.Config{
		URL:                  cfg.WSURL,
		ProxyURL:             cfg.ProxyURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		PingInterval:         cfg.PingInterval,
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(snapshot.NewFetcher(api), engine.Options{
		LogCapacity:     cfg.LogCapacity,
		LogHistoryLimit: cfg.LogHistoryLimit,
	})

	s := &Session{
		api:        api,
		engine:     eng,
		stream:     sc,
		dispatcher: action.NewDispatcher(api, eng),
		shutdown:   shutdown.NewManager(),
	}
	// 逆序执行：先断开推送，再停引擎
	s.shutdown.OnShutdown("engine", func(context.Context) { _ = eng.Close() })
	s.shutdown.OnShutdown("stream", func(context.Context) { _ = sc.Close() })
	return s, nil
}

// Start 启动引擎与推送连接，并拉取首个快照
// 首次快照失败时返回错误，但会话仍然可用：推送事件会排队，可稍后 Refresh
func (s *Session) Start(ctx context.Context) error {
	s.engine.Consume(s.stream.Events())
	s.engine.Start()
	s.stream.Start()

	if err := s.engine.Refresh(ctx); err != nil {
		log.Warnf("首次快照失败: %v", err)
		return err
	}
	v := s.engine.View()
	log.Infof("会话已启动: bots=%d", len(v.Bots))
	return nil
}

// View 当前视图
func (s *Session) View() *engine.View { return s.engine.View() }

// Subscribe 订阅视图变化（只保留最新）
func (s *Session) Subscribe() (<-chan *engine.View, func()) { return s.engine.Subscribe() }

// Watch 对每个新视图回调 fn，fn 的 panic 会被恢复
func (s *Session) Watch(fn func(*engine.View)) func() { return s.engine.Watch(fn) }

// SelectBot 切换选中的 bot，空字符串取消选择
func (s *Session) SelectBot(botID string) error { return s.engine.SelectBot(botID) }

// Refresh 手动刷新全量快照
func (s *Session) Refresh(ctx context.Context) error { return s.engine.Refresh(ctx) }

// PerformAction 下发 start / stop / restart
func (s *Session) PerformAction(ctx context.Context, botID string, a domain.Action) error {
	return s.dispatcher.Perform(ctx, botID, a)
}

// CreateBot 新建 bot
func (s *Session) CreateBot(ctx context.Context, spec domain.BotSpec) (*domain.Bot, error) {
	return s.dispatcher.Create(ctx, spec)
}

// UpdateBot 修改 bot 配置
func (s *Session) UpdateBot(ctx context.Context, botID string, spec domain.BotSpec) (*domain.Bot, error) {
	return s.dispatcher.Update(ctx, botID, spec)
}

// DeleteBot 删除 bot
func (s *Session) DeleteBot(ctx context.Context, botID string) error {
	return s.dispatcher.Delete(ctx, botID)
}

// DroppedFrames 推送流中被丢弃的畸形帧数量
func (s *Session) DroppedFrames() int64 { return s.stream.Dropped() }

// Close 结束会话；之后不再有任何状态变化
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.shutdown.Shutdown(ctx)
	return nil
}
