// Package action 下发 bot 生命周期操作与增删改，并把结果交给引擎调和
package action

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
	"github.com/betbot/botdash/internal/metrics"
)

var log = logrus.WithField("component", "action")

// API 写操作依赖的后端接口（*fleetapi.Client 实现）
type API interface {
	PerformAction(ctx context.Context, botID string, action domain.Action) error
	CreateBot(ctx context.Context, spec domain.BotSpec) (*domain.Bot, error)
	UpdateBot(ctx context.Context, botID string, spec domain.BotSpec) (*domain.Bot, error)
	DeleteBot(ctx context.Context, botID string) error
}

// Reconciler 接收操作结果的一方（*engine.Engine 实现）
type Reconciler interface {
	Apply(ctx context.Context, m engine.Msg) error
	Post(m engine.Msg) error
	Refresh(ctx context.Context) error
}

// RefreshError 操作已被后端接受，但随后的全量刷新失败
// 本地已展示过渡状态，等待下一次刷新或推送纠正
type RefreshError struct {
	BotID  string
	Action domain.Action
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("action %s on bot %s accepted but refresh failed: %v", e.Action, e.BotID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Dispatcher 操作分发器
// 不做客户端加锁：同一 bot 的并发操作由后端裁决
type Dispatcher struct {
	api API
	rec Reconciler
}

// NewDispatcher 创建分发器
func NewDispatcher(api API, rec Reconciler) *Dispatcher {
	return &Dispatcher{api: api, rec: rec}
}

// Perform 执行 start / stop / restart
//
// 后端拒绝时返回 *fleetapi.APIError，本地状态不变；
// 接受时先乐观展示过渡状态，再全量刷新并等待刷新结果被应用。
func (d *Dispatcher) Perform(ctx context.Context, botID string, action domain.Action) error {
	if _, err := domain.ParseAction(string(action)); err != nil {
		return err
	}

	if err := d.api.PerformAction(ctx, botID, action); err != nil {
		log.Warnf("操作被拒绝: %s %s: %v", action, botID, err)
		metrics.ActionsRejected.Add(1)
		d.record("action", err)
		return err
	}

	if err := d.rec.Apply(ctx, engine.ActionAccepted{BotID: botID, Action: action}); err != nil {
		return err
	}
	metrics.ActionsAccepted.Add(1)
	log.Infof("操作已接受: %s %s", action, botID)

	if err := d.rec.Refresh(ctx); err != nil {
		rerr := &RefreshError{BotID: botID, Action: action, Err: err}
		d.record("action", rerr)
		return rerr
	}
	return nil
}

// Create 新建 bot，成功后立即加入本地表
func (d *Dispatcher) Create(ctx context.Context, spec domain.BotSpec) (*domain.Bot, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	bot, err := d.api.CreateBot(ctx, spec)
	if err != nil {
		d.record("create", err)
		return nil, err
	}
	if err := d.rec.Apply(ctx, engine.BotCreated{Bot: *bot}); err != nil {
		return bot, err
	}
	log.Infof("已创建 bot %s (%s)", bot.ID, bot.Name)
	return bot, nil
}

// Update 修改 bot 配置，结果按整条记录写回本地表
func (d *Dispatcher) Update(ctx context.Context, botID string, spec domain.BotSpec) (*domain.Bot, error) {
	bot, err := d.api.UpdateBot(ctx, botID, spec)
	if err != nil {
		d.record("update", err)
		return nil, err
	}
	if err := d.rec.Apply(ctx, engine.BotCreated{Bot: *bot}); err != nil {
		return bot, err
	}
	return bot, nil
}

// Delete 删除 bot，成功后从本地表移除
func (d *Dispatcher) Delete(ctx context.Context, botID string) error {
	if err := d.api.DeleteBot(ctx, botID); err != nil {
		d.record("delete", err)
		return err
	}
	log.Infof("已删除 bot %s", botID)
	return d.rec.Apply(ctx, engine.BotDeleted{BotID: botID})
}

func (d *Dispatcher) record(op string, err error) {
	if perr := d.rec.Post(engine.RequestFailed{Op: op, Err: err}); perr != nil {
		log.Debugf("记录错误失败: %v", perr)
	}
}
