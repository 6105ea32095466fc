// Package snapshot 负责全量状态读取：bot 列表 + 系统指标，以及单个 bot 的历史日志
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/botdash/internal/domain"
)

var log = logrus.WithField("component", "snapshot")

// API 快照读取依赖的后端接口（*fleetapi.Client 实现）
type API interface {
	ListBots(ctx context.Context) ([]domain.Bot, error)
	SystemMetrics(ctx context.Context) (*domain.SystemMetrics, error)
	BotLogs(ctx context.Context, botID string, limit int) ([]domain.LogEntry, error)
}

// FleetSnapshot 一次完整的舰队读取结果；只有两个请求都成功才会产生
type FleetSnapshot struct {
	Bots      []domain.Bot
	Metrics   domain.SystemMetrics
	FetchedAt time.Time
}

// Fetcher 快照读取器
type Fetcher struct {
	api API
	now func() time.Time
}

// NewFetcher 创建读取器
func NewFetcher(api API) *Fetcher {
	return &Fetcher{api: api, now: time.Now}
}

// FetchFleetSnapshot 并发读取 bot 列表与系统指标
// 任一失败则整体失败（另一个请求被取消），不会返回部分结果
func (f *Fetcher) FetchFleetSnapshot(ctx context.Context) (FleetSnapshot, error) {
	var (
		bots    []domain.Bot
		metrics *domain.SystemMetrics
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bots, err = f.api.ListBots(gctx)
		if err != nil {
			return fmt.Errorf("读取 bot 列表失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		metrics, err = f.api.SystemMetrics(gctx)
		if err != nil {
			return fmt.Errorf("读取系统指标失败: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return FleetSnapshot{}, err
	}

	snap := FleetSnapshot{Bots: bots, FetchedAt: f.now()}
	if metrics != nil {
		snap.Metrics = *metrics
	}
	log.Debugf("快照读取完成: bots=%d", len(bots))
	return snap, nil
}

// FetchLogHistory 读取某个 bot 最近的 limit 条日志，最新在前
func (f *Fetcher) FetchLogHistory(ctx context.Context, botID string, limit int) ([]domain.LogEntry, error) {
	entries, err := f.api.BotLogs(ctx, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("读取 bot %s 历史日志失败: %w", botID, err)
	}
	return normalizeHistory(entries, limit), nil
}

// normalizeHistory 去重、按时间倒序、截断到 limit
func normalizeHistory(entries []domain.LogEntry, limit int) []domain.LogEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.LogEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
