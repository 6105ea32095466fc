package fleetd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/metrics"
)

var (
	errAlreadyRunning = &httpError{status: http.StatusBadRequest, detail: "Bot is already running"}
	errNotRunning     = &httpError{status: http.StatusBadRequest, detail: "Bot is not running"}
)

// startBot stopped/error → starting → running，分配模拟 PID
func (s *Server) startBot(ctx context.Context, id string) (int, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.startLocked(ctx, id)
}

func (s *Server) startLocked(ctx context.Context, id string) (int, error) {
	b, err := s.bots.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if b.Status == domain.BotStatusRunning {
		return 0, errAlreadyRunning
	}

	if err := s.bots.SetStatus(ctx, id, domain.BotStatusStarting, nil, s.now()); err != nil {
		return 0, err
	}
	s.logEvent(id, domain.LogLevelInfo, "api", fmt.Sprintf("Starting bot '%s'", b.Name))

	pid := fakePID()
	if err := s.bots.SetStatus(ctx, id, domain.BotStatusRunning, &pid, s.now()); err != nil {
		s.failLocked(id, "start", err)
		return 0, &httpError{status: http.StatusInternalServerError, detail: fmt.Sprintf("Failed to start bot: %v", err)}
	}
	s.logEvent(id, domain.LogLevelInfo, "system", fmt.Sprintf("Bot '%s' started successfully with PID %d", b.Name, pid))
	return pid, nil
}

// stopBot running → stopping → stopped
func (s *Server) stopBot(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stopLocked(ctx, id)
}

func (s *Server) stopLocked(ctx context.Context, id string) error {
	b, err := s.bots.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != domain.BotStatusRunning {
		return errNotRunning
	}

	if err := s.bots.SetStatus(ctx, id, domain.BotStatusStopping, nil, s.now()); err != nil {
		return err
	}
	s.logEvent(id, domain.LogLevelInfo, "api", fmt.Sprintf("Stopping bot '%s'", b.Name))

	if err := s.bots.SetStatus(ctx, id, domain.BotStatusStopped, nil, s.now()); err != nil {
		s.failLocked(id, "stop", err)
		return &httpError{status: http.StatusInternalServerError, detail: fmt.Sprintf("Failed to stop bot: %v", err)}
	}
	s.logEvent(id, domain.LogLevelInfo, "system", fmt.Sprintf("Bot '%s' stopped successfully", b.Name))
	return nil
}

// restartBot stop（未运行时忽略）后 start
func (s *Server) restartBot(ctx context.Context, id string) (int, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	err := s.stopLocked(ctx, id)
	switch {
	case err == nil:
		if s.cfg.RestartPause > 0 {
			select {
			case <-time.After(s.cfg.RestartPause):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	case errors.Is(err, errNotRunning):
	default:
		return 0, err
	}
	return s.startLocked(ctx, id)
}

// deleteBot 运行中先停止，再删除记录与日志
func (s *Server) deleteBot(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	b, err := s.bots.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status == domain.BotStatusRunning {
		if err := s.stopLocked(ctx, id); err != nil {
			return err
		}
	}
	if err := s.bots.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.logs.DeleteBot(id); err != nil {
		log.Warnf("删除 bot %s 日志失败: %v", id, err)
	}
	s.logEvent(id, domain.LogLevelInfo, "api", fmt.Sprintf("Bot '%s' deleted", b.Name))
	return nil
}

func (s *Server) failLocked(id, op string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.bots.SetStatus(ctx, id, domain.BotStatusError, nil, s.now()); err != nil {
		log.Errorf("标记 bot %s 为 error 失败: %v", id, err)
	}
	s.logEvent(id, domain.LogLevelError, "system", fmt.Sprintf("Failed to %s bot: %v", op, cause))
}

// broadcastLoop 每 BroadcastInterval 推送一次 system_update
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() == 0 {
				continue
			}
			if err := s.broadcastSystemUpdate(ctx); err != nil {
				log.Warnf("推送 system_update 失败: %v", err)
				continue
			}
			metrics.Broadcasts.Add(1)
		}
	}
}

type systemUpdate struct {
	Metrics     domain.SystemMetrics `json:"metrics"`
	RunningBots []domain.Bot         `json:"running_bots"`
}

func (s *Server) broadcastSystemUpdate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	sys, err := s.systemMetrics(ctx)
	if err != nil {
		return err
	}
	running, err := s.bots.ListRunning(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range running {
		running[i] = withLiveStats(running[i], now)
	}
	s.hub.Broadcast(Frame{Type: "system_update", Data: systemUpdate{Metrics: sys, RunningBots: running}})
	return nil
}
