package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/betbot/botdash/internal/domain"
)

// 推送帧类型
const (
	FrameSystemUpdate = "system_update"
	FrameLog          = "log"
)

var (
	// ErrMalformedFrame 帧无法解析或缺少必填字段
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownFrameType 帧类型不是 system_update / log
	ErrUnknownFrameType = fmt.Errorf("%w: unknown type", ErrMalformedFrame)
)

// Event 推送流事件：ConnChanged / SystemUpdate / LogPushed
type Event interface {
	isEvent()
}

// ConnChanged 连接状态变化
type ConnChanged struct {
	State   domain.ConnState
	Attempt int   // 第几次重连（首次连接为 0）
	Err     error // 断开原因（可选）
}

// SystemUpdate 周期性系统更新：指标整体替换，running_bots 逐个稀疏合并
type SystemUpdate struct {
	Metrics     domain.SystemMetrics
	RunningBots []domain.BotPatch
}

// LogPushed 单条新日志
type LogPushed struct {
	Entry domain.LogEntry
}

func (ConnChanged) isEvent()  {}
func (SystemUpdate) isEvent() {}
func (LogPushed) isEvent()    {}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type systemUpdateData struct {
	Metrics     *domain.SystemMetrics `json:"metrics"`
	RunningBots []json.RawMessage     `json:"running_bots"`
}

// DecodeFrame 解码一帧 {type, data}
// 返回的错误都包裹 ErrMalformedFrame，调用方丢弃该帧即可
func DecodeFrame(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(f.Data) == 0 || bytes.Equal(bytes.TrimSpace(f.Data), []byte("null")) {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}

	switch f.Type {
	case FrameSystemUpdate:
		return decodeSystemUpdate(f.Data)
	case FrameLog:
		return decodeLog(f.Data)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownFrameType, f.Type)
}

func decodeSystemUpdate(raw json.RawMessage) (Event, error) {
	var d systemUpdateData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: system_update: %v", ErrMalformedFrame, err)
	}
	if d.Metrics == nil {
		return nil, fmt.Errorf("%w: system_update without metrics", ErrMalformedFrame)
	}

	ev := SystemUpdate{Metrics: *d.Metrics, RunningBots: make([]domain.BotPatch, 0, len(d.RunningBots))}
	for i, rb := range d.RunningBots {
		var p domain.BotPatch
		if err := json.Unmarshal(rb, &p); err != nil {
			return nil, fmt.Errorf("%w: running_bots[%d]: %v", ErrMalformedFrame, i, err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: running_bots[%d] without id", ErrMalformedFrame, i)
		}
		if p.Status != nil && !p.Status.IsValid() {
			log.Debugf("忽略未知状态 %q (bot=%s)", *p.Status, p.ID)
			p.Status = nil
		}
		ev.RunningBots = append(ev.RunningBots, p)
	}
	return ev, nil
}

func decodeLog(raw json.RawMessage) (Event, error) {
	var e domain.LogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: log: %v", ErrMalformedFrame, err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("%w: log without id", ErrMalformedFrame)
	}
	var probe struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Message == nil {
		return nil, fmt.Errorf("%w: log without message", ErrMalformedFrame)
	}
	return LogPushed{Entry: e}, nil
}
