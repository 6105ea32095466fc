package domain

import (
	"strings"
)

// BotStatus bot 生命周期状态
type BotStatus string

const (
	BotStatusStarting BotStatus = "starting" // 启动中
	BotStatusRunning  BotStatus = "running"  // 运行中
	BotStatusStopping BotStatus = "stopping" // 停止中
	BotStatusStopped  BotStatus = "stopped"  // 已停止
	BotStatusError    BotStatus = "error"    // 异常
)

// IsValid 检查状态是否为已知取值
func (s BotStatus) IsValid() bool {
	switch s {
	case BotStatusStarting, BotStatusRunning, BotStatusStopping, BotStatusStopped, BotStatusError:
		return true
	}
	return false
}

// IsTransitional 是否为过渡状态（starting/stopping）
func (s BotStatus) IsTransitional() bool {
	return s == BotStatusStarting || s == BotStatusStopping
}

// BotType bot 类型标签（开放集合，未知值原样保留）
type BotType string

const (
	BotTypeDiscord  BotType = "discord"
	BotTypeTelegram BotType = "telegram"
	BotTypeWebhook  BotType = "webhook"
	BotTypeGeneral  BotType = "general"
)

// Bot 受托管的 bot 进程
// 静态配置（Command/WorkingDirectory/Port/EnvironmentVars）只由创建/更新接口修改，对账引擎不会改写
type Bot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        BotType   `json:"bot_type"`
	Status      BotStatus `json:"status"`

	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	Uptime      *Uptime `json:"uptime"`

	Command          string            `json:"command"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Port             *int              `json:"port"`
	EnvironmentVars  map[string]string `json:"environment_vars,omitempty"`

	PID         *int       `json:"pid"`
	CreatedAt   *Timestamp `json:"created_at,omitempty"`
	LastStarted *Timestamp `json:"last_started,omitempty"`
	LastStopped *Timestamp `json:"last_stopped,omitempty"`
}

// BotMetrics bot 实时资源指标
type BotMetrics struct {
	CPUUsage    float64
	MemoryUsage float64
	Uptime      *Uptime
}

// LiveMetrics 返回实时指标；只有 running 状态下才有意义
func (b *Bot) LiveMetrics() (BotMetrics, bool) {
	if b == nil || b.Status != BotStatusRunning {
		return BotMetrics{}, false
	}
	return BotMetrics{CPUUsage: b.CPUUsage, MemoryUsage: b.MemoryUsage, Uptime: b.Uptime}, true
}

// Clone 深拷贝（map 与指针字段不共享）
func (b Bot) Clone() Bot {
	out := b
	if b.Uptime != nil {
		u := *b.Uptime
		out.Uptime = &u
	}
	if b.Port != nil {
		p := *b.Port
		out.Port = &p
	}
	if b.PID != nil {
		p := *b.PID
		out.PID = &p
	}
	if b.EnvironmentVars != nil {
		out.EnvironmentVars = make(map[string]string, len(b.EnvironmentVars))
		for k, v := range b.EnvironmentVars {
			out.EnvironmentVars[k] = v
		}
	}
	out.CreatedAt = b.CreatedAt.clone()
	out.LastStarted = b.LastStarted.clone()
	out.LastStopped = b.LastStopped.clone()
	return out
}

// BotPatch 推送流中的稀疏更新：只有非 nil 字段会覆盖
type BotPatch struct {
	ID          string     `json:"id"`
	Status      *BotStatus `json:"status,omitempty"`
	CPUUsage    *float64   `json:"cpu_usage,omitempty"`
	MemoryUsage *float64   `json:"memory_usage,omitempty"`
	Uptime      *Uptime    `json:"uptime,omitempty"`
}

// IsEmpty 是否没有携带任何可合并字段
func (p BotPatch) IsEmpty() bool {
	return p.Status == nil && p.CPUUsage == nil && p.MemoryUsage == nil && p.Uptime == nil
}

// ApplyPatch 按字段合并补丁，返回是否有字段发生变化
// 不校验 ID，调用方负责按 ID 定位
func (b *Bot) ApplyPatch(p BotPatch) bool {
	changed := false
	if p.Status != nil && *p.Status != b.Status {
		b.Status = *p.Status
		changed = true
	}
	if p.CPUUsage != nil && *p.CPUUsage != b.CPUUsage {
		b.CPUUsage = *p.CPUUsage
		changed = true
	}
	if p.MemoryUsage != nil && *p.MemoryUsage != b.MemoryUsage {
		b.MemoryUsage = *p.MemoryUsage
		changed = true
	}
	if p.Uptime != nil && (b.Uptime == nil || *b.Uptime != *p.Uptime) {
		u := *p.Uptime
		b.Uptime = &u
		changed = true
	}
	return changed
}

// BotSpec 创建/更新 bot 的请求体
type BotSpec struct {
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Type             BotType           `json:"bot_type,omitempty"`
	Command          string            `json:"command,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	EnvironmentVars  map[string]string `json:"environment_vars,omitempty"`
	Port             *int              `json:"port,omitempty"`
}

// Validate 校验创建请求
func (s BotSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(s.Command) == "" {
		return ErrCommandRequired
	}
	if strings.TrimSpace(string(s.Type)) == "" {
		return ErrTypeRequired
	}
	return nil
}
