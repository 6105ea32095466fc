package engine

import (
	"github.com/betbot/botdash/internal/domain"
)

// View 某一时刻状态的只读副本，发布后不再修改
type View struct {
	Version uint64

	Bots       []domain.Bot
	Metrics    domain.SystemMetrics
	HasMetrics bool

	Conn domain.ConnState
	// Logs 全局日志（最新在前），按选择过滤请用 VisibleLogs
	Logs []domain.LogEntry

	Selected       string
	HistoryLoading bool

	// Seeded 是否已经应用过至少一次快照
	Seeded    bool
	LastError error
}

func newView(s *State) *View {
	return &View{
		Version:        s.version,
		Bots:           s.Bots(),
		Metrics:        s.metrics,
		HasMetrics:     s.hasMetrics,
		Conn:           s.conn,
		Logs:           s.logs.Entries(),
		Selected:       s.selected,
		HistoryLoading: s.historyLoading,
		Seeded:         s.seeded,
		LastError:      s.lastErr,
	}
}

// Live 推送连接是否在线
func (v *View) Live() bool {
	return v.Conn.Live()
}

// Bot 按 id 查找
func (v *View) Bot(id string) (domain.Bot, bool) {
	for _, b := range v.Bots {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Bot{}, false
}

// SelectedBot 当前选中的 bot
func (v *View) SelectedBot() (domain.Bot, bool) {
	if v.Selected == "" {
		return domain.Bot{}, false
	}
	return v.Bot(v.Selected)
}

// VisibleLogs 展示用日志：有选中 bot 时只返回该 bot 的日志，否则返回全部
func (v *View) VisibleLogs() []domain.LogEntry {
	if v.Selected == "" {
		return v.Logs
	}
	out := make([]domain.LogEntry, 0, len(v.Logs))
	for _, e := range v.Logs {
		if e.BotID == v.Selected {
			out = append(out, e)
		}
	}
	return out
}

// CountByStatus 各状态 bot 数量
func (v *View) CountByStatus() map[domain.BotStatus]int {
	out := make(map[domain.BotStatus]int)
	for _, b := range v.Bots {
		out[b.Status]++
	}
	return out
}
