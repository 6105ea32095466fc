package engine

import (
	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/snapshot"
)

// Msg 引擎消息；所有状态变化都通过 Reduce 折叠消息完成
type Msg interface {
	isMsg()
}

// SnapshotApplied 全量快照到达；Ticket 是请求发出时领取的时钟值
type SnapshotApplied struct {
	Snapshot snapshot.FleetSnapshot
	Ticket   uint64
}

// SystemUpdateReceived 推送的系统更新
type SystemUpdateReceived struct {
	Metrics     domain.SystemMetrics
	RunningBots []domain.BotPatch
}

// LogReceived 推送的单条日志
type LogReceived struct {
	Entry domain.LogEntry
}

// ConnChanged 推送连接状态变化
type ConnChanged struct {
	State domain.ConnState
}

// ActionAccepted 后端接受了某个操作，本地先展示过渡状态
type ActionAccepted struct {
	BotID  string
	Action domain.Action
}

// LogHistoryLoaded 历史日志请求完成（Err 非空表示失败）
type LogHistoryLoaded struct {
	BotID      string
	Generation uint64
	Entries    []domain.LogEntry
	Err        error
}

// SelectionChanged 用户切换选中的 bot；空字符串表示取消选择
type SelectionChanged struct {
	BotID string
}

// BotCreated 新建 bot 成功
type BotCreated struct {
	Bot domain.Bot
}

// BotDeleted 删除 bot 成功
type BotDeleted struct {
	BotID string
}

// RequestFailed 请求失败，只记录错误，不改动舰队状态
type RequestFailed struct {
	Op  string
	Err error
}

func (SnapshotApplied) isMsg()      {}
func (SystemUpdateReceived) isMsg() {}
func (LogReceived) isMsg()          {}
func (ConnChanged) isMsg()          {}
func (ActionAccepted) isMsg()       {}
func (LogHistoryLoaded) isMsg()     {}
func (SelectionChanged) isMsg()     {}
func (BotCreated) isMsg()           {}
func (BotDeleted) isMsg()           {}
func (RequestFailed) isMsg()        {}

// Effect Reduce 要求引擎执行的副作用
type Effect interface {
	isEffect()
}

// FetchHistory 为选中的 bot 拉取历史日志
type FetchHistory struct {
	BotID      string
	Generation uint64
}

func (FetchHistory) isEffect() {}

// Reduce 把一条消息折叠进状态，返回需要执行的副作用
// 确定性：相同的初始状态与消息序列（以及同一时钟）得到相同结果
func Reduce(s *State, m Msg) []Effect {
	switch m := m.(type) {
	case SnapshotApplied:
		return reduceSnapshot(s, m)
	case SystemUpdateReceived:
		if !s.seeded {
			s.enqueue(m)
			return nil
		}
		reduceSystemUpdate(s, m)
	case LogReceived:
		if !s.seeded {
			s.enqueue(m)
			return nil
		}
		reduceLog(s, m)
	case ConnChanged:
		if s.conn != m.State {
			s.conn = m.State
			s.touch()
		}
	case ActionAccepted:
		tb, ok := s.bots[m.BotID]
		if !ok {
			return nil
		}
		tb.bot.Status = m.Action.PendingStatus()
		tb.stamp = s.clock.Next()
		s.touch()
	case SelectionChanged:
		return reduceSelection(s, m.BotID)
	case LogHistoryLoaded:
		reduceHistory(s, m)
	case BotCreated:
		if m.Bot.ID == "" {
			return nil
		}
		s.putBot(m.Bot.Clone(), s.clock.Next())
		s.touch()
	case BotDeleted:
		if !s.removeBot(m.BotID) {
			return nil
		}
		s.touch()
		if s.selected == m.BotID {
			return reduceSelection(s, "")
		}
	case RequestFailed:
		s.lastErr = m.Err
		s.touch()
	}
	return nil
}

func reduceSnapshot(s *State, m SnapshotApplied) []Effect {
	if m.Ticket < s.lastTicket {
		log.Debugf("丢弃过期快照 ticket=%d < %d", m.Ticket, s.lastTicket)
		return nil
	}
	s.lastTicket = m.Ticket

	present := make(map[string]struct{}, len(m.Snapshot.Bots))
	order := make([]string, 0, len(m.Snapshot.Bots))
	bots := make(map[string]*trackedBot, len(m.Snapshot.Bots))
	for _, b := range m.Snapshot.Bots {
		if b.ID == "" {
			continue
		}
		if _, dup := present[b.ID]; dup {
			continue
		}
		present[b.ID] = struct{}{}
		nb := b.Clone()
		var stamp uint64
		if old, ok := s.bots[b.ID]; ok {
			stamp = old.stamp
			if old.stamp > m.Ticket {
				// 快照请求发出后又收到了更新的实时数据，保留实时字段
				nb.Status = old.bot.Status
				nb.CPUUsage = old.bot.CPUUsage
				nb.MemoryUsage = old.bot.MemoryUsage
				nb.Uptime = old.bot.Clone().Uptime
			}
		}
		bots[b.ID] = &trackedBot{bot: nb, stamp: stamp}
		order = append(order, b.ID)
	}
	// 快照中缺失、但在请求发出后才出现的 bot 保留
	for _, id := range s.order {
		if _, ok := present[id]; ok {
			continue
		}
		if old := s.bots[id]; old.stamp > m.Ticket {
			bots[id] = old
			order = append(order, id)
		}
	}
	s.bots = bots
	s.order = order

	if s.metricsStamp <= m.Ticket || !s.hasMetrics {
		s.metrics = m.Snapshot.Metrics
		s.hasMetrics = true
	}
	s.lastErr = nil
	s.touch()

	if !s.seeded {
		s.seeded = true
		replayPending(s, m.Ticket)
	}
	return nil
}

// replayPending 首个快照落地后重放排队的推送
// 快照请求发出前到达的 system_update 已被快照覆盖，直接丢弃；日志不在快照里，全部保留
func replayPending(s *State, ticket uint64) {
	pending := s.pending
	s.pending = nil
	skipped := 0
	for _, pm := range pending {
		switch m := pm.msg.(type) {
		case SystemUpdateReceived:
			if pm.stamp <= ticket {
				skipped++
				continue
			}
			reduceSystemUpdate(s, m)
		case LogReceived:
			reduceLog(s, m)
		}
	}
	if skipped > 0 {
		log.Debugf("丢弃 %d 个早于快照的排队 system_update", skipped)
	}
}

func reduceSystemUpdate(s *State, m SystemUpdateReceived) {
	s.metrics = m.Metrics
	s.hasMetrics = true
	s.metricsStamp = s.clock.Next()
	for _, p := range m.RunningBots {
		tb, ok := s.bots[p.ID]
		if !ok || p.IsEmpty() {
			continue
		}
		tb.bot.ApplyPatch(p)
		tb.stamp = s.clock.Next()
	}
	s.touch()
}

func reduceLog(s *State, m LogReceived) {
	// 同一条日志可能既在历史里又被推送过
	if m.Entry.ID != "" && s.logs.Contains(m.Entry.ID) {
		return
	}
	s.logs.PushFront(m.Entry)
	if s.historyLoading && m.Entry.BotID == s.selected {
		s.liveDuringLoad = append([]domain.LogEntry{m.Entry}, s.liveDuringLoad...)
		if len(s.liveDuringLoad) > s.logs.Cap() {
			s.liveDuringLoad = s.liveDuringLoad[:s.logs.Cap()]
		}
	}
	s.touch()
}

func reduceSelection(s *State, id string) []Effect {
	s.selected = id
	s.selGen++
	s.liveDuringLoad = nil
	s.historyLoading = id != ""
	s.touch()
	if id == "" {
		return nil
	}
	return []Effect{FetchHistory{BotID: id, Generation: s.selGen}}
}

func reduceHistory(s *State, m LogHistoryLoaded) {
	if m.Generation != s.selGen || m.BotID != s.selected {
		log.Debugf("丢弃过期历史日志 bot=%s gen=%d (当前 %s/%d)", m.BotID, m.Generation, s.selected, s.selGen)
		return
	}
	s.historyLoading = false
	live := s.liveDuringLoad
	s.liveDuringLoad = nil

	if m.Err != nil {
		s.lastErr = m.Err
		s.touch()
		return
	}

	seen := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		seen[e.ID] = struct{}{}
	}
	merged := make([]domain.LogEntry, 0, len(live)+len(m.Entries))
	for _, e := range live {
		if _, dup := seen[e.ID]; !dup {
			merged = append(merged, e)
		}
	}
	merged = append(merged, m.Entries...)
	s.logs.Replace(merged)
	s.touch()
}
