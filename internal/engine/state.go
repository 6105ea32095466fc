package engine

import (
	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/logbuf"
)

// MaxPendingEvents 首个快照到达前最多排队的推送事件数
const MaxPendingEvents = 4096

// pendingMsg 排队中的推送及其到达时的时钟值
type pendingMsg struct {
	msg   Msg
	stamp uint64
}

type trackedBot struct {
	bot   domain.Bot
	stamp uint64 // 最近一次实时更新（推送 / 乐观状态）的时钟值
}

// State 客户端持有的全部舰队状态，只允许引擎 goroutine（或测试中的单个调用方）修改
type State struct {
	clock *Clock

	order []string
	bots  map[string]*trackedBot

	metrics      domain.SystemMetrics
	hasMetrics   bool
	metricsStamp uint64

	conn domain.ConnState
	logs *logbuf.Ring

	selected string
	selGen   uint64
	// 历史日志请求进行中时，记录期间到达的所选 bot 的实时日志（最新在前）
	historyLoading bool
	liveDuringLoad []domain.LogEntry

	seeded     bool
	lastTicket uint64
	pending    []pendingMsg

	lastErr error
	version uint64
}

// NewState 创建空状态；capacity <= 0 时使用默认日志容量
func NewState(capacity int, clock *Clock) *State {
	if clock == nil {
		clock = &Clock{}
	}
	return &State{
		clock: clock,
		bots:  make(map[string]*trackedBot),
		conn:  domain.ConnDisconnected,
		logs:  logbuf.New(capacity),
	}
}

// Version 每次状态变化递增
func (s *State) Version() uint64 { return s.version }

// Bot 按 id 查找（返回副本）
func (s *State) Bot(id string) (domain.Bot, bool) {
	tb, ok := s.bots[id]
	if !ok {
		return domain.Bot{}, false
	}
	return tb.bot.Clone(), true
}

// Bots 按快照顺序返回全部 bot 副本
func (s *State) Bots() []domain.Bot {
	out := make([]domain.Bot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.bots[id].bot.Clone())
	}
	return out
}

// Metrics 当前系统指标
func (s *State) Metrics() (domain.SystemMetrics, bool) { return s.metrics, s.hasMetrics }

// Conn 当前连接状态
func (s *State) Conn() domain.ConnState { return s.conn }

// Logs 全局日志（最新在前）
func (s *State) Logs() []domain.LogEntry { return s.logs.Entries() }

// Selected 当前选中的 bot
func (s *State) Selected() string { return s.selected }

// Generation 当前选择代数
func (s *State) Generation() uint64 { return s.selGen }

// Seeded 是否已应用过快照
func (s *State) Seeded() bool { return s.seeded }

// PendingLen 排队中的推送事件数量
func (s *State) PendingLen() int { return len(s.pending) }

func (s *State) touch() { s.version++ }

func (s *State) putBot(b domain.Bot, stamp uint64) {
	if tb, ok := s.bots[b.ID]; ok {
		tb.bot = b
		tb.stamp = stamp
		return
	}
	s.bots[b.ID] = &trackedBot{bot: b, stamp: stamp}
	s.order = append(s.order, b.ID)
}

func (s *State) removeBot(id string) bool {
	if _, ok := s.bots[id]; !ok {
		return false
	}
	delete(s.bots, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// enqueue 首个快照前排队，记录到达时的时钟值；溢出时优先丢弃最旧的 system_update
func (s *State) enqueue(m Msg) {
	if len(s.pending) >= MaxPendingEvents {
		drop := 0
		for i, pm := range s.pending {
			if _, ok := pm.msg.(SystemUpdateReceived); ok {
				drop = i
				break
			}
		}
		log.Warnf("快照前事件队列已满 (%d)，丢弃第 %d 个排队事件 (%T)", MaxPendingEvents, drop, s.pending[drop].msg)
		s.pending = append(s.pending[:drop], s.pending[drop+1:]...)
	}
	s.pending = append(s.pending, pendingMsg{msg: m, stamp: s.clock.Next()})
}
