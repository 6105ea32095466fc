package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/action"
	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
)

var modelLog = logrus.WithField("component", "fleetwatch.model")

// controller 模型需要的会话能力
type controller interface {
	SelectBot(botID string) error
	Refresh(ctx context.Context) error
	PerformAction(ctx context.Context, botID string, a domain.Action) error
}

type viewMsg struct {
	view *engine.View
}

type actionDoneMsg struct {
	label string
	err   error
}

type tickMsg time.Time

const (
	actionTimeout = 15 * time.Second
	maxLogLines   = 15
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)

	statusStyles = map[domain.BotStatus]lipgloss.Style{
		domain.BotStatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		domain.BotStatusStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		domain.BotStatusStopping: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.BotStatusStopped:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		domain.BotStatusError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	levelStyles = map[domain.LogLevel]lipgloss.Style{
		domain.LogLevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		domain.LogLevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.LogLevelDebug:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
)

type model struct {
	ctl      controller
	view     *engine.View
	updateCh <-chan *engine.View
	cursor   int
	notice   string
	width    int
	height   int
}

func newModel(ctl controller, initial *engine.View, updateCh <-chan *engine.View) model {
	return model{ctl: ctl, view: initial, updateCh: updateCh}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.tick())
}

func (m model) waitForUpdate() tea.Cmd {
	ch := m.updateCh
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return tea.Quit()
		}
		return viewMsg{view: v}
	}
}

// tick 让 uptime 等相对时间每秒重绘一次
func (m model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case viewMsg:
		m.view = msg.view
		m.clampCursor()
		return m, m.waitForUpdate()
	case actionDoneMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render(fmt.Sprintf("%s 失败: %s", msg.label, describeErr(msg.err)))
		} else {
			m.notice = fmt.Sprintf("%s 完成", msg.label)
		}
		return m, nil
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		// Bubble Tea 会拦截 Ctrl+C，主动发一次 SIGINT 让主程序走统一的退出链路
		_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
		return m, tea.Quit
	case "up", "k":
		return m.moveCursor(-1)
	case "down", "j":
		return m.moveCursor(1)
	case "esc":
		m.cursor = -1
		return m, m.selectCmd("")
	case "f":
		return m, m.runCmd("刷新", func(ctx context.Context) error { return m.ctl.Refresh(ctx) })
	case "s":
		return m.actionCmd(domain.ActionStart)
	case "x":
		return m.actionCmd(domain.ActionStop)
	case "r":
		return m.actionCmd(domain.ActionRestart)
	}
	return m, nil
}

func (m model) moveCursor(delta int) (tea.Model, tea.Cmd) {
	if m.view == nil || len(m.view.Bots) == 0 {
		return m, nil
	}
	n := len(m.view.Bots)
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	return m, m.selectCmd(m.view.Bots[m.cursor].ID)
}

func (m *model) clampCursor() {
	if m.view == nil {
		return
	}
	// 以引擎的选中为准，bot 列表变动后光标跟着 id 走
	m.cursor = -1
	for i, b := range m.view.Bots {
		if b.ID == m.view.Selected {
			m.cursor = i
			return
		}
	}
}

func (m model) selectCmd(botID string) tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		if err := ctl.SelectBot(botID); err != nil {
			return actionDoneMsg{label: "选择", err: err}
		}
		return nil
	}
}

func (m model) actionCmd(a domain.Action) (tea.Model, tea.Cmd) {
	if m.view == nil || m.view.Selected == "" {
		m.notice = dimStyle.Render("先用 ↑/↓ 选择一个 bot")
		return m, nil
	}
	botID := m.view.Selected
	label := fmt.Sprintf("%s %s", a, botID)
	m.notice = fmt.Sprintf("%s ...", label)
	return m, m.runCmd(label, func(ctx context.Context) error { return m.ctl.PerformAction(ctx, botID, a) })
}

func (m model) runCmd(label string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := fn(ctx)
		if err != nil {
			modelLog.WithError(err).Warnf("%s 失败", label)
		}
		return actionDoneMsg{label: label, err: err}
	}
}

func describeErr(err error) string {
	var refreshErr *action.RefreshError
	if errors.As(err, &refreshErr) {
		return "已受理，但刷新失败，稍后自动同步"
	}
	return err.Error()
}

func (m model) View() string {
	if m.view == nil {
		return "等待数据..."
	}
	v := m.view
	width := m.width - 4
	if width < 60 {
		width = 60
	}

	sections := []string{
		m.renderHeader(v),
		panelStyle.Width(width).Render(m.renderBots(v, width)),
		panelStyle.Width(width).Render(m.renderLogs(v, width)),
	}
	if m.notice != "" {
		sections = append(sections, m.notice)
	}
	if v.LastError != nil {
		sections = append(sections, errorStyle.Render("最近错误: "+v.LastError.Error()))
	}
	sections = append(sections, dimStyle.Render("↑/↓ 选择  esc 取消选择  s 启动  x 停止  r 重启  f 刷新  q 退出"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) renderHeader(v *engine.View) string {
	conn := string(v.Conn)
	if !v.Live() {
		conn = errorStyle.Render(conn)
	}
	metrics := "metrics: -"
	if v.HasMetrics {
		metrics = fmt.Sprintf("CPU %.1f%% | MEM %.1f%% | DISK %.1f%% | %d/%d running",
			v.Metrics.CPUUsage, v.Metrics.MemoryUsage, v.Metrics.DiskUsage,
			v.Metrics.ActiveBots, v.Metrics.TotalBots)
	}
	title := fmt.Sprintf("Bot Fleet | %s | stream: %s | %s", metrics, conn, time.Now().Format("15:04:05"))
	if !v.Seeded {
		title += " | 加载中"
	}
	return headerStyle.Render(title)
}

func (m model) renderBots(v *engine.View, width int) string {
	var lines []string
	counts := v.CountByStatus()
	lines = append(lines, titleStyle.Render(fmt.Sprintf("Bots (%d)  running:%d stopped:%d error:%d",
		len(v.Bots), counts[domain.BotStatusRunning], counts[domain.BotStatusStopped], counts[domain.BotStatusError])))
	lines = append(lines, strings.Repeat("─", width-4))
	if len(v.Bots) == 0 {
		lines = append(lines, dimStyle.Render("暂无 bot"))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("  %-20s %-10s %-9s %6s %6s %s", "NAME", "TYPE", "STATUS", "CPU%", "MEM%", "UPTIME"))
	for i, b := range v.Bots {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		status := string(b.Status)
		if st, ok := statusStyles[b.Status]; ok {
			status = st.Render(fmt.Sprintf("%-9s", b.Status))
		}
		uptime := "-"
		if b.Uptime != nil {
			uptime = b.Uptime.String()
		}
		lines = append(lines, fmt.Sprintf("%s%-20s %-10s %s %6.1f %6.1f %s",
			prefix, truncate(b.Name, 20), b.Type, status, b.CPUUsage, b.MemoryUsage, uptime))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderLogs(v *engine.View, width int) string {
	var lines []string
	title := "Logs (all bots)"
	if b, ok := v.SelectedBot(); ok {
		title = fmt.Sprintf("Logs (%s)", b.Name)
	}
	if v.HistoryLoading {
		title += " 加载历史..."
	}
	lines = append(lines, titleStyle.Render(title))
	lines = append(lines, strings.Repeat("─", width-4))

	logs := v.VisibleLogs()
	if len(logs) > maxLogLines {
		logs = logs[:maxLogLines]
	}
	if len(logs) == 0 {
		lines = append(lines, dimStyle.Render("暂无日志"))
	}
	for _, e := range logs {
		level := e.Level.Normalize()
		lvl := fmt.Sprintf("%-7s", level)
		if st, ok := levelStyles[level]; ok {
			lvl = st.Render(lvl)
		}
		lines = append(lines, fmt.Sprintf("%s %s %-8s %s",
			e.Timestamp.Local().Format("15:04:05"), lvl, truncate(e.BotID, 8), truncate(e.Message, width-36)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
