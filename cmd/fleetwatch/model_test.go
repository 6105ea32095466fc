package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/internal/action"
	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
)

type fakeController struct {
	mu       sync.Mutex
	selected []string
	actions  []string
	err      error
}

func (f *fakeController) SelectBot(botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, botID)
	return nil
}

func (f *fakeController) Refresh(context.Context) error { return f.err }

func (f *fakeController) PerformAction(_ context.Context, botID string, a domain.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, string(a)+":"+botID)
	return f.err
}

func testView(selected string) *engine.View {
	return &engine.View{
		Version: 1,
		Bots: []domain.Bot{
			{ID: "b1", Name: "alpha", Type: domain.BotTypeGeneral, Status: domain.BotStatusRunning},
			{ID: "b2", Name: "beta", Type: domain.BotTypeGeneral, Status: domain.BotStatusStopped},
		},
		Conn:     domain.ConnConnected,
		Selected: selected,
		Seeded:   true,
		Logs: []domain.LogEntry{
			{ID: "l2", BotID: "b2", Level: "INFO", Message: "beta says hi"},
			{ID: "l1", BotID: "b1", Level: "warn", Message: "alpha is warm"},
		},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	require.True(t, ok)
	return nm, cmd
}

func TestModel_CursorSelectsBot(t *testing.T) {
	ctl := &fakeController{}
	m := newModel(ctl, testView(""), nil)
	m.cursor = -1

	m, cmd := update(t, m, key("down"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 0, m.cursor)

	m, cmd = update(t, m, key("down"))
	cmd()
	m, cmd = update(t, m, key("down"))
	cmd()
	assert.Equal(t, 1, m.cursor, "光标不能越过最后一行")

	_, cmd = update(t, m, key("esc"))
	cmd()
	assert.Equal(t, []string{"b1", "b2", "b2", ""}, ctl.selected)
}

func TestModel_ViewUpdateFollowsSelection(t *testing.T) {
	m := newModel(&fakeController{}, testView(""), nil)
	m, _ = update(t, m, viewMsg{view: testView("b2")})
	assert.Equal(t, 1, m.cursor)

	m, _ = update(t, m, viewMsg{view: testView("gone")})
	assert.Equal(t, -1, m.cursor)
}

func TestModel_ActionRequiresSelection(t *testing.T) {
	ctl := &fakeController{}
	m := newModel(ctl, testView(""), nil)

	m, cmd := update(t, m, key("s"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.notice, "选择")
	assert.Empty(t, ctl.actions)
}

func TestModel_ActionDispatch(t *testing.T) {
	ctl := &fakeController{}
	m := newModel(ctl, testView("b2"), nil)

	m, cmd := update(t, m, key("x"))
	require.NotNil(t, cmd)
	done, ok := cmd().(actionDoneMsg)
	require.True(t, ok)
	assert.NoError(t, done.err)
	assert.Equal(t, []string{"stop:b2"}, ctl.actions)

	m, _ = update(t, m, done)
	assert.Contains(t, m.notice, "完成")
}

func TestModel_ActionFailureNotice(t *testing.T) {
	ctl := &fakeController{err: &action.RefreshError{BotID: "b1", Action: domain.ActionStart, Err: errors.New("timeout")}}
	m := newModel(ctl, testView("b1"), nil)

	_, cmd := update(t, m, key("s"))
	done := cmd().(actionDoneMsg)
	m, _ = update(t, m, done)
	assert.Contains(t, m.notice, "刷新失败")
}

func TestModel_RenderShowsSelectedLogsOnly(t *testing.T) {
	m := newModel(&fakeController{}, testView("b1"), nil)
	m.cursor = 0
	out := m.View()

	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "alpha is warm")
	assert.NotContains(t, out, "beta says hi")
	assert.Contains(t, out, "WARNING")
}

func TestModel_WaitForUpdateQuitsOnClose(t *testing.T) {
	ch := make(chan *engine.View)
	close(ch)
	m := newModel(&fakeController{}, nil, ch)
	_, ok := m.waitForUpdate()().(tea.QuitMsg)
	assert.True(t, ok)
	assert.Equal(t, "等待数据...", m.View())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.True(t, strings.HasSuffix(truncate("机器人日志很长", 4), "…"))
	assert.Equal(t, "", truncate("abc", 0))
}
