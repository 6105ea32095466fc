package action

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
	"github.com/betbot/botdash/internal/fleetapi"
	"github.com/betbot/botdash/internal/snapshot"
)

type fakeAPI struct {
	actionErr error
	deleteErr error
	created   *domain.Bot
	calls     []string
}

func (f *fakeAPI) PerformAction(ctx context.Context, botID string, action domain.Action) error {
	f.calls = append(f.calls, string(action)+":"+botID)
	return f.actionErr
}

func (f *fakeAPI) CreateBot(ctx context.Context, spec domain.BotSpec) (*domain.Bot, error) {
	f.calls = append(f.calls, "create:"+spec.Name)
	return f.created, nil
}

func (f *fakeAPI) UpdateBot(ctx context.Context, botID string, spec domain.BotSpec) (*domain.Bot, error) {
	f.calls = append(f.calls, "update:"+botID)
	b := *f.created
	b.Name = spec.Name
	return &b, nil
}

func (f *fakeAPI) DeleteBot(ctx context.Context, botID string) error {
	f.calls = append(f.calls, "delete:"+botID)
	return f.deleteErr
}

type fakeReconciler struct {
	mu         sync.Mutex
	applied    []engine.Msg
	posted     []engine.Msg
	refreshErr error
	refreshes  int
}

func (f *fakeReconciler) Apply(ctx context.Context, m engine.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, m)
	return nil
}

func (f *fakeReconciler) Post(m engine.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, m)
	return nil
}

func (f *fakeReconciler) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func TestPerform_AcceptedAppliesPendingThenRefreshes(t *testing.T) {
	api := &fakeAPI{}
	rec := &fakeReconciler{}
	d := NewDispatcher(api, rec)

	require.NoError(t, d.Perform(context.Background(), "b1", domain.ActionRestart))

	assert.Equal(t, []string{"restart:b1"}, api.calls)
	require.Len(t, rec.applied, 1)
	assert.Equal(t, engine.ActionAccepted{BotID: "b1", Action: domain.ActionRestart}, rec.applied[0])
	assert.Equal(t, 1, rec.refreshes)
	assert.Empty(t, rec.posted)
}

func TestPerform_RejectedLeavesStateAlone(t *testing.T) {
	rejected := &fleetapi.APIError{StatusCode: 400, Detail: "Bot is not running"}
	api := &fakeAPI{actionErr: rejected}
	rec := &fakeReconciler{}
	d := NewDispatcher(api, rec)

	err := d.Perform(context.Background(), "b1", domain.ActionStop)

	var apiErr *fleetapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bot is not running", apiErr.Detail)
	assert.Empty(t, rec.applied)
	assert.Zero(t, rec.refreshes)
	require.Len(t, rec.posted, 1)
	assert.IsType(t, engine.RequestFailed{}, rec.posted[0])
}

func TestPerform_RefreshFailureIsReported(t *testing.T) {
	down := errors.New("connection reset")
	rec := &fakeReconciler{refreshErr: down}
	d := NewDispatcher(&fakeAPI{}, rec)

	err := d.Perform(context.Background(), "b1", domain.ActionStart)

	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "accepted but refresh failed")
	require.Len(t, rec.applied, 1, "过渡状态已经应用")
}

func TestPerform_UnknownAction(t *testing.T) {
	api := &fakeAPI{}
	d := NewDispatcher(api, &fakeReconciler{})
	err := d.Perform(context.Background(), "b1", domain.Action("kill"))
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Empty(t, api.calls)
}

func TestCreateUpdateDelete(t *testing.T) {
	api := &fakeAPI{created: &domain.Bot{ID: "new", Name: "n", Type: domain.BotTypeGeneral, Status: domain.BotStatusStopped, Command: "run"}}
	rec := &fakeReconciler{}
	d := NewDispatcher(api, rec)
	ctx := context.Background()

	_, err := d.Create(ctx, domain.BotSpec{Name: "n"})
	require.Error(t, err, "缺少 command / bot_type 时不应发请求")
	assert.Empty(t, api.calls)

	bot, err := d.Create(ctx, domain.BotSpec{Name: "n", Type: domain.BotTypeGeneral, Command: "run"})
	require.NoError(t, err)
	assert.Equal(t, "new", bot.ID)

	_, err = d.Update(ctx, "new", domain.BotSpec{Name: "renamed"})
	require.NoError(t, err)

	require.NoError(t, d.Delete(ctx, "new"))

	require.Len(t, rec.applied, 3)
	assert.Equal(t, engine.BotCreated{Bot: *bot}, rec.applied[0])
	assert.Equal(t, "renamed", rec.applied[1].(engine.BotCreated).Bot.Name)
	assert.Equal(t, engine.BotDeleted{BotID: "new"}, rec.applied[2])
}

// 端到端：后端以 404 拒绝 stop，状态保持 running，错误带有后端的 detail
func TestPerform_RejectedStopAgainstBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/bots":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "b1", "name": "one", "bot_type": "general", "status": "running", "cpu_usage": 3.0, "memory_usage": 4.0, "command": "x"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/system/metrics":
			_ = json.NewEncoder(w).Encode(map[string]any{"cpu_usage": 1, "memory_usage": 2, "disk_usage": 3, "active_bots": 1, "total_bots": 1})
		case r.Method == http.MethodPost && r.URL.Path == "/api/bots/b1/stop":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"detail": "bot not found"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := fleetapi.NewClient(fleetapi.Options{BaseURL: srv.URL + "/api"})
	eng := engine.New(snapshot.NewFetcher(client), engine.Options{})
	eng.Start()
	defer eng.Close()
	require.NoError(t, eng.Refresh(context.Background()))

	d := NewDispatcher(client, eng)
	err := d.Perform(context.Background(), "b1", domain.ActionStop)

	var apiErr *fleetapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "bot not found", apiErr.Detail)

	b1, ok := eng.View().Bot("b1")
	require.True(t, ok)
	assert.Equal(t, domain.BotStatusRunning, b1.Status)

	require.Eventually(t, func() bool { return eng.View().LastError != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "bot not found", eng.View().LastError.Error())
}
