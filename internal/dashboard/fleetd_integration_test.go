package dashboard

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/fleetapi"
	"github.com/betbot/botdash/internal/fleetd"
	"github.com/betbot/botdash/pkg/config"
)

func startFleetd(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := fleetd.OpenBotRepo(":memory:")
	require.NoError(t, err)
	logs, err := fleetd.OpenLogStore(fleetd.LogStoreOptions{InMemory: true})
	require.NoError(t, err)
	srv, err := fleetd.New(fleetd.Config{
		BroadcastInterval: 50 * time.Millisecond,
		HostStats: func(context.Context) (fleetd.HostStats, error) {
			return fleetd.HostStats{CPU: 10, Memory: 20, Disk: 30}, nil
		},
	}, repo, logs)
	require.NoError(t, err)
	srv.Start()

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
		logs.Close()
		repo.Close()
	})
	return hs
}

func TestSession_AgainstFleetd(t *testing.T) {
	hs := startFleetd(t)
	cfg := config.Default().Client
	cfg.APIURL = hs.URL + "/api"
	cfg.WSURL = "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"

	s, err := NewSession(cfg)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Empty(t, s.View().Bots)

	bot, err := s.CreateBot(ctx, domain.BotSpec{Name: "worker", Type: domain.BotTypeWebhook, Command: "node index.js"})
	require.NoError(t, err)
	_, ok := s.View().Bot(bot.ID)
	require.True(t, ok, "创建结果立即进入本地表")

	require.NoError(t, s.SelectBot(bot.ID))
	require.NoError(t, s.PerformAction(ctx, bot.ID, domain.ActionStart))
	b, _ := s.View().Bot(bot.ID)
	assert.Equal(t, domain.BotStatusRunning, b.Status)

	// 周期推送带来实时指标
	require.Eventually(t, func() bool {
		v := s.View()
		b, _ := v.Bot(bot.ID)
		return v.Live() && v.Metrics.ActiveBots == 1 && b.Uptime != nil
	}, 3*time.Second, 20*time.Millisecond)

	// 生命周期日志通过推送到达，并且只显示选中 bot 的日志
	require.Eventually(t, func() bool {
		for _, e := range s.View().VisibleLogs() {
			if strings.Contains(e.Message, "started successfully") {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	err = s.PerformAction(ctx, bot.ID, domain.ActionStart)
	var apiErr *fleetapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bot is already running", apiErr.Detail)
	b, _ = s.View().Bot(bot.ID)
	assert.Equal(t, domain.BotStatusRunning, b.Status)

	require.NoError(t, s.DeleteBot(ctx, bot.ID))
	assert.Empty(t, s.View().Bots)
	assert.Empty(t, s.View().Selected)
}
