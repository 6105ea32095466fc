package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/internal/domain"
)

func TestDecodeFrame_SystemUpdate(t *testing.T) {
	raw := `{"type":"system_update","data":{
		"metrics":{"timestamp":"2024-05-01T10:00:00","cpu_usage":12.5,"memory_usage":40,"disk_usage":70,"active_bots":1,"total_bots":2},
		"running_bots":[{"id":"b2","status":"running","cpu_usage":15,"uptime":"0:05:00"},{"id":"b3","memory_usage":1.5,"uptime":null}]
	}}`

	ev, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)
	su, ok := ev.(SystemUpdate)
	require.True(t, ok, "期望 SystemUpdate，得到 %T", ev)

	assert.Equal(t, 12.5, su.Metrics.CPUUsage)
	assert.Equal(t, 2, su.Metrics.TotalBots)
	require.Len(t, su.RunningBots, 2)

	b2 := su.RunningBots[0]
	assert.Equal(t, "b2", b2.ID)
	require.NotNil(t, b2.Status)
	assert.Equal(t, domain.BotStatusRunning, *b2.Status)
	require.NotNil(t, b2.CPUUsage)
	assert.Equal(t, 15.0, *b2.CPUUsage)
	assert.Nil(t, b2.MemoryUsage, "未传输的字段必须保持 nil")
	require.NotNil(t, b2.Uptime)
	assert.Equal(t, "0:05:00", b2.Uptime.String())

	b3 := su.RunningBots[1]
	assert.Nil(t, b3.Status)
	assert.Nil(t, b3.Uptime)
	require.NotNil(t, b3.MemoryUsage)
}

func TestDecodeFrame_UnknownStatusIsStripped(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"system_update","data":{"metrics":{},"running_bots":[{"id":"b1","status":"zombie","cpu_usage":1}]}}`))
	require.NoError(t, err)
	p := ev.(SystemUpdate).RunningBots[0]
	assert.Nil(t, p.Status)
	assert.NotNil(t, p.CPUUsage)
}

func TestDecodeFrame_Log(t *testing.T) {
	raw := `{"type":"log","data":{"id":"l1","bot_id":"b1","source":"bot","timestamp":"2024-05-01T10:00:01.5Z","level":"WARN","message":"disk almost full"}}`
	ev, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)
	lp, ok := ev.(LogPushed)
	require.True(t, ok)
	assert.Equal(t, "l1", lp.Entry.ID)
	assert.Equal(t, "b1", lp.Entry.BotID)
	assert.Equal(t, domain.LogLevelWarning, lp.Entry.Level.Normalize())
	assert.Equal(t, "disk almost full", lp.Entry.Message)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{type:`},
		{"unknown type", `{"type":"bot_created","data":{}}`},
		{"missing data", `{"type":"log"}`},
		{"null data", `{"type":"system_update","data":null}`},
		{"missing metrics", `{"type":"system_update","data":{"running_bots":[]}}`},
		{"bot without id", `{"type":"system_update","data":{"metrics":{},"running_bots":[{"cpu_usage":1}]}}`},
		{"bad field type", `{"type":"system_update","data":{"metrics":{"cpu_usage":"high"}}}`},
		{"log without id", `{"type":"log","data":{"bot_id":"b1","message":"x","timestamp":"2024-05-01T10:00:00"}}`},
		{"log without message", `{"type":"log","data":{"id":"l1","bot_id":"b1","timestamp":"2024-05-01T10:00:00"}}`},
		{"bad timestamp", `{"type":"log","data":{"id":"l1","message":"x","timestamp":"yesterday"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeFrame([]byte(tt.raw))
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, ErrMalformedFrame), "期望 ErrMalformedFrame，得到 %v", err)
		})
	}
}

func TestConfigBackoff(t *testing.T) {
	cfg := (&Config{ReconnectDelay: 2 * time.Second, MaxReconnectDelay: 5 * time.Second}).withDefaults()
	assert.Equal(t, 2*time.Second, cfg.backoff(1))
	assert.Equal(t, 4*time.Second, cfg.backoff(2))
	assert.Equal(t, 5*time.Second, cfg.backoff(3), "退避上限")
	assert.Equal(t, 5*time.Second, cfg.backoff(1000))
	assert.Equal(t, 3*cfg.PingInterval, cfg.PongTimeout)
}
