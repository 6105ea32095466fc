package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
)

func infoMessages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestPlainReporter_PrintsOnlyNewLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := newPlainReporter(logrus.NewEntry(logger), func() int64 { return 3 })

	v1 := testView("")
	r.report(v1)
	assert.Equal(t, []string{"stream: connected", "[WARNING] alpha is warm", "[INFO] beta says hi"}, infoMessages(hook))

	// 同一版本不重复输出
	hook.Reset()
	r.report(v1)
	assert.Empty(t, hook.AllEntries())

	v2 := testView("")
	v2.Version = 2
	v2.Logs = append([]domain.LogEntry{{ID: "l3", BotID: "b1", Level: "ERROR", Message: "boom"}}, v2.Logs...)
	r.report(v2)
	assert.Equal(t, []string{"[ERROR] boom"}, infoMessages(hook))

	var summary *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.DebugLevel {
			summary = e
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, int64(3), summary.Data["dropped"])
	assert.Equal(t, 1, summary.Data["running"])
}

func TestPlainReporter_ConnChangeAndNilView(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := newPlainReporter(logrus.NewEntry(logger), nil)

	r.report(nil)
	assert.Empty(t, hook.AllEntries())

	v := &engine.View{Version: 1, Conn: domain.ConnDisconnected}
	r.report(v)
	assert.Equal(t, []string{"stream: disconnected"}, infoMessages(hook))
}
