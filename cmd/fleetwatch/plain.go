package main

import (
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/engine"
)

// plainReporter 非终端环境下按行输出：连接状态变化、视图摘要（debug）、新增日志
// report 由 Session.Watch 串行调用
type plainReporter struct {
	log     *logrus.Entry
	dropped func() int64

	lastConn    domain.ConnState
	lastLogID   string
	lastVersion uint64
}

func newPlainReporter(log *logrus.Entry, dropped func() int64) *plainReporter {
	return &plainReporter{log: log, dropped: dropped}
}

func (r *plainReporter) report(v *engine.View) {
	if v == nil || v.Version == r.lastVersion {
		return
	}
	r.lastVersion = v.Version
	if v.Conn != r.lastConn {
		r.lastConn = v.Conn
		r.log.Infof("stream: %s", v.Conn)
	}

	counts := v.CountByStatus()
	fields := logrus.Fields{"bots": len(v.Bots), "running": counts[domain.BotStatusRunning]}
	if r.dropped != nil {
		fields["dropped"] = r.dropped()
	}
	if v.HasMetrics {
		fields["cpu"] = v.Metrics.CPUUsage
		fields["mem"] = v.Metrics.MemoryUsage
	}
	if v.LastError != nil {
		fields["last_error"] = v.LastError.Error()
	}
	r.log.WithFields(fields).Debug("view updated")

	// 最新在前：打印上次之后新增的部分，按时间顺序输出
	logs := v.VisibleLogs()
	fresh := 0
	for fresh < len(logs) && logs[fresh].ID != r.lastLogID {
		fresh++
	}
	for i := fresh - 1; i >= 0; i-- {
		e := logs[i]
		r.log.WithField("bot", e.BotID).Infof("[%s] %s", e.Level.Normalize(), e.Message)
	}
	if len(logs) > 0 {
		r.lastLogID = logs[0].ID
	}
}
