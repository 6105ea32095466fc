package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestUptime_RoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		out  string
	}{
		{"0:05:00", 5 * time.Minute, "0:05:00"},
		{"12:00:01.734512", 12*time.Hour + time.Second, "12:00:01"},
		{"1 day, 2:03:04", 26*time.Hour + 3*time.Minute + 4*time.Second, "1 day, 2:03:04"},
		{"3 days, 0:00:00", 72 * time.Hour, "3 days, 0:00:00"},
	}
	for _, tt := range tests {
		u, err := ParseUptime(tt.in)
		if err != nil {
			t.Fatalf("解析 %q 失败: %v", tt.in, err)
		}
		if u.Duration() != tt.want {
			t.Errorf("%q: 期望 %v，得到 %v", tt.in, tt.want, u.Duration())
		}
		if u.String() != tt.out {
			t.Errorf("%q: 期望格式化为 %q，得到 %q", tt.in, tt.out, u.String())
		}
	}

	for _, bad := range []string{"", "5m", "1:2", "x:00:00", "0:61:00", "two days, 0:00:00"} {
		if _, err := ParseUptime(bad); err == nil {
			t.Errorf("%q 应该解析失败", bad)
		}
	}
}

func TestBot_DecodeBackendPayload(t *testing.T) {
	raw := `{"id":"b2","name":"relay","bot_type":"discord","status":"running",
		"cpu_usage":10.0,"memory_usage":20.0,"uptime":"0:05:00","command":"python bot.py",
		"port":null,"pid":4242,"environment_vars":{"TOKEN":"x"},
		"created_at":"2024-05-01T10:00:00.123456","last_started":null}`

	var b Bot
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if b.Uptime == nil || b.Uptime.Duration() != 5*time.Minute {
		t.Errorf("uptime 解码错误: %v", b.Uptime)
	}
	if b.CreatedAt == nil || b.CreatedAt.Year() != 2024 || b.CreatedAt.Location() != time.UTC {
		t.Errorf("不带时区的时间应按 UTC 解析: %v", b.CreatedAt)
	}
	if b.LastStarted != nil {
		t.Errorf("null 时间应保持 nil")
	}
	if b.Port != nil {
		t.Errorf("null port 应保持 nil")
	}
	m, ok := b.LiveMetrics()
	if !ok || m.CPUUsage != 10 || m.MemoryUsage != 20 {
		t.Errorf("running bot 应返回实时指标，得到 %+v ok=%v", m, ok)
	}
}

func TestBot_ApplyPatchSparse(t *testing.T) {
	up := NewUptime(5 * time.Minute)
	b := Bot{ID: "b2", Status: BotStatusRunning, CPUUsage: 10, MemoryUsage: 20, Uptime: &up, Command: "run"}

	cpu := 15.0
	if !b.ApplyPatch(BotPatch{ID: "b2", CPUUsage: &cpu}) {
		t.Fatalf("cpu 变化应返回 changed=true")
	}
	if b.CPUUsage != 15 || b.MemoryUsage != 20 || b.Uptime.Duration() != 5*time.Minute || b.Command != "run" {
		t.Errorf("稀疏合并只应覆盖传入字段，得到 %+v", b)
	}
	if b.ApplyPatch(BotPatch{ID: "b2", CPUUsage: &cpu}) {
		t.Errorf("相同值不应报告变化")
	}
}

func TestBot_CloneIsDeep(t *testing.T) {
	port := 8080
	b := Bot{ID: "b1", Port: &port, EnvironmentVars: map[string]string{"A": "1"}}
	c := b.Clone()
	*c.Port = 9090
	c.EnvironmentVars["A"] = "2"
	if *b.Port != 8080 || b.EnvironmentVars["A"] != "1" {
		t.Errorf("Clone 不应与原对象共享指针或 map")
	}
}

func TestStoppedBotHasNoLiveMetrics(t *testing.T) {
	b := Bot{ID: "b1", Status: BotStatusStopped, CPUUsage: 3}
	if _, ok := b.LiveMetrics(); ok {
		t.Errorf("非 running 状态不应返回实时指标")
	}
}

func TestLogLevel_Normalize(t *testing.T) {
	cases := map[LogLevel]LogLevel{
		"error": LogLevelError, "WARN": LogLevelWarning, "Warning": LogLevelWarning,
		"info": LogLevelInfo, "DEBUG": LogLevelDebug, "TRACE": LogLevelUnknown, "": LogLevelUnknown,
	}
	for in, want := range cases {
		if got := in.Normalize(); got != want {
			t.Errorf("%q: 期望 %q，得到 %q", in, want, got)
		}
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Restart ")
	if err != nil || a != ActionRestart {
		t.Fatalf("期望 restart，得到 %q err=%v", a, err)
	}
	if a.PendingStatus() != BotStatusStarting || ActionStop.PendingStatus() != BotStatusStopping {
		t.Errorf("过渡状态映射错误")
	}
	if _, err := ParseAction("kill"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("未知操作应返回 ErrUnknownAction，得到 %v", err)
	}
}

func TestBotSpec_Validate(t *testing.T) {
	if err := (BotSpec{Name: "a", Command: "run", Type: BotTypeGeneral}).Validate(); err != nil {
		t.Errorf("合法请求不应报错: %v", err)
	}
	if err := (BotSpec{Command: "run", Type: BotTypeGeneral}).Validate(); !errors.Is(err, ErrNameRequired) {
		t.Errorf("缺少 name 应报错，得到 %v", err)
	}
}
