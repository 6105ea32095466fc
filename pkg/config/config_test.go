package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return p
}

func TestLoadFromFile_Defaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("默认配置应该合法: %v", err)
	}
	if cfg.Client.LogCapacity != 500 {
		t.Errorf("期望默认日志容量 500，得到 %d", cfg.Client.LogCapacity)
	}
	if cfg.Client.LogHistoryLimit != 100 {
		t.Errorf("期望默认历史条数 100，得到 %d", cfg.Client.LogHistoryLimit)
	}
	if cfg.Server.BroadcastInterval != 5*time.Second {
		t.Errorf("期望默认推送间隔 5s，得到 %v", cfg.Server.BroadcastInterval)
	}
}

func TestLoadFromFile_YAMLThenEnv(t *testing.T) {
	p := writeFile(t, "botdash.yaml", `
client:
  api_url: http://fleet.local/api
  ws_url: wss://fleet.local/ws
  request_timeout: 3s
  retry_count: 0
  log_history_limit: 50
server:
  broadcast_interval: 1s
log:
  level: debug
`)
	t.Setenv("BOTDASH_LOG_HISTORY_LIMIT", "75")

	cfg, err := LoadFromFile(p)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Client.APIURL != "http://fleet.local/api" {
		t.Errorf("api_url 未从文件加载: %s", cfg.Client.APIURL)
	}
	if cfg.Client.RequestTimeout != 3*time.Second {
		t.Errorf("request_timeout 期望 3s，得到 %v", cfg.Client.RequestTimeout)
	}
	if cfg.Client.RetryCount != 0 {
		t.Errorf("retry_count 显式为 0 时应保留 0，得到 %d", cfg.Client.RetryCount)
	}
	if cfg.Client.LogHistoryLimit != 75 {
		t.Errorf("环境变量应覆盖配置文件，期望 75，得到 %d", cfg.Client.LogHistoryLimit)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level 期望 debug，得到 %s", cfg.Log.Level)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported ext", "cfg.toml", "a = 1"},
		{"bad duration", "cfg.yaml", "client:\n  reconnect_delay: soon\n"},
		{"bad ws scheme", "cfg.json", `{"client":{"ws_url":"http://x/ws"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromFile(writeFile(t, tt.file, tt.content)); err == nil {
				t.Errorf("期望返回错误")
			}
		})
	}
}
