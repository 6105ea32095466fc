package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInit_WritesToFileOnly(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "botdash.log")

	if err := Init(Config{Level: "debug", OutputFile: file, MaxSize: 1, DisableConsole: true}); err != nil {
		t.Fatalf("初始化日志失败: %v", err)
	}
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	if Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("期望日志级别为 debug，得到 %v", Logger.GetLevel())
	}
	if GetCurrentLogFile() != file {
		t.Errorf("期望当前日志文件 %s，得到 %s", file, GetCurrentLogFile())
	}

	WithField("component", "test").Info("hello-file")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "hello-file") {
		t.Errorf("日志文件中应该包含写入的内容，得到: %q", string(data))
	}
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	if err := Init(Config{Level: "loud", DisableConsole: true}); err != nil {
		t.Fatalf("初始化日志失败: %v", err)
	}
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	if Logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("非法级别应回退到 info，得到 %v", Logger.GetLevel())
	}
}
