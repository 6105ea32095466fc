package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/betbot/botdash/internal/dashboard"
	"github.com/betbot/botdash/internal/metrics"
	"github.com/betbot/botdash/pkg/config"
	"github.com/betbot/botdash/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("BOTDASH_CONFIG"), "配置文件路径（yaml/json，可选）")
		apiURL     = flag.String("api", "", "REST 基础地址（覆盖配置）")
		wsURL      = flag.String("ws", "", "推送流地址（覆盖配置）")
		plain      = flag.Bool("plain", false, "不使用 TUI，只按行输出状态变化")
		debugAddr  = flag.String("debug-addr", os.Getenv("BOTDASH_DEBUG_ADDR"), "expvar/pprof 监听地址（为空不启用）")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if *apiURL != "" {
		cfg.Client.APIURL = *apiURL
	}
	if *wsURL != "" {
		cfg.Client.WSURL = *wsURL
	}

	useTUI := !*plain && term.IsTerminal(int(os.Stdout.Fd()))
	logFile := cfg.Log.File
	if useTUI && logFile == "" {
		// TUI 占用终端，日志只能写文件
		logFile = "logs/fleetwatch.log"
	}
	if err := logger.Init(logger.Config{
		Level:          cfg.Log.Level,
		OutputFile:     logFile,
		MaxSize:        cfg.Log.MaxSize,
		MaxBackups:     cfg.Log.MaxBackups,
		MaxAge:         cfg.Log.MaxAge,
		Compress:       cfg.Log.Compress,
		DisableConsole: useTUI,
	}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	debugCtx, stopDebug := context.WithCancel(context.Background())
	defer stopDebug()
	if *debugAddr != "" {
		if _, err := metrics.StartAsync(debugCtx, *debugAddr); err != nil {
			logger.Warnf("debug server 启动失败: %v", err)
		}
	}

	sess, err := dashboard.NewSession(cfg.Client)
	if err != nil {
		logrus.Fatalf("创建会话失败: %v", err)
	}
	defer sess.Close()

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout+5*time.Second)
	if err := sess.Start(startCtx); err != nil {
		// 后端暂时不可用时继续运行，推送恢复后可按 f 重新拉取
		logger.Warnf("首次快照失败，继续等待: %v", err)
	}
	cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	if !useTUI {
		r := newPlainReporter(logger.WithField("component", "fleetwatch"), sess.DroppedFrames)
		stop := sess.Watch(r.report)
		<-stopCh
		stop()
		logger.Info("fleetwatch stopped")
		return
	}

	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(newModel(sess, sess.View(), updates), tea.WithAltScreen())
	go func() {
		<-stopCh
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		logger.Errorf("TUI 退出: %v", err)
	}
}
