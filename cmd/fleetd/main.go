package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/fleetd"
	"github.com/betbot/botdash/internal/metrics"
	"github.com/betbot/botdash/pkg/config"
	"github.com/betbot/botdash/pkg/logger"
	"github.com/betbot/botdash/pkg/shutdown"
)

func main() {
	// .env 可选，缺失时使用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("BOTDASH_CONFIG"), "配置文件路径（yaml/json，可选）")
		listenAddr = flag.String("listen", "", "HTTP 监听地址（覆盖配置）")
		dbPath     = flag.String("db", "", "SQLite 文件路径（覆盖配置）")
		logStore   = flag.String("log-store", "", "Badger 日志目录（覆盖配置）")
		debugAddr  = flag.String("debug-addr", os.Getenv("FLEETD_DEBUG_ADDR"), "expvar/pprof 监听地址（为空不启用）")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *logStore != "" {
		cfg.Server.LogStoreDir = *logStore
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	repo, err := fleetd.OpenBotRepo(cfg.Server.DBPath)
	if err != nil {
		logger.Errorf("打开数据库失败: %v", err)
		os.Exit(1)
	}
	logs, err := fleetd.OpenLogStore(fleetd.LogStoreOptions{Dir: cfg.Server.LogStoreDir})
	if err != nil {
		_ = repo.Close()
		logger.Errorf("打开日志存储失败: %v", err)
		os.Exit(1)
	}

	srv, err := fleetd.New(fleetd.Config{
		BroadcastInterval: cfg.Server.BroadcastInterval,
		RestartPause:      time.Second,
	}, repo, logs)
	if err != nil {
		logger.Errorf("初始化服务失败: %v", err)
		os.Exit(1)
	}
	srv.Start()

	debugCtx, stopDebug := context.WithCancel(context.Background())
	defer stopDebug()
	if *debugAddr != "" {
		if _, err := metrics.StartAsync(debugCtx, *debugAddr); err != nil {
			logger.Warnf("debug server 启动失败: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 逆序关闭：HTTP → 推送 → 日志存储 → 数据库
	sm := shutdown.NewManager()
	sm.OnShutdown("sqlite", func(context.Context) { _ = repo.Close() })
	sm.OnShutdown("badger", func(context.Context) { _ = logs.Close() })
	sm.OnShutdown("fleetd", func(context.Context) { _ = srv.Close() })
	sm.OnShutdown("http", func(ctx context.Context) { _ = httpSrv.Shutdown(ctx) })

	go func() {
		logger.Infof("fleetd 监听 %s (db=%s, logs=%s)", cfg.Server.ListenAddr, cfg.Server.DBPath, cfg.Server.LogStoreDir)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sm.Shutdown(ctx)
	logger.Info("fleetd stopped")
}
