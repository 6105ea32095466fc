// Package fleetd 是舰队看板的参考后端：bot 增删改查、模拟生命周期、日志与 /ws 推送
//
// 不托管真实进程，start/stop 只更新状态并分配模拟 PID。
package fleetd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/domain"
)

var log = logrus.WithField("component", "fleetd")

// Version API 版本
const Version = "1.0.0"

// Config 服务配置
type Config struct {
	BroadcastInterval time.Duration // system_update 推送间隔，默认 5s
	RestartPause      time.Duration // restart 时 stop 与 start 之间的停顿
	HostStats         HostStatsFunc // 默认 gopsutil
}

// Server 参考后端
type Server struct {
	cfg       Config
	bots      *BotRepo
	logs      *LogStore
	hub       *Hub
	hostStats HostStatsFunc
	now       func() time.Time

	// 同一 bot 的生命周期操作串行执行
	lifecycleMu sync.Mutex

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New 创建服务；bots 与 logs 的生命周期由调用方管理
func New(cfg Config, bots *BotRepo, logs *LogStore) (*Server, error) {
	if bots == nil || logs == nil {
		return nil, errors.New("fleetd: bot repo and log store are required")
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 5 * time.Second
	}
	if cfg.HostStats == nil {
		cfg.HostStats = GopsutilHostStats("/")
	}
	return &Server{
		cfg:       cfg,
		bots:      bots,
		logs:      logs,
		hub:       NewHub(),
		hostStats: cfg.HostStats,
		now:       time.Now,
	}, nil
}

// Start 启动周期推送
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.broadcastLoop(ctx)
	}()
}

// Close 停止推送并断开所有 websocket 客户端
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
	}
	s.hub.Close()
	return nil
}

// Router gin 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })

	api := r.Group("/api")
	api.GET("/", s.handleRoot)
	api.GET("/system/metrics", s.handleSystemMetrics)

	api.GET("/bots", s.handleBotsList)
	api.POST("/bots", s.handleBotsCreate)
	bot := api.Group("/bots/:botID")
	bot.GET("", s.handleBotGet)
	bot.PUT("", s.handleBotUpdate)
	bot.DELETE("", s.handleBotDelete)
	bot.POST("/start", s.handleBotStart)
	bot.POST("/stop", s.handleBotStop)
	bot.POST("/restart", s.handleBotRestart)
	bot.GET("/logs", s.handleBotLogs)
	bot.POST("/logs", s.handleBotLogAdd)

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// httpError 带 HTTP 状态的错误，响应体为 {"detail": ...}
type httpError struct {
	status int
	detail string
}

func (e *httpError) Error() string { return e.detail }

func errNotFound() error { return &httpError{status: http.StatusNotFound, detail: "Bot not found"} }

func writeError(c *gin.Context, err error) {
	var he *httpError
	switch {
	case errors.As(err, &he):
		c.JSON(he.status, gin.H{"detail": he.detail})
	case errors.Is(err, ErrBotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Bot not found"})
	default:
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}

func reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 3*time.Second)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Bot Hosting Admin Panel API", "version": Version})
}

func (s *Server) handleSystemMetrics(c *gin.Context) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	m, err := s.systemMetrics(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleBotsList(c *gin.Context) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	bots, err := s.bots.List(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	now := s.now()
	for i := range bots {
		bots[i] = withLiveStats(bots[i], now)
	}
	c.JSON(http.StatusOK, bots)
}

func (s *Server) handleBotGet(c *gin.Context) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := s.bots.Get(ctx, c.Param("botID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, withLiveStats(b, s.now()))
}

func (s *Server) handleBotsCreate(c *gin.Context) {
	var spec domain.BotSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid json body"})
		return
	}
	spec.Name = strings.TrimSpace(spec.Name)
	if err := spec.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if !isKnownType(spec.Type) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": fmt.Sprintf("unknown bot_type %q", spec.Type)})
		return
	}

	created := domain.NewTimestamp(s.now())
	b := domain.Bot{
		ID:               uuid.NewString(),
		Name:             spec.Name,
		Description:      spec.Description,
		Type:             spec.Type,
		Status:           domain.BotStatusStopped,
		Command:          spec.Command,
		WorkingDirectory: spec.WorkingDirectory,
		Port:             spec.Port,
		EnvironmentVars:  spec.EnvironmentVars,
		CreatedAt:        &created,
	}
	if b.WorkingDirectory == "" {
		b.WorkingDirectory = "/app"
	}
	if b.EnvironmentVars == nil {
		b.EnvironmentVars = map[string]string{}
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := s.bots.Insert(ctx, b); err != nil {
		writeError(c, err)
		return
	}
	s.logEvent(b.ID, domain.LogLevelInfo, "api", fmt.Sprintf("Bot '%s' created", b.Name))
	c.JSON(http.StatusCreated, b)
}

func isKnownType(t domain.BotType) bool {
	switch t {
	case domain.BotTypeDiscord, domain.BotTypeTelegram, domain.BotTypeWebhook, domain.BotTypeGeneral:
		return true
	}
	return false
}

func (s *Server) handleBotUpdate(c *gin.Context) {
	var spec domain.BotSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid json body"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := s.bots.Update(ctx, c.Param("botID"), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	s.logEvent(b.ID, domain.LogLevelInfo, "api", fmt.Sprintf("Bot '%s' updated", b.Name))
	c.JSON(http.StatusOK, withLiveStats(b, s.now()))
}

func (s *Server) handleBotDelete(c *gin.Context) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := s.deleteBot(ctx, c.Param("botID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot deleted successfully"})
}

func (s *Server) handleBotStart(c *gin.Context) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	pid, err := s.startBot(ctx, c.Param("botID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot started successfully", "pid": pid})
}

func (s *Server) handleBotStop(c *gin.Context) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := s.stopBot(ctx, c.Param("botID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot stopped successfully"})
}

func (s *Server) handleBotRestart(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second+s.cfg.RestartPause)
	defer cancel()
	pid, err := s.restartBot(ctx, c.Param("botID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot started successfully", "pid": pid})
}

type logQuery struct {
	Limit int    `form:"limit"`
	Level string `form:"level"`
}

func (s *Server) handleBotLogs(c *gin.Context) {
	q := logQuery{Limit: 100}
	if err := c.ShouldBindQuery(&q); err != nil || q.Limit <= 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "limit must be a positive integer"})
		return
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	entries, err := s.logs.Recent(c.Param("botID"), q.Limit, q.Level)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type addLogRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

func (s *Server) handleBotLogAdd(c *gin.Context) {
	var req addLogRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Level) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "level and message are required"})
		return
	}
	if req.Source == "" {
		req.Source = "bot"
	}
	e, err := s.appendLog(c.Param("botID"), domain.LogLevel(req.Level), req.Source, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// appendLog 写入并广播一条日志
func (s *Server) appendLog(botID string, level domain.LogLevel, source, message string) (domain.LogEntry, error) {
	e := domain.LogEntry{
		ID:        uuid.NewString(),
		BotID:     botID,
		Source:    source,
		Timestamp: domain.NewTimestamp(s.now()),
		Level:     level,
		Message:   message,
	}
	if err := s.logs.Append(e); err != nil {
		return domain.LogEntry{}, err
	}
	s.hub.Broadcast(Frame{Type: "log", Data: e})
	return e, nil
}

// logEvent 记录生命周期事件；写入失败只打日志
func (s *Server) logEvent(botID string, level domain.LogLevel, source, message string) {
	if _, err := s.appendLog(botID, level, source, message); err != nil {
		log.Warnf("写入 bot %s 日志失败: %v", botID, err)
	}
}

func fakePID() int {
	return 1000 + rand.IntN(9000)
}
