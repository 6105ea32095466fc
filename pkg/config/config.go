package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL            = "http://127.0.0.1:8001/api"
	defaultWSURL             = "ws://127.0.0.1:8001/ws"
	defaultRequestTimeout    = 10 * time.Second
	defaultRetryCount        = 2
	defaultLogHistoryLimit   = 100
	defaultLogCapacity       = 500
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 15 * time.Second
	defaultListenAddr        = ":8001"
	defaultDBPath            = "data/fleetd.db"
	defaultLogStoreDir       = "data/fleetd-logs"
	defaultBroadcastInterval = 5 * time.Second
)

// ClientConfig 看板客户端配置（HTTP 快照 + WebSocket 推送）
type ClientConfig struct {
	APIURL          string        // REST 基础地址，例如 http://host:8001/api
	WSURL           string        // 推送流地址，例如 ws://host:8001/ws
	RequestTimeout  time.Duration // 单次请求超时
	RetryCount      int           // 请求失败重试次数（仅幂等的 GET）
	LogHistoryLimit int           // 切换选中 bot 时拉取的历史日志条数
	LogCapacity     int           // 日志环形缓冲区容量
	ProxyURL        string        // 代理（可选）

	ReconnectDelay       time.Duration // 重连基础延迟
	MaxReconnectDelay    time.Duration // 重连最大延迟
	MaxReconnectAttempts int           // 最大重连次数，0 表示不限
	PingInterval         time.Duration // 心跳间隔
}

// ServerConfig 参考后端 fleetd 配置
type ServerConfig struct {
	ListenAddr        string
	DBPath            string        // SQLite 文件（bot 表）
	LogStoreDir       string        // Badger 目录（日志）
	BroadcastInterval time.Duration // system_update 推送间隔
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 应用配置
type Config struct {
	Client ClientConfig
	Server ServerConfig
	Log    LogConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Client struct {
		APIURL               string `yaml:"api_url" json:"api_url"`
		WSURL                string `yaml:"ws_url" json:"ws_url"`
		RequestTimeout       string `yaml:"request_timeout" json:"request_timeout"`
		RetryCount           *int   `yaml:"retry_count" json:"retry_count"`
		LogHistoryLimit      int    `yaml:"log_history_limit" json:"log_history_limit"`
		LogCapacity          int    `yaml:"log_capacity" json:"log_capacity"`
		ProxyURL             string `yaml:"proxy_url" json:"proxy_url"`
		ReconnectDelay       string `yaml:"reconnect_delay" json:"reconnect_delay"`
		MaxReconnectDelay    string `yaml:"max_reconnect_delay" json:"max_reconnect_delay"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
		PingInterval         string `yaml:"ping_interval" json:"ping_interval"`
	} `yaml:"client" json:"client"`
	Server struct {
		ListenAddr        string `yaml:"listen_addr" json:"listen_addr"`
		DBPath            string `yaml:"db_path" json:"db_path"`
		LogStoreDir       string `yaml:"log_store_dir" json:"log_store_dir"`
		BroadcastInterval string `yaml:"broadcast_interval" json:"broadcast_interval"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   bool   `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:            defaultAPIURL,
			WSURL:             defaultWSURL,
			RequestTimeout:    defaultRequestTimeout,
			RetryCount:        defaultRetryCount,
			LogHistoryLimit:   defaultLogHistoryLimit,
			LogCapacity:       defaultLogCapacity,
			ReconnectDelay:    defaultReconnectDelay,
			MaxReconnectDelay: defaultMaxReconnectDelay,
			PingInterval:      defaultPingInterval,
		},
		Server: ServerConfig{
			ListenAddr:        defaultListenAddr,
			DBPath:            defaultDBPath,
			LogStoreDir:       defaultLogStoreDir,
			BroadcastInterval: defaultBroadcastInterval,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile 从指定文件加载配置
// 优先级：环境变量 > 配置文件 > 默认值；filePath 为空时只读环境变量
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := applyConfigFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func applyConfigFile(cfg *Config, cf *ConfigFile) error {
	c := &cfg.Client
	c.APIURL = firstNonEmpty(cf.Client.APIURL, c.APIURL)
	c.WSURL = firstNonEmpty(cf.Client.WSURL, c.WSURL)
	c.ProxyURL = firstNonEmpty(cf.Client.ProxyURL, c.ProxyURL)
	if cf.Client.RetryCount != nil {
		c.RetryCount = *cf.Client.RetryCount
	}
	if cf.Client.LogHistoryLimit > 0 {
		c.LogHistoryLimit = cf.Client.LogHistoryLimit
	}
	if cf.Client.LogCapacity > 0 {
		c.LogCapacity = cf.Client.LogCapacity
	}
	if cf.Client.MaxReconnectAttempts > 0 {
		c.MaxReconnectAttempts = cf.Client.MaxReconnectAttempts
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"client.request_timeout", cf.Client.RequestTimeout, &c.RequestTimeout},
		{"client.reconnect_delay", cf.Client.ReconnectDelay, &c.ReconnectDelay},
		{"client.max_reconnect_delay", cf.Client.MaxReconnectDelay, &c.MaxReconnectDelay},
		{"client.ping_interval", cf.Client.PingInterval, &c.PingInterval},
		{"server.broadcast_interval", cf.Server.BroadcastInterval, &cfg.Server.BroadcastInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s 格式错误: %w", d.name, err)
		}
		*d.dst = v
	}

	s := &cfg.Server
	s.ListenAddr = firstNonEmpty(cf.Server.ListenAddr, s.ListenAddr)
	s.DBPath = firstNonEmpty(cf.Server.DBPath, s.DBPath)
	s.LogStoreDir = firstNonEmpty(cf.Server.LogStoreDir, s.LogStoreDir)

	l := &cfg.Log
	l.Level = firstNonEmpty(cf.Log.Level, l.Level)
	l.File = firstNonEmpty(cf.Log.File, l.File)
	if cf.Log.MaxSize > 0 {
		l.MaxSize = cf.Log.MaxSize
	}
	if cf.Log.MaxBackups > 0 {
		l.MaxBackups = cf.Log.MaxBackups
	}
	if cf.Log.MaxAge > 0 {
		l.MaxAge = cf.Log.MaxAge
	}
	l.Compress = cf.Log.Compress
	return nil
}

func applyEnv(cfg *Config) {
	c := &cfg.Client
	c.APIURL = getEnv("BOTDASH_API_URL", c.APIURL)
	c.WSURL = getEnv("BOTDASH_WS_URL", c.WSURL)
	c.ProxyURL = getEnv("BOTDASH_PROXY_URL", c.ProxyURL)
	c.RequestTimeout = parseDurationEnv("BOTDASH_REQUEST_TIMEOUT", c.RequestTimeout)
	c.RetryCount = parseIntEnv("BOTDASH_RETRY_COUNT", c.RetryCount)
	c.LogHistoryLimit = parseIntEnv("BOTDASH_LOG_HISTORY_LIMIT", c.LogHistoryLimit)
	c.LogCapacity = parseIntEnv("BOTDASH_LOG_CAPACITY", c.LogCapacity)
	c.ReconnectDelay = parseDurationEnv("BOTDASH_RECONNECT_DELAY", c.ReconnectDelay)
	c.MaxReconnectDelay = parseDurationEnv("BOTDASH_MAX_RECONNECT_DELAY", c.MaxReconnectDelay)
	c.MaxReconnectAttempts = parseIntEnv("BOTDASH_MAX_RECONNECT_ATTEMPTS", c.MaxReconnectAttempts)
	c.PingInterval = parseDurationEnv("BOTDASH_PING_INTERVAL", c.PingInterval)

	s := &cfg.Server
	s.ListenAddr = getEnv("FLEETD_LISTEN", s.ListenAddr)
	s.DBPath = getEnv("FLEETD_DB", s.DBPath)
	s.LogStoreDir = getEnv("FLEETD_LOG_STORE", s.LogStoreDir)
	s.BroadcastInterval = parseDurationEnv("FLEETD_BROADCAST_INTERVAL", s.BroadcastInterval)

	l := &cfg.Log
	l.Level = getEnv("BOTDASH_LOG_LEVEL", l.Level)
	l.File = getEnv("BOTDASH_LOG_FILE", l.File)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Client.APIURL); err != nil {
		return fmt.Errorf("api_url 无效: %w", err)
	}
	u, err := url.Parse(c.Client.WSURL)
	if err != nil {
		return fmt.Errorf("ws_url 无效: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ws_url 必须是 ws:// 或 wss://，得到 %q", c.Client.WSURL)
	}
	if c.Client.LogCapacity <= 0 {
		return fmt.Errorf("log_capacity 必须大于 0")
	}
	if c.Client.LogHistoryLimit <= 0 {
		return fmt.Errorf("log_history_limit 必须大于 0")
	}
	if c.Client.RetryCount < 0 {
		return fmt.Errorf("retry_count 不能为负数")
	}
	if c.Client.ReconnectDelay <= 0 || c.Client.MaxReconnectDelay < c.Client.ReconnectDelay {
		return fmt.Errorf("reconnect_delay 必须大于 0 且不大于 max_reconnect_delay")
	}
	if c.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("broadcast_interval 必须大于 0")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长环境变量（time.ParseDuration 格式）
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
