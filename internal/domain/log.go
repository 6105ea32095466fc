package domain

import "strings"

// LogLevel 日志级别
type LogLevel string

const (
	LogLevelError   LogLevel = "ERROR"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelDebug   LogLevel = "DEBUG"
	// LogLevelUnknown 未知级别的归一化结果
	LogLevelUnknown LogLevel = "UNKNOWN"
)

// Normalize 归一化级别；WARN 视为 WARNING，其余未知值归为 UNKNOWN
func (l LogLevel) Normalize() LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(string(l)))) {
	case LogLevelError:
		return LogLevelError
	case LogLevelWarning, "WARN":
		return LogLevelWarning
	case LogLevelInfo:
		return LogLevelInfo
	case LogLevelDebug:
		return LogLevelDebug
	}
	return LogLevelUnknown
}

// LogEntry 一条日志，创建后不可变
type LogEntry struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Source    string    `json:"source"` // bot / system / api
	Timestamp Timestamp `json:"timestamp"`
	Level     LogLevel  `json:"level"` // 原始级别文本，展示时用 Level.Normalize()
	Message   string    `json:"message"`
}
