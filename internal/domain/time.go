package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 后端可能返回不带时区的 ISO 时间（按 UTC 处理）
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp 兼容多种 ISO-8601 形式的时间
type Timestamp struct {
	time.Time
}

// NewTimestamp 包装 time.Time
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp 解析 ISO-8601 时间
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *Timestamp) clone() *Timestamp {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Uptime 运行时长；线上格式为 "H:MM:SS" 或 "N day(s), H:MM:SS"
type Uptime time.Duration

// NewUptime 截断到秒
func NewUptime(d time.Duration) Uptime {
	return Uptime(d.Truncate(time.Second))
}

// Duration 返回 time.Duration
func (u Uptime) Duration() time.Duration {
	return time.Duration(u)
}

func (u Uptime) String() string {
	total := int64(time.Duration(u) / time.Second)
	if total < 0 {
		total = 0
	}
	days := total / 86400
	rest := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rest/3600, (rest%3600)/60, rest%60)
	switch {
	case days == 1:
		return "1 day, " + clock
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
	return clock
}

// ParseUptime 解析 "H:MM:SS[.ffffff]" 以及带天数前缀的形式
func ParseUptime(s string) (Uptime, error) {
	s = strings.TrimSpace(s)
	var days int64
	if i := strings.Index(s, ","); i >= 0 {
		fields := strings.Fields(s[:i])
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "day") {
			return 0, fmt.Errorf("invalid uptime %q", s)
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid uptime %q: %w", s, err)
		}
		days = n
		s = strings.TrimSpace(s[i+1:])
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid uptime %q", s)
	}
	h, err1 := strconv.ParseInt(parts[0], 10, 64)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || m >= 60 || sec >= 60 {
		return 0, fmt.Errorf("invalid uptime %q", s)
	}
	d := time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second))
	return NewUptime(d), nil
}

func (u Uptime) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON 接受字符串或秒数
func (u *Uptime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '"' {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return err
		}
		*u = NewUptime(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseUptime(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
