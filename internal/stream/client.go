// Package stream 维护到舰队后端 /ws 的推送连接，把帧解码成类型化事件
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/domain"
	"github.com/betbot/botdash/internal/metrics"
	"github.com/betbot/botdash/pkg/syncgroup"
)

var log = logrus.WithField("component", "stream")

const (
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 15 * time.Second
	defaultPongTimeout       = 45 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultEventBufferSize   = 1024
)

// ErrGaveUp 达到最大重连次数后放弃
var ErrGaveUp = errors.New("stream: reconnect attempts exhausted")

// Config 推送客户端配置
type Config struct {
	URL      string
	ProxyURL string

	ReconnectDelay       time.Duration // 第 n 次重连等待 ReconnectDelay*n
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // 0 表示不限

	PingInterval     time.Duration
	PongTimeout      time.Duration // 超过该时间没有任何读到的数据（含 pong）视为断线
	HandshakeTimeout time.Duration

	EventBufferSize int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		URL:               "ws://127.0.0.1:8001/ws",
		ReconnectDelay:    defaultReconnectDelay,
		MaxReconnectDelay: defaultMaxReconnectDelay,
		PingInterval:      defaultPingInterval,
		PongTimeout:       defaultPongTimeout,
		HandshakeTimeout:  defaultHandshakeTimeout,
		EventBufferSize:   defaultEventBufferSize,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.URL == "" {
		out.URL = d.URL
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = d.ReconnectDelay
	}
	if out.MaxReconnectDelay < out.ReconnectDelay {
		out.MaxReconnectDelay = out.ReconnectDelay
	}
	if out.PingInterval <= 0 {
		out.PingInterval = d.PingInterval
	}
	if out.PongTimeout <= out.PingInterval {
		out.PongTimeout = 3 * out.PingInterval
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = d.HandshakeTimeout
	}
	if out.EventBufferSize <= 0 {
		out.EventBufferSize = d.EventBufferSize
	}
	return &out
}

// backoff 线性退避：delay*attempt，上限 MaxReconnectDelay
func (c *Config) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.ReconnectDelay * time.Duration(attempt)
	if d > c.MaxReconnectDelay || d <= 0 {
		d = c.MaxReconnectDelay
	}
	return d
}

// Client 推送客户端
// 同一时刻只有一条活跃连接；断线后按退避策略重连，重连本身不触发任何全量读取
type Client struct {
	config *Config
	dialer *websocket.Dialer

	events chan Event
	state  atomic.Value // domain.ConnState

	connMu sync.Mutex
	conn   *websocket.Conn

	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	sg     *syncgroup.SyncGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// NewClient 创建推送客户端
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("解析推送地址失败: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("推送地址必须是 ws:// 或 wss://: %s", cfg.URL)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("解析代理地址失败: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		dialer: dialer,
		events: make(chan Event, cfg.EventBufferSize),
		ctx:    ctx,
		cancel: cancel,
		sg:     syncgroup.NewSyncGroup(),
	}
	c.state.Store(domain.ConnDisconnected)
	return c, nil
}

// Events 事件通道，Close 之后关闭
func (c *Client) Events() <-chan Event {
	return c.events
}

// State 当前连接状态
func (c *Client) State() domain.ConnState {
	return c.state.Load().(domain.ConnState)
}

// Dropped 被丢弃的畸形帧数量
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Start 启动连接循环（非阻塞），重复调用无效
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.sg.Go(c.run)
	})
}

// Close 关闭连接、停止所有 goroutine 并关闭事件通道
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
		log.Debugf("等待 %d 个推送 goroutine 退出", c.sg.Running())
		c.sg.Wait()
		close(c.events)
		log.Info("推送客户端已关闭")
	})
	return nil
}

func (c *Client) run() {
	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setState(domain.ConnConnecting, attempt, nil)

		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.Warnf("连接推送失败 (attempt=%d): %v", attempt, err)
			c.setState(domain.ConnDisconnected, attempt, err)
			attempt++
			if !c.waitReconnect(attempt) {
				return
			}
			continue
		}

		attempt = 0
		c.setState(domain.ConnConnected, 0, nil)
		log.Infof("推送已连接: %s", c.config.URL)

		err = c.serve(conn)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()

		if c.ctx.Err() != nil {
			c.setState(domain.ConnDisconnected, 0, nil)
			return
		}
		log.Warnf("推送连接断开: %v", err)
		c.setState(domain.ConnDisconnected, 0, err)
		attempt++
		if !c.waitReconnect(attempt) {
			return
		}
	}
}

// waitReconnect 等待退避时间；超过最大次数或已关闭时返回 false
func (c *Client) waitReconnect(attempt int) bool {
	if max := c.config.MaxReconnectAttempts; max > 0 && attempt > max {
		log.Errorf("重连 %d 次仍失败，放弃", max)
		c.setState(domain.ConnDisconnected, attempt, ErrGaveUp)
		return false
	}
	metrics.StreamReconnects.Add(1)
	delay := c.config.backoff(attempt)
	log.Debugf("%v 后重连 (attempt=%d)", delay, attempt)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.ctx.Err() != nil {
		conn.Close()
		return nil, c.ctx.Err()
	}
	c.conn = conn
	return conn, nil
}

// serve 读循环 + 心跳，直到连接出错或客户端关闭
func (c *Client) serve(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	c.sg.Go(func() { c.pingLoop(conn, done) })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		ev, err := DecodeFrame(data)
		if err != nil {
			c.dropped.Add(1)
			metrics.FramesDropped.Add(1)
			log.Debugf("丢弃畸形帧: %v", err)
			continue
		}
		metrics.FramesDecoded.Add(1)
		if !c.emit(ev) {
			return c.ctx.Err()
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debugf("发送 ping 失败: %v", err)
				return
			}
		}
	}
}

func (c *Client) setState(s domain.ConnState, attempt int, err error) {
	c.state.Store(s)
	c.emit(ConnChanged{State: s, Attempt: attempt, Err: err})
}

// emit 投递事件；通道满时阻塞（不丢事件），关闭时返回 false
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}
