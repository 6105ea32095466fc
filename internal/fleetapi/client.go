// Package fleetapi 是 bot 托管后端 REST 接口的 HTTP 客户端（resty）
package fleetapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/domain"
)

var log = logrus.WithField("component", "fleetapi")

// Options 客户端选项
type Options struct {
	BaseURL    string        // 例如 http://127.0.0.1:8001/api
	Timeout    time.Duration // 单次请求超时
	RetryCount int           // 仅对 GET 生效
	ProxyURL   string
}

// Client 后端 REST 客户端
type Client struct {
	client *resty.Client
}

// NewClient 创建客户端
func NewClient(opts Options) *Client {
	host := strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "botdash/1.0").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// start/stop/restart 不是幂等的，只重试 GET
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
			}
			return 0, nil
		})

	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	return &Client{client: client}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	return r
}

// ListBots GET /bots
func (c *Client) ListBots(ctx context.Context) ([]domain.Bot, error) {
	var out []domain.Bot
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/bots")
	if err := checkResponse(resp, err, "list bots"); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Bot{}
	}
	return out, nil
}

// GetBot GET /bots/{id}
func (c *Client) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	var out domain.Bot
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/bots/" + url.PathEscape(botID))
	if err := checkResponse(resp, err, "get bot"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBot POST /bots
func (c *Client) CreateBot(ctx context.Context, spec domain.BotSpec) (*domain.Bot, error) {
	var out domain.Bot
	resp, err := c.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(spec).
		SetResult(&out).
		Post("/bots")
	if err := checkResponse(resp, err, "create bot"); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBot PUT /bots/{id}（只发送非空字段）
func (c *Client) UpdateBot(ctx context.Context, botID string, spec domain.BotSpec) (*domain.Bot, error) {
	var out domain.Bot
	resp, err := c.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(spec).
		SetResult(&out).
		Put("/bots/" + url.PathEscape(botID))
	if err := checkResponse(resp, err, "update bot"); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteBot DELETE /bots/{id}
func (c *Client) DeleteBot(ctx context.Context, botID string) error {
	resp, err := c.newRequest(ctx).Delete("/bots/" + url.PathEscape(botID))
	return checkResponse(resp, err, "delete bot")
}

// SystemMetrics GET /system/metrics
func (c *Client) SystemMetrics(ctx context.Context) (*domain.SystemMetrics, error) {
	var out domain.SystemMetrics
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/system/metrics")
	if err := checkResponse(resp, err, "system metrics"); err != nil {
		return nil, err
	}
	return &out, nil
}

// BotLogs GET /bots/{id}/logs?limit=N，后端按时间倒序返回
func (c *Client) BotLogs(ctx context.Context, botID string, limit int) ([]domain.LogEntry, error) {
	var out []domain.LogEntry
	req := c.newRequest(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/bots/" + url.PathEscape(botID) + "/logs")
	if err := checkResponse(resp, err, "bot logs"); err != nil {
		return nil, err
	}
	return out, nil
}

// AddLog POST /bots/{id}/logs
func (c *Client) AddLog(ctx context.Context, botID string, level domain.LogLevel, message, source string) (*domain.LogEntry, error) {
	var out domain.LogEntry
	body := map[string]string{"bot_id": botID, "level": string(level), "message": message, "source": source}
	resp, err := c.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/bots/" + url.PathEscape(botID) + "/logs")
	if err := checkResponse(resp, err, "add log"); err != nil {
		return nil, err
	}
	return &out, nil
}

// PerformAction POST /bots/{id}/{start|stop|restart}
func (c *Client) PerformAction(ctx context.Context, botID string, action domain.Action) error {
	if _, err := domain.ParseAction(string(action)); err != nil {
		return err
	}
	resp, err := c.newRequest(ctx).Post("/bots/" + url.PathEscape(botID) + "/" + string(action))
	if err != nil {
		return errors.Wrapf(err, "%s bot %s", action, botID)
	}
	if resp.IsSuccess() {
		log.Debugf("操作已被接受: %s %s", action, botID)
		return nil
	}
	return newAPIError(resp, fmt.Sprintf("action %s failed (HTTP %d)", action, resp.StatusCode()))
}

// checkResponse 统一处理传输错误与非 2xx 响应
func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	if resp.IsSuccess() {
		return nil
	}
	return newAPIError(resp, fmt.Sprintf("%s failed (HTTP %d)", op, resp.StatusCode()))
}

// APIError 后端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Detail     string // 响应体 detail 字段，缺失时为通用描述
	Body       string
}

func (e *APIError) Error() string {
	return e.Detail
}

func newAPIError(resp *resty.Response, fallback string) *APIError {
	e := &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body()), Detail: fallback}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil && strings.TrimSpace(s) != "" {
			e.Detail = s
		}
	}
	return e
}

// IsNotFound 是否为 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
