package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "metrics")

// Handler debug 路由，只读
//   - /debug/vars          计数器
//   - /debug/pprof/        profile 索引（heap、goroutine 等按名字访问）
//   - /debug/pprof/profile CPU profile
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	return mux
}

// Serve 在 ln 上提供 Handler，ctx 结束后关闭；正常关闭返回 nil
func Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartAsync 监听 addr 并在后台 Serve，返回实际监听地址（addr 可以是 :0）
// 建议只监听 localhost
func StartAsync(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	go func() {
		if err := Serve(ctx, ln); err != nil {
			log.Errorf("debug server 退出: %v", err)
		}
	}()
	log.Infof("debug server 监听 %s", ln.Addr())
	return ln.Addr().String(), nil
}
