package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Routes(t *testing.T) {
	h := Handler()
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/debug/vars", http.StatusOK},
		{http.MethodGet, "/debug/pprof/", http.StatusOK},
		{http.MethodPost, "/debug/vars", http.StatusMethodNotAllowed},
		{http.MethodGet, "/debug/pprof/cmdline", http.StatusNotFound},
		{http.MethodGet, "/", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStartAsync_ServesCounters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	SnapshotsApplied.Add(1)
	before := SnapshotsApplied.Value()

	resp, err := http.Get("http://" + addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	var got int64
	require.NoError(t, json.Unmarshal(vars["botdash_snapshots_applied"], &got))
	assert.GreaterOrEqual(t, got, before)
	assert.Contains(t, vars, "fleetd_ws_clients")
}

func TestServe_ReturnsNilOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve 未在 ctx 结束后返回")
	}
}

func TestStartAsync_BadAddr(t *testing.T) {
	_, err := StartAsync(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}
