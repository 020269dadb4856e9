package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, mux, port)
	}()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			resp.Body.Close()
			ready = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewHandler_ServesAPI(t *testing.T) {
	cfg = sqliteConfig(t)
	e, err := initEnv(context.Background(), "serve")
	require.NoError(t, err)
	defer e.Close()

	rec := httptest.NewRecorder()
	newHandler(e).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profiles", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestNewScheduler(t *testing.T) {
	cfg = sqliteConfig(t)
	e, err := initEnv(context.Background(), "serve")
	require.NoError(t, err)
	defer e.Close()

	runner, err := newScheduler(context.Background(), e)
	require.NoError(t, err)
	runner.Start()
	runner.Stop()

	cfg.Learner.Schedule = "not a schedule"
	_, err = newScheduler(context.Background(), e)
	assert.Error(t, err)

	cfg.Learner.Schedule = ""
	_, err = newScheduler(context.Background(), e)
	assert.NoError(t, err)
}
