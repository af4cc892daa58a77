package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testServer(t *testing.T, handler http.Handler, logger *zap.Logger) *Server {
	t.Helper()
	cfg := DefaultConfig(handler)
	cfg.Address = "127.0.0.1:0"
	cfg.Logger = logger
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	t.Cleanup(func() { _ = s.listener.Close() })
	return s
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Handler: http.NotFoundHandler(), CertFile: "cert.pem"})
	assert.ErrorContains(t, err, "key file")
}

func TestGracefulRunServesAndDrains(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), zap.New(core))

	var order []string
	g := NewGraceful(s, time.Second)
	g.OnShutdown("queue", func(context.Context) error {
		order = append(order, "queue")
		return nil
	})
	g.OnShutdown("db", func(context.Context) error {
		order = append(order, "db")
		return errors.New("close failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + s.Addr() + "/")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db: close failed")
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"queue", "db"}, order)
	assert.Equal(t, 1, logs.FilterMessage("shutdown hook failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("shutdown complete").Len())
}

func TestGracefulRunReportsServeFailure(t *testing.T) {
	first := testServer(t, http.NotFoundHandler(), nil)
	cfg := DefaultConfig(http.NotFoundHandler())
	cfg.Address = first.Addr()
	second, err := New(cfg)
	require.NoError(t, err)

	hookRan := false
	g := NewGraceful(second, time.Second)
	g.OnShutdown("flush", func(context.Context) error {
		hookRan = true
		return nil
	})
	err = g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create listener")
	assert.True(t, hookRan)
}
