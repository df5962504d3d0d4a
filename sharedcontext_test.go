package sharedcontext

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/sharedcontext/internal/client"
	"github.com/localrivet/sharedcontext/internal/config"
	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/subscription"
	"github.com/localrivet/sharedcontext/internal/telemetry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "shared.db")
	cfg.Store.PoolSize = 2
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, config.DefaultSQLitePath, cfg.Store.SQLitePath)
	assert.Equal(t, config.DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, config.DefaultServerURL, cfg.MCP.ServerURL)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Server.Addr = ":4100"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := config.LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, ":4100", loaded.Server.Addr)
}

func TestServerEndToEnd(t *testing.T) {
	srv, err := NewServer(ServerOptions{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.New(ts.URL)
	created, err := c.CreateContext(ctx, []string{"first"}, nil)
	require.NoError(t, err)

	updates := make(chan subscription.Message, 1)
	subCtx, stopSub := context.WithCancel(ctx)
	subDone := make(chan error, 1)
	go func() {
		subDone <- c.Subscribe(subCtx, created.ContextID, func(m subscription.Message) { updates <- m })
	}()

	require.Eventually(t, func() bool {
		return srv.Components().Registry.SubscriberCount(created.ContextID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entry, err := c.AddEntry(ctx, created.ContextID, "second")
	require.NoError(t, err)

	select {
	case msg := <-updates:
		assert.Equal(t, subscription.MessageTypeUpdate, msg.Type)
		assert.Equal(t, entry.ID, msg.ID)
		assert.Equal(t, "second", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	page, err := c.GetContext(ctx, created.ContextID, contextstore.OrderAsc, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	assert.Equal(t, int64(2), srv.Components().Metrics.GetCounter(telemetry.MetricEntriesAppended))

	stopSub()
	require.NoError(t, <-subDone)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv, err := NewServer(ServerOptions{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop(), "second Stop is a no-op")
}

func TestNewServerBadStorePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "missing", "dir", "db.sqlite")

	_, err := NewServer(ServerOptions{Config: cfg, Logger: quietLogger()})
	assert.Error(t, err)
}

func TestNewMCPServerRejectsUnknownTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MCP.Transport = "carrier-pigeon"

	_, err := NewMCPServer(cfg, quietLogger())
	assert.Error(t, err)
}
