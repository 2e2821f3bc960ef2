package server_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"CoinPull/internal/di"
	"CoinPull/pkg/config"
	"CoinPull/pkg/server"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshot = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newApp(t *testing.T, dbPath, redisAddr string) *server.App {
	t.Helper()
	raw := fmt.Sprintf("environment: test\nlog:\n  level: error\nstorage:\n  sqlite:\n    path: %s\n", dbPath)
	if redisAddr != "" {
		host, port, err := net.SplitHostPort(redisAddr)
		require.NoError(t, err)
		raw += fmt.Sprintf("redis:\n  enabled: true\n  host: %s\n  port: %s\n  query_ttl: 1m\n", host, port)
	}
	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)

	app, cleanup, err := di.InitializeApp(cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	csv := "Symbol,Name,Price\nBTC,Bitcoin,65000.5\nSOL,Solana,140\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	return path
}

func TestResetDropsCachedReads(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	app := newApp(t, filepath.Join(t.TempDir(), "prices.db"), mr.Addr())

	_, err := app.IngestCSV(ctx, writeExport(t), snapshot)
	require.NoError(t, err)
	got, err := app.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NoError(t, app.Reset(ctx))

	got, err = app.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWritesFromAnotherProcessAreVisible(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "prices.db")
	serving := newApp(t, dbPath, "")
	cli := newApp(t, dbPath, "")

	got, err := serving.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = cli.IngestCSV(ctx, writeExport(t), snapshot)
	require.NoError(t, err)

	got, err = serving.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, cli.Reset(ctx))
	got, err = serving.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWritesFromAnotherProcessInvalidateSharedCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dbPath := filepath.Join(t.TempDir(), "prices.db")
	serving := newApp(t, dbPath, mr.Addr())
	cli := newApp(t, dbPath, mr.Addr())

	got, err := serving.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = cli.IngestCSV(ctx, writeExport(t), snapshot)
	require.NoError(t, err)

	got, err = serving.Query(ctx, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
