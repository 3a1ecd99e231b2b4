package main

import (
	"context"
	"testing"

	"github.com/hypehub/task-escrow/config"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewApp_SQLiteWithLogNotifications(t *testing.T) {
	cfg := config.Default()
	cfg.Store.SQLite.Path = ":memory:"
	cfg.Ledger.SignupPoints = 50
	cfg.Log.Level = 8 // errors only

	ctx := context.Background()
	a, err := newApp(ctx, cfg, true)
	require.NoError(t, err)
	require.NotNil(t, a.dispatcher)

	u, created, err := a.engine.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(50), u.Points)

	report, err := a.engine.SeedOfficialTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Created)

	tasks, err := a.engine.ListTasks(ctx, escrow.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 5)

	require.NoError(t, a.Close(ctx))
	assert.NoError(t, a.Close(ctx), "second close is a no-op")
}
