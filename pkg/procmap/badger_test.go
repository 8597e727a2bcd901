package procmap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistrar(t *testing.T, ttl time.Duration) *BadgerRegistrar {
	t.Helper()
	r, err := NewBadgerRegistrar(context.Background(), BadgerConfig{DBPath: t.TempDir(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestBadgerRegistrarLifecycle(t *testing.T) {
	ctx := context.Background()
	r := openTestRegistrar(t, 0)

	require.NoError(t, r.Register(ctx, Entry{Name: "5000", Executable: "dsserver", Port: 5000, PID: 42}))
	require.NoError(t, r.Register(ctx, Entry{Name: "5001", Executable: "dsserver", Port: 5001, PID: 43}))

	require.NoError(t, r.Heartbeat(ctx, "5000", "Listening, port: 5000"))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "5000", entries[0].Name)
	assert.Equal(t, "Listening, port: 5000", entries[0].Status)
	assert.False(t, entries[0].Started.IsZero())
	assert.Equal(t, 43, entries[1].PID)

	require.NoError(t, r.Unregister(ctx, "5000"))
	entries, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "5001", entries[0].Name)
}

func TestBadgerRegistrarHeartbeatUnknown(t *testing.T) {
	r := openTestRegistrar(t, 0)

	err := r.Heartbeat(context.Background(), "missing", "Listening, port: 1")
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestBadgerRegistrarValidation(t *testing.T) {
	_, err := NewBadgerRegistrar(context.Background(), BadgerConfig{})
	assert.Error(t, err)

	r := openTestRegistrar(t, 0)
	assert.Error(t, r.Register(context.Background(), Entry{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Register(ctx, Entry{Name: "x"}), context.Canceled)
}

func TestBadgerRegistrarTTL(t *testing.T) {
	ctx := context.Background()
	r := openTestRegistrar(t, time.Second)

	require.NoError(t, r.Register(ctx, Entry{Name: "short-lived"}))
	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// badger expiry has one second granularity
	require.Eventually(t, func() bool {
		entries, err := r.List(ctx)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNoop(t *testing.T) {
	var r Registrar = Noop{}
	ctx := context.Background()
	assert.NoError(t, r.Register(ctx, Entry{Name: "x"}))
	assert.NoError(t, r.Heartbeat(ctx, "x", "status"))
	entries, err := r.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, r.Close())
}
