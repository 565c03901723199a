package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glassvpn/internal/core"
)

func TestSimulatedLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	assert.Equal(t, "simulated", s.Name())
	assert.Equal(t, core.RawDisconnected, s.RawStatus())

	var seen []core.RawStatus
	cancel := s.WatchStatus(func(raw core.RawStatus) { seen = append(seen, raw) })
	defer cancel()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx)) // already up: no new notification
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, []core.RawStatus{core.RawConnected, core.RawDisconnected}, seen)
	starts, stops := s.Calls()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestSimulatedSendRequiresSession(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()

	err := s.SendRaw(ctx, []byte("recording-now:1"))
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, core.ErrNoSession))

	s.Inject(core.RawConnected)
	buf := []byte("recording-now:1")
	require.NoError(t, s.SendRaw(ctx, buf))
	buf[0] = 'X'
	assert.Equal(t, [][]byte{[]byte("recording-now:1")}, s.Sent(), "stored a copy")

	s.Inject(core.RawReasserting)
	assert.Error(t, s.SendRaw(ctx, []byte("recording-now:0")))
	assert.Len(t, s.Sent(), 1)
}

func TestSimulatedWatchCancel(t *testing.T) {
	s := NewSimulated()
	calls := 0
	cancel := s.WatchStatus(func(core.RawStatus) { calls++ })

	s.Inject(core.RawConnecting)
	cancel()
	s.Inject(core.RawConnected)
	assert.Equal(t, 1, calls)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := core.DefaultAppConfig()
	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "simulated", b.Name())
	assert.NoError(t, b.Close())

	cfg.Backend = "carrier-pigeon"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
