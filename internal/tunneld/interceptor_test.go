package tunneld

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glassvpn/internal/core"
)

func TestSettingsInterceptor(t *testing.T) {
	si := NewSettingsInterceptor()
	assert.ErrorIs(t, si.Deliver(core.RecordingNow(true)), core.ErrNoSession)

	require.NoError(t, si.Activate(context.Background()))

	domain := "Ads.Example.COM"
	for _, msg := range []core.ControlMessage{
		core.FilterUpdate(&domain),
		core.FilterUpdate(nil),
		core.AutoDelete(90),
		core.NotifyPrefsChanged(),
		core.RecordingNow(true),
		core.DisconnectUnresolvable(true),
		core.DisconnectSWCD(true),
	} {
		require.NoError(t, si.Deliver(msg), msg.String())
	}

	assert.Equal(t, Settings{
		AutoDelete:             90 * time.Second,
		Recording:              true,
		DisconnectUnresolvable: true,
		DisconnectSWCD:         true,
		LastFilterUpdate:       "",
		FilterReloads:          2,
		PrefsReloads:           1,
	}, si.Settings())

	bad := strings.Repeat("a", 64) + ".example"
	assert.Error(t, si.Deliver(core.FilterUpdate(&bad)))

	require.NoError(t, si.Deactivate())
	assert.ErrorIs(t, si.Deliver(core.RecordingNow(false)), core.ErrNoSession)
}

func TestSettingsInterceptorCanonicalDomain(t *testing.T) {
	si := NewSettingsInterceptor()
	require.NoError(t, si.Activate(context.Background()))

	domain := "Ads.Example.COM"
	require.NoError(t, si.Deliver(core.FilterUpdate(&domain)))
	assert.Equal(t, "ads.example.com.", si.Settings().LastFilterUpdate)
}

func TestSettingsInterceptorCanceledActivate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewSettingsInterceptor().Activate(ctx))
}
