package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapRawStatus(t *testing.T) {
	tests := []struct {
		raw  RawStatus
		want ConnectionStatus
	}{
		{RawConnected, StatusOn},
		{RawConnecting, StatusTransitioning},
		{RawDisconnecting, StatusTransitioning},
		{RawReasserting, StatusTransitioning},
		{RawDisconnected, StatusOff},
		{RawInvalid, StatusOff},
		{RawUnknown, StatusOff},
		{RawStatus(42), StatusOff},
	}
	for _, tt := range tests {
		t.Run(tt.raw.String(), func(t *testing.T) {
			// Deterministic regardless of call order or repetition.
			for i := 0; i < 3; i++ {
				assert.Equal(t, tt.want, MapRawStatus(tt.raw))
			}
		})
	}
}

func TestRawStatusFromWire(t *testing.T) {
	assert.Equal(t, RawConnected, RawStatusFromWire(int32(RawConnected)))
	assert.Equal(t, RawDisconnecting, RawStatusFromWire(int32(RawDisconnecting)))
	assert.Equal(t, RawUnknown, RawStatusFromWire(-1))
	assert.Equal(t, RawUnknown, RawStatusFromWire(99))
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "off", StatusOff.String())
	assert.Equal(t, "transitioning", StatusTransitioning.String())
	assert.Equal(t, "on", StatusOn.String())
	assert.Equal(t, "reasserting", RawReasserting.String())
}
