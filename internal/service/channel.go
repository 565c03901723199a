package service

import (
	"context"

	"glassvpn/internal/backend"
	"glassvpn/internal/core"
)

// MessageChannel delivers control messages to the running tunnel session.
// Messages are only sent while gate reports StatusOn; otherwise they are
// dropped without touching the backend.
type MessageChannel struct {
	backend backend.Backend
	gate    func() core.ConnectionStatus
}

// NewMessageChannel creates a channel over b. gate supplies the status the
// channel checks before every send.
func NewMessageChannel(b backend.Backend, gate func() core.ConnectionStatus) *MessageChannel {
	return &MessageChannel{backend: b, gate: gate}
}

// Send encodes msg and hands it to the backend. It reports whether the
// message was accepted. Transmission errors are logged, not returned.
func (mc *MessageChannel) Send(ctx context.Context, msg core.ControlMessage) bool {
	if st := mc.gate(); st != core.StatusOn {
		core.Log.Debugf("Channel", "Dropping %s: tunnel is %s", msg, st)
		return false
	}
	if err := mc.backend.SendRaw(ctx, msg.Encode()); err != nil {
		core.Log.Warnf("Channel", "Send %s: %v", msg, err)
		return false
	}
	core.Log.Debugf("Channel", "Sent %s", msg)
	return true
}
