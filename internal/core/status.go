package core

// ConnectionStatus is the processed three-valued tunnel status consumed by
// everything above the backend.
type ConnectionStatus int

const (
	StatusOff ConnectionStatus = iota
	StatusTransitioning
	StatusOn
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusOff:
		return "off"
	case StatusTransitioning:
		return "transitioning"
	case StatusOn:
		return "on"
	default:
		return "unknown"
	}
}

// RawStatus is the status reported by the tunnel facility before
// interpretation. The numeric values are part of the daemon wire protocol.
type RawStatus int32

const (
	RawUnknown RawStatus = iota
	RawInvalid
	RawDisconnected
	RawConnecting
	RawConnected
	RawReasserting
	RawDisconnecting
)

func (s RawStatus) String() string {
	switch s {
	case RawInvalid:
		return "invalid"
	case RawDisconnected:
		return "disconnected"
	case RawConnecting:
		return "connecting"
	case RawConnected:
		return "connected"
	case RawReasserting:
		return "reasserting"
	case RawDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// RawStatusFromWire converts a wire value into a RawStatus.
// Values outside the known range map to RawUnknown.
func RawStatusFromWire(v int32) RawStatus {
	s := RawStatus(v)
	if s < RawUnknown || s > RawDisconnecting {
		return RawUnknown
	}
	return s
}

// MapRawStatus folds a raw status into a ConnectionStatus.
// It is total and stateless; anything not explicitly connected or moving
// between states (including "no configuration present", reported as
// RawInvalid) is Off.
func MapRawStatus(raw RawStatus) ConnectionStatus {
	switch raw {
	case RawConnected:
		return StatusOn
	case RawConnecting, RawDisconnecting, RawReasserting:
		return StatusTransitioning
	default:
		return StatusOff
	}
}
