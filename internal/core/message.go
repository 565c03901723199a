package core

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageKind identifies a control message variant.
type MessageKind int

const (
	MsgFilterUpdate MessageKind = iota
	MsgAutoDelete
	MsgNotifyPrefsChange
	MsgRecordingNow
	MsgDisconnectUnresolvable
	MsgDisconnectSWCD
)

var messageTags = map[MessageKind]string{
	MsgFilterUpdate:           "filter-update",
	MsgAutoDelete:             "auto-delete",
	MsgNotifyPrefsChange:      "notify-prefs-change",
	MsgRecordingNow:           "recording-now",
	MsgDisconnectUnresolvable: "disconnect-unresolvable",
	MsgDisconnectSWCD:         "disconnect-swcd",
}

// Tag returns the wire tag of the kind.
func (k MessageKind) Tag() string {
	if tag, ok := messageTags[k]; ok {
		return tag
	}
	return "unknown"
}

func (k MessageKind) String() string { return k.Tag() }

// ControlMessage is a one-way notification from the host to the running
// tunnel session. Values are built with the constructors below, so two
// different messages never share a wire line.
type ControlMessage struct {
	Kind MessageKind

	domain  string
	seconds int
	flag    bool
}

// Domain is the changed entry of a MsgFilterUpdate. Empty means the whole
// list changed.
func (m ControlMessage) Domain() string { return m.domain }

// Seconds is the MsgAutoDelete interval.
func (m ControlMessage) Seconds() int { return m.seconds }

// Flag is the payload of the boolean variants.
func (m ControlMessage) Flag() bool { return m.flag }

// FilterUpdate reports a change of the domain filter list. A nil domain
// encodes as an empty payload.
func FilterUpdate(domain *string) ControlMessage {
	m := ControlMessage{Kind: MsgFilterUpdate}
	if domain != nil {
		m.domain = *domain
	}
	return m
}

// AutoDelete sets the recording retention interval in seconds.
func AutoDelete(seconds int) ControlMessage {
	return ControlMessage{Kind: MsgAutoDelete, seconds: seconds}
}

// NotifyPrefsChanged tells the session that connection alert settings changed.
func NotifyPrefsChanged() ControlMessage {
	return ControlMessage{Kind: MsgNotifyPrefsChange, flag: true}
}

// RecordingNow toggles the "recording in progress" marker.
func RecordingNow(on bool) ControlMessage {
	return ControlMessage{Kind: MsgRecordingNow, flag: on}
}

// DisconnectUnresolvable toggles dropping connections to unresolvable hosts.
func DisconnectUnresolvable(on bool) ControlMessage {
	return ControlMessage{Kind: MsgDisconnectUnresolvable, flag: on}
}

// DisconnectSWCD toggles dropping connections of the swcd daemon.
func DisconnectSWCD(on bool) ControlMessage {
	return ControlMessage{Kind: MsgDisconnectSWCD, flag: on}
}

// Line returns the "<tag>:<payload>" wire form. A filter-update domain is
// percent-escaped outside printable ASCII, so the line is always one ASCII
// line.
func (m ControlMessage) Line() string {
	var payload string
	switch m.Kind {
	case MsgFilterUpdate:
		payload = escapePayload(m.domain)
	case MsgAutoDelete:
		payload = strconv.Itoa(m.seconds)
	case MsgNotifyPrefsChange:
		payload = "1"
	default:
		payload = boolDigit(m.flag)
	}
	return m.Kind.Tag() + ":" + payload
}

// Encode returns the wire bytes of the message.
func (m ControlMessage) Encode() []byte {
	return []byte(m.Line())
}

func (m ControlMessage) String() string { return m.Line() }

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

const upperhex = "0123456789ABCDEF"

// escapePayload replaces '%' and every byte outside '!'..'~' with %XX.
func escapePayload(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(c byte) bool {
	return c == '%' || c < '!' || c > '~'
}

func unescapePayload(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape in %q", s)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// ParseControlMessage decodes a wire line. The host never needs this; the
// daemon uses it to hand typed values to the interceptor.
func ParseControlMessage(line string) (ControlMessage, error) {
	tag, payload, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ":")
	if !ok {
		return ControlMessage{}, fmt.Errorf("malformed control message %q", line)
	}

	for kind, t := range messageTags {
		if t != tag {
			continue
		}
		m := ControlMessage{Kind: kind}
		switch kind {
		case MsgFilterUpdate:
			domain, err := unescapePayload(payload)
			if err != nil {
				return ControlMessage{}, fmt.Errorf("filter update: %w", err)
			}
			m.domain = domain
		case MsgAutoDelete:
			n, err := strconv.Atoi(payload)
			if err != nil {
				return ControlMessage{}, fmt.Errorf("auto-delete interval %q: %w", payload, err)
			}
			m.seconds = n
		default:
			switch payload {
			case "1":
				m.flag = true
			case "0":
				if kind == MsgNotifyPrefsChange {
					return ControlMessage{}, fmt.Errorf("unexpected payload %q for %s", payload, tag)
				}
			default:
				return ControlMessage{}, fmt.Errorf("unexpected payload %q for %s", payload, tag)
			}
		}
		return m, nil
	}
	return ControlMessage{}, fmt.Errorf("unknown control message tag %q", tag)
}
