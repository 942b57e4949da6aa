package api

import (
	"fmt"
	"strings"
)

// Mode selects what a server does with a received message.
type Mode int

const (
	// ModeNone only logs received messages.
	ModeNone Mode = iota
	// ModeEcho sends each message back to its sender.
	ModeEcho
	// ModeBroadcast sends each message to every registered connection.
	ModeBroadcast
)

var modeNames = [...]string{
	ModeNone:      "none",
	ModeEcho:      "echo",
	ModeBroadcast: "broadcast",
}

// Modes returns all delivery modes.
func Modes() []Mode {
	return []Mode{ModeNone, ModeEcho, ModeBroadcast}
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a mode name. The empty string is ModeNone.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeNone, nil
	}
	for _, m := range Modes() {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeNone, NewError(CodeConfig, fmt.Sprintf("unknown mode %q (want none, echo or broadcast)", s), nil)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(modeNames) {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
