// Package delivery decides where a received message goes.
//
// Apply is a pure function of the delivery mode, the sender, the message
// and a registry snapshot. It performs no I/O; the caller sends.
package delivery

import "github.com/signadot/echod/system/echod/api"

// Policy configures Apply.
type Policy struct {
	Mode api.Mode
	// IncludeSelf makes a broadcast also go back to the sender.
	IncludeSelf bool
}

// DefaultPolicy returns a policy for mode with sender self-inclusion on,
// which is how broadcast has always behaved.
func DefaultPolicy(mode api.Mode) Policy {
	return Policy{Mode: mode, IncludeSelf: true}
}

// Delivery is one destination and the bytes to send to it.
type Delivery[C comparable] struct {
	To   C
	Data []byte
}

// Apply maps a message received from sender to its destinations.
//
// snapshot is only called in broadcast mode. All deliveries share msg;
// callers must not modify it until the sends are done.
func Apply[C comparable](p Policy, sender C, msg []byte, snapshot func() []C) []Delivery[C] {
	switch p.Mode {
	case api.ModeEcho:
		return []Delivery[C]{{To: sender, Data: msg}}
	case api.ModeBroadcast:
		if snapshot == nil {
			return nil
		}
		members := snapshot()
		res := make([]Delivery[C], 0, len(members))
		for _, c := range members {
			if c == sender && !p.IncludeSelf {
				continue
			}
			res = append(res, Delivery[C]{To: c, Data: msg})
		}
		return res
	default:
		return nil
	}
}
