// Package ids defines the opaque identifier types shared across the
// session protocol: user ids and shell ids. Both are server-assigned,
// strictly increasing, and never reused for a different entity while
// the session is alive.
package ids

import "sync/atomic"

// Uid identifies a connected user within a session.
type Uid uint32

// Sid identifies a terminal window (shell) within a session.
type Sid uint32

// Counter hands out fresh user and shell ids. The zero value is ready
// to use; the first id of each kind is 1.
type Counter struct {
	nextUid atomic.Uint32
	nextSid atomic.Uint32
}

// NextUid returns a fresh user id.
func (c *Counter) NextUid() Uid {
	return Uid(c.nextUid.Add(1))
}

// NextSid returns a fresh shell id.
func (c *Counter) NextSid() Sid {
	return Sid(c.nextSid.Add(1))
}
