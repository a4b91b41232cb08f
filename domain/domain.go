package domain

import "time"

// SessionID identifies one connected session for the lifetime of its
// connection. IDs are drawn from a process-wide random source at connect
// time and are not re-checked for collisions against live sessions.
type SessionID uint64

// Deliverer is the broker's capability to push a chat message to a session.
// Delivery is best-effort and must never block the caller; a session that
// cannot accept the message drops it.
type Deliverer interface {
	Deliver(text string)
}

// Heartbeat holds the liveness probe parameters for one transport. The two
// transports run with distinct values on purpose.
type Heartbeat struct {
	Interval time.Duration
	Timeout  time.Duration
}
