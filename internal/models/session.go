package models

import (
	"time"
)

// Session identifies a client across WebSocket reconnects. The watermark is
// client-owned and presented on each handshake, so the server never stores
// it; a session is just the identity plus enough bookkeeping to expire it.
type Session struct {
	ID   string // UUIDv7, issued on first connect
	Room string // last room the session connected to

	CreatedAt  time.Time
	LastSeenAt time.Time
}
