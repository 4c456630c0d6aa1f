// Package relay implements the connection lifecycle: classify the
// handshake, replay missed history, then go live.
package relay

import (
	"time"

	"github.com/google/uuid"

	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/registry"
	"github.com/twinelabs/twine/internal/watermark"
)

// Kind says whether a connection is brand new or resuming a session.
type Kind int

const (
	FirstConnect Kind = iota
	Reconnect
)

func (k Kind) String() string {
	if k == Reconnect {
		return "reconnect"
	}
	return "first_connect"
}

// Classification is the outcome of inspecting handshake credentials.
// Watermark is only meaningful for Reconnect; a zero watermark replays the
// whole (capped) history.
type Classification struct {
	Kind      Kind
	Session   *models.Session
	Watermark time.Time
}

// Classifier decides FirstConnect vs Reconnect from the credentials a
// client presents. It consults only the in-memory registry, never the
// message log, and it never fails: anything unrecognisable becomes a first
// connect with a fresh identity.
type Classifier struct {
	registry *registry.Registry
}

// NewClassifier creates a classifier over the given registry.
func NewClassifier(reg *registry.Registry) *Classifier {
	return &Classifier{registry: reg}
}

// Classify inspects the presented session id and watermark. A known id is a
// reconnect trusting the presented watermark verbatim; a missing or
// malformed watermark on a known session falls back to zero, replaying
// everything up to the cap. Anything else registers a fresh session.
func (c *Classifier) Classify(room, sessionID, rawWatermark string, now time.Time) Classification {
	if sessionID != "" {
		if _, err := uuid.Parse(sessionID); err != nil {
			sessionID = ""
		}
	}

	if sessionID != "" {
		if sess, ok := c.registry.Lookup(sessionID); ok {
			wm, err := watermark.Parse(rawWatermark)
			if err != nil {
				wm = time.Time{}
			}
			c.registry.Touch(sessionID, room, now)
			return Classification{Kind: Reconnect, Session: sess, Watermark: wm}
		}
	}

	sess, _ := c.registry.Register(c.freshID(), room, now)
	return Classification{Kind: FirstConnect, Session: sess}
}

// freshID generates a UUIDv7 session id, regenerating once on the
// vanishingly unlikely collision with a registered session.
func (c *Classifier) freshID() string {
	id := uuid.Must(uuid.NewV7()).String()
	if _, ok := c.registry.Lookup(id); ok {
		id = uuid.Must(uuid.NewV7()).String()
	}
	return id
}
