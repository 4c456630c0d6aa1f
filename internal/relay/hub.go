package relay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/twinelabs/twine/internal/backplane"
	"github.com/twinelabs/twine/internal/models"
)

// Receiver consumes live messages for one connection. Deliver must not
// block.
type Receiver interface {
	Deliver(msg *models.Message)
}

// Hub routes backplane traffic to the local connections of each room. It
// holds one backplane subscription per room with at least one member and
// drops it when the last member leaves.
type Hub struct {
	mu    sync.Mutex
	bus   backplane.Backplane
	rooms map[string]*roomState
}

type roomState struct {
	members     map[Receiver]struct{}
	unsubscribe func() error
}

// NewHub creates a hub over the given backplane.
func NewHub(bus backplane.Backplane) *Hub {
	return &Hub{
		bus:   bus,
		rooms: make(map[string]*roomState),
	}
}

// Join adds a receiver to a room, subscribing to the backplane if this is
// the room's first local member.
func (h *Hub) Join(room string, rcv Receiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[room]
	if !ok {
		cancel, err := h.bus.Subscribe(room, func(msg *models.Message) {
			h.dispatch(room, msg)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to room %q: %w", room, err)
		}
		rs = &roomState{
			members:     make(map[Receiver]struct{}),
			unsubscribe: cancel,
		}
		h.rooms[room] = rs
	}

	rs.members[rcv] = struct{}{}
	return nil
}

// Leave removes a receiver from a room, cancelling the backplane
// subscription when the last local member is gone.
func (h *Hub) Leave(room string, rcv Receiver) {
	h.mu.Lock()

	rs, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(rs.members, rcv)

	if len(rs.members) > 0 {
		h.mu.Unlock()
		return
	}

	delete(h.rooms, room)
	unsubscribe := rs.unsubscribe
	h.mu.Unlock()

	if err := unsubscribe(); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("failed to cancel room subscription")
	}
}

func (h *Hub) dispatch(room string, msg *models.Message) {
	h.mu.Lock()
	rs, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	receivers := make([]Receiver, 0, len(rs.members))
	for rcv := range rs.members {
		receivers = append(receivers, rcv)
	}
	h.mu.Unlock()

	for _, rcv := range receivers {
		rcv.Deliver(msg)
	}
}
