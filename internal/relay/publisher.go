package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/twinelabs/twine/internal/backplane"
	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/store"
	"github.com/twinelabs/twine/internal/telemetry"
)

// Publisher appends messages to the durable log and fans them out. Append
// and broadcast are not transactional: a broadcast that never happens only
// delays delivery until the client's next reconnect replays it.
type Publisher struct {
	log store.MessageLog
	bus backplane.Backplane
}

// NewPublisher creates a publisher over the given log and backplane.
func NewPublisher(msgLog store.MessageLog, bus backplane.Backplane) *Publisher {
	return &Publisher{
		log: msgLog,
		bus: bus,
	}
}

// Publish appends the payload to the room's log, then broadcasts the stored
// message. Append failure aborts before any broadcast so nothing volatile
// is delivered. Broadcast failure after a successful append is logged and
// swallowed.
func (p *Publisher) Publish(ctx context.Context, room, payload string) (*models.Message, error) {
	metrics := telemetry.GetMetrics()

	msg, err := p.log.Append(ctx, room, payload)
	if err != nil {
		metrics.PublishErrorsTotal.Add(ctx, 1)
		return nil, fmt.Errorf("append failed: %w", err)
	}
	metrics.MessagesPublishedTotal.Add(ctx, 1)

	if err := p.bus.Publish(ctx, msg); err != nil {
		metrics.BroadcastErrorsTotal.Add(ctx, 1)
		log.Warn().
			Err(err).
			Str("room", room).
			Int64("created_at", msg.CreatedAt.UnixMilli()).
			Msg("broadcast failed after append")
	}

	return msg, nil
}
