// Package backplane fans published messages out to every relay instance
// serving a room.
package backplane

import (
	"context"

	"github.com/twinelabs/twine/internal/models"
)

// Handler receives messages fanned out for a room. Handlers must not block;
// slow consumers are the subscriber's problem.
type Handler func(msg *models.Message)

// Backplane bridges room broadcasts across relay instances. Delivery is
// best-effort: a message lost here is still durable in the message log and
// is recovered by replay on reconnect.
type Backplane interface {
	// Publish fans the message out to all subscribers of its room.
	Publish(ctx context.Context, msg *models.Message) error

	// Subscribe registers a handler for a room and returns a function that
	// cancels the subscription.
	Subscribe(room string, fn Handler) (func() error, error)

	// Close releases the backplane's resources.
	Close() error
}
