package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/store"
)

const (
	// DefaultPageSize is how many messages each history query fetches.
	DefaultPageSize = 100

	// DefaultMaxReturn caps how many missed messages a reconnect replays.
	DefaultMaxReturn = 1000
)

// Replayer pages the message log for history a reconnecting client missed.
type Replayer struct {
	log       store.MessageLog
	pageSize  int
	maxReturn int
}

// NewReplayer creates a replayer. Non-positive sizes fall back to the
// defaults.
func NewReplayer(msgLog store.MessageLog, pageSize, maxReturn int) *Replayer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxReturn <= 0 {
		maxReturn = DefaultMaxReturn
	}
	return &Replayer{
		log:       msgLog,
		pageSize:  pageSize,
		maxReturn: maxReturn,
	}
}

// Replay returns the room's messages with CreatedAt strictly after the
// watermark, ascending, at most maxReturn of them. When more than maxReturn
// messages qualify the oldest are dropped: a long-absent client gets the
// most recent window, not the most stale one. The whole stream is paged so
// the window slides over everything the client missed.
//
// Cancelling the context abandons pagination; nothing is recorded
// server-side either way, since the watermark is client-owned.
func (r *Replayer) Replay(ctx context.Context, room string, after time.Time) ([]models.Message, error) {
	var window []models.Message
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.log.QueryAfter(ctx, room, after, r.pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("history query failed: %w", err)
		}

		window = append(window, page.Items...)
		if excess := len(window) - r.maxReturn; excess > 0 {
			window = append(window[:0], window[excess:]...)
		}

		if page.NextCursor == "" {
			return window, nil
		}
		cursor = page.NextCursor
	}
}
