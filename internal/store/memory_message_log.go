package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/twinelabs/twine/internal/models"
)

// MemoryMessageLog implements MessageLog using in-memory storage. Intended
// for single-node deployments, development and tests.
type MemoryMessageLog struct {
	mu    sync.RWMutex
	rooms map[string][]models.Message
}

// NewMemoryMessageLog creates a new in-memory message log.
func NewMemoryMessageLog() *MemoryMessageLog {
	return &MemoryMessageLog{
		rooms: make(map[string][]models.Message),
	}
}

// Append stores a message with a CreatedAt that is strictly increasing
// within the room, so equal-timestamp ties cannot occur in this backend.
func (s *MemoryMessageLog) Append(ctx context.Context, room string, payload string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Millisecond)
	msgs := s.rooms[room]
	if n := len(msgs); n > 0 {
		if last := msgs[n-1].CreatedAt; !now.After(last) {
			now = last.Add(time.Millisecond)
		}
	}

	msg := models.Message{Room: room, Payload: payload, CreatedAt: now}
	s.rooms[room] = append(msgs, msg)

	return &msg, nil
}

// QueryAfter returns messages with CreatedAt strictly after the bound, in
// ascending order. The cursor is the wire timestamp of the last message of
// the previous page.
func (s *MemoryMessageLog) QueryAfter(ctx context.Context, room string, after time.Time, pageSize int, cursor string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bound := after
	if cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		bound = time.UnixMilli(ms)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[room]
	start := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(bound)
	})

	end := len(msgs)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}

	page := &Page{
		Items: append([]models.Message(nil), msgs[start:end]...),
	}
	if end < len(msgs) {
		page.NextCursor = strconv.FormatInt(msgs[end-1].CreatedAt.UnixMilli(), 10)
	}

	return page, nil
}

// PruneBefore removes messages with CreatedAt before the cutoff.
func (s *MemoryMessageLog) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for room, msgs := range s.rooms {
		keep := sort.Search(len(msgs), func(i int) bool {
			return !msgs[i].CreatedAt.Before(cutoff)
		})
		if keep == 0 {
			continue
		}
		removed += keep
		remaining := append([]models.Message(nil), msgs[keep:]...)
		if len(remaining) == 0 {
			delete(s.rooms, room)
			continue
		}
		s.rooms[room] = remaining
	}

	return removed, nil
}
