// Package postgres implements the message log on a PostgreSQL table keyed
// by (room, created_at).
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/store"
)

// appendAttempts bounds the timestamp-collision retry loop in Append.
const appendAttempts = 5

// MessageLog is a PostgreSQL implementation of store.MessageLog.
type MessageLog struct {
	pool *pgxpool.Pool
}

// NewMessageLog creates a message log on an existing connection pool.
func NewMessageLog(pool *pgxpool.Pool) *MessageLog {
	return &MessageLog{pool: pool}
}

// Append inserts a message with a server-assigned created_at that is
// strictly increasing within the room: the later of the database clock
// (truncated to milliseconds) and one millisecond past the room's current
// maximum. The primary key on (room, created_at) makes ties impossible.
//
// Two concurrent appends in the same millisecond compute the same key; the
// loser hits a unique violation and retries, observing the winner's row on
// the next pass.
func (s *MessageLog) Append(ctx context.Context, room string, payload string) (*models.Message, error) {
	for attempt := 0; attempt < appendAttempts; attempt++ {
		var createdAt time.Time
		err := s.pool.QueryRow(ctx, `
			INSERT INTO messages (room, created_at, payload)
			SELECT $1,
			       GREATEST(
			           date_trunc('milliseconds', clock_timestamp()),
			           COALESCE(max(created_at) + interval '1 millisecond', 'epoch'::timestamptz)
			       ),
			       $2
			FROM messages
			WHERE room = $1
			RETURNING created_at
		`, room, payload).Scan(&createdAt)
		if err != nil {
			if isAppendConflict(err) {
				continue
			}
			return nil, mapPostgresError(err)
		}

		return &models.Message{
			Room:      room,
			Payload:   payload,
			CreatedAt: createdAt.UTC(),
		}, nil
	}

	return nil, fmt.Errorf("failed to append message after %d timestamp collisions", appendAttempts)
}

// QueryAfter returns messages with created_at strictly after the bound,
// ascending. The cursor is the wire timestamp of the last returned message.
func (s *MessageLog) QueryAfter(ctx context.Context, room string, after time.Time, pageSize int, cursor string) (*store.Page, error) {
	bound := after
	if cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", store.ErrInvalidCursor, cursor)
		}
		bound = time.UnixMilli(ms)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT room, payload, created_at
		FROM messages
		WHERE room = $1 AND created_at > $2
		ORDER BY created_at
		LIMIT $3
	`, room, bound, pageSize)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	page := &store.Page{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.Room, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, mapPostgresError(err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		page.Items = append(page.Items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	if pageSize > 0 && len(page.Items) == pageSize {
		page.NextCursor = strconv.FormatInt(page.Items[len(page.Items)-1].CreatedAt.UnixMilli(), 10)
	}

	return page, nil
}

// PruneBefore deletes messages older than the cutoff across all rooms.
func (s *MessageLog) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, mapPostgresError(err)
	}
	return int(tag.RowsAffected()), nil
}
