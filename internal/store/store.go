package store

import (
	"context"
	"errors"
	"time"

	"github.com/twinelabs/twine/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrMessageLogUnavailable = errors.New("message log unavailable")
	ErrThrottled             = errors.New("request throttled")
	ErrInvalidCursor         = errors.New("invalid pagination cursor")
)

// Page is one slice of a room's history.
type Page struct {
	Items []models.Message

	// NextCursor resumes the scan where this page ended. Empty means the
	// history after the query bound is exhausted.
	NextCursor string
}

// MessageLog is the durable per-room message history. Implementations assign
// CreatedAt at append time and return history in ascending CreatedAt order.
type MessageLog interface {
	// Append persists a message and assigns its CreatedAt timestamp.
	Append(ctx context.Context, room string, payload string) (*models.Message, error)

	// QueryAfter returns up to pageSize messages with CreatedAt strictly
	// after the given time, ascending. Pass the previous page's NextCursor
	// to continue a scan; pass "" to start one.
	QueryAfter(ctx context.Context, room string, after time.Time, pageSize int, cursor string) (*Page, error)
}

// Pruner is implemented by message logs that support retention cleanup.
// Backends with native TTL support (e.g. DynamoDB) may omit it.
type Pruner interface {
	// PruneBefore deletes messages with CreatedAt before the cutoff and
	// returns the number removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
