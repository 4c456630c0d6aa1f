// Package watermark implements the client-owned delivery watermark: the
// CreatedAt of the last message a client processed, carried on the wire as
// milliseconds since the Unix epoch.
package watermark

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrNoWatermark        = errors.New("no watermark supplied")
	ErrMalformedWatermark = errors.New("malformed watermark")
)

// Parse converts the wire representation into a time. An empty string
// returns ErrNoWatermark so callers can distinguish absent from broken.
func Parse(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrNoWatermark
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformedWatermark
	}
	if ms < 0 {
		return time.Time{}, ErrMalformedWatermark
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Advance returns the later of the current watermark and the CreatedAt of a
// delivered message. Re-delivered or out-of-order messages never move the
// watermark backwards.
func Advance(current, createdAt time.Time) time.Time {
	if createdAt.After(current) {
		return createdAt
	}
	return current
}

// Format renders a watermark in its wire representation.
func Format(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
