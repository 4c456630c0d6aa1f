package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/twinelabs/twine/internal/store"
)

func TestCursorRoundTrip(t *testing.T) {
	id := primitive.NewObjectID()
	createdAt := time.UnixMilli(1700000000123).UTC()

	bound, lastID, err := parseCursor(encodeCursor(createdAt, id))
	require.NoError(t, err)
	require.True(t, bound.Equal(createdAt))
	require.Equal(t, id, lastID)
}

func TestHistoryFilter(t *testing.T) {
	after := time.UnixMilli(100).UTC()

	t.Run("no cursor filters on the watermark only", func(t *testing.T) {
		filter, err := historyFilter("lobby", after, "")
		require.NoError(t, err)
		require.Equal(t, "lobby", filter["room"])
		require.Equal(t, bson.M{"$gt": after}, filter["created_at"])
		require.NotContains(t, filter, "$or")
	})

	t.Run("cursor resumes after the exact document", func(t *testing.T) {
		// two messages share a millisecond and straddle a page boundary;
		// the resume filter must still match the second one
		lastID := primitive.NewObjectID()
		bound := time.UnixMilli(200).UTC()

		filter, err := historyFilter("lobby", after, encodeCursor(bound, lastID))
		require.NoError(t, err)

		or, ok := filter["$or"].([]bson.M)
		require.True(t, ok)
		require.Len(t, or, 2)
		require.Equal(t, bson.M{"$gt": bound}, or[0]["created_at"])
		require.Equal(t, bound, or[1]["created_at"])
		require.Equal(t, bson.M{"$gt": lastID}, or[1]["_id"])
	})
}

func TestQueryAfterRejectsMalformedCursor(t *testing.T) {
	msgLog := &MessageLog{}

	for _, cursor := range []string{"garbage", "123", "abc/def", "123/nothex"} {
		_, err := msgLog.QueryAfter(context.Background(), "lobby", time.UnixMilli(0), 10, cursor)
		require.ErrorIs(t, err, store.ErrInvalidCursor, "cursor %q", cursor)
	}
}
