package relay

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/twinelabs/twine/internal/registry"
)

func TestClassify(t *testing.T) {
	now := time.UnixMilli(1000)

	t.Run("no credentials is a first connect", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		cls := c.Classify("lobby", "", "", now)
		require.Equal(t, FirstConnect, cls.Kind)
		require.NotEmpty(t, cls.Session.ID)

		// id is valid and registered before the client ever sees it
		_, err := uuid.Parse(cls.Session.ID)
		require.NoError(t, err)
		_, ok := reg.Lookup(cls.Session.ID)
		require.True(t, ok)
	})

	t.Run("unknown session id is a first connect with a fresh id", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		presented := uuid.Must(uuid.NewV7()).String()
		cls := c.Classify("lobby", presented, "500", now)
		require.Equal(t, FirstConnect, cls.Kind)
		require.NotEqual(t, presented, cls.Session.ID)
	})

	t.Run("malformed session id is a first connect", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		cls := c.Classify("lobby", "definitely-not-a-uuid", "500", now)
		require.Equal(t, FirstConnect, cls.Kind)
	})

	t.Run("known id is a reconnect trusting the watermark", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		first := c.Classify("lobby", "", "", now)
		second := c.Classify("lobby", first.Session.ID, "200", now.Add(time.Minute))
		require.Equal(t, Reconnect, second.Kind)
		require.Equal(t, first.Session.ID, second.Session.ID)
		require.Equal(t, time.UnixMilli(200).UTC(), second.Watermark)
	})

	t.Run("known id without a watermark replays from zero", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		first := c.Classify("lobby", "", "", now)
		second := c.Classify("lobby", first.Session.ID, "", now)
		require.Equal(t, Reconnect, second.Kind)
		require.True(t, second.Watermark.IsZero())
	})

	t.Run("known id with a malformed watermark replays from zero", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		first := c.Classify("lobby", "", "", now)
		second := c.Classify("lobby", first.Session.ID, "garbage", now)
		require.Equal(t, Reconnect, second.Kind)
		require.True(t, second.Watermark.IsZero())
	})

	t.Run("reconnect touches the session", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		first := c.Classify("lobby", "", "", now)
		later := now.Add(time.Hour)
		c.Classify("other", first.Session.ID, "0", later)

		sess, ok := reg.Lookup(first.Session.ID)
		require.True(t, ok)
		require.Equal(t, later, sess.LastSeenAt)
		require.Equal(t, "other", sess.Room)
	})

	t.Run("every first connect issues a distinct id", func(t *testing.T) {
		reg := registry.New()
		c := NewClassifier(reg)

		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			cls := c.Classify("lobby", "", "", now)
			require.False(t, seen[cls.Session.ID])
			seen[cls.Session.ID] = true
		}
	})
}
