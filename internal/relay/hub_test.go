package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twinelabs/twine/internal/backplane"
	"github.com/twinelabs/twine/internal/models"
)

type recorder struct {
	got []*models.Message
}

func (r *recorder) Deliver(msg *models.Message) {
	r.got = append(r.got, msg)
}

func TestHub(t *testing.T) {
	ctx := context.Background()
	msg := &models.Message{Room: "lobby", Payload: "hello", CreatedAt: time.UnixMilli(100)}

	t.Run("delivers to joined receivers", func(t *testing.T) {
		bus := backplane.NewMemory()
		hub := NewHub(bus)

		a := &recorder{}
		b := &recorder{}
		require.NoError(t, hub.Join("lobby", a))
		require.NoError(t, hub.Join("lobby", b))

		require.NoError(t, bus.Publish(ctx, msg))
		require.Len(t, a.got, 1)
		require.Len(t, b.got, 1)
	})

	t.Run("rooms are isolated", func(t *testing.T) {
		bus := backplane.NewMemory()
		hub := NewHub(bus)

		a := &recorder{}
		require.NoError(t, hub.Join("other", a))

		require.NoError(t, bus.Publish(ctx, msg))
		require.Empty(t, a.got)
	})

	t.Run("leave stops delivery", func(t *testing.T) {
		bus := backplane.NewMemory()
		hub := NewHub(bus)

		a := &recorder{}
		require.NoError(t, hub.Join("lobby", a))
		hub.Leave("lobby", a)

		require.NoError(t, bus.Publish(ctx, msg))
		require.Empty(t, a.got)
	})

	t.Run("last leave cancels the room subscription", func(t *testing.T) {
		bus := backplane.NewMemory()
		hub := NewHub(bus)

		a := &recorder{}
		b := &recorder{}
		require.NoError(t, hub.Join("lobby", a))
		require.NoError(t, hub.Join("lobby", b))

		hub.Leave("lobby", a)
		require.NoError(t, bus.Publish(ctx, msg))
		require.Len(t, b.got, 1)

		hub.Leave("lobby", b)
		// both gone: publish reaches nobody and the hub resubscribes cleanly
		require.NoError(t, bus.Publish(ctx, msg))
		require.Len(t, b.got, 1)

		c := &recorder{}
		require.NoError(t, hub.Join("lobby", c))
		require.NoError(t, bus.Publish(ctx, msg))
		require.Len(t, c.got, 1)
	})

	t.Run("leave of an unknown room is harmless", func(t *testing.T) {
		hub := NewHub(backplane.NewMemory())
		hub.Leave("nowhere", &recorder{})
	})
}
