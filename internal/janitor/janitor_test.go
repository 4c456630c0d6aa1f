package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twinelabs/twine/internal/registry"
	"github.com/twinelabs/twine/internal/store"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("prunes messages past retention", func(t *testing.T) {
		msgLog := store.NewMemoryMessageLog()
		reg := registry.New()

		now := time.Now()
		_, err := msgLog.Append(ctx, "lobby", "old")
		require.NoError(t, err)

		j := New(msgLog, reg, time.Millisecond, time.Hour)
		j.Sweep(ctx, now.Add(time.Hour))

		page, err := msgLog.QueryAfter(ctx, "lobby", time.Time{}, 10, "")
		require.NoError(t, err)
		require.Empty(t, page.Items)
	})

	t.Run("retains messages within retention", func(t *testing.T) {
		msgLog := store.NewMemoryMessageLog()
		reg := registry.New()

		_, err := msgLog.Append(ctx, "lobby", "recent")
		require.NoError(t, err)

		j := New(msgLog, reg, 24*time.Hour, time.Hour)
		j.Sweep(ctx, time.Now())

		page, err := msgLog.QueryAfter(ctx, "lobby", time.Time{}, 10, "")
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
	})

	t.Run("expires idle sessions", func(t *testing.T) {
		msgLog := store.NewMemoryMessageLog()
		reg := registry.New()

		start := time.Now()
		reg.Register("idle", "lobby", start.Add(-2*time.Hour))
		reg.Register("active", "lobby", start)

		j := New(msgLog, reg, 0, time.Hour)
		j.Sweep(ctx, start)

		_, ok := reg.Lookup("idle")
		require.False(t, ok)
		_, ok = reg.Lookup("active")
		require.True(t, ok)
	})

	t.Run("zero durations disable sweeps", func(t *testing.T) {
		msgLog := store.NewMemoryMessageLog()
		reg := registry.New()

		reg.Register("ancient", "lobby", time.UnixMilli(0))
		_, err := msgLog.Append(ctx, "lobby", "ancient")
		require.NoError(t, err)

		j := New(msgLog, reg, 0, 0)
		j.Sweep(ctx, time.Now())

		require.Equal(t, 1, reg.Len())
		page, err := msgLog.QueryAfter(ctx, "lobby", time.Time{}, 10, "")
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
	})
}

func TestStartStop(t *testing.T) {
	j := New(store.NewMemoryMessageLog(), registry.New(), time.Hour, time.Hour)

	require.Error(t, j.Start("not a schedule"))

	require.NoError(t, j.Start("*/3 * * * *"))
	j.Stop()
}
