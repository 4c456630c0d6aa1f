package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid milliseconds", func(t *testing.T) {
		got, err := Parse("1700000000000")
		require.NoError(t, err)
		require.Equal(t, time.UnixMilli(1700000000000).UTC(), got)
	})

	t.Run("zero", func(t *testing.T) {
		got, err := Parse("0")
		require.NoError(t, err)
		require.Equal(t, time.UnixMilli(0).UTC(), got)
	})

	t.Run("empty is absent", func(t *testing.T) {
		_, err := Parse("")
		require.ErrorIs(t, err, ErrNoWatermark)
	})

	t.Run("non-numeric is malformed", func(t *testing.T) {
		_, err := Parse("not-a-number")
		require.ErrorIs(t, err, ErrMalformedWatermark)
	})

	t.Run("negative is malformed", func(t *testing.T) {
		_, err := Parse("-5")
		require.ErrorIs(t, err, ErrMalformedWatermark)
	})
}

func TestAdvance(t *testing.T) {
	earlier := time.UnixMilli(100)
	later := time.UnixMilli(200)

	t.Run("moves forward", func(t *testing.T) {
		require.Equal(t, later, Advance(earlier, later))
	})

	t.Run("never moves backward", func(t *testing.T) {
		require.Equal(t, later, Advance(later, earlier))
	})

	t.Run("equal timestamps hold", func(t *testing.T) {
		require.Equal(t, later, Advance(later, later))
	})
}

func TestFormat(t *testing.T) {
	require.Equal(t, "1700000000000", Format(time.UnixMilli(1700000000000)))
	require.Equal(t, "0", Format(time.Time{}))
}

func TestRoundTrip(t *testing.T) {
	wm := time.UnixMilli(1700000000123).UTC()
	parsed, err := Parse(Format(wm))
	require.NoError(t, err)
	require.Equal(t, wm, parsed)
}
