package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockToday(t *testing.T) {
	t.Parallel()

	clk := New()
	today := clk.Today()
	parsed, err := digest.ParseDateKey(today.String(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, today, parsed)
	require.Equal(t, digest.DateKeyFor(time.Now()), today)
}
