package autosavetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock_FiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewClock(start)
	var fired []string
	var firedAt []time.Time

	record := func(name string) func() {
		return func() {
			fired = append(fired, name)
			firedAt = append(firedAt, clk.Now())
		}
	}
	clk.AfterFunc(3*time.Second, record("c"))
	clk.AfterFunc(time.Second, record("a"))
	clk.AfterFunc(time.Second, record("b"))

	clk.Advance(2 * time.Second)
	require.Equal(t, []string{"a", "b"}, fired)
	require.Equal(t, start.Add(time.Second), firedAt[0])
	require.Equal(t, start.Add(2*time.Second), clk.Now())
	require.Equal(t, 1, clk.Pending())

	clk.Advance(time.Second)
	require.Equal(t, []string{"a", "b", "c"}, fired)
	require.Equal(t, []time.Duration{3 * time.Second, time.Second, time.Second}, clk.Delays())
}

func TestClock_StopAndReschedule(t *testing.T) {
	clk := NewClock(time.Unix(0, 0))
	count := 0

	tm := clk.AfterFunc(time.Second, func() { count++ })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	clk.Advance(time.Minute)
	require.Equal(t, 0, count)

	// a callback scheduling another timer inside the advanced window
	clk.AfterFunc(time.Second, func() {
		count++
		clk.AfterFunc(time.Second, func() { count++ })
	})
	fired := clk.AfterFunc(500*time.Millisecond, func() {})
	clk.Advance(3 * time.Second)
	require.Equal(t, 2, count)
	require.False(t, fired.Stop())
	require.Equal(t, 0, clk.Pending())
}
