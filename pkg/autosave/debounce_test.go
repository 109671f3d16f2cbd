package autosave_test

import (
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/autosave/autosavetest"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type recorder[T any] struct {
	mu    sync.Mutex
	calls []T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
}

func (r *recorder[T]) values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.calls...)
}

func TestDebouncer_CollapsesBurstIntoLatestCall(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	rec := &recorder[string]{}
	d := autosave.NewDebouncer(clk, 2*time.Second, rec.record)

	d.Invoke("a")
	clk.Advance(500 * time.Millisecond)
	d.Invoke("b")
	clk.Advance(500 * time.Millisecond)
	d.Invoke("c")

	clk.Advance(1999 * time.Millisecond)
	require.Empty(t, rec.values())
	require.True(t, d.Pending())

	clk.Advance(time.Millisecond)
	require.Equal(t, []string{"c"}, rec.values())
	require.False(t, d.Pending())
	require.Equal(t, 0, clk.Pending())
}

func TestDebouncer_CancelDropsPendingCall(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	rec := &recorder[string]{}
	d := autosave.NewDebouncer(clk, time.Second, rec.record)

	d.Cancel()

	d.Invoke("a")
	d.Cancel()
	clk.Advance(5 * time.Second)
	require.Empty(t, rec.values())

	d.Invoke("b")
	clk.Advance(time.Second)
	require.Equal(t, []string{"b"}, rec.values())
}

func TestDebouncer_FlushRunsPendingImmediately(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	rec := &recorder[int]{}
	d := autosave.NewDebouncer(clk, time.Second, rec.record)

	require.False(t, d.Flush())

	d.Invoke(1)
	d.Invoke(2)
	require.True(t, d.Flush())
	require.Equal(t, []int{2}, rec.values())

	clk.Advance(time.Minute)
	require.Equal(t, []int{2}, rec.values())
}

func TestDebouncer_Leading(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	rec := &recorder[string]{}
	d := autosave.NewDebouncer(clk, time.Second, rec.record, autosave.WithLeading(true))

	d.Invoke("a")
	require.Equal(t, []string{"a"}, rec.values())

	d.Invoke("b")
	d.Invoke("c")
	clk.Advance(time.Second)
	require.Equal(t, []string{"a", "c"}, rec.values())

	// a new burst after the quiet period leads again
	clk.Advance(2 * time.Second)
	d.Invoke("d")
	require.Equal(t, []string{"a", "c", "d"}, rec.values())
}

func TestDebouncer_LeadingOnly(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	rec := &recorder[string]{}
	d := autosave.NewDebouncer(clk, time.Second, rec.record,
		autosave.WithLeading(true), autosave.WithTrailing(false))

	d.Invoke("a")
	d.Invoke("b")
	clk.Advance(time.Second)
	require.Equal(t, []string{"a"}, rec.values())
	require.False(t, d.Pending())
}

func TestDebouncer_CallbackMayReinvoke(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	var d *autosave.Debouncer[int]
	rec := &recorder[int]{}
	d = autosave.NewDebouncer(clk, time.Second, func(n int) {
		rec.record(n)
		if n < 3 {
			d.Invoke(n + 1)
		}
	})

	d.Invoke(1)
	clk.Advance(10 * time.Second)
	require.Equal(t, []int{1, 2, 3}, rec.values())
}

func TestDebouncer_PendingUntilCallbackReturns(t *testing.T) {
	clk := autosavetest.NewClock(epoch)
	entered := make(chan struct{})
	release := make(chan struct{})
	d := autosave.NewDebouncer(clk, time.Second, func(string) {
		close(entered)
		<-release
	})

	d.Invoke("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		clk.Advance(time.Second)
	}()
	<-entered
	require.True(t, d.Pending())

	close(release)
	<-done
	require.False(t, d.Pending())
}
