package statusbus

import (
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan autosave.Status) autosave.Status {
	t.Helper()
	select {
	case st, ok := <-ch:
		require.True(t, ok, "channel closed")
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
		return autosave.Status{}
	}
}

func TestInMemoryBus_DeliversPerDocument(t *testing.T) {
	bus := NewInMemory(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, autosave.Status{DocumentID: "p2", State: autosave.StateSaving, Seq: 1}))
	require.NoError(t, bus.Publish(ctx, autosave.Status{DocumentID: "p1", State: autosave.StateSaving, Seq: 1}))
	require.NoError(t, bus.Publish(ctx, autosave.Status{DocumentID: "p1", State: autosave.StateSaved, Seq: 2}))

	first := receive(t, ch)
	require.Equal(t, "p1", first.DocumentID)
	require.Equal(t, autosave.StateSaving, first.State)
	second := receive(t, ch)
	require.Equal(t, autosave.StateSaved, second.State)
	require.Equal(t, uint64(2), second.Seq)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForward(t *testing.T) {
	bus := NewInMemory(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "p1")
	require.NoError(t, err)

	listener := Forward(ctx, bus)
	listener(autosave.Status{DocumentID: "p1", State: autosave.StateError, LastError: "offline"})
	// dropped: no document
	listener(autosave.Status{State: autosave.StateIdle})

	st := receive(t, ch)
	require.Equal(t, autosave.StateError, st.State)
	require.Equal(t, "offline", st.LastError)
}

func TestPublishRequiresDocument(t *testing.T) {
	bus := NewInMemory(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	require.Error(t, bus.Publish(context.Background(), autosave.Status{State: autosave.StateIdle}))
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := NewInMemory(zerolog.Nop())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	_, err := bus.Subscribe(context.Background(), "p1")
	require.Error(t, err)
}

func TestTopic(t *testing.T) {
	require.Equal(t, "autosave.status.abc", Topic("abc"))
}
