package autosave

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Schedule(t *testing.T) {
	b := DefaultRetryPolicy().newBackOff()
	require.Equal(t, time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, 4*time.Second, b.NextBackOff())
	require.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryPolicy_ScheduleCapsAtMaxInterval(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, InitialInterval: time.Second, Multiplier: 3, MaxInterval: 5 * time.Second}
	b := p.Sanitized().newBackOff()
	var got []time.Duration
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		got = append(got, d)
	}
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}

func TestRetryPolicy_Sanitized(t *testing.T) {
	p := RetryPolicy{MaxRetries: -1, Multiplier: 0.5, MaxInterval: time.Millisecond, InitialInterval: time.Second, AttemptTimeout: -time.Second}
	s := p.Sanitized()
	require.Equal(t, 3, s.MaxRetries)
	require.Equal(t, 2.0, s.Multiplier)
	require.Equal(t, time.Second, s.MaxInterval)
	require.Equal(t, time.Duration(0), s.AttemptTimeout)

	require.Equal(t, DefaultRetryPolicy(), DefaultRetryPolicy().Sanitized())
}

func TestPermanent(t *testing.T) {
	require.Nil(t, Permanent(nil))

	base := errors.New("403 forbidden")
	err := errors.Wrap(Permanent(base), "save post")
	require.True(t, IsPermanent(err))
	require.Equal(t, "save post: 403 forbidden", err.Error())
	require.False(t, IsPermanent(base))
}
