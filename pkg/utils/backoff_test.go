package utils

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestJitterBackOffExponential(t *testing.T) {
	b := NewJitterBackOff(JitterBackOffConfig{
		Base: 100 * time.Millisecond,
	})

	require.Equal(t, 100*time.Millisecond, b.NextBackOff())
	require.Equal(t, 200*time.Millisecond, b.NextBackOff())
	require.Equal(t, 400*time.Millisecond, b.NextBackOff())
	require.Equal(t, 3, b.Attempt())

	b.Reset()
	require.Equal(t, 0, b.Attempt())
	require.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestJitterBackOffCap(t *testing.T) {
	b := NewJitterBackOff(JitterBackOffConfig{
		Base:   time.Second,
		Factor: 10,
		Max:    5 * time.Second,
	})
	b.NextBackOff()
	require.Equal(t, 5*time.Second, b.NextBackOff())
	require.Equal(t, 5*time.Second, b.NextBackOff())
}

func TestJitterBackOffJitterBounds(t *testing.T) {
	b := NewJitterBackOff(JitterBackOffConfig{
		Base:   80 * time.Millisecond,
		Jitter: 40 * time.Millisecond,
	})
	for i := 0; i < 50; i++ {
		b.Reset()
		d := b.NextBackOff()
		require.GreaterOrEqual(t, d, 40*time.Millisecond)
		require.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestNonNegative(t *testing.T) {
	b := NonNegative(NewJitterBackOff(JitterBackOffConfig{
		Base:   time.Millisecond,
		Jitter: 50 * time.Millisecond,
	}))
	for i := 0; i < 20; i++ {
		require.GreaterOrEqual(t, b.NextBackOff(), time.Duration(0))
	}

	stopped := NonNegative(backoff.WithMaxRetries(NewJitterBackOff(JitterBackOffConfig{Base: time.Millisecond}), 1))
	require.Equal(t, time.Millisecond, stopped.NextBackOff())
	require.Equal(t, backoff.Stop, stopped.NextBackOff())
}
