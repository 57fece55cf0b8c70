package circuit

import (
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lumiere/lumiere-payments/config"
)

func newTestBreaker(t *testing.T, threshold, maxHalfOpen uint32, openTimeout time.Duration) *Breaker {
	t.Helper()
	return New("mercadopago", config.BreakerConfig{
		Threshold:   threshold,
		OpenTimeout: openTimeout,
		MaxHalfOpen: maxHalfOpen,
	}, zaptest.NewLogger(t))
}

func fail(t *testing.T, b *Breaker) {
	t.Helper()
	done, err := b.Allow()
	require.NoError(t, err)
	done(false)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(t, 3, 1, time.Hour)

	fail(t, b)
	fail(t, b)
	require.Equal(t, gobreaker.StateClosed, b.State())

	fail(t, b)
	require.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Allow()
	require.True(t, IsOpen(err))
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(t, 2, 1, time.Hour)

	fail(t, b)
	done, err := b.Allow()
	require.NoError(t, err)
	done(true)
	fail(t, b)
	require.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	b := newTestBreaker(t, 1, 1, 20*time.Millisecond)

	fail(t, b)
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	done, err := b.Allow()
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateHalfOpen, b.State())

	_, err = b.Allow()
	require.True(t, IsOpen(err), "only one trial call in half-open")

	done(true)
	require.Equal(t, gobreaker.StateClosed, b.State())
	_, err = b.Allow()
	require.NoError(t, err)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(t, 1, 2, 20*time.Millisecond)

	fail(t, b)
	time.Sleep(40 * time.Millisecond)
	fail(t, b)

	require.Equal(t, gobreaker.StateOpen, b.State())
	_, err := b.Allow()
	require.True(t, IsOpen(err))
}

func TestZeroThresholdTripsOnFirstFailure(t *testing.T) {
	b := newTestBreaker(t, 0, 1, time.Hour)

	fail(t, b)
	require.Equal(t, gobreaker.StateOpen, b.State())
}
