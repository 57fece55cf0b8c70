// Package circuit builds the circuit breaker guarding Mercado Pago calls.
package circuit

import (
	"errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/config"
)

// Breaker is a two-step breaker: Allow before the call, then report the
// outcome through the returned done func.
type Breaker = gobreaker.TwoStepCircuitBreaker

// New maps cfg onto gobreaker settings. The breaker opens after
// cfg.Threshold consecutive failures, stays open for cfg.OpenTimeout and
// then lets cfg.MaxHalfOpen trial calls through.
func New(name string, cfg config.BreakerConfig, logger *zap.Logger) *Breaker {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// IsOpen reports whether err means the breaker rejected the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
