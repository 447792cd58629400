package resilience

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call without running it.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker trips and how long it stays open.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// FailureThreshold is the number of consecutive recorded failures that
	// opens the circuit. Default: 5.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 30s.
	OpenTimeout time.Duration

	// HalfOpenRequests is the number of probe calls allowed while half-open.
	// Default: 1.
	HalfOpenRequests uint32

	// CountsFailure decides whether an error counts toward tripping. The
	// default counts only transient errors.
	CountsFailure func(err error) bool

	// OnStateChange is called on every transition. Defaults to a zap warning.
	OnStateChange func(name string, from, to string)
}

// DefaultBreakerConfig returns the breaker used around backend calls.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Breaker is a typed circuit breaker. It is safe for concurrent use.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// NewBreaker builds a breaker from cfg.
func NewBreaker[T any](cfg BreakerConfig) *Breaker[T] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	counts := cfg.CountsFailure
	if counts == nil {
		counts = IsTransient
	}
	onChange := cfg.OnStateChange
	if onChange == nil {
		onChange = func(name, from, to string) {
			zap.L().Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from),
				zap.String("to", to),
			)
		}
	}
	threshold := cfg.FailureThreshold

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !counts(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			onChange(name, from.String(), to.String())
		},
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn unless the circuit is open. Rejections are reported as a
// TransientError wrapping ErrCircuitOpen so callers treat them like any other
// upstream outage.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, NewTransientError(eris.Wrapf(ErrCircuitOpen, "%s: %v", b.cb.Name(), err), 0)
	}
	return v, err
}

// State returns the current state name: "closed", "half-open" or "open".
func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
