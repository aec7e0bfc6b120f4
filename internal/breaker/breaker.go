// Package breaker implements a three-phase circuit breaker, one instance
// per upstream endpoint. It gates calls to an unhealthy upstream and probes
// for recovery after a cooldown, following the classic closed/open/half-open
// state machine.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anthony/grpc-gateway/internal/apperr"
)

// Phase is one of the breaker's three states.
type Phase int

const (
	Closed Phase = iota
	Open
	HalfOpen
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker's tunables. Defaults per spec: 5 / 30s / 2.
type Config struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls uint32
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Breaker is safe for concurrent use. Its lock is never held across the
// protected call: Permit acquires and releases it, the call runs unlocked,
// RecordSuccess/RecordFailure acquire and release it again.
type Breaker struct {
	cfg Config

	mu                sync.Mutex
	phase             Phase
	openedAt          time.Time
	failureCount      uint32
	halfOpenInflight  uint32
	halfOpenSuccesses uint32

	metrics *metrics
}

// New creates a Breaker in the Closed phase with a zero failure count (the
// original source initialized this to 3, already two-thirds of the way to
// Open on construction; that was a bug and is not reproduced here).
func New(cfg Config, name string) *Breaker {
	return &Breaker{
		cfg:     cfg,
		phase:   Closed,
		metrics: newMetrics(name),
	}
}

// Permit reports whether a call may proceed right now, mutating breaker
// state as a side effect per the state machine:
//
//	Closed:   always true.
//	Open:     true (and transitions to HalfOpen) once recovery_timeout has
//	          elapsed, counting this permit as the first half-open call;
//	          false otherwise.
//	HalfOpen: true while under half_open_max_calls concurrent probes.
func (b *Breaker) Permit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			return false
		}
		b.transitionToHalfOpen()
		b.halfOpenInflight = 1
		return true
	case HalfOpen:
		if b.halfOpenInflight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInflight++
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == HalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			b.transitionToClosed()
		}
		return
	}
	b.transitionToClosed()
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == HalfOpen {
		b.transitionToOpen()
		return
	}

	b.failureCount++
	if b.failureCount >= b.cfg.FailureThreshold {
		b.transitionToOpen()
	}
}

// Call runs fn under the breaker: if Permit refuses, fn never runs and Call
// fails with apperr.ServiceUnavailable; otherwise fn's outcome is recorded
// and returned. Cancellation of ctx while fn is in flight still counts as a
// failure, so a cancelled call releases the half-open budget it consumed
// rather than starving it.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.Permit() {
		return apperr.New(apperr.ServiceUnavailable, "circuit breaker is open")
	}

	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Phase returns the breaker's current phase, for tests and diagnostics.
func (b *Breaker) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *Breaker) transitionToClosed() {
	if b.phase != Closed {
		b.metrics.transitions.WithLabelValues(b.phase.String(), Closed.String()).Inc()
	}
	b.phase = Closed
	b.failureCount = 0
	b.halfOpenInflight = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) transitionToOpen() {
	if b.phase != Open {
		b.metrics.transitions.WithLabelValues(b.phase.String(), Open.String()).Inc()
	}
	b.phase = Open
	b.openedAt = time.Now()
	b.halfOpenInflight = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) transitionToHalfOpen() {
	b.metrics.transitions.WithLabelValues(b.phase.String(), HalfOpen.String()).Inc()
	b.phase = HalfOpen
	b.halfOpenInflight = 0
	b.halfOpenSuccesses = 0
}

type metrics struct {
	transitions *prometheus.CounterVec
}

func newMetrics(name string) *metrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "grpc_gateway",
		Subsystem:   "breaker",
		Name:        "phase_transitions_total",
		Help:        "Circuit breaker phase transitions per upstream.",
		ConstLabels: prometheus.Labels{"endpoint": name},
	}, []string{"from", "to"})

	if err := prometheus.Register(transitions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			transitions = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &metrics{transitions: transitions}
}
