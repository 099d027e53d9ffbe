// Package circuitbreaker guards outbound provider calls: after a run of
// failures the breaker opens and rejects calls immediately instead of
// stacking timeouts on an unavailable upstream.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned without invoking the call while the breaker is open.
	ErrOpen = errors.New("circuit breaker open")
	// ErrHalfOpenSaturated is returned when the half-open probe quota is spent.
	ErrHalfOpenSaturated = errors.New("circuit breaker half-open quota exhausted")
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ragcore_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_circuit_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_circuit_rejections_total",
			Help: "Calls rejected without reaching the upstream",
		},
		[]string{"name"},
	)
)

// Config tunes the breaker thresholds.
type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold uint32
	// MaxHalfOpenCalls bounds concurrent probes while half-open.
	MaxHalfOpenCalls uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// CountingWindow resets the closed-state counters when it elapses.
	CountingWindow time.Duration
}

// DefaultConfig suits a single model-provider upstream.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		MaxHalfOpenCalls: 3,
		OpenTimeout:      10 * time.Second,
		CountingWindow:   time.Minute,
	}
}

// Counts tracks request outcomes within the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker implements a generation-counted circuit breaker. Outcomes from
// calls that started before a state change are discarded so a stale slow
// failure cannot re-open a freshly closed circuit.
type Breaker struct {
	name string
	cfg  Config
	log  *zap.Logger

	// now is swapped in tests to step through open-timeout transitions.
	now func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		log:   logger,
		now:   time.Now,
		state: StateClosed,
	}
	b.expiry = b.now().Add(cfg.CountingWindow)
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Execute runs fn unless the breaker rejects the call. A nil return from fn
// counts as success, anything else as failure.
func (b *Breaker) Execute(fn func() error) error {
	generation, err := b.beforeCall()
	if err != nil {
		breakerRejections.WithLabelValues(b.name).Inc()
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.afterCall(generation, false)
			panic(r)
		}
	}()

	err = fn()
	b.afterCall(generation, err == nil)
	return err
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(b.now())
	return state
}

// Counts returns a copy of the current generation's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

func (b *Breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.currentState(b.now())
	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxHalfOpenCalls {
		return generation, ErrHalfOpenSaturated
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterCall(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		if b.counts.ConsecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.counts.ConsecutiveFailures >= b.cfg.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		// One failed probe sends us straight back to open.
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.newGeneration(now)

	breakerState.WithLabelValues(b.name).Set(float64(state))
	breakerTransitions.WithLabelValues(b.name, prev.String(), state.String()).Inc()
	b.log.Info("Circuit breaker state change",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		if b.cfg.CountingWindow > 0 {
			b.expiry = now.Add(b.cfg.CountingWindow)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.cfg.OpenTimeout)
	default:
		b.expiry = time.Time{}
	}
}
