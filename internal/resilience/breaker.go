package resilience

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker
type State int

const (
	StateClosed   State = iota // Normal operation - requests pass through
	StateOpen                  // Circuit is open - requests fail immediately
	StateHalfOpen              // Testing if service recovered - limited requests pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	WindowSize       int           // outcomes tracked in the sliding window
	MinCalls         int           // calls required before rates are evaluated
	FailureThreshold float64       // open when failed-or-slow rate reaches this
	SlowCallDuration time.Duration // a call taking longer counts as slow
	OpenDuration     time.Duration // how long to stay open before probing
	HalfOpenMaxCalls int           // probe calls admitted in half-open
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:       100,
		MinCalls:         10,
		FailureThreshold: 0.5,
		SlowCallDuration: 3 * time.Second,
		OpenDuration:     30 * time.Second,
		HalfOpenMaxCalls: 5,
	}
}

type outcome struct {
	failed bool
	slow   bool
}

// CircuitBreaker implements a count-based sliding-window circuit breaker to
// prevent cascading failures from an unhealthy collaborator.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	// onTransition is invoked (outside any user code, inside the lock) on
	// every state change; used for metrics.
	onTransition func(name string, to State)

	mu       sync.Mutex
	state    State
	window   []outcome
	next     int
	filled   int
	openedAt time.Time

	halfOpenIssued    int
	halfOpenSuccesses int

	now func() time.Time
}

// NewCircuitBreaker creates a breaker with the given thresholds.
func NewCircuitBreaker(name string, cfg BreakerConfig, onTransition func(name string, to State)) *CircuitBreaker {
	if cfg.WindowSize <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &CircuitBreaker{
		name:         name,
		cfg:          cfg,
		onTransition: onTransition,
		state:        StateClosed,
		window:       make([]outcome, cfg.WindowSize),
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. Returns ErrCircuitOpen when the
// circuit is open or the half-open probe budget is spent.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenDuration {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenIssued = 1
		return nil
	case StateHalfOpen:
		if cb.halfOpenIssued >= cb.cfg.HalfOpenMaxCalls {
			return ErrCircuitOpen
		}
		cb.halfOpenIssued++
		return nil
	default:
		return nil
	}
}

// Record feeds one call outcome back into the breaker.
func (cb *CircuitBreaker) Record(duration time.Duration, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	o := outcome{failed: err != nil, slow: duration >= cb.cfg.SlowCallDuration}

	if cb.state == StateHalfOpen {
		if o.failed {
			cb.trip()
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.reset()
			cb.transition(StateClosed)
		}
		return
	}

	cb.window[cb.next] = o
	cb.next = (cb.next + 1) % cb.cfg.WindowSize
	if cb.filled < cb.cfg.WindowSize {
		cb.filled++
	}

	if cb.filled >= cb.cfg.MinCalls && cb.badRate() >= cb.cfg.FailureThreshold {
		cb.trip()
	}
}

// ForceOpen trips the breaker regardless of traffic (operator action).
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip()
}

// ForceClose resets the breaker to closed with an empty window (operator action).
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// BreakerSnapshot is a read-only view for the admin endpoints.
type BreakerSnapshot struct {
	State       string  `json:"state"`
	Calls       int     `json:"numberOfCalls"`
	Failed      int     `json:"numberOfFailedCalls"`
	Slow        int     `json:"numberOfSlowCalls"`
	FailureRate float64 `json:"failureRate"`
}

func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed, slow := 0, 0
	for i := 0; i < cb.filled; i++ {
		if cb.window[i].failed {
			failed++
		}
		if cb.window[i].slow {
			slow++
		}
	}
	s := BreakerSnapshot{
		State:  cb.state.String(),
		Calls:  cb.filled,
		Failed: failed,
		Slow:   slow,
	}
	if cb.filled > 0 {
		s.FailureRate = cb.badRate()
	}
	return s
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// badRate is the fraction of tracked calls that failed or were slow.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) badRate() float64 {
	if cb.filled == 0 {
		return 0
	}
	bad := 0
	for i := 0; i < cb.filled; i++ {
		if cb.window[i].failed || cb.window[i].slow {
			bad++
		}
	}
	return float64(bad) / float64(cb.filled)
}

// trip opens the circuit and clears the window. Caller must hold cb.mu.
func (cb *CircuitBreaker) trip() {
	cb.reset()
	cb.openedAt = cb.now()
	if cb.state != StateOpen {
		cb.transition(StateOpen)
	}
}

// reset clears window and half-open counters. Caller must hold cb.mu.
func (cb *CircuitBreaker) reset() {
	for i := range cb.window {
		cb.window[i] = outcome{}
	}
	cb.next = 0
	cb.filled = 0
	cb.halfOpenIssued = 0
	cb.halfOpenSuccesses = 0
}

// transition changes state and notifies. Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	if cb.onTransition != nil {
		cb.onTransition(cb.name, to)
	}
}
