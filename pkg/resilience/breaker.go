package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the wrapped function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase a Breaker is in.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig sets how many consecutive failures open the breaker and how
// long it stays open before one probe call is let through.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Breaker stops calling a dependency that keeps failing across runs. It does
// not retry; callers that want retries wrap Retry around Execute.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker. Zero config values default to three
// failures and a one minute cooldown.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "breaker", "name", name),
	}
}

// Execute calls fn unless the breaker is open and records the result.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State reports the current phase.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		wait := b.cfg.Cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, b.name, wait.Round(time.Millisecond))
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Info("breaker half-open, probing")
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("breaker closed")
		}
		b.state = StateClosed
		b.failures = 0
		b.probing = false
		return
	}
	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
		b.logger.Warn("probe failed, breaker re-opened", "error", err)
	case b.failures >= b.cfg.FailureThreshold:
		b.state = StateOpen
		b.openedAt = b.now()
		b.logger.Warn("breaker opened", "consecutive_failures", b.failures, "error", err)
	}
}
