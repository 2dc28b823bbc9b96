package breaker

import (
	"sync"
	"time"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed indicates normal operation.
	StateClosed State = iota
	// StateOpen indicates the provider is skipped until cooldown elapses.
	StateOpen
	// StateHalfOpen indicates one trial call is permitted.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config controls thresholds for state transitions.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// Cooldown is how long an opened breaker skips the provider.
	Cooldown time.Duration
	// RateLimitedCooldown applies instead of Cooldown when the failure that
	// opened (or re-opened) the breaker was the provider reporting throttling.
	RateLimitedCooldown time.Duration
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    3,
		Cooldown:            5 * time.Minute,
		RateLimitedCooldown: 15 * time.Minute,
	}
}

// Breaker is a per-provider failure state machine. Exactly one instance
// exists per provider for the process lifetime and is shared by all
// concurrent fetches.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	cooldownUntil time.Time
	probing       bool
	now           func() time.Time
}

// Snapshot is a read-only view of breaker state for introspection.
type Snapshot struct {
	State             State         `json:"-"`
	StateName         string        `json:"state"`
	Failures          int           `json:"consecutive_failures"`
	OpenedAt          time.Time     `json:"opened_at,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a breaker with an injectable clock for tests.
func NewWithClock(cfg Config, now func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.RateLimitedCooldown <= 0 {
		cfg.RateLimitedCooldown = cfg.Cooldown
	}
	return &Breaker{cfg: cfg, now: now}
}

// Allow reports whether a call to the provider may proceed. While open it
// denies until the cooldown elapses, then transitions to half-open and
// admits exactly one probe; concurrent callers racing for the probe slot are
// serialized here so a cooling provider never receives a burst of probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(b.cooldownUntil) {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful call. A partial provider result still counts
// as a success; only transport-level failures are charged.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.openedAt = time.Time{}
	b.cooldownUntil = time.Time{}
}

// Failure records a failed call of the given class and applies the
// transition table. Not-found is screened out by the orchestrator before it
// gets here.
func (b *Breaker) Failure(class core.Class) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open(class)
		}
	case StateHalfOpen:
		// Failed probe: back to open with a fresh cooldown. Cooldown is a
		// fixed duration, not exponential; see DESIGN.md.
		b.open(class)
	case StateOpen:
		// A call that was already in flight when the breaker opened.
		b.cooldownUntil = b.now().Add(b.cooldownFor(class))
	}
	b.probing = false
}

func (b *Breaker) open(class core.Class) {
	now := b.now()
	b.state = StateOpen
	b.openedAt = now
	b.cooldownUntil = now.Add(b.cooldownFor(class))
}

func (b *Breaker) cooldownFor(class core.Class) time.Duration {
	if class == core.ClassRateLimited {
		return b.cfg.RateLimitedCooldown
	}
	return b.cfg.Cooldown
}

// ForceClose resets the breaker to closed for manual recovery.
func (b *Breaker) ForceClose() {
	b.Success()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state for the health endpoint.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		State:     b.state,
		StateName: b.state.String(),
		Failures:  b.failures,
		OpenedAt:  b.openedAt,
	}
	if b.state == StateOpen {
		if remaining := b.cooldownUntil.Sub(b.now()); remaining > 0 {
			s.CooldownRemaining = remaining
		}
	}
	return s
}
