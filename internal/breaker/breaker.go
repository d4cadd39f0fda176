// Package breaker implements the per-source/per-LLM circuit breaker from
// spec §4.4: three states (closed, open, half-open), gating calls to the
// Vector Store and LLM adapters. State is atomic counters plus a mutex
// guarding only the transition itself, per spec §5's shared-resource model.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
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

// Config holds the tunables from spec §4.4/§6.
type Config struct {
	FailureThreshold     int     // F: consecutive failures that trip the breaker
	Window               int     // number of recent calls considered for the failure-rate check
	FailureRateThreshold float64 // theta_fail, e.g. 0.5
	CoolDown             time.Duration
	CoolDownMax          time.Duration
	RateLimitDamping     float64 // weight of a 429 failure, e.g. 0.5; below 1.0 the 429 is recorded in the rate window as a non-failure, while the consecutive-failure count still adds a full 1

	// OnTrip and OnRecover, when set, are called with the breaker's name on
	// every Closed/HalfOpen -> Open and HalfOpen -> Closed transition, so a
	// metrics.Registry can count them without this package depending on
	// metrics.
	OnTrip    func(name string)
	OnRecover func(name string)
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		Window:               20,
		FailureRateThreshold: 0.5,
		CoolDown:             30 * time.Second,
		CoolDownMax:          5 * time.Minute,
		RateLimitDamping:     0.5,
	}
}

// Breaker is one instance per source (or per LLM client). Safe for
// concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          atomic.Int32
	consecutiveFail atomic.Int64
	openedAt        atomic.Int64 // unix nanos
	coolDown        atomic.Int64 // current cool-down duration, nanos
	halfOpenInFlight atomic.Bool

	window   []bool // ring of recent outcomes, true = failure
	windowMu sync.Mutex
	windowPos int
}

// New creates a Breaker in the closed state.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg}
	b.coolDown.Store(int64(cfg.CoolDown))
	b.window = make([]bool, 0, cfg.Window)
	return b
}

// Name returns the breaker's identifier (source id or "llm").
func (b *Breaker) Name() string { return b.name }

// State returns the current state, resolving Open -> HalfOpen if the
// cool-down has elapsed.
func (b *Breaker) State() State {
	st := State(b.state.Load())
	if st != Open {
		return st
	}
	openedAt := time.Unix(0, b.openedAt.Load())
	coolDown := time.Duration(b.coolDown.Load())
	if time.Since(openedAt) >= coolDown {
		return HalfOpen
	}
	return Open
}

// Allow reports whether a call may proceed. It also performs the
// Open -> HalfOpen transition and claims the single half-open probe slot
// when applicable, so at most one caller is let through per cool-down.
func (b *Breaker) Allow() bool {
	switch b.State() {
	case Closed:
		return true
	case Open:
		return false
	case HalfOpen:
		// Only one probe is allowed at a time.
		return b.halfOpenInFlight.CompareAndSwap(false, true)
	default:
		return false
	}
}

// Kind classifies an outcome reported to RecordResult.
type Kind int

const (
	Success Kind = iota
	Failure
	RateLimited  // 429: a full consecutive failure; a window failure only when RateLimitDamping >= 1
	ClientError  // 4xx other than 429: never trips the breaker
)

// RecordResult reports the outcome of a call that Allow() permitted.
func (b *Breaker) RecordResult(kind Kind) {
	switch kind {
	case ClientError:
		return
	case Success:
		b.recordSuccess()
	case Failure:
		b.recordFailure(1.0)
	case RateLimited:
		b.recordFailure(b.cfg.RateLimitDamping)
	}
}

func (b *Breaker) recordSuccess() {
	st := b.State()
	b.consecutiveFail.Store(0)
	b.pushWindow(false)

	if st == HalfOpen {
		b.mu.Lock()
		b.state.Store(int32(Closed))
		b.coolDown.Store(int64(b.cfg.CoolDown))
		b.halfOpenInFlight.Store(false)
		b.mu.Unlock()
		if b.cfg.OnRecover != nil {
			b.cfg.OnRecover(b.name)
		}
	}
}

func (b *Breaker) recordFailure(weight float64) {
	st := b.State()
	fails := b.consecutiveFail.Add(1)
	b.pushWindow(weight >= 1.0)

	if st == HalfOpen {
		b.trip(doubled(time.Duration(b.coolDown.Load()), b.cfg.CoolDownMax))
		b.halfOpenInFlight.Store(false)
		return
	}

	if st == Open {
		return
	}

	windowFull, rate := b.windowState()
	if int(fails) >= b.cfg.FailureThreshold || (windowFull && rate >= b.cfg.FailureRateThreshold) {
		b.trip(b.cfg.CoolDown)
	}
}

func (b *Breaker) trip(coolDown time.Duration) {
	b.mu.Lock()
	b.state.Store(int32(Open))
	b.openedAt.Store(time.Now().UnixNano())
	b.coolDown.Store(int64(coolDown))
	b.mu.Unlock()
	if b.cfg.OnTrip != nil {
		b.cfg.OnTrip(b.name)
	}
}

func doubled(cur, max time.Duration) time.Duration {
	d := cur * 2
	if d > max {
		return max
	}
	if d <= 0 {
		return max
	}
	return d
}

func (b *Breaker) pushWindow(failure bool) {
	b.windowMu.Lock()
	defer b.windowMu.Unlock()
	if len(b.window) < b.cfg.Window {
		b.window = append(b.window, failure)
		return
	}
	b.window[b.windowPos] = failure
	b.windowPos = (b.windowPos + 1) % b.cfg.Window
}

// windowState reports whether the rolling window is full (spec §4.4's
// rate-threshold check only applies once it is) and its current failure
// rate.
func (b *Breaker) windowState() (full bool, rate float64) {
	b.windowMu.Lock()
	defer b.windowMu.Unlock()
	if len(b.window) == 0 {
		return false, 0
	}
	n := 0
	for _, f := range b.window {
		if f {
			n++
		}
	}
	return len(b.window) >= b.cfg.Window, float64(n) / float64(len(b.window))
}

// Registry holds one Breaker per source plus one for the LLM client.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates an empty Registry with the given default config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the named Breaker, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = New(name, r.cfg)
	r.breakers[name] = b
	return b
}
