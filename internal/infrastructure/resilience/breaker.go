package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without running the call while the breaker is
// open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
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

// Settings configures the circuit breaker behavior
type Settings struct {
	// Timeout is how long the breaker stays open before it lets one probe through.
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open.
	ReadyToTrip func(counts Counts) bool
	// IsFailure classifies a call error. Errors it rejects count as successes,
	// so a malformed response does not trip a breaker guarding timeouts.
	IsFailure func(err error) bool
	// OnStateChange runs with the breaker locked.
	OnStateChange func(name string, from State, to State)
}

// Counts are the call statistics since the last state change.
type Counts struct {
	Requests            uint32
	Successes           uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Breaker short-circuits calls to a peer that stopped answering. While
// half-open exactly one probe runs; callers arriving meanwhile wait for its
// outcome, which closes or reopens the breaker.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	probed   *sync.Cond
	state    State
	epoch    uint64
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a breaker. Zero settings fall back to a 60 s open timeout and
// tripping after five consecutive failures.
func New(name string, settings Settings) *Breaker {
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}

	b := &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
	}
	b.probed = sync.NewCond(&b.mu)
	return b
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Counts returns a copy of the counts since the last state change.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts. Calls still running
// when it returns no longer count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
		return
	}
	b.epoch++
	b.counts = Counts{}
	b.probing = false
	b.probed.Broadcast()
}

// Execute runs req if the breaker accepts it.
func (b *Breaker) Execute(req func() error) error {
	_, err := Do(b, func() (struct{}, error) {
		return struct{}{}, req()
	})
	return err
}

// Do runs fn through b and returns its typed result.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	epoch, err := b.admit()
	if err != nil {
		return zero, err
	}

	ok := false
	defer func() {
		if !ok {
			// fn panicked
			b.record(epoch, false)
		}
	}()

	result, err := fn()
	ok = true
	b.record(epoch, !b.settings.IsFailure(err))
	return result, err
}

// admit blocks while a half-open probe is in flight. The probe's own call
// is bounded, so the wait is too.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		b.refresh()
		if b.state == StateOpen {
			return 0, ErrCircuitOpen
		}
		if b.state == StateHalfOpen {
			if b.probing {
				b.probed.Wait()
				continue
			}
			b.probing = true
		}
		b.counts.Requests++
		return b.epoch, nil
	}
}

func (b *Breaker) record(epoch uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A Reset or trip while the call ran makes its outcome stale.
	if epoch != b.epoch {
		return
	}

	if success {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen)
	case b.settings.ReadyToTrip(b.counts):
		b.transition(StateOpen)
	}
}

func (b *Breaker) refresh() {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.settings.Timeout)) {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.epoch++
	b.counts = Counts{}
	b.probing = false
	b.probed.Broadcast()
	if to == StateOpen {
		b.openedAt = b.now()
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
