package provider

import (
	"sync"
	"time"
)

// BreakerState mirrors the classic circuit breaker vocabulary, but
// unlike a conventional breaker (e.g. gobreaker) it never gates a call —
// see Breaker's doc comment. It exists purely to classify and surface
// failure-rate health over (operation, provider, model).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breakerKey identifies one circuit: a single (operation, provider,
// model) triple, matching the dimension the provider_calls table is
// indexed on.
type breakerKey struct {
	operation, provider, model string
}

type breakerWindow struct {
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	halfOpenProbes  int
}

// Breaker is an observe-only circuit breaker (spec §4.2, §9): it never
// refuses a call. Its sole job is to track recent failure streaks per
// (operation, provider, model) and emit open/half-open/closed
// transition events so operators and dashboards see degraded providers
// immediately, without the kernel making an availability decision on
// their behalf — every call is still attempted and still goes through
// the full retry policy. This is why sony/gobreaker (which gates calls
// via Execute) isn't used here; its execution model is the opposite of
// what this breaker needs to do.
type Breaker struct {
	mu      sync.Mutex
	windows map[breakerKey]*breakerWindow

	openThreshold     int           // consecutive failures before opening
	halfOpenAfter     time.Duration // time after opening before probing again
	halfOpenProbeGoal int           // consecutive successful probes needed to close
}

// NewBreaker creates a Breaker with the given thresholds.
func NewBreaker(openThreshold int, halfOpenAfter time.Duration, halfOpenProbeGoal int) *Breaker {
	return &Breaker{
		windows:           make(map[breakerKey]*breakerWindow),
		openThreshold:     openThreshold,
		halfOpenAfter:     halfOpenAfter,
		halfOpenProbeGoal: halfOpenProbeGoal,
	}
}

// Transition is returned by RecordResult when the breaker's state
// changed, so the caller can emit the corresponding event
// (circuit.opened/circuit.closed/circuit.half_open). Zero value (empty
// From/To) means no transition occurred.
type Transition struct {
	Operation, Provider, Model string
	From, To                   BreakerState
}

// RecordResult updates the breaker state for a (operation, provider,
// model) key after a call completes, and reports whether the state
// transitioned. Call this unconditionally — whether or not State()
// would have "allowed" the call, because it always does.
func (b *Breaker) RecordResult(operation, providerName, model string, success bool) Transition {
	key := breakerKey{operation, providerName, model}

	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[key]
	if !ok {
		w = &breakerWindow{state: BreakerClosed}
		b.windows[key] = w
	}

	from := w.state

	switch w.state {
	case BreakerClosed:
		if success {
			w.consecutiveFail = 0
		} else {
			w.consecutiveFail++
			if w.consecutiveFail >= b.openThreshold {
				w.state = BreakerOpen
				w.openedAt = time.Now()
			}
		}
	case BreakerOpen:
		if time.Since(w.openedAt) >= b.halfOpenAfter {
			w.state = BreakerHalfOpen
			w.halfOpenProbes = 0
			// Re-evaluate this very call's result as the first probe.
			return b.recordHalfOpenLocked(key, w, success, from)
		}
	case BreakerHalfOpen:
		return b.recordHalfOpenLocked(key, w, success, from)
	}

	if w.state == from {
		return Transition{}
	}
	return Transition{Operation: operation, Provider: providerName, Model: model, From: from, To: w.state}
}

func (b *Breaker) recordHalfOpenLocked(key breakerKey, w *breakerWindow, success bool, from BreakerState) Transition {
	if !success {
		w.state = BreakerOpen
		w.openedAt = time.Now()
		w.halfOpenProbes = 0
		w.consecutiveFail = b.openThreshold
		if from == w.state {
			return Transition{}
		}
		return Transition{Operation: key.operation, Provider: key.provider, Model: key.model, From: from, To: w.state}
	}

	w.halfOpenProbes++
	if w.halfOpenProbes >= b.halfOpenProbeGoal {
		w.state = BreakerClosed
		w.consecutiveFail = 0
		w.halfOpenProbes = 0
	}
	if w.state == from {
		return Transition{}
	}
	return Transition{Operation: key.operation, Provider: key.provider, Model: key.model, From: from, To: w.state}
}

// State returns the current observed state for a key, for status
// dashboards. Never consulted to decide whether to make a call.
func (b *Breaker) State(operation, providerName, model string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[breakerKey{operation, providerName, model}]
	if !ok {
		return BreakerClosed
	}
	return w.state
}
