// internal/status/tracker.go
package status

import (
	"sync"
	"time"
)

// Tracker folds winch errors, lock state and phase into a Snapshot.
// The error timer advances in whole seconds on Tick and saturates.
type Tracker struct {
	mu sync.Mutex

	ready   bool
	inError bool
	lastErr uint16
	mark    time.Time
	seconds uint16

	phase  uint16
	locked bool
	cycles uint16
}

func NewTracker() *Tracker { return &Tracker{} }

// Ready marks boot complete.
func (t *Tracker) Ready() {
	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
}

// Fail records an error. The timer keeps running across repeated failures.
func (t *Tracker) Fail(code uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = code
	if !t.inError {
		t.inError = true
		t.mark = now
		t.seconds = 0
	}
}

// Recover clears the error state. The last error code is kept.
func (t *Tracker) Recover() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inError = false
	t.seconds = 0
}

func (t *Tracker) SetLocked(locked bool) {
	t.mu.Lock()
	t.locked = locked
	t.mu.Unlock()
}

// Observe records the winch phase and completed cycle count.
func (t *Tracker) Observe(phase uint8, cycles uint64) {
	t.mu.Lock()
	t.phase = uint16(phase)
	t.cycles = uint16(cycles)
	t.mu.Unlock()
}

// Tick advances the error timer to now.
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inError {
		return
	}
	whole := now.Sub(t.mark) / time.Second
	if whole <= 0 {
		return
	}
	t.mark = t.mark.Add(whole * time.Second)

	total := int64(t.seconds) + int64(whole)
	if total > MaxSecondsInError {
		total = MaxSecondsInError
	}
	t.seconds = uint16(total)
}

func (t *Tracker) InError() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inError
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Health:         HealthUnknown,
		LastErrorCode:  t.lastErr,
		SecondsInError: t.seconds,
		Phase:          t.phase,
		Cycles:         t.cycles,
	}
	if t.locked {
		s.Locked = 1
	}

	switch {
	case t.inError:
		s.Health = HealthError
	case t.locked:
		s.Health = HealthDisabled
	case t.ready:
		s.Health = HealthOK
	}
	return s
}
