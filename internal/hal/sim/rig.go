// internal/hal/sim/rig.go

// Package sim is a clock-driven winch rig: motor, encoder and rangefinder
// in one model. Ticks accrue lazily from the clock while the motor runs.
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/hal"
)

// Profile scales the tick rate given how far the current drive has run
// and where the line is. Return 0 to model a jam.
type Profile func(dir hal.Direction, driven, pos int64) float64

// Loaded slows forward drives to factor once the line carries the door
// (position at or above zero). Below zero the line is slack and spools freely.
func Loaded(factor float64) Profile {
	return func(d hal.Direction, _, pos int64) float64 {
		if d == hal.Forward && pos >= 0 {
			return factor
		}
		return 1
	}
}

// StallAfter jams any drive once it has run n ticks.
func StallAfter(n int64) Profile {
	return func(_ hal.Direction, driven, _ int64) float64 {
		if driven >= n {
			return 0
		}
		return 1
	}
}

// StallOn jams drives in one direction only.
func StallOn(dir hal.Direction, n int64) Profile {
	return func(d hal.Direction, driven, _ int64) float64 {
		if d == dir && driven >= n {
			return 0
		}
		return 1
	}
}

// Combine multiplies profiles.
func Combine(ps ...Profile) Profile {
	return func(d hal.Direction, driven, pos int64) float64 {
		m := 1.0
		for _, p := range ps {
			m *= p(d, driven, pos)
		}
		return m
	}
}

type Config struct {
	Rate    float64 // ticks per second
	Profile Profile

	ClosedDistance uint16  // rangefinder reading with the door shut, mm
	MMPerTick      float64 // distance change per forward tick
	NoEcho         bool
	SamplePeriod   time.Duration
}

const step = time.Millisecond

var ErrMotorFault = errors.New("sim: motor fault")

type Rig struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock

	dir    hal.Direction
	power  uint8
	last   time.Time
	frac   float64
	count  int64
	driven int64
	pos    int64

	lastSample time.Time
	distance   uint16

	fault      bool
	encoderErr error
	drives     int
}

func New(cfg Config, clk clock.Clock) *Rig {
	if cfg.Rate <= 0 {
		cfg.Rate = 1000
	}
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = 50 * time.Millisecond
	}
	now := clk.Now()
	return &Rig{cfg: cfg, clock: clk, last: now, lastSample: now.Add(-cfg.SamplePeriod)}
}

// advance must be called with mu held.
func (r *Rig) advance() {
	now := r.clock.Now()
	elapsed := now.Sub(r.last)
	r.last = now
	if r.dir == 0 || elapsed <= 0 {
		return
	}

	for elapsed > 0 {
		dt := min(step, elapsed)
		elapsed -= dt

		m := 1.0
		if r.cfg.Profile != nil {
			m = r.cfg.Profile(r.dir, r.driven, r.pos)
		}
		r.frac += r.cfg.Rate * m * dt.Seconds()
		whole := int64(r.frac + 1e-9)
		if whole <= 0 {
			continue
		}
		r.frac -= float64(whole)
		r.count += whole
		r.driven += whole
		r.pos += int64(r.dir) * whole
	}
}

// ---- hal.Motor ----

func (r *Rig) Drive(dir hal.Direction, power uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fault {
		return ErrMotorFault
	}
	r.advance()
	r.dir = dir
	r.power = power
	r.driven = 0
	r.frac = 0
	r.drives++
	return nil
}

func (r *Rig) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	r.dir = 0
	r.power = 0
	return nil
}

// ---- hal.Encoder ----

func (r *Rig) Ticks() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.count, r.encoderErr
}

func (r *Rig) ResetTicks() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	n := r.count
	if r.encoderErr != nil {
		return n, r.encoderErr
	}
	r.count = 0
	return n, nil
}

// ---- hal.Rangefinder ----

func (r *Rig) Process() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()

	now := r.clock.Now()
	if now.Sub(r.lastSample) < r.cfg.SamplePeriod {
		return false
	}
	r.lastSample = now

	if r.cfg.NoEcho {
		r.distance = 0
		return true
	}
	d := float64(r.cfg.ClosedDistance) - float64(r.pos)*r.cfg.MMPerTick
	if d < 1 {
		d = 1
	}
	r.distance = uint16(d)
	return true
}

func (r *Rig) Distance() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.distance
}

// ---- inspection ----

// Running reports the current drive direction, 0 when stopped.
func (r *Rig) Running() hal.Direction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// Position is the net forward travel in ticks since the rig was created.
func (r *Rig) Position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.pos
}

// Drives counts accepted Drive calls.
func (r *Rig) Drives() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drives
}

// SetProfile swaps the load profile.
func (r *Rig) SetProfile(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	r.cfg.Profile = p
}

// SetEcho turns the rangefinder echo on or off.
func (r *Rig) SetEcho(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.NoEcho = !on
}

// SetEncoderFault makes encoder reads and resets fail with err; nil clears it.
func (r *Rig) SetEncoderFault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoderErr = err
}

// SetFault makes every later Drive fail.
func (r *Rig) SetFault(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = on
}
