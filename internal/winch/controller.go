// internal/winch/controller.go

// Package winch runs the door cycle: open, hold, close, calibrate, cool down.
// Every phase is a polling loop paced by the injected clock; the loop calls
// back into the application through Hooks so it can keep servicing the network.
package winch

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/hal"
)

// Devices are the actuators and sensors of one winch.
// Rangefinder may be nil.
type Devices struct {
	Motor       hal.Motor
	Encoder     hal.Encoder
	Rangefinder hal.Rangefinder
}

// Controller owns the motor. One goroutine drives it; State is safe from any.
type Controller struct {
	motor  hal.Motor
	enc    hal.Encoder
	rf     hal.Rangefinder
	clock  clock.Clock
	logger *log.Logger
	hooks  Hooks

	busy atomic.Bool

	mu     sync.Mutex
	params Params
	state  State
}

func New(p Params, dev Devices, clk clock.Clock, logger *log.Logger, hooks Hooks) (*Controller, error) {
	if dev.Motor == nil || dev.Encoder == nil {
		return nil, errors.New("winch: motor and encoder required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		motor:  dev.Motor,
		enc:    dev.Encoder,
		rf:     dev.Rangefinder,
		clock:  clk,
		logger: logger,
		hooks:  hooks,
		params: p.withDefaults(),
	}, nil
}

// Params returns the effective settings.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// SetParams replaces the settings. A running cycle keeps the settings it started with.
func (c *Controller) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.params = p.withDefaults()
	c.mu.Unlock()
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether an operation is running.
func (c *Controller) Busy() bool { return c.busy.Load() }

// ---- operations ----

// Trigger runs the full cycle and returns to Idle.
// Actuation errors go to Hooks.OnError; the returned error is ErrBusy or a device failure.
func (c *Controller) Trigger() error {
	p, ok := c.begin()
	if !ok {
		return ErrBusy
	}
	defer c.end(true)

	opened, err := c.open(p)
	if err != nil {
		return c.fault(err)
	}
	c.hold(p)

	closed, err := c.closeWithReopen(p, c.closeBudget(p, opened))
	if err != nil {
		return c.fault(err)
	}
	if !closed {
		return nil
	}
	return c.finish(p)
}

// Rewind pays out ticks of line, then calibrates and cools down.
// It corrects a door that did not close fully.
func (c *Controller) Rewind(ticks int64) error {
	if ticks <= 0 {
		return fmt.Errorf("winch: rewind of %d ticks", ticks)
	}
	p, ok := c.begin()
	if !ok {
		return ErrBusy
	}
	defer c.end(false)

	closed, err := c.closeOnce(p, ticks)
	if err != nil {
		return c.fault(err)
	}
	if !closed {
		return nil
	}
	return c.finish(p)
}

// Open runs the opening phase alone and returns the ticks travelled.
func (c *Controller) Open() (int64, error) {
	p, ok := c.begin()
	if !ok {
		return 0, ErrBusy
	}
	defer c.end(false)

	ticks, err := c.open(p)
	if err != nil {
		return ticks, c.fault(err)
	}
	return ticks, nil
}

// Close runs the closing phase alone with an explicit budget.
// It halts once the encoder passes budget.
func (c *Controller) Close(budget int64) (int64, error) {
	p, ok := c.begin()
	if !ok {
		return 0, ErrBusy
	}
	defer c.end(false)

	ticks, why, err := c.close(p, budget, false)
	if err != nil {
		return ticks, c.fault(err)
	}
	c.closeOutcome(why)
	return ticks, nil
}

// Calibrate tensions the line and rolls back the configured amount.
func (c *Controller) Calibrate() error {
	p, ok := c.begin()
	if !ok {
		return ErrBusy
	}
	defer c.end(false)

	if _, err := c.calibrate(p); err != nil {
		return c.fault(err)
	}
	return nil
}

// ---- sequencing ----

func (c *Controller) begin() (Params, bool) {
	if !c.busy.CompareAndSwap(false, true) {
		return Params{}, false
	}
	return c.Params(), true
}

func (c *Controller) end(cycle bool) {
	c.mu.Lock()
	c.state.Phase = Idle
	c.state.Ticks = 0
	c.state.PeakRate = 0
	if cycle {
		c.state.Cycles++
	}
	c.mu.Unlock()
	c.busy.Store(false)
}

// finish runs the tail shared by Trigger and Rewind.
func (c *Controller) finish(p Params) error {
	ok, err := c.calibrate(p)
	if err != nil {
		return c.fault(err)
	}
	if !ok {
		return nil
	}
	c.cooldown(p)
	return nil
}

func (c *Controller) closeBudget(p Params, opened int64) int64 {
	f := p.CloseSlack
	if c.State().RequireExtendedClose {
		f *= p.ExtendedClose
	}
	return int64(math.Ceil(float64(opened)*f - 1e-9))
}

// closeOnce closes without reopening. It reports whether the door closed.
func (c *Controller) closeOnce(p Params, budget int64) (bool, error) {
	_, why, err := c.close(p, budget, false)
	if err != nil {
		return false, err
	}
	return c.closeOutcome(why), nil
}

// closeWithReopen closes, reopening on activity when enabled. It reports whether the door closed.
func (c *Controller) closeWithReopen(p Params, budget int64) (bool, error) {
	for reopens := 0; ; reopens++ {
		interruptible := p.InterruptOnClose && reopens < p.MaxReopens
		closed, why, err := c.close(p, budget, interruptible)
		if err != nil {
			return false, err
		}
		if why != stopInterrupt {
			return c.closeOutcome(why), nil
		}

		c.logger.Printf("winch: activity while closing, reopening (%d/%d)", reopens+1, p.MaxReopens)
		c.setPhase(Opening)
		back, why, err := c.drive(p, run{
			dir:   hal.Forward,
			power: p.Power,
			halt:  func(t int64) bool { return t >= closed },
			slow:  p.StallFraction,
			limit: p.PhaseTimeout,
		})
		if err != nil {
			return false, err
		}
		budget = budget - closed + back
		switch why {
		case stopSlow:
			c.setExtendedClose()
			budget += c.extension(p, back)
			c.logger.Printf("WARN winch: jam while reopening at %d/%d ticks, closing with extended budget", back, closed)
		case stopTimeout:
			c.setExtendedClose()
			budget += c.extension(p, back)
			c.report(OpenTimeout)
		}
		c.hold(p)
	}
}

// extension is the extra close budget owed for a jammed drive of n ticks.
func (c *Controller) extension(p Params, n int64) int64 {
	return int64(math.Ceil(float64(n)*(p.ExtendedClose-1) - 1e-9))
}

func (c *Controller) setExtendedClose() {
	c.mu.Lock()
	c.state.RequireExtendedClose = true
	c.mu.Unlock()
}

func (c *Controller) closeOutcome(why stop) bool {
	switch why {
	case stopSlow:
		c.report(Jammed)
		return false
	case stopTimeout:
		c.report(CloseTimeout)
		return false
	}
	return true
}

func (c *Controller) fault(err error) error {
	c.logger.Printf("winch: device failure: %v", err)
	c.report(Unknown)
	return err
}

// ---- phases ----

func (c *Controller) open(p Params) (int64, error) {
	c.setPhase(Opening)
	c.mu.Lock()
	c.state.RequireExtendedClose = false
	c.state.FallbackMode = false
	c.mu.Unlock()

	halt := func(t int64) bool { return t > p.OpenTicks }
	if p.UseRangefinder && c.rf != nil {
		halt = c.apexWatch(p)
	}

	ticks, why, err := c.drive(p, run{
		dir:   hal.Forward,
		power: p.Power,
		halt:  halt,
		slow:  p.StallFraction,
		limit: p.PhaseTimeout,
	})

	c.mu.Lock()
	c.state.LastOpenTicks = ticks
	if why == stopSlow || why == stopTimeout {
		c.state.RequireExtendedClose = true
	}
	c.mu.Unlock()

	if err != nil {
		return ticks, err
	}

	switch why {
	case stopSlow:
		c.logger.Printf("WARN winch: jam while opening at %d ticks, closing with extended budget", ticks)
	case stopTimeout:
		c.report(OpenTimeout)
	}
	return ticks, nil
}

// apexWatch halts on the rangefinder, falling back to the tick threshold
// when no valid echo arrives within the grace period.
func (c *Controller) apexWatch(p Params) func(int64) bool {
	start := c.clock.Now()
	echo := false
	fallback := false

	return func(ticks int64) bool {
		if fallback {
			return ticks > p.OpenTicks
		}
		if c.rf.Process() {
			if d := c.rf.Distance(); d != 0 {
				echo = true
				if d < p.OpenDistance {
					return true
				}
			}
		}
		if !echo && c.clock.Now().Sub(start) >= p.SonarGrace {
			fallback = true
			c.mu.Lock()
			c.state.FallbackMode = true
			c.mu.Unlock()
			c.logger.Printf("WARN winch: no rangefinder echo after %s, opening by ticks", p.SonarGrace)
			// Reported with the motor still running: the open continues on the tick threshold.
			c.report(SonarError)
			return ticks > p.OpenTicks
		}
		return false
	}
}

// hold keeps the door open; activity restarts the wait.
func (c *Controller) hold(p Params) {
	c.setPhase(OpenWait)
	until := c.clock.Now().Add(p.OpenWait)
	for c.clock.Now().Before(until) {
		c.clock.Sleep(p.ControlTick)
		c.tick()
		if c.interrupted() {
			until = c.clock.Now().Add(p.OpenWait)
		}
	}
}

func (c *Controller) close(p Params, budget int64, interruptible bool) (int64, stop, error) {
	c.setPhase(Closing)
	c.clearFallback()
	ticks, why, err := c.drive(p, run{
		dir:           hal.Reverse,
		power:         p.Power,
		halt:          func(t int64) bool { return t > budget },
		slow:          p.StallFraction,
		interruptible: interruptible,
		limit:         p.PhaseTimeout,
	})

	c.mu.Lock()
	c.state.LastCloseTicks = ticks
	c.mu.Unlock()
	return ticks, why, err
}

// calibrate winds in until the line goes taut, then rolls back.
// It reports whether the line was tensioned and relieved without error.
func (c *Controller) calibrate(p Params) (bool, error) {
	c.setPhase(Calibrating)
	c.clearFallback()

	wound, why, err := c.drive(p, run{
		dir:   hal.Forward,
		power: p.CalibratePower,
		slow:  p.TensionFraction,
		limit: p.PhaseTimeout,
	})
	if err != nil {
		return false, err
	}

	rollback := p.RollbackTicks
	timedOut := why == stopTimeout
	if timedOut {
		c.report(CalibrateTimeout)
		if !p.RollbackAfterTimeout {
			return false, nil
		}
		rollback = int64(math.Ceil(float64(wound)*p.TimeoutRollback - 1e-9))
	}

	_, why, err = c.drive(p, run{
		dir:   hal.Reverse,
		power: p.CalibratePower,
		halt:  func(t int64) bool { return t > rollback },
		slow:  p.StallFraction,
		limit: p.PhaseTimeout,
	})
	if err != nil {
		return false, err
	}
	switch why {
	case stopSlow:
		c.report(Jammed)
		return false, nil
	case stopTimeout:
		c.report(CalibrateTimeout)
		return false, nil
	}
	return !timedOut, nil
}

// cooldown holds Idle back for the configured minimum. Activity extends it
// up to CooldownCap times the minimum.
func (c *Controller) cooldown(p Params) {
	c.setPhase(Cooldown)
	start := c.clock.Now()
	until := start.Add(p.Cooldown)
	ceiling := start.Add(time.Duration(float64(p.Cooldown) * p.CooldownCap))

	for c.clock.Now().Before(until) {
		c.clock.Sleep(p.ControlTick)
		c.tick()
		if !p.FixedCooldown && c.interrupted() {
			until = c.clock.Now().Add(p.Cooldown)
			if until.After(ceiling) {
				until = ceiling
			}
		}
	}
}

func (c *Controller) clearFallback() {
	c.mu.Lock()
	c.state.FallbackMode = false
	c.mu.Unlock()
}

// ---- motor loop ----

type stop int

const (
	stopHalt      stop = iota // target reached
	stopSlow                  // rate fell below the slow fraction of peak
	stopTimeout               // phase ceiling elapsed
	stopInterrupt             // activity reported
)

func (s stop) String() string {
	switch s {
	case stopHalt:
		return "target"
	case stopSlow:
		return "slow"
	case stopTimeout:
		return "timeout"
	case stopInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// maxEncoderMisses consecutive failed encoder reads abort a drive.
const maxEncoderMisses = 3

type run struct {
	dir           hal.Direction
	power         uint8
	halt          func(ticks int64) bool
	slow          float64
	interruptible bool
	limit         time.Duration
}

// drive runs the motor until one of r's stop conditions holds, then stops it.
// The speed check is skipped during the warm-up window.
func (c *Controller) drive(p Params, r run) (int64, stop, error) {
	if _, err := c.enc.ResetTicks(); err != nil {
		c.halt()
		return 0, stopHalt, fmt.Errorf("winch: encoder reset: %w", err)
	}
	if err := c.motor.Drive(r.dir, r.power); err != nil {
		c.halt()
		return 0, stopHalt, fmt.Errorf("winch: drive %s: %w", r.dir, err)
	}

	start := c.clock.Now()
	last := start
	var prev int64
	var peak float64
	misses := 0

	for {
		c.clock.Sleep(p.ControlTick)
		c.tick()

		now := c.clock.Now()
		ticks, err := c.enc.Ticks()
		if err != nil {
			if misses++; misses >= maxEncoderMisses {
				c.halt()
				return prev, stopHalt, fmt.Errorf("winch: encoder read: %w", err)
			}
			continue
		}
		misses = 0
		var rate float64
		if dt := now.Sub(last).Seconds(); dt > 0 {
			rate = float64(ticks-prev) / dt
		}
		prev, last = ticks, now
		if rate > peak {
			peak = rate
		}

		c.mu.Lock()
		c.state.Ticks = ticks
		c.state.PeakRate = peak
		c.mu.Unlock()

		elapsed := now.Sub(start)
		var why stop
		switch {
		case r.halt != nil && r.halt(ticks):
			why = stopHalt
		case r.interruptible && c.interrupted():
			why = stopInterrupt
		case elapsed >= p.StallWarmup && peak > 0 && rate < r.slow*peak:
			why = stopSlow
		case elapsed >= r.limit:
			why = stopTimeout
		default:
			continue
		}

		c.halt()
		return ticks, why, nil
	}
}

func (c *Controller) halt() {
	if err := c.motor.Stop(); err != nil {
		c.logger.Printf("winch: motor stop failed: %v", err)
	}
}

// ---- hooks ----

func (c *Controller) report(k ErrorKind) {
	c.mu.Lock()
	c.state.LastError = k
	c.state.Errors++
	phase := c.state.Phase
	c.mu.Unlock()

	c.logger.Printf("winch: error %s during %s", k, phase)
	if c.hooks.OnError != nil {
		c.hooks.OnError(k)
	}
}

func (c *Controller) tick() {
	if c.hooks.OnTick != nil {
		c.hooks.OnTick()
	}
}

func (c *Controller) interrupted() bool {
	return c.hooks.Interrupt != nil && c.hooks.Interrupt()
}

func (c *Controller) setPhase(ph Phase) {
	c.mu.Lock()
	c.state.Phase = ph
	c.state.Ticks = 0
	c.state.PeakRate = 0
	c.mu.Unlock()
}
