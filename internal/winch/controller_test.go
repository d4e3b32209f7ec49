// internal/winch/controller_test.go
package winch

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/hal"
	"github.com/tamzrod/secmesh/internal/hal/sim"
)

type harness struct {
	clk      *clock.Fake
	rig      *sim.Rig
	c        *Controller
	errs     []ErrorKind
	activity func() bool
	onTick   func()
}

// Rig runs at 1000 ticks/s free and 500 ticks/s under load,
// i.e. 20 and 10 ticks per 20ms control tick.
func testParams() Params {
	p := DefaultParams()
	p.OpenTicks = 2000
	p.OpenWait = time.Second
	p.Cooldown = time.Second
	return p
}

func newHarness(t *testing.T, p Params, rc sim.Config) *harness {
	t.Helper()
	h := &harness{clk: clock.NewFake()}
	if rc.Rate == 0 {
		rc.Rate = 1000
	}
	if rc.Profile == nil {
		rc.Profile = sim.Loaded(0.5)
	}
	h.rig = sim.New(rc, h.clk)

	hooks := Hooks{
		OnError: func(k ErrorKind) { h.errs = append(h.errs, k) },
		Interrupt: func() bool {
			return h.activity != nil && h.activity()
		},
		OnTick: func() {
			if h.onTick != nil {
				h.onTick()
			}
		},
	}

	dev := Devices{Motor: h.rig, Encoder: h.rig}
	if p.UseRangefinder {
		dev.Rangefinder = h.rig
	}
	c, err := New(p, dev, h.clk, log.New(io.Discard, "", 0), hooks)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	h.c = c
	return h
}

func (h *harness) expectErrors(t *testing.T, want ...ErrorKind) {
	t.Helper()
	if len(h.errs) != len(want) {
		t.Fatalf("errors = %v, want %v", h.errs, want)
	}
	for i := range want {
		if h.errs[i] != want[i] {
			t.Fatalf("errors = %v, want %v", h.errs, want)
		}
	}
}

func (h *harness) expectStopped(t *testing.T) {
	t.Helper()
	if d := h.rig.Running(); d != 0 {
		t.Fatalf("motor still running %s", d)
	}
}

func TestOpen_FallbackThresholdHaltsWithinOneTick(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	ticks, err := h.c.Open()
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}

	// 10 ticks per control tick under load.
	if ticks <= 2000 || ticks > 2010 {
		t.Fatalf("open halted at %d ticks, want (2000, 2010]", ticks)
	}
	h.expectStopped(t)
	h.expectErrors(t)
	if st := h.c.State(); st.Phase != Idle || st.RequireExtendedClose || st.LastOpenTicks != ticks {
		t.Fatalf("state = %+v", st)
	}
}

func TestClose_HaltsPastBudget(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	ticks, err := h.c.Close(1000)
	if err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if ticks <= 1000 || ticks > 1020 {
		t.Fatalf("close halted at %d ticks, want (1000, 1020]", ticks)
	}
	h.expectStopped(t)
	h.expectErrors(t)
}

func TestOpen_StallSetsExtendedCloseWithoutError(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{
		Profile: sim.Combine(sim.Loaded(0.5), sim.StallOn(hal.Forward, 600)),
	})

	start := h.clk.Now()
	ticks, err := h.c.Open()
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	if ticks != 600 {
		t.Fatalf("open ticks = %d, want 600", ticks)
	}
	// 600 ticks at 500/s = 1.2s; the stall is visible on the next tick.
	if elapsed := h.clk.Now().Sub(start); elapsed > 1240*time.Millisecond {
		t.Fatalf("stall detected after %v", elapsed)
	}
	if !h.c.State().RequireExtendedClose {
		t.Fatalf("RequireExtendedClose = false after jammed open")
	}
	h.expectStopped(t)
	h.expectErrors(t)
}

func TestTrigger_JammedOpenClosesWithExtendedBudget(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{
		Profile: sim.Combine(sim.Loaded(0.5), sim.StallOn(hal.Forward, 600)),
	})
	// Calibration winds forward too; let the line tension normally there.
	h.onTick = func() {
		if h.c.State().Phase == Calibrating {
			h.rig.SetProfile(sim.Loaded(0.5))
		}
	}

	if err := h.c.Trigger(); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}

	// ceil(600 * 1.1 * 1.5) = 990, halting on the first tick past it.
	if got := h.c.State().LastCloseTicks; got <= 990 || got > 1010 {
		t.Fatalf("close ticks = %d, want (990, 1010]", got)
	}
	h.expectErrors(t)
}

func TestClose_StallReportsJammed(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{
		Profile: sim.StallOn(hal.Reverse, 300),
	})

	ticks, err := h.c.Close(5000)
	if err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if ticks != 300 {
		t.Fatalf("close ticks = %d, want 300", ticks)
	}
	h.expectErrors(t, Jammed)
	h.expectStopped(t)
	if st := h.c.State(); st.LastError != Jammed || st.Errors != 1 {
		t.Fatalf("state = %+v", st)
	}
}

func TestOpen_Timeout(t *testing.T) {
	p := testParams()
	p.OpenTicks = 1 << 40
	h := newHarness(t, p, sim.Config{})

	start := h.clk.Now()
	if _, err := h.c.Open(); err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	if elapsed := h.clk.Now().Sub(start); elapsed < 15*time.Second || elapsed > 15*time.Second+20*time.Millisecond {
		t.Fatalf("open ran %v, want 15s ceiling", elapsed)
	}
	h.expectErrors(t, OpenTimeout)
	h.expectStopped(t)
	if !h.c.State().RequireExtendedClose {
		t.Fatalf("RequireExtendedClose = false after open timeout")
	}
}

func TestClose_Timeout(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	if _, err := h.c.Close(1 << 40); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	h.expectErrors(t, CloseTimeout)
	h.expectStopped(t)
}

func TestTrigger_CloseFailureSkipsCalibration(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{
		Profile: sim.Combine(sim.Loaded(0.5), sim.StallOn(hal.Reverse, 300)),
	})

	if err := h.c.Trigger(); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	h.expectErrors(t, Jammed)
	// open + close only
	if got := h.rig.Drives(); got != 2 {
		t.Fatalf("drives = %d, want 2", got)
	}
	if st := h.c.State(); st.Phase != Idle || st.Cycles != 1 {
		t.Fatalf("state = %+v", st)
	}
}

func TestCalibrate_TimeoutAbortsWithoutRollback(t *testing.T) {
	// Constant speed never reads as taut.
	h := newHarness(t, testParams(), sim.Config{Profile: sim.StallAfter(1 << 40)})

	if err := h.c.Calibrate(); err != nil {
		t.Fatalf("Calibrate() err=%v", err)
	}
	h.expectErrors(t, CalibrateTimeout)
	if got := h.rig.Drives(); got != 1 {
		t.Fatalf("drives = %d, want 1 (no rollback)", got)
	}
	h.expectStopped(t)
}

func TestCalibrate_TimeoutRollbackWhenEnabled(t *testing.T) {
	p := testParams()
	p.RollbackAfterTimeout = true
	// Steady 500/s forward never reads as taut.
	steady := func(d hal.Direction, _, _ int64) float64 {
		if d == hal.Forward {
			return 0.5
		}
		return 1
	}
	h := newHarness(t, p, sim.Config{Profile: steady})

	if err := h.c.Calibrate(); err != nil {
		t.Fatalf("Calibrate() err=%v", err)
	}
	h.expectErrors(t, CalibrateTimeout)
	if got := h.rig.Drives(); got != 2 {
		t.Fatalf("drives = %d, want 2", got)
	}
	// Phase one wound 7500 ticks in 15s; rollback is 1.5x that.
	pos := h.rig.Position()
	if pos > -3740 || pos < -3780 {
		t.Fatalf("net position = %d, want about -3760", pos)
	}
}

func TestCalibrate_TensionThenRollback(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})
	// Start with 400 ticks of slack.
	h.rig.Drive(hal.Reverse, 255)
	h.clk.Advance(400 * time.Millisecond)
	h.rig.Stop()

	if err := h.c.Calibrate(); err != nil {
		t.Fatalf("Calibrate() err=%v", err)
	}
	h.expectErrors(t)

	// Wound to taut (position 0 plus 50 loaded ticks), then rolled back just past 800.
	pos := h.rig.Position()
	if pos > -750 || pos < -790 {
		t.Fatalf("net position = %d, want about -770", pos)
	}
}

func TestTrigger_FullCycle(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	var phases []Phase
	h.onTick = func() {
		ph := h.c.State().Phase
		if len(phases) == 0 || phases[len(phases)-1] != ph {
			phases = append(phases, ph)
		}
	}

	if err := h.c.Trigger(); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	h.expectErrors(t)
	h.expectStopped(t)

	want := []Phase{Opening, OpenWait, Closing, Calibrating, Cooldown}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}

	st := h.c.State()
	if st.Phase != Idle || st.Cycles != 1 {
		t.Fatalf("state = %+v", st)
	}
	// open 2010 -> budget ceil(2010*1.1) = 2211
	if st.LastCloseTicks <= 2211 || st.LastCloseTicks > 2231 {
		t.Fatalf("close ticks = %d, want just past 2211", st.LastCloseTicks)
	}
	if got := h.rig.Drives(); got != 4 {
		t.Fatalf("drives = %d, want 4", got)
	}
}

func TestTrigger_BusyWhileRunning(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	var nested error
	h.onTick = func() {
		if nested == nil {
			nested = h.c.Trigger()
		}
	}

	if err := h.c.Trigger(); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	if !errors.Is(nested, ErrBusy) {
		t.Fatalf("nested Trigger() err=%v, want ErrBusy", nested)
	}
	if h.c.Busy() {
		t.Fatalf("Busy() = true after cycle")
	}
	if st := h.c.State(); st.Cycles != 1 {
		t.Fatalf("cycles = %d, want 1", st.Cycles)
	}
}

func TestHold_InterruptRestartsWait(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	calls := 0
	h.activity = func() bool {
		calls++
		return calls <= 10 // activity for the first 200ms
	}

	start := h.clk.Now()
	h.c.hold(h.c.Params())
	if elapsed := h.clk.Now().Sub(start); elapsed != 1200*time.Millisecond {
		t.Fatalf("hold lasted %v, want 1.2s", elapsed)
	}
}

func TestCooldown_CappedUnderContinuousActivity(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})
	h.activity = func() bool { return true }

	start := h.clk.Now()
	h.c.cooldown(h.c.Params())
	if elapsed := h.clk.Now().Sub(start); elapsed != 2*time.Second {
		t.Fatalf("cooldown lasted %v, want 2s cap", elapsed)
	}

	h.activity = nil
	start = h.clk.Now()
	h.c.cooldown(h.c.Params())
	if elapsed := h.clk.Now().Sub(start); elapsed != time.Second {
		t.Fatalf("quiet cooldown lasted %v, want 1s", elapsed)
	}
}

func TestCooldown_FixedIgnoresActivity(t *testing.T) {
	p := testParams()
	p.FixedCooldown = true
	h := newHarness(t, p, sim.Config{})
	h.activity = func() bool { return true }

	start := h.clk.Now()
	h.c.cooldown(h.c.Params())
	if elapsed := h.clk.Now().Sub(start); elapsed != time.Second {
		t.Fatalf("cooldown lasted %v, want 1s", elapsed)
	}
}

func TestOpen_RangefinderApex(t *testing.T) {
	p := testParams()
	p.UseRangefinder = true
	p.OpenTicks = 5000
	p.OpenDistance = 700
	h := newHarness(t, p, sim.Config{ClosedDistance: 1000, MMPerTick: 0.2})

	ticks, err := h.c.Open()
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	// Apex at 1500 ticks; samples every 50ms = 25 ticks under load.
	if ticks < 1500 || ticks > 1540 {
		t.Fatalf("apex halt at %d ticks, want about 1500", ticks)
	}
	h.expectErrors(t)
	if h.c.State().FallbackMode {
		t.Fatalf("FallbackMode = true with a working rangefinder")
	}
}

func TestOpen_NoEchoFallsBackToTicks(t *testing.T) {
	p := testParams()
	p.UseRangefinder = true
	h := newHarness(t, p, sim.Config{NoEcho: true})

	ticks, err := h.c.Open()
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	h.expectErrors(t, SonarError)
	if !h.c.State().FallbackMode {
		t.Fatalf("FallbackMode = false after lost echo")
	}
	if ticks <= 2000 || ticks > 2010 {
		t.Fatalf("fallback open halted at %d, want (2000, 2010]", ticks)
	}
}

func TestOpen_FallbackClearedOnNextCycle(t *testing.T) {
	p := testParams()
	p.UseRangefinder = true
	p.OpenDistance = 700
	h := newHarness(t, p, sim.Config{NoEcho: true, ClosedDistance: 1000, MMPerTick: 0.2})

	if _, err := h.c.Open(); err != nil {
		t.Fatalf("blind Open() err=%v", err)
	}
	if !h.c.State().FallbackMode {
		t.Fatalf("FallbackMode = false after lost echo")
	}
	if _, err := h.c.Close(2000); err != nil {
		t.Fatalf("Close() err=%v", err)
	}

	h.rig.SetEcho(true)
	ticks, err := h.c.Open()
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	// Apex at position 1500, starting just below zero.
	if ticks >= 1600 {
		t.Fatalf("second open ran %d ticks, want an apex halt near 1500", ticks)
	}
	if h.c.State().FallbackMode {
		t.Fatalf("FallbackMode still set with a working rangefinder")
	}
	h.expectErrors(t, SonarError)
}

func TestOpen_ExtendedCloseClearedOnNextOpen(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{
		Profile: sim.Combine(sim.Loaded(0.5), sim.StallOn(hal.Forward, 600)),
	})

	if _, err := h.c.Open(); err != nil {
		t.Fatalf("jammed Open() err=%v", err)
	}
	if !h.c.State().RequireExtendedClose {
		t.Fatalf("RequireExtendedClose = false after jammed open")
	}

	h.rig.SetProfile(sim.Loaded(0.5))
	if _, err := h.c.Open(); err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	if h.c.State().RequireExtendedClose {
		t.Fatalf("RequireExtendedClose carried into a clean open")
	}
}

func TestTrigger_JamWhileReopeningExtendsClose(t *testing.T) {
	p := testParams()
	p.InterruptOnClose = true
	h := newHarness(t, p, sim.Config{})

	fired := false
	h.activity = func() bool {
		if !fired && h.c.State().Phase == Closing && h.c.State().Ticks >= 500 {
			fired = true
			h.rig.SetProfile(sim.Combine(sim.Loaded(0.5), sim.StallOn(hal.Forward, 200)))
			return true
		}
		return false
	}
	h.onTick = func() {
		if h.c.State().Phase == Calibrating {
			h.rig.SetProfile(sim.Loaded(0.5))
		}
	}

	if err := h.c.Trigger(); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	h.expectErrors(t)
	if !h.c.State().RequireExtendedClose {
		t.Fatalf("RequireExtendedClose = false after jammed reopen")
	}
	// ceil(2010*1.1) - 500 + 200 + ceil(200*0.5) = 2011
	if got := h.c.State().LastCloseTicks; got <= 2011 || got > 2040 {
		t.Fatalf("close ticks = %d, want (2011, 2040]", got)
	}
}

func TestTrigger_EncoderFailureReported(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})
	busErr := errors.New("encoder bus")
	h.rig.SetEncoderFault(busErr)

	if err := h.c.Trigger(); !errors.Is(err, busErr) {
		t.Fatalf("Trigger() err=%v, want the encoder error", err)
	}
	h.expectStopped(t)
	h.expectErrors(t, Unknown)
	if st := h.c.State(); st.Phase != Idle || h.c.Busy() {
		t.Fatalf("controller not back to idle: %+v", st)
	}
}

func TestOpen_EncoderReadLostMidDrive(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})
	busErr := errors.New("encoder bus")
	n := 0
	h.onTick = func() {
		n++
		if n == 50 {
			h.rig.SetEncoderFault(busErr)
		}
	}

	if _, err := h.c.Open(); !errors.Is(err, busErr) {
		t.Fatalf("Open() err=%v, want the encoder error", err)
	}
	h.expectStopped(t)
	h.expectErrors(t, Unknown)
}

func TestOpen_BriefEncoderDropoutTolerated(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})
	n := 0
	h.onTick = func() {
		n++
		switch n {
		case 50:
			h.rig.SetEncoderFault(errors.New("encoder bus"))
		case 50 + maxEncoderMisses - 1:
			h.rig.SetEncoderFault(nil)
		}
	}

	ticks, err := h.c.Open()
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	if ticks <= 2000 || ticks > 2010 {
		t.Fatalf("open halted at %d ticks, want (2000, 2010]", ticks)
	}
	h.expectErrors(t)
}

func TestTrigger_InterruptOnCloseReopens(t *testing.T) {
	p := testParams()
	p.InterruptOnClose = true
	h := newHarness(t, p, sim.Config{})

	fired := false
	h.activity = func() bool {
		if !fired && h.c.State().Phase == Closing && h.c.State().Ticks >= 500 {
			fired = true
			return true
		}
		return false
	}

	if err := h.c.Trigger(); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	h.expectErrors(t)
	// open, close (interrupted), reopen, close, wind, rollback
	if got := h.rig.Drives(); got != 6 {
		t.Fatalf("drives = %d, want 6", got)
	}
}

func TestTrigger_DeviceFailure(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})
	h.rig.SetFault(true)

	if err := h.c.Trigger(); err == nil {
		t.Fatalf("Trigger() err=nil with failing motor")
	}
	h.expectErrors(t, Unknown)
	if st := h.c.State(); st.Phase != Idle || h.c.Busy() {
		t.Fatalf("controller not back to idle: %+v", st)
	}
}

func TestRewind(t *testing.T) {
	h := newHarness(t, testParams(), sim.Config{})

	if err := h.c.Rewind(0); err == nil {
		t.Fatalf("Rewind(0) err=nil")
	}
	if err := h.c.Rewind(300); err != nil {
		t.Fatalf("Rewind() err=%v", err)
	}
	h.expectErrors(t)
	// close, wind, rollback
	if got := h.rig.Drives(); got != 3 {
		t.Fatalf("drives = %d, want 3", got)
	}
	if st := h.c.State(); st.LastCloseTicks <= 300 || st.Cycles != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := DefaultParams()
	bad.TensionFraction = 0.1
	if err := bad.Validate(); err == nil {
		t.Fatalf("tension below stall accepted")
	}

	bad = DefaultParams()
	bad.CloseSlack = 0.9
	if err := bad.Validate(); err == nil {
		t.Fatalf("close slack below 1 accepted")
	}
}
