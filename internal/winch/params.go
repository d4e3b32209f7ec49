// internal/winch/params.go
package winch

import (
	"errors"
	"fmt"
	"time"
)

// Params tune one door. Zero fields take DefaultParams values
// except the booleans, whose zero value is the default.
type Params struct {
	// Opening
	OpenTicks      int64         // fallback open threshold in encoder ticks
	OpenDistance   uint16        // mm; rangefinder reading below this is the apex
	UseRangefinder bool
	SonarGrace     time.Duration // time allowed for a first valid echo

	// Holding
	OpenWait      time.Duration
	Cooldown      time.Duration
	CooldownCap   float64 // ceiling as a multiple of Cooldown
	FixedCooldown bool    // ignore activity during cooldown

	// Drive
	Power          uint8
	CalibratePower uint8
	ControlTick    time.Duration
	StallWarmup    time.Duration
	StallFraction  float64 // of peak rate
	PhaseTimeout   time.Duration

	// Closing
	CloseSlack       float64 // close budget as a multiple of the opened ticks
	ExtendedClose    float64 // further multiple after a jammed open
	InterruptOnClose bool
	MaxReopens       int

	// Calibrating
	TensionFraction      float64 // of peak rate; below it the line is taut
	RollbackTicks        int64
	RollbackAfterTimeout bool
	TimeoutRollback      float64 // multiple of phase-one ticks rolled back after a timeout
}

func DefaultParams() Params {
	return Params{
		OpenTicks:    6000,
		OpenDistance: 300,
		SonarGrace:   time.Second,

		OpenWait:    5 * time.Second,
		Cooldown:    3 * time.Second,
		CooldownCap: 2,

		Power:          255,
		CalibratePower: 160,
		ControlTick:    20 * time.Millisecond,
		StallWarmup:    500 * time.Millisecond,
		StallFraction:  0.2,
		PhaseTimeout:   15 * time.Second,

		CloseSlack:    1.1,
		ExtendedClose: 1.5,
		MaxReopens:    3,

		TensionFraction: 0.75,
		RollbackTicks:   800,
		TimeoutRollback: 1.5,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.OpenTicks <= 0 {
		p.OpenTicks = d.OpenTicks
	}
	if p.OpenDistance == 0 {
		p.OpenDistance = d.OpenDistance
	}
	if p.SonarGrace <= 0 {
		p.SonarGrace = d.SonarGrace
	}
	if p.OpenWait <= 0 {
		p.OpenWait = d.OpenWait
	}
	if p.Cooldown <= 0 {
		p.Cooldown = d.Cooldown
	}
	if p.CooldownCap < 1 {
		p.CooldownCap = d.CooldownCap
	}
	if p.Power == 0 {
		p.Power = d.Power
	}
	if p.CalibratePower == 0 {
		p.CalibratePower = d.CalibratePower
	}
	if p.ControlTick <= 0 {
		p.ControlTick = d.ControlTick
	}
	if p.StallWarmup <= 0 {
		p.StallWarmup = d.StallWarmup
	}
	if p.StallFraction <= 0 {
		p.StallFraction = d.StallFraction
	}
	if p.PhaseTimeout <= 0 {
		p.PhaseTimeout = d.PhaseTimeout
	}
	if p.CloseSlack <= 0 {
		p.CloseSlack = d.CloseSlack
	}
	if p.ExtendedClose <= 0 {
		p.ExtendedClose = d.ExtendedClose
	}
	if p.MaxReopens <= 0 {
		p.MaxReopens = d.MaxReopens
	}
	if p.TensionFraction <= 0 {
		p.TensionFraction = d.TensionFraction
	}
	if p.RollbackTicks <= 0 {
		p.RollbackTicks = d.RollbackTicks
	}
	if p.TimeoutRollback <= 0 {
		p.TimeoutRollback = d.TimeoutRollback
	}
	return p
}

// Validate rejects settings that cannot drive a door safely.
// It does not apply defaults.
func (p Params) Validate() error {
	if p.StallFraction >= 1 {
		return fmt.Errorf("winch: stall fraction %.2f must be below 1", p.StallFraction)
	}
	if p.TensionFraction >= 1 {
		return fmt.Errorf("winch: tension fraction %.2f must be below 1", p.TensionFraction)
	}
	if p.StallFraction > 0 && p.TensionFraction > 0 && p.TensionFraction <= p.StallFraction {
		return errors.New("winch: tension fraction must exceed stall fraction")
	}
	if p.CloseSlack > 0 && p.CloseSlack < 1 {
		return fmt.Errorf("winch: close slack %.2f leaves the door short", p.CloseSlack)
	}
	if p.ControlTick > 0 && p.PhaseTimeout > 0 && p.ControlTick >= p.PhaseTimeout {
		return errors.New("winch: control tick must be shorter than the phase timeout")
	}
	return nil
}
