// internal/app/builder.go
package app

import (
	"fmt"
	"log"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	cfg "github.com/tamzrod/secmesh/internal/config"
	"github.com/tamzrod/secmesh/internal/hal/modbus"
	"github.com/tamzrod/secmesh/internal/hal/sim"
	"github.com/tamzrod/secmesh/internal/protocol"
	"github.com/tamzrod/secmesh/internal/status"
	"github.com/tamzrod/secmesh/internal/transport"
	"github.com/tamzrod/secmesh/internal/winch"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// BuildOptions maps a normalized config onto node options.
// The status panel is wired separately by BuildPanel.
func BuildOptions(c *cfg.Config) (Options, error) {
	group, err := protocol.ParseNode(c.Network.Group, protocol.MulticastPort)
	if err != nil {
		return Options{}, err
	}

	retries := transport.DefaultRetries
	if c.Network.Retries != nil {
		retries = *c.Network.Retries
	}

	return Options{
		Name:   c.Node.Name,
		Group:  group,
		Locked: c.Node.Locked,
		Transport: transport.Config{
			AckTimeout:   ms(c.Network.AckTimeoutMs),
			Retries:      retries,
			PollInterval: ms(c.Network.PollMs),
			HandlerSlots: c.Network.HandlerSlots,
		},
		DedupSlots:   c.Network.DedupSlots,
		PollInterval: ms(c.Network.PollMs),
		Winch:        BuildParams(c.Winch),
	}, nil
}

// BuildParams overlays configured winch settings on the defaults.
// Zero fields keep the default.
func BuildParams(w cfg.WinchConfig) winch.Params {
	p := winch.DefaultParams()

	if w.OpenTicks > 0 {
		p.OpenTicks = w.OpenTicks
	}
	if w.OpenDistanceMm > 0 {
		p.OpenDistance = w.OpenDistanceMm
	}
	p.UseRangefinder = w.UseRangefinder
	if w.OpenWaitMs > 0 {
		p.OpenWait = ms(w.OpenWaitMs)
	}
	if w.CooldownMs > 0 {
		p.Cooldown = ms(w.CooldownMs)
	}
	p.FixedCooldown = w.FixedCooldown
	if w.PhaseTimeoutMs > 0 {
		p.PhaseTimeout = ms(w.PhaseTimeoutMs)
	}
	if w.ControlTickMs > 0 {
		p.ControlTick = ms(w.ControlTickMs)
	}
	if w.Power > 0 {
		p.Power = w.Power
	}
	if w.CalibratePower > 0 {
		p.CalibratePower = w.CalibratePower
	}
	if w.StallFraction > 0 {
		p.StallFraction = w.StallFraction
	}
	if w.TensionFraction > 0 {
		p.TensionFraction = w.TensionFraction
	}
	if w.CloseSlack > 0 {
		p.CloseSlack = w.CloseSlack
	}
	if w.RollbackTicks > 0 {
		p.RollbackTicks = w.RollbackTicks
	}
	p.RollbackAfterTimeout = w.RollbackTimeout
	p.InterruptOnClose = w.InterruptOnClose
	if w.MaxReopens > 0 {
		p.MaxReopens = w.MaxReopens
	}
	return p
}

// BuildDevices constructs the winch hardware for the configured driver.
// The returned closer releases the bus connection, if any.
func BuildDevices(h cfg.HALConfig, clk clock.Clock, logger *log.Logger) (winch.Devices, func() error, error) {
	nop := func() error { return nil }

	switch h.Driver {
	case "sim":
		rig := sim.New(sim.Config{
			Rate:           h.Sim.TicksPerSecond,
			Profile:        sim.Loaded(h.Sim.LoadFactor),
			ClosedDistance: h.Sim.ClosedDistanceMm,
			MMPerTick:      h.Sim.MmPerTick,
		}, clk)
		return winch.Devices{Motor: rig, Encoder: rig, Rangefinder: rig}, nop, nil

	case "modbus":
		m := h.Modbus
		client, err := modbus.Dial(modbus.Config{
			Mode:     m.Mode,
			Endpoint: m.Endpoint,
			UnitID:   m.UnitID,
			Timeout:  ms(m.TimeoutMs),
			BaudRate: m.BaudRate,
			DataBits: m.DataBits,
			StopBits: m.StopBits,
			Parity:   m.Parity,
		})
		if err != nil {
			return winch.Devices{}, nil, err
		}

		regs := modbus.Registers{
			Motor:        m.Registers.Motor,
			EncoderCount: m.Registers.EncoderCount,
			EncoderReset: m.Registers.EncoderReset,
		}
		if m.Registers.Distance != nil {
			regs.Distance = *m.Registers.Distance
			regs.HasDistance = true
		}

		w := modbus.NewWinch(client, regs, logger)
		dev := winch.Devices{Motor: w, Encoder: w}
		if rf := w.Rangefinder(); rf != nil {
			dev.Rangefinder = rf
		}
		return dev, client.Close, nil
	}

	return winch.Devices{}, nil, fmt.Errorf("app: unknown hal driver %q", h.Driver)
}

// BuildPanel dials the optional status panel. A nil config yields a nil sink.
func BuildPanel(p *cfg.StatusPanelConfig, name string) (StatusSink, func() error, error) {
	if p == nil {
		return nil, func() error { return nil }, nil
	}

	client, err := modbus.Dial(modbus.Config{
		Mode:     "tcp",
		Endpoint: p.Endpoint,
		UnitID:   p.UnitID,
		Timeout:  ms(p.TimeoutMs),
	})
	if err != nil {
		return nil, nil, err
	}
	return status.NewBlockWriter(client, p.Slot, name), client.Close, nil
}
