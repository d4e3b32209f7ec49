// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/tamzrod/secmesh/internal/protocol"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// NODE IDENTITY
	// ------------------------------------------------------------

	name := cfg.Node.Name
	if name == "" {
		return fmt.Errorf("node: name is required")
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7E {
			return fmt.Errorf("node: name %q must contain printable ASCII characters only", name)
		}
	}
	if len(name) > protocol.DeviceNameSize {
		return fmt.Errorf("node: name %q exceeds %d bytes", name, protocol.DeviceNameSize)
	}
	if name == protocol.BadPacketName {
		return fmt.Errorf("node: name %q is reserved", name)
	}

	// ------------------------------------------------------------
	// NETWORK
	// ------------------------------------------------------------

	n := cfg.Network
	if n.Group != "" {
		g, err := protocol.ParseNode(n.Group, protocol.MulticastPort)
		if err != nil {
			return fmt.Errorf("network: group: %w", err)
		}
		if !g.Addr.IsMulticast() {
			return fmt.Errorf("network: group %s is not a multicast address", g.Addr)
		}
	}
	if n.AckTimeoutMs < 0 || n.PollMs < 0 || n.QueueDepth < 0 {
		return fmt.Errorf("network: timeouts and queue depth must not be negative")
	}
	if n.Retries != nil && *n.Retries < 0 {
		return fmt.Errorf("network: retries must not be negative")
	}
	if n.DedupSlots < 0 || n.HandlerSlots < 0 {
		return fmt.Errorf("network: slot counts must not be negative")
	}

	// ------------------------------------------------------------
	// WINCH
	// ------------------------------------------------------------

	w := cfg.Winch
	if w.OpenTicks < 0 || w.RollbackTicks < 0 || w.MaxReopens < 0 {
		return fmt.Errorf("winch: tick counts must not be negative")
	}
	if w.OpenWaitMs < 0 || w.CooldownMs < 0 || w.PhaseTimeoutMs < 0 || w.ControlTickMs < 0 {
		return fmt.Errorf("winch: durations must not be negative")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"stall_fraction", w.StallFraction},
		{"tension_fraction", w.TensionFraction},
	} {
		if f.v < 0 || f.v >= 1 {
			return fmt.Errorf("winch: %s %.2f must be in [0, 1)", f.name, f.v)
		}
	}
	if w.StallFraction > 0 && w.TensionFraction > 0 && w.TensionFraction <= w.StallFraction {
		return fmt.Errorf("winch: tension_fraction must exceed stall_fraction")
	}
	if w.CloseSlack != 0 && w.CloseSlack < 1 {
		return fmt.Errorf("winch: close_slack %.2f must be at least 1", w.CloseSlack)
	}
	if w.UseRangefinder && cfg.HAL.Driver == "modbus" && cfg.HAL.Modbus.Registers.Distance == nil {
		return fmt.Errorf("winch: use_rangefinder requires hal.modbus.registers.distance")
	}

	// ------------------------------------------------------------
	// HAL
	// ------------------------------------------------------------

	switch cfg.HAL.Driver {
	case "", "sim":
	case "modbus":
		if err := validateModbus(cfg.HAL.Modbus); err != nil {
			return err
		}
	default:
		return fmt.Errorf("hal: unknown driver %q", cfg.HAL.Driver)
	}

	// ------------------------------------------------------------
	// STATUS PANEL (OPT-IN)
	// ------------------------------------------------------------

	if p := cfg.StatusPanel; p != nil {
		if p.Endpoint == "" {
			return fmt.Errorf("status_panel: endpoint is required")
		}
		if cfg.HAL.Driver == "modbus" &&
			p.Endpoint == cfg.HAL.Modbus.Endpoint &&
			p.UnitID == cfg.HAL.Modbus.UnitID {
			start := uint32(p.Slot) * 20
			block := span{start: start, end: start + 19, what: "status block"}
			for _, s := range holdingSpans(cfg.HAL.Modbus.Registers) {
				if block.overlaps(s) {
					return fmt.Errorf(
						"status_panel: block %d-%d overlaps %s %d-%d on %s unit %d",
						block.start, block.end, s.what, s.start, s.end, p.Endpoint, p.UnitID,
					)
				}
			}
		}
	}

	// ------------------------------------------------------------
	// ADMIN
	// ------------------------------------------------------------

	if cfg.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Admin.Listen); err != nil {
			return fmt.Errorf("admin: listen %q: %w", cfg.Admin.Listen, err)
		}
	}

	return nil
}

func validateModbus(m ModbusConfig) error {
	if m.Endpoint == "" {
		return fmt.Errorf("hal.modbus: endpoint is required")
	}
	switch strings.ToLower(m.Mode) {
	case "", "tcp", "rtu":
	default:
		return fmt.Errorf("hal.modbus: unknown mode %q", m.Mode)
	}
	if m.TimeoutMs < 0 {
		return fmt.Errorf("hal.modbus: timeout_ms must not be negative")
	}

	// ------------------------------------------------------------
	// REGISTER MAP GEOMETRY
	// ------------------------------------------------------------

	areas := map[string][]span{
		"holding": holdingSpans(m.Registers),
		"input":   inputSpans(m.Registers),
	}
	for area, spans := range areas {
		for i := range spans {
			for j := i + 1; j < len(spans); j++ {
				if spans[i].overlaps(spans[j]) {
					return fmt.Errorf(
						"hal.modbus: %s register overlap: %s %d-%d overlaps %s %d-%d",
						area,
						spans[i].what, spans[i].start, spans[i].end,
						spans[j].what, spans[j].start, spans[j].end,
					)
				}
			}
		}
	}
	return nil
}

type span struct {
	start uint32
	end   uint32
	what  string
}

// overlaps is inclusive on both ends.
func (s span) overlaps(o span) bool {
	return !(s.end < o.start || s.start > o.end)
}

func holdingSpans(r RegisterConfig) []span {
	return []span{
		{start: uint32(r.Motor), end: uint32(r.Motor) + 1, what: "motor"},
		{start: uint32(r.EncoderReset), end: uint32(r.EncoderReset), what: "encoder_reset"},
	}
}

func inputSpans(r RegisterConfig) []span {
	out := []span{
		{start: uint32(r.EncoderCount), end: uint32(r.EncoderCount) + 1, what: "encoder_count"},
	}
	if r.Distance != nil {
		out = append(out, span{start: uint32(*r.Distance), end: uint32(*r.Distance), what: "distance"})
	}
	return out
}
