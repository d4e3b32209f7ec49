// internal/config/normalize.go
package config

import (
	"fmt"
	"strings"

	"github.com/tamzrod/secmesh/internal/protocol"
)

// Defaults for the mesh link.
const (
	DefaultAckTimeoutMs = 750
	DefaultRetries      = 3
	DefaultDedupSlots   = 10
	DefaultHandlerSlots = 10
	DefaultPollMs       = 10
	DefaultQueueDepth   = 32
	DefaultModbusMs     = 1000
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// NETWORK DEFAULTS
	// ------------------------------------------------------------

	n := &cfg.Network
	if n.Group == "" {
		n.Group = fmt.Sprintf("%s:%d", protocol.MulticastGroup, protocol.MulticastPort)
	}
	if n.UnicastPort == 0 {
		n.UnicastPort = protocol.UnicastPort
	}
	if n.AckTimeoutMs == 0 {
		n.AckTimeoutMs = DefaultAckTimeoutMs
	}
	if n.Retries == nil {
		r := DefaultRetries
		n.Retries = &r
	}
	if n.DedupSlots == 0 {
		n.DedupSlots = DefaultDedupSlots
	}
	if n.HandlerSlots == 0 {
		n.HandlerSlots = DefaultHandlerSlots
	}
	if n.PollMs == 0 {
		n.PollMs = DefaultPollMs
	}
	if n.QueueDepth == 0 {
		n.QueueDepth = DefaultQueueDepth
	}

	// ------------------------------------------------------------
	// HAL DEFAULTS
	// ------------------------------------------------------------

	h := &cfg.HAL
	if h.Driver == "" {
		h.Driver = "sim"
	}
	h.Modbus.Mode = strings.ToLower(h.Modbus.Mode)
	if h.Modbus.Mode == "" {
		h.Modbus.Mode = "tcp"
	}
	if h.Modbus.TimeoutMs == 0 {
		h.Modbus.TimeoutMs = DefaultModbusMs
	}
	if h.Sim.TicksPerSecond == 0 {
		h.Sim.TicksPerSecond = 1000
	}
	if h.Sim.LoadFactor == 0 {
		h.Sim.LoadFactor = 0.5
	}
	if h.Sim.ClosedDistanceMm == 0 {
		h.Sim.ClosedDistanceMm = 1500
	}
	if h.Sim.MmPerTick == 0 {
		h.Sim.MmPerTick = 0.2
	}

	// ------------------------------------------------------------
	// STATUS PANEL NORMALIZATION (OPT-IN)
	// ------------------------------------------------------------

	if p := cfg.StatusPanel; p != nil && p.TimeoutMs == 0 {
		p.TimeoutMs = DefaultModbusMs
	}

	// Winch fields stay zero: the controller fills its own defaults.
}
