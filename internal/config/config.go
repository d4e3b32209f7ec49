// internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Network NetworkConfig `yaml:"network"`
	Winch   WinchConfig   `yaml:"winch"`
	HAL     HALConfig     `yaml:"hal"`
	Admin   AdminConfig   `yaml:"admin"`

	// Door status block mirror (optional, opt-in)
	StatusPanel *StatusPanelConfig `yaml:"status_panel"`
}

// ---- NODE ----

type NodeConfig struct {
	Name   string `yaml:"name"`   // device name on the wire, max 20 bytes
	Locked bool   `yaml:"locked"` // boot lock state
}

// ---- NETWORK ----

type NetworkConfig struct {
	Group        string `yaml:"group"` // multicast ip:port
	UnicastPort  uint16 `yaml:"unicast_port"`
	Interface    string `yaml:"interface"`
	QueueDepth   int    `yaml:"queue_depth"`
	AckTimeoutMs int    `yaml:"ack_timeout_ms"`
	Retries      *int   `yaml:"retries"`
	DedupSlots   int    `yaml:"dedup_slots"`
	HandlerSlots int    `yaml:"handler_slots"`
	PollMs       int    `yaml:"poll_ms"` // main loop receive timeout
}

// ---- WINCH ----

type WinchConfig struct {
	OpenTicks        int64   `yaml:"open_ticks"`
	OpenDistanceMm   uint16  `yaml:"open_distance_mm"`
	UseRangefinder   bool    `yaml:"use_rangefinder"`
	OpenWaitMs       int     `yaml:"open_wait_ms"`
	CooldownMs       int     `yaml:"cooldown_ms"`
	FixedCooldown    bool    `yaml:"fixed_cooldown"`
	PhaseTimeoutMs   int     `yaml:"phase_timeout_ms"`
	ControlTickMs    int     `yaml:"control_tick_ms"`
	Power            uint8   `yaml:"power"`
	CalibratePower   uint8   `yaml:"calibrate_power"`
	StallFraction    float64 `yaml:"stall_fraction"`
	TensionFraction  float64 `yaml:"tension_fraction"`
	CloseSlack       float64 `yaml:"close_slack"`
	RollbackTicks    int64   `yaml:"rollback_ticks"`
	RollbackTimeout  bool    `yaml:"rollback_after_timeout"`
	InterruptOnClose bool    `yaml:"interrupt_on_close"`
	MaxReopens       int     `yaml:"max_reopens"`
}

// ---- HAL ----

type HALConfig struct {
	Driver string       `yaml:"driver"` // modbus | sim
	Modbus ModbusConfig `yaml:"modbus"`
	Sim    SimConfig    `yaml:"sim"`
}

type ModbusConfig struct {
	Mode      string `yaml:"mode"` // tcp | rtu
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
	BaudRate  int    `yaml:"baud_rate"`
	DataBits  int    `yaml:"data_bits"`
	StopBits  int    `yaml:"stop_bits"`
	Parity    string `yaml:"parity"`

	Registers RegisterConfig `yaml:"registers"`
}

type RegisterConfig struct {
	Motor        uint16  `yaml:"motor"`         // holding, 2 words
	EncoderCount uint16  `yaml:"encoder_count"` // input, 2 words
	EncoderReset uint16  `yaml:"encoder_reset"` // holding, 1 word
	Distance     *uint16 `yaml:"distance"`      // input, 1 word (optional)
}

type SimConfig struct {
	TicksPerSecond   float64 `yaml:"ticks_per_second"`
	LoadFactor       float64 `yaml:"load_factor"`
	ClosedDistanceMm uint16  `yaml:"closed_distance_mm"`
	MmPerTick        float64 `yaml:"mm_per_tick"`
}

// ---- ADMIN ----

type AdminConfig struct {
	Listen string `yaml:"listen"` // empty disables the HTTP API
}

// ---- STATUS PANEL ----

type StatusPanelConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Slot      uint16 `yaml:"slot"`
}

// Load reads a YAML file. Unknown keys are rejected.
// It does not validate or apply defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes.
func Parse(raw []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}
