// internal/hal/modbus/winch.go
package modbus

import (
	"fmt"
	"log"
	"sync"

	"github.com/tamzrod/secmesh/internal/hal"
)

// Registers is the controller's register map.
type Registers struct {
	Motor        uint16 // holding, 2 words: direction (0 stop, 1 forward, 2 reverse), power
	EncoderCount uint16 // input, 2 words: 32-bit tick count, high word first
	EncoderReset uint16 // holding, write 1 to clear the count
	Distance     uint16 // input, 1 word: mm, 0 = no echo
	HasDistance  bool
}

// registerIO is the subset of Client the winch drivers use.
type registerIO interface {
	WriteRegisters(addr uint16, regs []uint16) error
	WriteRegister(addr, value uint16) error
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)
}

const (
	dirStop    uint16 = 0
	dirForward uint16 = 1
	dirReverse uint16 = 2
)

// Winch drives a motor controller that also hosts the encoder counter
// and, optionally, the rangefinder.
type Winch struct {
	io     registerIO
	regs   Registers
	logger *log.Logger

	mu       sync.Mutex
	ticks    int64
	distance uint16
	lastErr  error
}

func NewWinch(c *Client, regs Registers, logger *log.Logger) *Winch {
	return newWinch(c, regs, logger)
}

func newWinch(io registerIO, regs Registers, logger *log.Logger) *Winch {
	if logger == nil {
		logger = log.Default()
	}
	return &Winch{io: io, regs: regs, logger: logger}
}

// ---- hal.Motor ----

func (w *Winch) Drive(dir hal.Direction, power uint8) error {
	code := dirStop
	switch dir {
	case hal.Forward:
		code = dirForward
	case hal.Reverse:
		code = dirReverse
	}
	return w.io.WriteRegisters(w.regs.Motor, []uint16{code, uint16(power)})
}

func (w *Winch) Stop() error {
	return w.io.WriteRegisters(w.regs.Motor, []uint16{dirStop, 0})
}

// ---- hal.Encoder ----

// Ticks reads the controller's counter. On a read error the last good
// value is returned with the error.
func (w *Winch) Ticks() (int64, error) {
	regs, err := w.io.ReadInputRegisters(w.regs.EncoderCount, 2)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.fail("encoder read", err)
		return w.ticks, fmt.Errorf("hal modbus: encoder read: %w", err)
	}
	w.ok()
	w.ticks = int64(uint32(regs[0])<<16 | uint32(regs[1]))
	return w.ticks, nil
}

// ResetTicks reads the count and clears it on the controller.
// Ticks counted between the read and the clear are lost; the controller
// latches the count while the reset register is written.
func (w *Winch) ResetTicks() (int64, error) {
	n, err := w.Ticks()
	if err != nil {
		return n, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.io.WriteRegister(w.regs.EncoderReset, 1); err != nil {
		w.fail("encoder reset", err)
		return n, fmt.Errorf("hal modbus: encoder reset: %w", err)
	}
	w.ticks = 0
	return n, nil
}

// ---- hal.Rangefinder ----

// Rangefinder returns the rangefinder view, or nil when none is wired.
func (w *Winch) Rangefinder() hal.Rangefinder {
	if !w.regs.HasDistance {
		return nil
	}
	return rangefinder{w}
}

type rangefinder struct{ w *Winch }

func (r rangefinder) Process() bool {
	regs, err := r.w.io.ReadInputRegisters(r.w.regs.Distance, 1)

	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	if err != nil {
		r.w.fail("distance read", err)
		return false
	}
	r.w.ok()
	r.w.distance = regs[0]
	return true
}

func (r rangefinder) Distance() uint16 {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return r.w.distance
}

// fail logs a register error once per distinct failure. Must be called with mu held.
func (w *Winch) fail(op string, err error) {
	if w.lastErr == nil || w.lastErr.Error() != err.Error() {
		w.logger.Printf("hal modbus: %s failed: %v", op, err)
	}
	w.lastErr = err
}

// ok must be called with mu held.
func (w *Winch) ok() { w.lastErr = nil }
