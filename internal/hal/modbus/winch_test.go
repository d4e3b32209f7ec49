// internal/hal/modbus/winch_test.go
package modbus

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/hal"
	"github.com/tamzrod/secmesh/internal/winch"
)

type writeCall struct {
	addr uint16
	regs []uint16
}

type fakeIO struct {
	writes   []writeCall
	inputs   map[uint16][]uint16
	readErr  error
	resetErr error
	perRead  uint32 // added to the encoder count on every read while the motor runs
	running  bool
}

func (f *fakeIO) WriteRegisters(addr uint16, regs []uint16) error {
	f.writes = append(f.writes, writeCall{addr: addr, regs: append([]uint16(nil), regs...)})
	if addr == testRegs.Motor {
		f.running = regs[0] != dirStop
	}
	return nil
}

func (f *fakeIO) WriteRegister(addr, value uint16) error {
	f.writes = append(f.writes, writeCall{addr: addr, regs: []uint16{value}})
	if addr == testRegs.EncoderReset {
		if f.resetErr != nil {
			return f.resetErr
		}
		f.inputs[testRegs.EncoderCount] = []uint16{0, 0}
	}
	return nil
}

func (f *fakeIO) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if addr == testRegs.EncoderCount && f.running && f.perRead > 0 {
		r := f.inputs[addr]
		n := uint32(r[0])<<16 | uint32(r[1]) + f.perRead
		f.inputs[addr] = []uint16{uint16(n >> 16), uint16(n)}
	}
	return f.inputs[addr][:qty], nil
}

var testRegs = Registers{
	Motor:        100,
	EncoderCount: 200,
	EncoderReset: 110,
	Distance:     210,
	HasDistance:  true,
}

func newTestWinch() (*Winch, *fakeIO) {
	f := &fakeIO{inputs: map[uint16][]uint16{
		testRegs.EncoderCount: {0x0001, 0x0002},
		testRegs.Distance:     {1234},
	}}
	return newWinch(f, testRegs, log.New(io.Discard, "", 0)), f
}

func TestWinch_DriveWritesDirectionAndPower(t *testing.T) {
	w, f := newTestWinch()

	if err := w.Drive(hal.Reverse, 200); err != nil {
		t.Fatalf("Drive() err=%v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() err=%v", err)
	}

	if len(f.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(f.writes))
	}
	if got := f.writes[0]; got.addr != 100 || got.regs[0] != dirReverse || got.regs[1] != 200 {
		t.Fatalf("drive write = %+v", got)
	}
	if got := f.writes[1]; got.regs[0] != dirStop || got.regs[1] != 0 {
		t.Fatalf("stop write = %+v", got)
	}
}

func TestWinch_EncoderIs32BitHighWordFirst(t *testing.T) {
	w, _ := newTestWinch()

	if got, err := w.Ticks(); err != nil || got != 0x00010002 {
		t.Fatalf("Ticks() = %#x err=%v, want 0x10002", got, err)
	}
	if got, err := w.ResetTicks(); err != nil || got != 0x00010002 {
		t.Fatalf("ResetTicks() = %#x err=%v, want 0x10002", got, err)
	}
	if got, _ := w.Ticks(); got != 0 {
		t.Fatalf("Ticks() after reset = %d, want 0", got)
	}
}

func TestWinch_ReadErrorKeepsLastValue(t *testing.T) {
	w, f := newTestWinch()
	_, _ = w.Ticks()

	f.readErr = errors.New("timeout")
	got, err := w.Ticks()
	if got != 0x00010002 {
		t.Fatalf("Ticks() on error = %#x, want last good value", got)
	}
	if !errors.Is(err, f.readErr) {
		t.Fatalf("Ticks() err=%v, want the read error", err)
	}
	if _, err := w.ResetTicks(); err == nil {
		t.Fatalf("ResetTicks() err=nil with a failing read")
	}
	if w.Rangefinder().Process() {
		t.Fatalf("Process() = true on read error")
	}
}

func TestWinch_ResetErrorKeepsCount(t *testing.T) {
	w, f := newTestWinch()
	f.resetErr = errors.New("illegal data address")

	n, err := w.ResetTicks()
	if !errors.Is(err, f.resetErr) {
		t.Fatalf("ResetTicks() err=%v, want the write error", err)
	}
	if n != 0x00010002 {
		t.Fatalf("ResetTicks() = %#x, want 0x10002", n)
	}
	if got, _ := w.Ticks(); got != 0x00010002 {
		t.Fatalf("count cleared despite failed reset: %#x", got)
	}
}

// A failed encoder reset must stop the close and reach the error hook,
// not end it on the stale count.
func TestWinch_ControllerReportsEncoderResetFailure(t *testing.T) {
	w, f := newTestWinch()
	f.inputs[testRegs.EncoderCount] = []uint16{0, 5000}
	f.resetErr = errors.New("timeout")
	f.perRead = 20

	var errs []winch.ErrorKind
	c, err := winch.New(
		winch.DefaultParams(),
		winch.Devices{Motor: w, Encoder: w},
		clock.NewFake(),
		log.New(io.Discard, "", 0),
		winch.Hooks{OnError: func(k winch.ErrorKind) { errs = append(errs, k) }},
	)
	if err != nil {
		t.Fatalf("winch.New() err=%v", err)
	}

	if _, err := c.Close(1000); !errors.Is(err, f.resetErr) {
		t.Fatalf("Close() err=%v, want the reset error", err)
	}
	if len(errs) != 1 || errs[0] != winch.Unknown {
		t.Fatalf("errors = %v, want [UNKNOWN]", errs)
	}
	if f.running {
		t.Fatalf("motor left running")
	}
}

func TestWinch_ControllerAbortsOnLostEncoder(t *testing.T) {
	w, f := newTestWinch()
	f.inputs[testRegs.EncoderCount] = []uint16{0, 0}

	var errs []winch.ErrorKind
	clk := clock.NewFake()
	c, err := winch.New(
		winch.DefaultParams(),
		winch.Devices{Motor: w, Encoder: w},
		clk,
		log.New(io.Discard, "", 0),
		winch.Hooks{
			OnError: func(k winch.ErrorKind) { errs = append(errs, k) },
			OnTick:  func() { f.readErr = errors.New("timeout") },
		},
	)
	if err != nil {
		t.Fatalf("winch.New() err=%v", err)
	}

	if _, err := c.Close(1000); err == nil {
		t.Fatalf("Close() err=nil with the encoder unreadable")
	}
	if len(errs) != 1 || errs[0] != winch.Unknown {
		t.Fatalf("errors = %v, want [UNKNOWN]", errs)
	}
	if f.running {
		t.Fatalf("motor left running")
	}
}

func TestWinch_Rangefinder(t *testing.T) {
	w, _ := newTestWinch()

	rf := w.Rangefinder()
	if rf == nil {
		t.Fatalf("Rangefinder() = nil")
	}
	if !rf.Process() {
		t.Fatalf("Process() = false")
	}
	if got := rf.Distance(); got != 1234 {
		t.Fatalf("Distance() = %d, want 1234", got)
	}

	noRF := newWinch(&fakeIO{}, Registers{}, nil)
	if noRF.Rangefinder() != nil {
		t.Fatalf("Rangefinder() without distance register should be nil")
	}
}

func TestPackRegisters_BigEndian(t *testing.T) {
	got := packRegisters([]uint16{0x0102, 0xA0B0})
	want := []byte{0x01, 0x02, 0xA0, 0xB0}
	if string(got) != string(want) {
		t.Fatalf("packRegisters() = %x, want %x", got, want)
	}
	if back := unpackRegisters(got); back[0] != 0x0102 || back[1] != 0xA0B0 {
		t.Fatalf("unpackRegisters() = %x", back)
	}
}

func TestNewHandler_Modes(t *testing.T) {
	if _, err := newHandler(Config{Mode: "tcp", Endpoint: "127.0.0.1:502"}); err != nil {
		t.Fatalf("tcp: err=%v", err)
	}
	if _, err := newHandler(Config{Mode: "RTU", Endpoint: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("rtu: err=%v", err)
	}
	if _, err := newHandler(Config{Mode: "can"}); err == nil {
		t.Fatalf("unknown mode accepted")
	}
	if _, err := Dial(Config{}); err == nil {
		t.Fatalf("Dial() without endpoint accepted")
	}
}
