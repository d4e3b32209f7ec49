// internal/status/writer_test.go
package status

import (
	"errors"
	"testing"
)

type fakeRegisterWriter struct {
	lastAddr uint16
	lastRegs []uint16
	writes   int
	fail     error
}

func (f *fakeRegisterWriter) WriteRegisters(addr uint16, regs []uint16) error {
	if f.fail != nil {
		return f.fail
	}
	f.writes++
	f.lastAddr = addr
	f.lastRegs = append([]uint16(nil), regs...)
	return nil
}

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	cli := &fakeRegisterWriter{}
	w := NewBlockWriter(cli, 0, "DOOR-01")

	// ---- first write: FULL ASSERT ----
	first := Snapshot{Health: HealthOK}
	if err := w.WriteStatus(first); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	if len(cli.lastRegs) != SlotsPerDevice {
		t.Fatalf("expected full block write (%d regs), got %d", SlotsPerDevice, len(cli.lastRegs))
	}

	expectedNameRegs := encodeDeviceNameRegs("DOOR-01")
	for i := 0; i < SlotDeviceNameSlots; i++ {
		slot := SlotDeviceNameStart + i
		if cli.lastRegs[slot] != expectedNameRegs[i] {
			t.Fatalf("device name slot %d mismatch: got=%d want=%d", slot, cli.lastRegs[slot], expectedNameRegs[i])
		}
	}

	// ---- second write: INCREMENTAL ONLY ----
	second := Snapshot{Health: HealthError, LastErrorCode: 3, SecondsInError: 1}
	if err := w.WriteStatus(second); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}
	if len(cli.lastRegs) == SlotsPerDevice {
		t.Fatalf("device name should not be rewritten on incremental update")
	}
	// health, last error, seconds
	if cli.writes != 4 {
		t.Fatalf("writes = %d, want 4", cli.writes)
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	cli := &fakeRegisterWriter{}
	w := NewBlockWriter(cli, 2, "DOOR-01")

	errSnap := Snapshot{Health: HealthError, LastErrorCode: 3, SecondsInError: 3}
	if err := w.WriteStatus(errSnap); err != nil {
		t.Fatalf("error snapshot write failed: %v", err)
	}

	// last error code is retained across recovery
	okSnap := Snapshot{Health: HealthError, LastErrorCode: 3, SecondsInError: 0}
	if err := w.WriteStatus(okSnap); err != nil {
		t.Fatalf("recovery snapshot write failed: %v", err)
	}

	expectedAddr := uint16(2*SlotsPerDevice + SlotSecondsInError)
	if cli.lastAddr != expectedAddr {
		t.Fatalf("unexpected write addr: got=%d want=%d", cli.lastAddr, expectedAddr)
	}
	if len(cli.lastRegs) != 1 || cli.lastRegs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: got=%v", cli.lastRegs)
	}
}

func TestFailedWriteForcesFullReassert(t *testing.T) {
	cli := &fakeRegisterWriter{}
	w := NewBlockWriter(cli, 0, "DOOR-01")

	if err := w.WriteStatus(Snapshot{Health: HealthOK}); err != nil {
		t.Fatalf("initial write failed: %v", err)
	}

	cli.fail = errors.New("panel offline")
	if err := w.WriteStatus(Snapshot{Health: HealthError}); err == nil {
		t.Fatalf("expected error while panel offline")
	}

	cli.fail = nil
	if err := w.WriteStatus(Snapshot{Health: HealthError}); err != nil {
		t.Fatalf("write after recovery failed: %v", err)
	}
	if len(cli.lastRegs) != SlotsPerDevice {
		t.Fatalf("expected full re-assert after failure, got %d regs", len(cli.lastRegs))
	}
}

func TestEncodeDeviceNameRegs(t *testing.T) {
	regs := encodeDeviceNameRegs("AB\x01")
	if regs[0] != uint16('A')<<8|uint16('B') {
		t.Fatalf("reg0 = %#x", regs[0])
	}
	if regs[1] != uint16('?')<<8 {
		t.Fatalf("non-printable not sanitized: reg1 = %#x", regs[1])
	}
}
