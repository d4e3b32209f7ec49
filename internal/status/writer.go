// internal/status/writer.go
package status

import (
	"errors"
	"fmt"
	"strings"
)

// RegisterWriter is the Modbus write the block writer needs.
type RegisterWriter interface {
	WriteRegisters(addr uint16, regs []uint16) error
}

// BlockWriter mirrors a Snapshot into a panel's holding registers.
// It writes the whole block once, then only the slots that changed.
// Delivery only: no logic, no interpretation.
type BlockWriter struct {
	cli      RegisterWriter
	baseSlot uint16

	needFull bool
	last     Snapshot
	nameRegs []uint16
}

// NewBlockWriter targets the block at baseSlot*SlotsPerDevice.
func NewBlockWriter(cli RegisterWriter, baseSlot uint16, deviceName string) *BlockWriter {
	return &BlockWriter{
		cli:      cli,
		baseSlot: baseSlot,
		needFull: true, // full re-assert on first successful write
		last:     Snapshot{Health: HealthUnknown},
		nameRegs: encodeDeviceNameRegs(deviceName),
	}
}

// WriteStatus delivers a snapshot.
// On any write failure, the next successful call will re-assert the full block.
func (w *BlockWriter) WriteStatus(s Snapshot) error {
	if w == nil || w.cli == nil {
		return errors.New("status writer: disabled")
	}

	base := w.baseAddr()

	if w.needFull {
		if err := w.cli.WriteRegisters(base, w.fullBlockRegs(s)); err != nil {
			w.needFull = true
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		w.needFull = false
		w.last = s
		return nil
	}

	slots := []struct {
		slot      uint16
		old, next *uint16
	}{
		{SlotHealthCode, &w.last.Health, &s.Health},
		{SlotLastErrorCode, &w.last.LastErrorCode, &s.LastErrorCode},
		{SlotSecondsInError, &w.last.SecondsInError, &s.SecondsInError},
		{SlotPhase, &w.last.Phase, &s.Phase},
		{SlotLocked, &w.last.Locked, &s.Locked},
		{SlotCycles, &w.last.Cycles, &s.Cycles},
	}

	var errs []string
	for _, sl := range slots {
		if *sl.old == *sl.next {
			continue
		}
		if err := w.cli.WriteRegisters(base+sl.slot, []uint16{*sl.next}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d write failed: %v", sl.slot, err))
			continue
		}
		*sl.old = *sl.next
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next success.
		w.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (w *BlockWriter) baseAddr() uint16 {
	return w.baseSlot * SlotsPerDevice
}

func (w *BlockWriter) fullBlockRegs(s Snapshot) []uint16 {
	regs := Encode(s)

	// Device name always lives at the end of the block
	for i := 0; i < SlotDeviceNameSlots && i < len(w.nameRegs); i++ {
		regs[SlotDeviceNameStart+i] = w.nameRegs[i]
	}
	return regs
}
