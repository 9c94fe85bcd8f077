package trap

import "rvos/internal/board"

// PLICRegisters is the Platform-Level Interrupt Controller's register
// window, addressed the way board.Layout lays it out: priority and
// enable arrays, a per-hart threshold, and a claim/complete register
// that doubles as both (spec §6; original_source/kernel/trap/plic.c).
type PLICRegisters interface {
	WritePriority(irq uint32, priority uint32)
	WriteEnable(hart int, mask uint32)
	WriteThreshold(hart int, threshold uint32)
	Claim(hart int) uint32
	Complete(hart int, irq uint32)
}

// PLIC enables IRQs 1-8 (the virtio-mmio slot range on QEMU virt) at
// priority 1 with threshold 0, and exposes claim/complete for the
// trap dispatcher's external-interrupt path.
type PLIC struct {
	regs PLICRegisters
}

// NewPLIC wraps regs. Call Init once before handling interrupts.
func NewPLIC(regs PLICRegisters) *PLIC {
	return &PLIC{regs: regs}
}

// Init enables IRQs 1 through 8 for hart 0 and sets its threshold to
// 0, matching original_source's plic_init exactly (including the
// comment there that enabling all of them up front avoids missing a
// disk interrupt on a probe-order-dependent IRQ line).
func (p *PLIC) Init() {
	const hart = 0
	for irq := uint32(1); irq <= 8; irq++ {
		p.regs.WritePriority(irq, 1)
	}
	var mask uint32
	for irq := uint32(1); irq <= 8; irq++ {
		mask |= 1 << irq
	}
	p.regs.WriteEnable(hart, mask)
	p.regs.WriteThreshold(hart, 0)
}

// Claim returns the highest-priority pending IRQ for hart 0, or 0 if
// none is pending.
func (p *PLIC) Claim() uint32 {
	return p.regs.Claim(0)
}

// Complete acknowledges irq, the second half of the claim/complete
// handshake.
func (p *PLIC) Complete(irq uint32) {
	p.regs.Complete(0, irq)
}

// SimPLICRegisters is a host-only PLICRegisters backed by plain Go
// state, for tests and the boot simulation; a bare-metal port backs
// PLICRegisters with the MMIO window at board.Layout.PLICBase instead.
type SimPLICRegisters struct {
	layout     board.Layout
	priority   [32]uint32
	enable     [8]uint32
	threshold  [8]uint32
	pendingIRQ uint32
}

// NewSimPLICRegisters returns a zeroed simulated PLIC register file.
func NewSimPLICRegisters(layout board.Layout) *SimPLICRegisters {
	return &SimPLICRegisters{layout: layout}
}

func (s *SimPLICRegisters) WritePriority(irq uint32, priority uint32) { s.priority[irq] = priority }
func (s *SimPLICRegisters) WriteEnable(hart int, mask uint32)         { s.enable[hart] = mask }
func (s *SimPLICRegisters) WriteThreshold(hart int, threshold uint32) { s.threshold[hart] = threshold }

// Raise marks irq pending, for tests to simulate a device asserting
// its interrupt line.
func (s *SimPLICRegisters) Raise(irq uint32) { s.pendingIRQ = irq }

func (s *SimPLICRegisters) Claim(hart int) uint32 {
	irq := s.pendingIRQ
	if irq == 0 {
		return 0
	}
	if s.enable[hart]&(1<<irq) == 0 || s.priority[irq] <= s.threshold[hart] {
		return 0
	}
	s.pendingIRQ = 0
	return irq
}

func (s *SimPLICRegisters) Complete(hart int, irq uint32) {
	_ = hart
	_ = irq
}
