// Package board centralizes the memory map and tunable constants of
// the QEMU "virt"-class target (spec §6), the way the teacher's
// defs/limits packages centralize compile-time constants instead of
// scattering magic numbers through every subsystem.
package board

// Layout describes one target's memory map and sizing knobs. The
// zero value is not valid; use QEMUVirt().
type Layout struct {
	// PageSize is the MMU page granule in bytes.
	PageSize int

	// UARTBase is the NS16550-compatible UART register base.
	UARTBase uint64

	// VirtioMMIOBase is the first virtio-mmio slot.
	VirtioMMIOBase uint64
	// VirtioMMIOStride is the byte distance between consecutive slots.
	VirtioMMIOStride uint64
	// VirtioMMIOSlots is the number of probed slots.
	VirtioMMIOSlots int

	// PLICBase is the Platform-Level Interrupt Controller base.
	PLICBase uint64
	// PLICPriorityOff, PLICEnableOff, PLICThresholdOff, PLICClaimOff are
	// byte offsets from PLICBase to each register block.
	PLICPriorityOff  uint64
	PLICEnableOff    uint64
	PLICThresholdOff uint64
	PLICClaimOff     uint64

	// CLINTMtimecmpBase and CLINTMtime are the CLINT timer registers;
	// mtimecmp is indexed by 8*hartid.
	CLINTMtimecmpBase uint64
	CLINTMtime        uint64

	// TimerInterval is the number of mtime ticks between timer
	// interrupts (spec §4.3: "interval ≈ 10^6 ticks").
	TimerInterval uint64

	// ShutdownPort is the SiFive test-finisher MMIO address used by
	// SYS_SHUTDOWN on real hardware; the host simulation never
	// dereferences it, it only invokes the Shutdown hook (see
	// SPEC_FULL.md "Supplemented features").
	ShutdownPort uint64

	// HeapUserBase and PerProcHeap define the per-pid sbrk window:
	// HeapUserBase + pid*PerProcHeap (spec §4.7).
	HeapUserBase uint64
	PerProcHeap  uint64
}

// QEMUVirt returns the layout matching spec §6's memory map, bit
// compatible with the QEMU "virt" board.
func QEMUVirt() Layout {
	return Layout{
		PageSize: 4096,

		UARTBase: 0x10000000,

		VirtioMMIOBase:   0x10001000,
		VirtioMMIOStride: 0x1000,
		VirtioMMIOSlots:  8,

		PLICBase:         0x0c000000,
		PLICPriorityOff:  0x0,
		PLICEnableOff:    0x2000,
		PLICThresholdOff: 0x200000,
		PLICClaimOff:     0x200004,

		CLINTMtimecmpBase: 0x02004000,
		CLINTMtime:        0x0200bff8,

		TimerInterval: 1_000_000,

		ShutdownPort: 0x100000,

		HeapUserBase: 0x80400000,
		PerProcHeap:  8 * 1024,
	}
}
