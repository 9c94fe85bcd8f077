// Package trap is the trap and interrupt dispatcher (spec §4.3): it
// decodes mcause into an interrupt or an exception, reprograms the
// timer and reschedules on a timer interrupt, claims and routes
// external interrupts through the PLIC, dispatches ecall into the
// syscall table, and forwards page faults to the faulting process's
// VMM.
//
// It is grounded on original_source/kernel/trap/trap.c for the
// mcause MSB interrupt/exception split and the exception/interrupt
// code switch; original_source's trap_handler_c is only a
// debug-printing variant (it loops wfi forever instead of actually
// resuming), so the full dispatch behavior here — timer reprogram and
// reschedule, ecall routing, external IRQ via PLIC claim/complete —
// is synthesized directly from the component's stated responsibility
// rather than transliterated from that file.
package trap

import (
	"rvos/internal/klog"
	"rvos/internal/proc"
	"rvos/internal/syscall"
)

var log = klog.For("trap")

// mcause interrupt bit (RISC-V: MSB set means interrupt, clear means
// exception) and the machine-mode interrupt/exception codes this
// dispatcher understands.
const (
	interruptBit = uint64(1) << 63

	causeMachineSoftwareInterrupt = 3
	causeMachineTimerInterrupt    = 7
	causeMachineExternalInterrupt = 11

	causeInstructionPageFault = 12
	causeLoadPageFault        = 13
	causeEcallFromUMode       = 8
	causeEcallFromSMode       = 9
	causeEcallFromMMode       = 11
	causeStorePageFault       = 15
)

// CLINT is the timer register pair the dispatcher reprograms on every
// timer interrupt (board.Layout.CLINTMtime / CLINTMtimecmpBase).
type CLINT interface {
	ReadMtime() uint64
	WriteMtimecmp(hart int, value uint64)
}

// Device is anything the external-interrupt path can route a claimed
// IRQ to; *virtioblk.Device satisfies it via its Intr method.
type Device interface {
	Intr() bool
}

// Frame is the decoded trap context: mcause, the faulting/resuming
// PC, mtval (the faulting address for a page fault), and the ecall
// argument registers a0..a7 (A[7] holds the syscall number).
type Frame struct {
	Cause uint64
	Epc   uintptr
	Tval  uintptr
	A     [8]uint64
}

// Result is what the trap return path needs: where to resume (on the
// same process or, after a context switch, whatever Switch points at)
// and, for an ecall, the value to place in a0.
type Result struct {
	NextEpc uintptr
	Switch  *proc.Context
	A0      int64
	IsEcall bool
}

// Dispatcher ties the timer, the PLIC, the syscall table, and the
// scheduler together behind one entry point trap_vector_entry calls
// on a bare-metal port.
type Dispatcher struct {
	TimerInterval uint64
	Clint         CLINT
	PLIC          *PLIC
	Syscalls      *syscall.Table
	Sched         *proc.Scheduler
	Devices       map[uint32]Device // IRQ number -> device
}

func isInterrupt(cause uint64) bool { return cause&interruptBit != 0 }
func causeCode(cause uint64) uint64 { return cause &^ interruptBit }

// Handle decodes f and dispatches it on behalf of p, the process that
// trapped.
func (d *Dispatcher) Handle(p *proc.PCB, f Frame) Result {
	if isInterrupt(f.Cause) {
		return d.handleInterrupt(p, f)
	}
	return d.handleException(p, f)
}

func (d *Dispatcher) handleInterrupt(p *proc.PCB, f Frame) Result {
	switch causeCode(f.Cause) {
	case causeMachineTimerInterrupt:
		if d.Clint != nil {
			d.Clint.WriteMtimecmp(0, d.Clint.ReadMtime()+d.TimerInterval)
		}
		ctx := d.Sched.Schedule()
		return Result{NextEpc: f.Epc, Switch: ctx}

	case causeMachineExternalInterrupt:
		if d.PLIC != nil {
			irq := d.PLIC.Claim()
			if irq != 0 {
				if dev, ok := d.Devices[irq]; ok {
					dev.Intr()
				}
				d.PLIC.Complete(irq)
			}
		}
		return Result{NextEpc: f.Epc}

	case causeMachineSoftwareInterrupt:
		return Result{NextEpc: f.Epc}

	default:
		log.Warn().Uint64("cause", f.Cause).Msg("trap: unhandled interrupt, terminating process")
		d.Sched.Exit(p, -1)
		return Result{NextEpc: f.Epc, Switch: d.Sched.Schedule()}
	}
}

func (d *Dispatcher) handleException(p *proc.PCB, f Frame) Result {
	switch causeCode(f.Cause) {
	case causeEcallFromUMode, causeEcallFromSMode, causeEcallFromMMode:
		args := syscall.Args{
			Number: syscall.Number(f.A[7]),
			A:      [6]uint64{f.A[0], f.A[1], f.A[2], f.A[3], f.A[4], f.A[5]},
		}
		ret := d.Syscalls.Dispatch(p, args)
		// ecall is a 4-byte instruction; the trap return resumes just
		// past it regardless of the syscall's outcome — except in two
		// cases. SysExit (spec §4.4) "calls schedule(); the call never
		// returns": the exiting process is now a zombie and must never
		// be resumed, so the trap return has to switch away from it the
		// same way the page-fault and unhandled-exception paths do. A
		// successful SysExec has rewritten p's Sepc to the new entry
		// point, so the trap return resumes there instead.
		if args.Number == syscall.SysExit {
			return Result{NextEpc: f.Epc, Switch: d.Sched.Schedule(), A0: ret, IsEcall: true}
		}
		if args.Number == syscall.SysExec && ret == 0 {
			return Result{NextEpc: p.Ctx.Sepc, A0: ret, IsEcall: true}
		}
		return Result{NextEpc: f.Epc + 4, A0: ret, IsEcall: true}

	case causeInstructionPageFault, causeLoadPageFault, causeStorePageFault:
		if p.VM == nil || p.VM.PageFault(f.Tval, 0) != nil {
			log.Warn().Uint64("addr", uint64(f.Tval)).Msg("trap: unhandled page fault, terminating process")
			d.Sched.Exit(p, -1)
			return Result{NextEpc: f.Epc, Switch: d.Sched.Schedule()}
		}
		return Result{NextEpc: f.Epc}

	default:
		log.Warn().Uint64("cause", f.Cause).Msg("trap: unhandled exception, terminating process")
		d.Sched.Exit(p, -1)
		return Result{NextEpc: f.Epc, Switch: d.Sched.Schedule()}
	}
}
