// Package proc is the process model and round-robin scheduler (spec
// §4.4): a process table keyed by pid, a FIFO ready queue, and a
// 5-step schedule() policy that never leaves the CPU idle while a
// runnable process exists.
//
// It is grounded on original_source/kernel/proc/proc.c for
// proc_create's register-context bootstrap, scheduler_init's
// dedicated idle process, proc_exit/zombies_free's reap-on-next-switch
// policy, and schedule()'s five-step body; sys_fork/sys_wait/sys_sbrk
// in original_source/kernel/syscall/syscall.c fill in the PCB fields
// (parent pid, program break, heap window) proc.h itself never grew
// past an earlier, incomplete stage.
package proc

import (
	"fmt"
	"io"
	"sync"

	"rvos/internal/board"
	"rvos/internal/kerr"
	"rvos/internal/klog"
	"rvos/internal/vmm"
)

var log = klog.For("proc")

// State is a process's scheduling state.
type State int

const (
	Unused State = iota
	Runnable
	Running
	Blocked
	Zombie
)

// Context is the saved register set a real context switch restores
// through assembly; the host build only records it, the way
// vmm.Manager.Activate records satp writes without touching hardware.
// Field names follow the RISC-V trap frame original_source's proc.c
// builds by hand in proc_create (x1 is ra, sepc/sp are the entry PC
// and stack pointer a forked/created process resumes at).
type Context struct {
	RA   uintptr
	SP   uintptr
	Sepc uintptr
}

// NameMax is the longest process name the PCB stores (spec §3:
// "name[≤20]"); longer names are truncated at creation.
const NameMax = 20

// PCB is one process control block.
type PCB struct {
	Pid       int
	ParentPid int
	State     State
	ExitCode  int

	// Name and Priority are static, set at creation and never mutated
	// by the scheduler (spec §3: "name[≤20], static priority"; no
	// fairness or priority scheduling beyond round-robin is
	// implemented per spec §1 Non-goals, so Priority is carried for
	// introspection only).
	Name     string
	Priority int

	StackBase uintptr
	StackTop  uintptr

	VM *vmm.Manager

	// Brk is the current program break; HeapBase is
	// board.Layout.HeapUserBase + pid*PerProcHeap, fixed at creation
	// (spec §4.7: "per-pid heap window, not validated against other
	// processes").
	HeapBase  uint64
	HeapLimit uint64
	Brk       uint64

	Ctx Context
}

// Frames is the subset of pmm.Allocator the scheduler needs to hand
// out process stacks and heap pages.
type Frames interface {
	Alloc() (uintptr, error)
	Free(uintptr)
	FrameBytes(uintptr) []byte
}

// Scheduler owns the process table and implements round-robin
// scheduling across it (spec §4.4: "no priority, no fairness beyond
// round-robin").
type Scheduler struct {
	mu sync.Mutex

	layout board.Layout
	frames Frames

	procs   map[int]*PCB
	nextPid int

	ready   []int // pids, FIFO
	zombies []int
	current *PCB
	idle    *PCB

	// SwitchHook, when set, is invoked on every real context switch;
	// see Schedule.
	SwitchHook func(from, to *Context)
}

// New returns a Scheduler bound to layout and frames. Call Init
// before any other method.
func New(layout board.Layout, frames Frames) *Scheduler {
	return &Scheduler{layout: layout, frames: frames, procs: make(map[int]*PCB), nextPid: 1}
}

// Init creates the dedicated idle process (pid 0, never placed on the
// ready queue) that Schedule falls back to when nothing else is
// runnable, matching original_source's scheduler_init.
func (s *Scheduler) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = &PCB{Pid: 0, State: Running}
	s.current = s.idle
}

const defaultStackPages = 2

// Create allocates a PCB, a stack, and a per-pid heap window, seeds
// its register context so it resumes at entry on first schedule, and
// places it on the ready queue (original_source's
// proc_create(name, entry, priority)). name is truncated to NameMax.
func (s *Scheduler) Create(name string, entry uintptr, priority int, vm *vmm.Manager) (*PCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stackBase, err := s.frames.Alloc()
	if err != nil {
		return nil, err
	}
	stackTop := stackBase + uintptr(s.layout.PageSize)

	pid := s.nextPid
	s.nextPid++

	p := &PCB{
		Pid:       pid,
		ParentPid: 0,
		State:     Runnable,
		Name:      truncName(name),
		Priority:  priority,
		StackBase: stackBase,
		StackTop:  stackTop,
		VM:        vm,
		HeapBase:  s.layout.HeapUserBase + uint64(pid)*s.layout.PerProcHeap,
		Ctx:       Context{Sepc: uintptr(entry), SP: stackTop},
	}
	p.HeapLimit = p.HeapBase
	p.Brk = p.HeapBase

	s.procs[pid] = p
	s.ready = append(s.ready, pid)
	log.Info().Int("pid", pid).Str("name", p.Name).Msg("proc: created")
	return p, nil
}

func truncName(name string) string {
	if len(name) > NameMax {
		return name[:NameMax]
	}
	return name
}

// Fork duplicates parent's identity (not its address space — spec §1
// Non-goals exclude copy-on-write fork) into a new PCB sharing the
// parent's VM, ready to run from the same Sepc (original_source's
// sys_fork/proc_fork: "returns child pid in parent, and the epc to
// resume the child at").
func (s *Scheduler) Fork(parent *PCB) (*PCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stackBase, err := s.frames.Alloc()
	if err != nil {
		return nil, err
	}
	stackTop := stackBase + uintptr(s.layout.PageSize)

	pid := s.nextPid
	s.nextPid++

	child := &PCB{
		Pid:       pid,
		ParentPid: parent.Pid,
		State:     Runnable,
		Name:      parent.Name,
		Priority:  parent.Priority,
		StackBase: stackBase,
		StackTop:  stackTop,
		VM:        parent.VM,
		HeapBase:  s.layout.HeapUserBase + uint64(pid)*s.layout.PerProcHeap,
		Ctx:       Context{Sepc: parent.Ctx.Sepc, SP: stackTop},
	}
	child.HeapLimit = child.HeapBase
	child.Brk = child.HeapBase

	s.procs[pid] = child
	s.ready = append(s.ready, pid)
	log.Info().Int("parent", parent.Pid).Int("child", pid).Msg("proc: forked")
	return child, nil
}

// Exit marks p as a zombie and pushes it onto the zombie list, the
// first half of proc_exit's sequence. It does not call Schedule: the
// caller switches away from p afterwards (the trap dispatcher does so
// on its exit, fault and unhandled-trap paths). Interrupt masking is
// the trap dispatcher's responsibility on real hardware; here the
// mutex plays the same exclusion role.
func (s *Scheduler) Exit(p *PCB, code int) {
	s.mu.Lock()
	p.State = Zombie
	p.ExitCode = code
	s.zombies = append(s.zombies, p.Pid)
	s.mu.Unlock()
	log.Info().Int("pid", p.Pid).Int("code", code).Msg("proc: exited")
}

// zombiesFree frees the stack frame of every zombie except current,
// same as original_source's zombies_free (the one safety exception:
// a process can never free the stack it is still running on). The PCB
// itself is a host-heap struct, not a pmm frame, so only one frame
// (the stack) is returned per reap here; see DESIGN.md's internal/proc
// entry for the deviation from spec §8's two-frame (stack + PCB)
// accounting.
func (s *Scheduler) zombiesFree() {
	keep := s.zombies[:0]
	for _, pid := range s.zombies {
		z := s.procs[pid]
		if s.current != nil && z.Pid == s.current.Pid {
			keep = append(keep, pid)
			continue
		}
		s.frames.Free(z.StackBase)
		delete(s.procs, pid)
	}
	s.zombies = keep
}

// Wait blocks conceptually until a zombie child of parent exists and
// reaps the first one found, returning its pid and exit code
// (original_source's proc_wait_and_reap). The host scheduler has no
// real blocking primitive standing in for a trap return, so callers
// loop on kerr.NotFound until a child has exited.
func (s *Scheduler) Wait(parent *PCB) (childPid int, exitCode int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pid := range s.zombies {
		z := s.procs[pid]
		if z.ParentPid != parent.Pid {
			continue
		}
		s.zombies = append(s.zombies[:i], s.zombies[i+1:]...)
		s.frames.Free(z.StackBase)
		delete(s.procs, pid)
		return pid, z.ExitCode, nil
	}
	return 0, 0, kerr.NotFound
}

// Sbrk grows or shrinks p's heap window by n bytes, enforcing the
// PerProcHeap bound (spec §4.7: "per-pid heap window... enforced
// purely by address-range bound-checking"), mapping each newly-covered
// page that is not mapped yet before it returns. It returns the
// break's value before the adjustment.
func (s *Scheduler) Sbrk(p *PCB, n int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := p.Brk
	next := int64(old) + n
	limit := int64(p.HeapBase + s.layout.PerProcHeap)
	if next < int64(p.HeapBase) || next > limit {
		return 0, kerr.InvalidArgument
	}

	if n > 0 && p.VM != nil {
		pageSize := uint64(s.layout.PageSize)
		firstNewPage := old &^ (pageSize - 1)
		if old%pageSize != 0 {
			firstNewPage += pageSize
		}
		for page := firstNewPage; page < uint64(next); page += pageSize {
			if _, ok := p.VM.Translate(uintptr(page)); !ok {
				if err := p.VM.MapPage(uintptr(page), vmm.Writable|vmm.User); err != nil {
					return 0, err
				}
			}
		}
	}

	p.Brk = uint64(next)
	return old, nil
}

// Current returns the currently scheduled process (the idle process
// before Init's first real schedule, or after the ready queue drains).
func (s *Scheduler) Current() *PCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Lookup returns the PCB for pid, or nil.
func (s *Scheduler) Lookup(pid int) *PCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[pid]
}

// Block marks p Blocked and removes it from scheduling consideration
// until Resume is called (the supplemented SysSuspend syscall).
func (s *Scheduler) Block(p *PCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.State = Blocked
	for i, pid := range s.ready {
		if pid == p.Pid {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			break
		}
	}
}

// Resume marks a Blocked process Runnable again and places it back on
// the ready queue.
func (s *Scheduler) Resume(p *PCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.State != Blocked {
		return
	}
	p.State = Runnable
	s.ready = append(s.ready, p.Pid)
}

// Dump writes one line per live process — pid, state, name, priority —
// to w and returns the number of processes written, for the ps-style
// introspection syscall (SPEC_FULL.md's supplemented feature,
// grounded on original_source's sys_ps -> proc_dump call site).
func (s *Scheduler) Dump(w io.Writer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.procs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", p.Pid, stateName(p.State), p.Name, p.Priority)
		n++
	}
	return n
}

func stateName(s State) string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}
