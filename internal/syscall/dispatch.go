package syscall

import (
	"bytes"

	"rvos/internal/console"
	"rvos/internal/fs"
	"rvos/internal/kerr"
	"rvos/internal/klog"
	"rvos/internal/proc"
)

var log = klog.For("syscall")

// Clock is the CLINT mtime register the uptime and sleep syscalls
// read (board.Layout.CLINTMtime).
type Clock interface {
	ReadMtime() uint64
}

// Args is the decoded ecall ABI: the syscall number from a7 and up to
// six arguments from a0..a5 (spec §4.7).
type Args struct {
	Number Number
	A      [6]uint64
}

// Table wires the syscall dispatcher to every subsystem it fronts.
// Shutdown is optional; when nil, SysShutdown is a no-op that still
// returns success, matching a host build with no real power-off line
// to assert.
type Table struct {
	FS       *fs.FileSystem
	Sched    *proc.Scheduler
	Console  console.ByteDevice
	Frames   Frames
	Clock    Clock
	Shutdown func()
}

// Dispatch executes one syscall on behalf of p and returns the value
// the ABI places back in a0. Every internal error collapses to -1 via
// kerr.ABI (spec §7); the caller is responsible for advancing sepc by
// 4 after Dispatch returns, matching ecall's fixed instruction length.
func (t *Table) Dispatch(p *proc.PCB, args Args) int64 {
	switch args.Number {
	case SysGetpid:
		return int64(p.Pid)

	case SysExit:
		t.Sched.Exit(p, int(int32(args.A[0])))
		return 0

	case SysUptime:
		if t.Clock == nil {
			return 0
		}
		return int64(t.Clock.ReadMtime())

	case SysSleep:
		// A real kernel busy-waits on mtime between traps; dispatch
		// itself has no event loop to block in, so sleeping is a no-op
		// here and the caller (the boot-simulation loop) is expected to
		// re-issue SysUptime checks instead.
		return 0

	case SysWrite:
		return t.sysWrite(p, args)

	case SysOpen:
		// args: name, create (original_source's sys_open: "if (create)
		// fd = fs_create(name); else fd = fs_open(name);").
		create := args.A[1] != 0
		return t.withName(p, args, func(name string) int64 {
			if create {
				fd, err := t.FS.Create(name)
				return ret64(fd, err)
			}
			fd, err := t.FS.Open(name)
			return ret64(fd, err)
		})

	case SysRead:
		return t.sysRead(p, args)

	case SysClose:
		return ret64(0, t.FS.Close(int(args.A[0])))

	case SysUnlink:
		return t.withName(p, args, func(name string) int64 {
			return ret64(0, t.FS.Unlink(name))
		})

	case SysTrunc:
		return t.withName(p, args, func(name string) int64 {
			return ret64(0, t.FS.Trunc(name))
		})

	case SysPs:
		var buf bytes.Buffer
		n := t.Sched.Dump(&buf)
		if t.Console != nil {
			_, _ = t.Console.Write(buf.Bytes())
		} else {
			log.Info().Str("ps", buf.String()).Msg("ps")
		}
		return int64(n)

	case SysLs:
		names, err := t.FS.ListRoot()
		if err != nil {
			return kerr.ABI(err)
		}
		for _, n := range names {
			log.Info().Str("name", n).Msg("ls")
		}
		return int64(len(names))

	case SysFork:
		child, err := t.Sched.Fork(p)
		if err != nil {
			return -1
		}
		return int64(child.Pid)

	case SysWait:
		pid, code, err := t.Sched.Wait(p)
		if err != nil {
			return -1
		}
		if args.A[0] != 0 {
			_ = copyToUser(p.VM, t.Frames, uintptr(args.A[0]), []byte{byte(code)})
		}
		return int64(pid)

	case SysSbrk:
		old, err := t.Sched.Sbrk(p, int64(int32(args.A[0])))
		if err != nil {
			return -1
		}
		return int64(old)

	case SysGetc:
		if t.Console == nil {
			return -1
		}
		b, err := t.Console.ReadByte()
		return ret64(int(b), err)

	case SysKill:
		target := t.Sched.Lookup(int(args.A[0]))
		if target == nil {
			return -1
		}
		t.Sched.Exit(target, -1)
		return 0

	case SysSuspend:
		target := t.Sched.Lookup(int(args.A[0]))
		if target == nil {
			return -1
		}
		t.Sched.Block(target)
		return 0

	case SysExec:
		// Replaces the calling process's resumption point in place
		// (original_source's ecall handling "rewrites sepc/mepc+sp" for
		// SYS_EXEC); there is no ELF loader behind this (spec §1
		// Non-goals: "dynamic loading"), the new entry point must
		// already be mapped in p's address space.
		if _, ok := p.VM.Translate(uintptr(args.A[0])); !ok {
			return -1
		}
		p.Ctx.Sepc = uintptr(args.A[0])
		p.Ctx.SP = p.StackTop
		return 0

	case SysShutdown:
		if t.Shutdown != nil {
			t.Shutdown()
		}
		return 0

	default:
		return -1
	}
}

func ret64(v int, err error) int64 {
	if err != nil {
		return kerr.ABI(err)
	}
	return int64(v)
}

func (t *Table) withName(p *proc.PCB, args Args, fn func(name string) int64) int64 {
	name, err := readCString(p.VM, t.Frames, uintptr(args.A[0]))
	if err != nil {
		return -1
	}
	return fn(name)
}

func (t *Table) sysWrite(p *proc.PCB, args Args) int64 {
	fd, ptr, n := int(args.A[0]), uintptr(args.A[1]), int(args.A[2])
	if n < 0 {
		return -1
	}
	buf, err := copyFromUser(p.VM, t.Frames, ptr, n)
	if err != nil {
		return -1
	}
	switch {
	case fd == 1 || fd == 2:
		if t.Console == nil {
			return -1
		}
		written, err := t.Console.Write(buf)
		return writeRet64(written, err)
	case fd >= fs.FDBase:
		return writeRet64(t.FS.Write(fd, buf))
	default:
		return -1
	}
}

// writeRet64 reports the bytes actually written even when the
// underlying write also returned an error: a write that runs past the
// largest representable file offset (spec §8, MaxFile*BlockSize) is
// documented as returning a short count, not -1, so only a write that
// made no progress at all collapses to the kerr.ABI error value.
func writeRet64(n int, err error) int64 {
	if n > 0 {
		return int64(n)
	}
	if err != nil {
		return kerr.ABI(err)
	}
	return 0
}

func (t *Table) sysRead(p *proc.PCB, args Args) int64 {
	fd, ptr, n := int(args.A[0]), uintptr(args.A[1]), int(args.A[2])
	if n < 0 {
		return -1
	}
	switch {
	case fd >= fs.FDBase:
		buf := make([]byte, n)
		read, err := t.FS.Read(fd, buf)
		if err != nil {
			return -1
		}
		if err := copyToUser(p.VM, t.Frames, ptr, buf[:read]); err != nil {
			return -1
		}
		return int64(read)
	default:
		return -1
	}
}
