package trap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/internal/board"
	"rvos/internal/console"
	"rvos/internal/fs"
	"rvos/internal/pmm"
	"rvos/internal/proc"
	"rvos/internal/syscall"
	"rvos/internal/virtioblk"
	"rvos/internal/vmm"
)

func newHarness(t *testing.T) (*Dispatcher, *proc.PCB) {
	t.Helper()
	layout := board.QEMUVirt()
	a := pmm.New()
	a.Init(pmm.Arena{Base: 0x80000000, Bytes: make([]byte, 256*pmm.PageSize)})

	sched := proc.New(layout, a)
	sched.Init()

	vm := vmm.New(a)
	require.NoError(t, vm.Init())
	p, err := sched.Create("trap-test", 0x1000, 0, vm)
	require.NoError(t, err)
	sched.Schedule() // make p current

	disk := virtioblk.NewMemDisk(fs.NBlocks * fs.BlockSize)
	fsys := fs.New(disk)
	require.NoError(t, fsys.Init())

	clint := NewSimCLINT()
	plicRegs := NewSimPLICRegisters(layout)
	plic := NewPLIC(plicRegs)
	plic.Init()

	tbl := &syscall.Table{FS: fsys, Sched: sched, Console: console.NewLoopback(64), Frames: a, Clock: clint}

	d := &Dispatcher{
		TimerInterval: layout.TimerInterval,
		Clint:         clint,
		PLIC:          plic,
		Syscalls:      tbl,
		Sched:         sched,
	}
	return d, p
}

func TestTimerInterruptReprogramsAndSchedules(t *testing.T) {
	d, p := newHarness(t)
	_ = p

	before := d.Clint.(*SimCLINT).Mtimecmp(0)
	res := d.Handle(p, Frame{Cause: interruptBit | causeMachineTimerInterrupt, Epc: 0x1000})
	after := d.Clint.(*SimCLINT).Mtimecmp(0)

	require.Equal(t, before+d.TimerInterval, after)
	require.NotNil(t, res.Switch)
}

func TestEcallDispatchesSyscallAndAdvancesEpc(t *testing.T) {
	d, p := newHarness(t)
	f := Frame{Cause: causeEcallFromUMode, Epc: 0x2000}
	f.A[7] = uint64(syscall.SysGetpid)

	res := d.Handle(p, f)
	require.Equal(t, uintptr(0x2004), res.NextEpc)
	require.Equal(t, int64(p.Pid), res.A0)
	require.True(t, res.IsEcall)
}

func TestExternalInterruptRoutesToClaimedDevice(t *testing.T) {
	d, p := newHarness(t)
	dev := &fakeDevice{}
	d.Devices = map[uint32]Device{2: dev}
	d.PLIC.regs.(*SimPLICRegisters).Raise(2)

	res := d.Handle(p, Frame{Cause: interruptBit | causeMachineExternalInterrupt, Epc: 0x3000})
	require.True(t, dev.called)
	require.Equal(t, uintptr(0x3000), res.NextEpc)
}

type fakeDevice struct{ called bool }

func (f *fakeDevice) Intr() bool { f.called = true; return true }

func TestPageFaultOnUnmappedAddressTerminatesProcess(t *testing.T) {
	d, p := newHarness(t)
	res := d.Handle(p, Frame{Cause: causeLoadPageFault, Epc: 0x4000, Tval: 0x90000000})
	require.NotNil(t, res.Switch)
	require.Equal(t, proc.Zombie, p.State)
}

func TestUnknownExceptionTerminatesProcess(t *testing.T) {
	d, p := newHarness(t)
	res := d.Handle(p, Frame{Cause: 0x7f, Epc: 0x5000})
	require.NotNil(t, res.Switch)
	require.Equal(t, proc.Zombie, p.State)
}

func TestSysExitSchedulesAwayAndNeverResumesCaller(t *testing.T) {
	d, p := newHarness(t)
	f := Frame{Cause: causeEcallFromUMode, Epc: 0x6000}
	f.A[7] = uint64(syscall.SysExit)

	res := d.Handle(p, f)
	require.Equal(t, proc.Zombie, p.State)
	require.NotNil(t, res.Switch, "sys_exit must schedule away from the exiting process")
	require.NotSame(t, p, d.Sched.Current())
}
