package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/internal/board"
	"rvos/internal/console"
	"rvos/internal/fs"
	"rvos/internal/pmm"
	"rvos/internal/proc"
	"rvos/internal/virtioblk"
	"rvos/internal/vmm"
)

type fakeClock struct{ t uint64 }

func (c *fakeClock) ReadMtime() uint64 { return c.t }

func newHarness(t *testing.T) (*Table, *proc.PCB, *pmm.Allocator) {
	t.Helper()
	a := pmm.New()
	a.Init(pmm.Arena{Base: 0x80000000, Bytes: make([]byte, 256*pmm.PageSize)})

	layout := board.QEMUVirt()
	sched := proc.New(layout, a)
	sched.Init()

	vm := vmm.New(a)
	require.NoError(t, vm.Init())

	p, err := sched.Create("init", 0x1000, 0, vm)
	require.NoError(t, err)

	require.NoError(t, vm.MapPage(0x4000, vmm.Writable|vmm.User))

	disk := virtioblk.NewMemDisk(fs.NBlocks * fs.BlockSize)
	f := fs.New(disk)
	require.NoError(t, f.Init())

	tbl := &Table{
		FS:      f,
		Sched:   sched,
		Console: console.NewLoopback(256),
		Frames:  a,
		Clock:   &fakeClock{t: 12345},
	}
	return tbl, p, a
}

func putCString(t *testing.T, tbl *Table, p *proc.PCB, virt uintptr, s string) {
	t.Helper()
	require.NoError(t, copyToUser(p.VM, tbl.Frames, virt, append([]byte(s), 0)))
}

func TestGetpidReturnsProcessID(t *testing.T) {
	tbl, p, _ := newHarness(t)
	require.Equal(t, int64(p.Pid), tbl.Dispatch(p, Args{Number: SysGetpid}))
}

func TestUptimeReadsClock(t *testing.T) {
	tbl, p, _ := newHarness(t)
	require.Equal(t, int64(12345), tbl.Dispatch(p, Args{Number: SysUptime}))
}

func TestWriteToConsoleFD(t *testing.T) {
	tbl, p, _ := newHarness(t)
	require.NoError(t, copyToUser(p.VM, tbl.Frames, 0x4000, []byte("hi")))
	ret := tbl.Dispatch(p, Args{Number: SysWrite, A: [6]uint64{1, 0x4000, 2}})
	require.Equal(t, int64(2), ret)

	lb := tbl.Console.(*console.Loopback)
	require.Equal(t, []byte("hi"), lb.Drain())
}

func TestCreateWriteCloseOpenReadFile(t *testing.T) {
	tbl, p, _ := newHarness(t)
	putCString(t, tbl, p, 0x4000, "greeting.txt")

	fd := tbl.Dispatch(p, Args{Number: SysOpen, A: [6]uint64{0x4000, 1}})
	require.Greater(t, fd, int64(0))

	payload := []byte("hello syscalls")
	require.NoError(t, copyToUser(p.VM, tbl.Frames, 0x4100, payload))
	n := tbl.Dispatch(p, Args{Number: SysWrite, A: [6]uint64{uint64(fd), 0x4100, uint64(len(payload))}})
	require.Equal(t, int64(len(payload)), n)

	require.Equal(t, int64(0), tbl.Dispatch(p, Args{Number: SysClose, A: [6]uint64{uint64(fd)}}))

	putCString(t, tbl, p, 0x4200, "greeting.txt")
	fd2 := tbl.Dispatch(p, Args{Number: SysOpen, A: [6]uint64{0x4200}})
	require.Greater(t, fd2, int64(0))

	n2 := tbl.Dispatch(p, Args{Number: SysRead, A: [6]uint64{uint64(fd2), 0x4300, uint64(len(payload))}})
	require.Equal(t, int64(len(payload)), n2)

	readBack, err := copyFromUser(p.VM, tbl.Frames, 0x4300, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, readBack)
}

func TestUnlinkRemovesFile(t *testing.T) {
	tbl, p, _ := newHarness(t)
	putCString(t, tbl, p, 0x4000, "temp.txt")
	fd := tbl.Dispatch(p, Args{Number: SysOpen, A: [6]uint64{0x4000, 1}})
	require.Greater(t, fd, int64(0))
	require.Equal(t, int64(0), tbl.Dispatch(p, Args{Number: SysClose, A: [6]uint64{uint64(fd)}}))

	putCString(t, tbl, p, 0x4200, "temp.txt")
	require.Equal(t, int64(0), tbl.Dispatch(p, Args{Number: SysUnlink, A: [6]uint64{0x4200}}))

	putCString(t, tbl, p, 0x4400, "temp.txt")
	require.Equal(t, int64(-1), tbl.Dispatch(p, Args{Number: SysOpen, A: [6]uint64{0x4400}}))
}

func TestLsAndPsCountEntries(t *testing.T) {
	tbl, p, _ := newHarness(t)
	ls := tbl.Dispatch(p, Args{Number: SysLs})
	require.GreaterOrEqual(t, ls, int64(1)) // README.md from fs format

	ps := tbl.Dispatch(p, Args{Number: SysPs})
	require.GreaterOrEqual(t, ps, int64(1))

	lb := tbl.Console.(*console.Loopback)
	require.Contains(t, string(lb.Drain()), p.Name)
}

func TestOpenWithoutCreateFlagFailsOnMissingFile(t *testing.T) {
	tbl, p, _ := newHarness(t)
	putCString(t, tbl, p, 0x4000, "nope.txt")
	require.Equal(t, int64(-1), tbl.Dispatch(p, Args{Number: SysOpen, A: [6]uint64{0x4000, 0}}))
}

func TestOpenWithCreateFlagMakesNewFile(t *testing.T) {
	tbl, p, _ := newHarness(t)
	putCString(t, tbl, p, 0x4000, "fresh.txt")
	fd := tbl.Dispatch(p, Args{Number: SysOpen, A: [6]uint64{0x4000, 1}})
	require.Greater(t, fd, int64(0))
}

func TestForkReturnsChildPidThenWaitReapsIt(t *testing.T) {
	tbl, p, _ := newHarness(t)
	childPid := tbl.Dispatch(p, Args{Number: SysFork})
	require.Greater(t, childPid, int64(0))

	child := tbl.Sched.Lookup(int(childPid))
	require.NotNil(t, child)
	tbl.Sched.Exit(child, 3)

	waited := tbl.Dispatch(p, Args{Number: SysWait})
	require.Equal(t, childPid, waited)
}

func TestSbrkGrowsHeapAndReturnsOldBreak(t *testing.T) {
	tbl, p, _ := newHarness(t)
	old := tbl.Dispatch(p, Args{Number: SysSbrk, A: [6]uint64{4096}})
	require.Equal(t, int64(p.HeapBase), old)
	require.EqualValues(t, p.HeapBase+4096, p.Brk)
}

func TestShutdownInvokesHook(t *testing.T) {
	tbl, p, _ := newHarness(t)
	called := false
	tbl.Shutdown = func() { called = true }
	require.Equal(t, int64(0), tbl.Dispatch(p, Args{Number: SysShutdown}))
	require.True(t, called)
}

func TestUnknownSyscallReturnsNegativeOne(t *testing.T) {
	tbl, p, _ := newHarness(t)
	require.Equal(t, int64(-1), tbl.Dispatch(p, Args{Number: Number(999)}))
}
