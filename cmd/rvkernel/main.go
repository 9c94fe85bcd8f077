// Command rvkernel boots the kernel core against a host-simulated
// QEMU "virt" machine: it probes a simulated virtio-mmio bus for the
// block device mkfs formatted, mounts the filesystem, creates a
// handful of demo processes, and drives the trap dispatcher's timer
// path through a few scheduling rounds, logging every step the way a
// serial console would on real hardware.
//
// Its cobra/pflag CLI surface and its use of an errgroup to run the
// timer tick and the console drain concurrently follow the
// teacher's own cmd-tooling conventions (biscuit/src/cmd) generalized
// with the rest of the retrieval pack's dependency stack.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rvos/internal/board"
	"rvos/internal/console"
	"rvos/internal/fs"
	"rvos/internal/klog"
	"rvos/internal/pmm"
	"rvos/internal/proc"
	"rvos/internal/syscall"
	"rvos/internal/trap"
	"rvos/internal/virtioblk"
	"rvos/internal/vmm"
)

// emptySlot models an unpopulated virtio-mmio bus slot: it reports no
// magic value, so Probe skips over it the same way original_source's
// blk_init skips addresses that don't read back 0x74726976.
type emptySlot struct{}

func (emptySlot) ReadReg(virtioblk.Register) uint32  { return 0 }
func (emptySlot) WriteReg(virtioblk.Register, uint32) {}

func main() {
	var (
		imagePath  string
		heapBytes  int
		demoProcs  int
		ticks      int
		tickPeriod time.Duration
	)

	root := &cobra.Command{
		Use:   "rvkernel",
		Short: "boot the kernel core against a host-simulated virt machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(cmd.Context(), bootConfig{
				imagePath:  imagePath,
				heapBytes:  heapBytes,
				demoProcs:  demoProcs,
				ticks:      ticks,
				tickPeriod: tickPeriod,
			})
		},
	}

	root.Flags().StringVarP(&imagePath, "image", "i", "disk.img", "disk image to mount (created if missing)")
	root.Flags().IntVar(&heapBytes, "heap", 4*1024*1024, "size in bytes of the simulated physical heap")
	root.Flags().IntVar(&demoProcs, "procs", 2, "number of demo processes to create at boot")
	root.Flags().IntVar(&ticks, "ticks", 10, "number of timer ticks to run before exiting")
	root.Flags().DurationVar(&tickPeriod, "tick-period", 20*time.Millisecond, "wall-clock delay between simulated timer ticks")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type bootConfig struct {
	imagePath  string
	heapBytes  int
	demoProcs  int
	ticks      int
	tickPeriod time.Duration
}

func boot(ctx context.Context, cfg bootConfig) error {
	klog.Init(os.Stdout, zerolog.InfoLevel)
	log := klog.For("boot")
	layout := board.QEMUVirt()

	frames := pmm.New()
	frames.Init(pmm.Arena{Base: 0x80000000, Bytes: make([]byte, cfg.heapBytes)})
	log.Info().Int("frames", frames.TotalFrames()).Msg("physical memory initialized")

	disk, err := virtioblk.OpenHostDisk(cfg.imagePath, int64(fs.NBlocks*fs.BlockSize))
	if err != nil {
		return err
	}
	defer disk.Close()

	bus := virtioblk.NewBus(1 << 16)
	sim := virtioblk.NewSimDevice(bus, disk, 2)
	slots := make([]virtioblk.RegisterWindow, layout.VirtioMMIOSlots)
	for i := range slots {
		slots[i] = emptySlot{}
	}
	slots[0] = sim
	blkDev, err := virtioblk.Probe(slots, bus, 0)
	if err != nil {
		return err
	}

	filesystem := fs.New(blkDev)
	if err := filesystem.Init(); err != nil {
		return err
	}
	names, _ := filesystem.ListRoot()
	log.Info().Strs("files", names).Msg("filesystem mounted")

	sched := proc.New(layout, frames)
	sched.Init()

	uart := console.NewLoopback(4096)

	clint := trap.NewSimCLINT()
	plicRegs := trap.NewSimPLICRegisters(layout)
	plic := trap.NewPLIC(plicRegs)
	plic.Init()

	syscalls := &syscall.Table{
		FS:      filesystem,
		Sched:   sched,
		Console: uart,
		Frames:  frames,
		Clock:   clint,
		Shutdown: func() {
			log.Info().Msg("shutdown requested via SYS_SHUTDOWN")
		},
	}

	dispatcher := &trap.Dispatcher{
		TimerInterval: layout.TimerInterval,
		Clint:         clint,
		PLIC:          plic,
		Syscalls:      syscalls,
		Sched:         sched,
	}

	for i := 0; i < cfg.demoProcs; i++ {
		vm := vmm.New(frames)
		if err := vm.Init(); err != nil {
			return err
		}
		name := fmt.Sprintf("demo%d", i)
		if _, err := sched.Create(name, uintptr(0x1000+i*0x1000), 0, vm); err != nil {
			return err
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	drainCtx, stopDrain := context.WithCancel(gctx)
	group.Go(func() error {
		defer stopDrain()
		return runTimer(gctx, dispatcher, sched, clint, cfg.ticks, cfg.tickPeriod)
	})
	group.Go(func() error {
		return drainConsole(drainCtx, uart)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info().Msg("boot simulation complete")
	return nil
}

// runTimer fires cfg.ticks simulated timer interrupts spaced
// tickPeriod apart, driving the scheduler's round-robin rotation the
// same way the real timer interrupt does on hardware.
func runTimer(ctx context.Context, d *trap.Dispatcher, sched *proc.Scheduler, clint *trap.SimCLINT, count int, period time.Duration) error {
	log := klog.For("timer")
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		clint.Advance(d.TimerInterval)
		current := sched.Current()
		res := d.Handle(current, trap.Frame{
			Cause: (uint64(1) << 63) | 7, // machine timer interrupt
			Epc:   current.Ctx.Sepc,
		})
		log.Info().Int("tick", i).Int("now_pid", sched.Current().Pid).Msg("timer interrupt handled")
		_ = res
	}
	return nil
}

// drainConsole logs whatever demo processes wrote to the simulated
// UART until the context is cancelled.
func drainConsole(ctx context.Context, uart *console.Loopback) error {
	log := klog.For("console")
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if out := uart.Drain(); len(out) > 0 {
				log.Info().Str("output", string(out)).Msg("console")
			}
		}
	}
}
