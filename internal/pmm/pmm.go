// Package pmm is the page-frame allocator: a page-granular physical
// memory manager over a linker-provided heap region (spec §4.1).
//
// It is grounded on two sources: the teacher's mem.Physmem_t
// (biscuit/src/mem/mem.go), which threads a free list through a
// descriptor array living at the front of the managed region, and
// original_source/kernel/mem/kmem.c's kinit/kalloc/kfree, which this
// spec's frame allocator tracks far more closely than biscuit's
// multi-core refcounted allocator (no per-CPU free lists, no
// reference counts — just state and a singly linked free list).
package pmm

import "rvos/internal/kerr"

// PageSize is the frame granule in bytes.
const PageSize = 4096

// frameState is a page frame's allocation state.
type frameState uint8

const (
	frameFree frameState = iota
	frameUsed
)

// descriptor mirrors original_source's struct Page: a state flag plus
// a forward link used only while the frame sits on the free list.
type descriptor struct {
	state frameState
	next  uint32 // index into descriptors; ^uint32(0) terminates
}

const nilIndex = ^uint32(0)

// Allocator is the page-frame allocator. The zero value is not valid;
// build one with New and call Init.
type Allocator struct {
	base        uintptr
	totalFrames uint32
	reserved    uint32 // frames occupied by the descriptor table itself
	freeHead    uint32
	freeCount   uint32

	// descriptors is itself backed by frame-aligned memory at the
	// front of the managed region. A hosted build keeps it as a plain
	// Go slice; a bare-metal port places it at heapStart directly,
	// per spec §3 ("descriptor table occupies the leading frames").
	descriptors []descriptor

	// arena backs the zero-fill performed by Alloc. Hosted code
	// has no direct physical memory to slice into, so the allocator
	// is handed a backing arena at Init time and frames are views
	// into it; see Arena.
	arena []byte
}

// Arena is the backing store a hosted build supplies at Init: a flat
// byte slice standing in for the physical address range
// [heapStart, heapEnd). A bare-metal port instead addresses real
// physical memory directly and never needs this type.
type Arena struct {
	Base  uintptr
	Bytes []byte
}

// New returns an uninitialized Allocator.
func New() *Allocator {
	return &Allocator{freeHead: nilIndex}
}

// Init computes total_frames = floor(len(arena)/PageSize), places the
// descriptor array at the front of the managed region, marks the
// frames it occupies as used, and threads the remaining descriptors
// into a free list in reverse index order so that lower-addressed
// frames are allocated first (spec §4.1).
func (a *Allocator) Init(arena Arena) {
	total := uint32(len(arena.Bytes) / PageSize)
	a.base = arena.Base
	a.arena = arena.Bytes
	a.totalFrames = total
	a.descriptors = make([]descriptor, total)

	descFrames := uint32(0)
	if total > 0 {
		// The descriptor table itself must fit in whole frames of the
		// arena it describes, same as original_source's
		// reserved_pages = ceil(sizeof(Page)*total_pages / PAGE_SIZE).
		sz := int(total) * descriptorSize
		descFrames = uint32((sz + PageSize - 1) / PageSize)
		if descFrames > total {
			descFrames = total
		}
	}
	a.reserved = descFrames

	for i := uint32(0); i < descFrames; i++ {
		a.descriptors[i].state = frameUsed
		a.descriptors[i].next = nilIndex
	}

	a.freeHead = nilIndex
	a.freeCount = 0
	if total == 0 {
		return
	}
	for i := total; i > descFrames; i-- {
		idx := i - 1
		a.descriptors[idx].state = frameFree
		a.descriptors[idx].next = a.freeHead
		a.freeHead = idx
		a.freeCount++
	}
}

// descriptorSize is a nominal per-descriptor footprint used only to
// size the reserved region the same way the C original does
// (sizeof(Page) frames rounded up); the Go descriptor slice itself
// lives on the Go heap, not inside Arena.Bytes.
const descriptorSize = 8

// TotalFrames returns the number of frames in the managed region.
func (a *Allocator) TotalFrames() int { return int(a.totalFrames) }

// FreeFrames returns the number of frames currently on the free list.
func (a *Allocator) FreeFrames() int { return int(a.freeCount) }

// UsedFrames returns TotalFrames - FreeFrames.
func (a *Allocator) UsedFrames() int { return int(a.totalFrames - a.freeCount) }

func (a *Allocator) frameAddr(idx uint32) uintptr {
	return a.base + uintptr(idx)*PageSize
}

func (a *Allocator) frameBytes(idx uint32) []byte {
	off := int(idx) * PageSize
	return a.arena[off : off+PageSize]
}

// Alloc pops the head of the free list, marks it used, zero-fills the
// returned frame, and returns its base address. Returns kerr.OutOfMemory
// when the free list is empty.
func (a *Allocator) Alloc() (uintptr, error) {
	if a.freeHead == nilIndex {
		return 0, kerr.OutOfMemory
	}
	idx := a.freeHead
	d := &a.descriptors[idx]
	a.freeHead = d.next
	d.state = frameUsed
	d.next = nilIndex
	a.freeCount--

	buf := a.frameBytes(idx)
	for i := range buf {
		buf[i] = 0
	}
	return a.frameAddr(idx), nil
}

// index returns the descriptor index for a physical address, and
// whether the address is within the managed, frame-aligned region.
func (a *Allocator) index(p uintptr) (uint32, bool) {
	if p < a.base {
		return 0, false
	}
	off := p - a.base
	if off%PageSize != 0 {
		return 0, false
	}
	idx := off / PageSize
	if idx >= uintptr(a.totalFrames) {
		return 0, false
	}
	return uint32(idx), true
}

// Free validates that p is within the managed region and
// frame-aligned and that the corresponding descriptor is used, then
// flips it to free and pushes it onto the head of the free list.
// Double-free, misaligned addresses, and a nil (zero) address are
// silently ignored (spec §4.1: "a test-observable no-op").
func (a *Allocator) Free(p uintptr) {
	if p == 0 {
		return
	}
	idx, ok := a.index(p)
	if !ok {
		return
	}
	if idx < a.reserved {
		// The descriptor table's own frames are permanently used (spec
		// §4.1: "freeing never reclaims the descriptor array frames");
		// never let them back onto the free list.
		return
	}
	d := &a.descriptors[idx]
	if d.state != frameUsed {
		return
	}
	d.state = frameFree
	d.next = a.freeHead
	a.freeHead = idx
	a.freeCount++
}

// FrameBytes returns a view of the frame at physical address p for
// callers (the VMM, the filesystem, the virtio driver) that need to
// read or write through it. It panics if p is not a frame-aligned
// address within the managed region, since those callers only ever
// pass back addresses this allocator handed out.
func (a *Allocator) FrameBytes(p uintptr) []byte {
	idx, ok := a.index(p)
	if !ok {
		panic("pmm: FrameBytes on address outside managed region")
	}
	return a.frameBytes(idx)
}
