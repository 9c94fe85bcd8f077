// Package vmm is the virtual memory manager: two-level page tables
// over the physical frames pmm hands out, with map/unmap/translate and
// on-demand page-table growth (spec §4.2).
//
// It is grounded on original_source/kernel/mem/vmm.c's
// vmm_map/vmm_map_page/vmm_unmap/vmm_translate, kept in the 32-bit
// two-level (PDE/PTE, 1024 entries each) shape spec §4.2 describes,
// and on the PTE flag bits and Pmap_t page-table-page type from the
// teacher's biscuit/src/mem/mem.go.
package vmm

import (
	"rvos/internal/kerr"
	"rvos/internal/pmm"
)

const (
	pageSize   = pmm.PageSize
	entries    = 1024
	entrySize  = 4 // bytes per PDE/PTE slot in the backing frame
	addrMask   = ^uintptr(0xFFF)
	flagsMask  = uintptr(0xFFF)
	dirShift   = 22
	tableShift = 12
	dirMask    = uintptr(0x3FF)
	tableMask  = uintptr(0x3FF)
)

// Flag bits for a PDE/PTE, matching spec §4.2 and the teacher's
// mem.PTE_* constants.
const (
	Present  = uintptr(1 << 0)
	Writable = uintptr(1 << 1)
	User     = uintptr(1 << 2)
	Accessed = uintptr(1 << 5)
	Dirty    = uintptr(1 << 6)
)

// Frames is the allocator backing this VMM's page-table pages and the
// physical frames it maps. The VMM never constructs one itself.
type Frames interface {
	Alloc() (uintptr, error)
	Free(uintptr)
	FrameBytes(uintptr) []byte
}

// Manager owns one page directory and maps/unmaps/translates virtual
// addresses through it.
type Manager struct {
	frames  Frames
	dirPhys uintptr
	active  bool
}

// New returns a Manager bound to the given frame allocator. Call Init
// before any other method.
func New(frames Frames) *Manager {
	return &Manager{frames: frames}
}

func decompose(v uintptr) (dirIdx, tblIdx int, off uintptr) {
	dirIdx = int((v >> dirShift) & dirMask)
	tblIdx = int((v >> tableShift) & tableMask)
	off = v & flagsMask
	return
}

func makeEntry(phys uintptr, flags uintptr) uintptr {
	return (phys &^ flagsMask) | (flags & flagsMask)
}

func entryPresent(e uintptr) bool { return e&Present != 0 }
func entryPhys(e uintptr) uintptr { return e &^ flagsMask }

func readEntry(table []byte, idx int) uintptr {
	off := idx * entrySize
	b := table[off : off+entrySize]
	return uintptr(b[0]) | uintptr(b[1])<<8 | uintptr(b[2])<<16 | uintptr(b[3])<<24
}

func writeEntry(table []byte, idx int, v uintptr) {
	off := idx * entrySize
	b := table[off : off+entrySize]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Init allocates one frame for the page directory, zeroes it (Alloc
// already zero-fills), and records its physical base. Idempotent.
func (m *Manager) Init() error {
	if m.dirPhys != 0 {
		return nil
	}
	p, err := m.frames.Alloc()
	if err != nil {
		return err
	}
	m.dirPhys = p
	return nil
}

func (m *Manager) dir() []byte {
	return m.frames.FrameBytes(m.dirPhys)
}

func aligned(v uintptr) bool { return v&flagsMask == 0 }

// tableFor returns the frame backing the page table for v's PDE,
// allocating and installing it if absent.
func (m *Manager) tableFor(v uintptr, create bool) ([]byte, error) {
	dirIdx, _, _ := decompose(v)
	dir := m.dir()
	pde := readEntry(dir, dirIdx)
	if entryPresent(pde) {
		return m.frames.FrameBytes(entryPhys(pde)), nil
	}
	if !create {
		return nil, kerr.NotFound
	}
	ptPhys, err := m.frames.Alloc()
	if err != nil {
		return nil, err
	}
	writeEntry(dir, dirIdx, makeEntry(ptPhys, Present|Writable|User))
	return m.frames.FrameBytes(ptPhys), nil
}

// Map installs phys at virt with the given flags (Present is added
// automatically). Both addresses must be frame-aligned. Overwriting an
// existing mapping is permitted and does not free the previous
// physical frame (spec §4.2).
func (m *Manager) Map(virt, phys uintptr, flags uintptr) error {
	if !aligned(virt) || !aligned(phys) {
		return kerr.InvalidArgument
	}
	table, err := m.tableFor(virt, true)
	if err != nil {
		return err
	}
	_, tblIdx, _ := decompose(virt)
	writeEntry(table, tblIdx, makeEntry(phys, flags|Present))
	return nil
}

// MapPage allocates a fresh frame and maps it at virt, rolling the
// allocation back if the mapping step fails.
func (m *Manager) MapPage(virt uintptr, flags uintptr) error {
	phys, err := m.frames.Alloc()
	if err != nil {
		return err
	}
	if err := m.Map(virt, phys, flags); err != nil {
		m.frames.Free(phys)
		return err
	}
	return nil
}

// Unmap clears the PTE for virt. If freePhys, the mapped physical
// frame is returned to the allocator. Fails with kerr.NotFound if
// virt is unmapped. The page-table frame itself is never reclaimed,
// even when it becomes empty (spec §4.2, §9: "documented leak").
func (m *Manager) Unmap(virt uintptr, freePhys bool) error {
	if !aligned(virt) {
		return kerr.InvalidArgument
	}
	table, err := m.tableFor(virt, false)
	if err != nil {
		return kerr.NotFound
	}
	_, tblIdx, _ := decompose(virt)
	pte := readEntry(table, tblIdx)
	if !entryPresent(pte) {
		return kerr.NotFound
	}
	phys := entryPhys(pte)
	writeEntry(table, tblIdx, 0)
	if freePhys {
		m.frames.Free(phys)
	}
	return nil
}

// Translate returns the physical address for virt, or ok=false if
// either the PDE or PTE is not present.
func (m *Manager) Translate(virt uintptr) (phys uintptr, ok bool) {
	table, err := m.tableFor(virt, false)
	if err != nil {
		return 0, false
	}
	_, tblIdx, off := decompose(virt)
	pte := readEntry(table, tblIdx)
	if !entryPresent(pte) {
		return 0, false
	}
	return entryPhys(pte) | off, true
}

// DirPhys returns the physical base of the page directory, for
// Activate and for tests that want to inspect raw entries.
func (m *Manager) DirPhys() uintptr { return m.dirPhys }

// Activate loads the page directory into the control register and
// enables paging. On bare metal this is architecture glue (satp on
// RISC-V); the host build only records that it was called, matching
// spec §4.2's framing of Activate as "architecture glue".
func (m *Manager) Activate() {
	m.active = true
}

// Active reports whether Activate has been called, for tests.
func (m *Manager) Active() bool { return m.active }

// PageFault is the page-fault hook trap dispatch calls on a store/load
// page-fault exception. The base VMM has no demand-paging policy
// (spec §1 Non-goals: "demand paging or swapping"); it reports the
// fault as unhandled so the caller can terminate the faulting process.
func (m *Manager) PageFault(faultAddr uintptr, errCode uintptr) error {
	_ = errCode
	if _, ok := m.Translate(faultAddr); ok {
		// Already mapped: accessed/dirty-bit style faults are not
		// modeled, nothing to do.
		return nil
	}
	return kerr.NotFound
}
