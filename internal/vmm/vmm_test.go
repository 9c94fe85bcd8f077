package vmm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/internal/pmm"
)

func newTestVMM(t *testing.T, frames int) (*Manager, *pmm.Allocator) {
	t.Helper()
	a := pmm.New()
	a.Init(pmm.Arena{Base: 0x80000000, Bytes: make([]byte, frames*pmm.PageSize)})
	m := New(a)
	require.NoError(t, m.Init())
	return m, a
}

func TestMapTranslateRoundTrip(t *testing.T) {
	m, a := newTestVMM(t, 64)
	phys, err := a.Alloc()
	require.NoError(t, err)

	const virt = 0x40000000
	require.NoError(t, m.Map(virt, phys, Writable|User))

	got, ok := m.Translate(virt)
	require.True(t, ok)
	require.Equal(t, phys, got)

	got2, ok := m.Translate(virt + 0x10)
	require.True(t, ok)
	require.Equal(t, phys+0x10, got2)
}

func TestUnmapClearsTranslation(t *testing.T) {
	m, _ := newTestVMM(t, 64)
	require.NoError(t, m.MapPage(0x40000000, Writable))
	_, ok := m.Translate(0x40000000)
	require.True(t, ok)

	require.NoError(t, m.Unmap(0x40000000, true))
	_, ok = m.Translate(0x40000000)
	require.False(t, ok)
}

func TestUnmapUnmappedIsNotFound(t *testing.T) {
	m, _ := newTestVMM(t, 64)
	err := m.Unmap(0x40000000, false)
	require.Error(t, err)
}

// Concrete scenario from spec §8: map a page, write a word through the
// translated physical address, read it back through translate again,
// then unmap and confirm the mapping is gone.
func TestMapWriteTranslateReadUnmapScenario(t *testing.T) {
	m, a := newTestVMM(t, 64)
	const virt = 0x40000000
	require.NoError(t, m.MapPage(virt, Writable))

	phys, ok := m.Translate(virt)
	require.True(t, ok)

	frame := a.FrameBytes(phys &^ 0xFFF)
	binary.LittleEndian.PutUint32(frame[phys&0xFFF:], 0xCAFEBABE)

	phys2, ok := m.Translate(virt)
	require.True(t, ok)
	frame2 := a.FrameBytes(phys2 &^ 0xFFF)
	require.EqualValues(t, 0xCAFEBABE, binary.LittleEndian.Uint32(frame2[phys2&0xFFF:]))

	require.NoError(t, m.Unmap(virt, true))
	_, ok = m.Translate(virt)
	require.False(t, ok)
}

func TestRemapDoesNotLeakPreviousFrame(t *testing.T) {
	m, a := newTestVMM(t, 64)
	before := a.FreeFrames()

	p1, err := a.Alloc()
	require.NoError(t, err)
	require.NoError(t, m.Map(0x40000000, p1, Writable))

	p2, err := a.Alloc()
	require.NoError(t, err)
	require.NoError(t, m.Map(0x40000000, p2, Writable))

	got, ok := m.Translate(0x40000000)
	require.True(t, ok)
	require.Equal(t, p2, got)

	// remapping does not itself free p1; caller owns that frame still.
	// The page-table frame the first Map allocated stays installed, so
	// exactly one frame remains outstanding once p1 and p2 are freed.
	a.Free(p1)
	a.Free(p2)
	require.Equal(t, before-1, a.FreeFrames())
}

func TestPageTableFrameNeverReclaimedOnUnmap(t *testing.T) {
	m, a := newTestVMM(t, 64)
	require.NoError(t, m.MapPage(0x40000000, Writable))
	usedAfterMap := a.UsedFrames()

	require.NoError(t, m.Unmap(0x40000000, true))
	usedAfterUnmap := a.UsedFrames()

	// one frame (the mapped page) is returned, the PT frame is not.
	require.Equal(t, usedAfterMap-1, usedAfterUnmap)

	// remapping a second page in the same PDE's range must not grow
	// used-frame count by more than one (no second PT frame allocated).
	require.NoError(t, m.MapPage(0x40001000, Writable))
	require.Equal(t, usedAfterUnmap+1, a.UsedFrames())
}

func TestInitIsIdempotent(t *testing.T) {
	m, a := newTestVMM(t, 64)
	before := a.UsedFrames()
	require.NoError(t, m.Init())
	require.Equal(t, before, a.UsedFrames())
	require.NoError(t, m.Init())
	require.Equal(t, before, a.UsedFrames())
}

func TestUnalignedMapRejected(t *testing.T) {
	m, a := newTestVMM(t, 64)
	p, err := a.Alloc()
	require.NoError(t, err)
	require.Error(t, m.Map(0x40000001, p, Writable))
	require.Error(t, m.Map(p, p+1, Writable))
}

func TestActivateRecordsState(t *testing.T) {
	m, _ := newTestVMM(t, 64)
	require.False(t, m.Active())
	m.Activate()
	require.True(t, m.Active())
}

func TestPageFaultOnUnmappedAddress(t *testing.T) {
	m, _ := newTestVMM(t, 64)
	require.Error(t, m.PageFault(0x40000000, 0))
}

func TestPageFaultOnMappedAddressIsNil(t *testing.T) {
	m, _ := newTestVMM(t, 64)
	require.NoError(t, m.MapPage(0x40000000, Writable))
	require.NoError(t, m.PageFault(0x40000000, 0))
}
