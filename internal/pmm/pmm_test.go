package pmm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"rvos/internal/kerr"
)

func newTestAllocator(t *testing.T, frames int) (*Allocator, Arena) {
	t.Helper()
	arena := Arena{Base: 0x80000000, Bytes: make([]byte, frames*PageSize)}
	a := New()
	a.Init(arena)
	return a, arena
}

func TestInitAccounting(t *testing.T) {
	a, _ := newTestAllocator(t, 64)
	require.Equal(t, 64, a.TotalFrames())
	require.Equal(t, a.FreeFrames()+a.UsedFrames(), a.TotalFrames())
	require.Greater(t, a.UsedFrames(), 0, "descriptor table frames must be reserved as used")
}

func TestAllocZeroesAndTracksFreeCount(t *testing.T) {
	a, _ := newTestAllocator(t, 16)
	before := a.FreeFrames()

	// alloc a frame and confirm it comes back zeroed, then dirty it
	// before freeing it.
	p, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, before-1, a.FreeFrames())

	buf := a.FrameBytes(p)
	for _, b := range buf {
		require.EqualValues(t, 0, b)
	}
	buf[0] = 0xAA

	a.Free(p)
	require.Equal(t, before, a.FreeFrames())
}

func TestAllocFreeAllocIsLIFO(t *testing.T) {
	a, _ := newTestAllocator(t, 16)
	p1, err := a.Alloc()
	require.NoError(t, err)
	a.Free(p1)
	p2, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, p1, p2, "alloc/free/alloc must return the same address (stack discipline)")
}

func TestOutOfMemory(t *testing.T) {
	a, _ := newTestAllocator(t, 4)
	var last error
	for i := 0; i < 100; i++ {
		_, err := a.Alloc()
		if err != nil {
			last = err
			break
		}
	}
	require.ErrorIs(t, last, kerr.OutOfMemory)
	require.Equal(t, 0, a.FreeFrames())
}

func TestDoubleFreeIsNoop(t *testing.T) {
	a, _ := newTestAllocator(t, 16)
	p, err := a.Alloc()
	require.NoError(t, err)
	before := a.FreeFrames()
	a.Free(p)
	afterFirst := a.FreeFrames()
	a.Free(p)
	require.Equal(t, afterFirst, a.FreeFrames())
	require.NotEqual(t, before, afterFirst)
}

func TestFreeNilAndMisalignedAreNoops(t *testing.T) {
	a, arena := newTestAllocator(t, 16)
	before := a.FreeFrames()
	a.Free(0)
	a.Free(arena.Base + 1)
	a.Free(arena.Base + uintptr(len(arena.Bytes)))
	require.Equal(t, before, a.FreeFrames())
}

func TestLowestAddressedFrameAllocatedFirst(t *testing.T) {
	a, arena := newTestAllocator(t, 16)
	p, err := a.Alloc()
	require.NoError(t, err)
	// the descriptor table occupies the leading frames; the first frame
	// handed out must be the lowest-addressed frame after those.
	require.Equal(t, arena.Base+uintptr(a.UsedFrames()-1)*PageSize, p)
}

func TestFreeNeverReclaimsDescriptorFrames(t *testing.T) {
	a, arena := newTestAllocator(t, 16)
	reserved := a.UsedFrames()
	// attempt to free every frame in the descriptor region; Free
	// refuses any index below the reserved count, so it is a no-op for
	// all of them.
	before := a.FreeFrames()
	for i := 0; i < reserved; i++ {
		a.Free(arena.Base + uintptr(i)*PageSize)
	}
	require.Equal(t, before, a.FreeFrames())
}
