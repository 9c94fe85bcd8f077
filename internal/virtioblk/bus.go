package virtioblk

import "encoding/binary"

// Bus is a flat view of the guest-physical memory region the driver
// and the device both address: the driver writes virtqueue addresses
// into the device's registers, and the device reads the descriptor
// chain back out of the same region via DMA. A bare-metal port has no
// such indirection (both sides already share real physical memory);
// the host build needs an explicit stand-in, the same way pmm.Arena
// stands in for the frame allocator's physical range.
type Bus struct {
	mem []byte
}

// NewBus allocates a Bus backed by size bytes, zero-filled.
func NewBus(size int) *Bus {
	return &Bus{mem: make([]byte, size)}
}

func (b *Bus) slice(addr uint64, n int) []byte {
	off := int(addr)
	return b.mem[off : off+n]
}

func (b *Bus) u16(addr uint64) uint16 {
	return binary.LittleEndian.Uint16(b.slice(addr, 2))
}

func (b *Bus) putU16(addr uint64, v uint16) {
	binary.LittleEndian.PutUint16(b.slice(addr, 2), v)
}

func (b *Bus) u32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(b.slice(addr, 4))
}

func (b *Bus) putU32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(b.slice(addr, 4), v)
}

func (b *Bus) u64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(b.slice(addr, 8))
}

func (b *Bus) putU64(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(b.slice(addr, 8), v)
}
