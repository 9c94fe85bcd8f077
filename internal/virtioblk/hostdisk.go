package virtioblk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"rvos/internal/kerr"
)

// HostDisk is the host-side stand-in for the block device backing
// store: a regular file mmap'd in, the way the teacher's
// hypervisor-facing code (see SPEC_FULL.md's domain stack notes on
// BigBossBoolingB-VDATABPro's core_engine/hypervisor and
// core_engine/network packages) maps guest memory and device-backing
// files through golang.org/x/sys/unix rather than plain os.File
// reads, so ReadSector/WriteSector touch the image in place without a
// read-modify-write round trip through the page cache on every call.
type HostDisk struct {
	f       *os.File
	data    []byte
	sectors uint64
}

// OpenHostDisk mmaps path (created if it doesn't already exist, and
// resized to exactly size bytes either way) as the disk image backing
// a SimDevice.
func OpenHostDisk(path string, size int64) (*HostDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("virtioblk: open %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("virtioblk: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("virtioblk: mmap %s: %w", path, err)
	}
	return &HostDisk{f: f, data: data, sectors: uint64(size) / SectorSize}, nil
}

// Close flushes the mapping back to disk and releases it.
func (d *HostDisk) Close() error {
	if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
		return err
	}
	if err := unix.Munmap(d.data); err != nil {
		return err
	}
	return d.f.Close()
}

// Sectors returns the number of SectorSize-byte sectors in the image.
func (d *HostDisk) Sectors() uint64 { return d.sectors }

// ReadSector copies sector's contents into dst (len(dst) == SectorSize).
func (d *HostDisk) ReadSector(sector uint64, dst []byte) error {
	if sector >= d.sectors || len(dst) != SectorSize {
		return kerr.InvalidArgument
	}
	off := sector * SectorSize
	copy(dst, d.data[off:off+SectorSize])
	return nil
}

// WriteSector copies src (len(src) == SectorSize) into sector.
func (d *HostDisk) WriteSector(sector uint64, src []byte) error {
	if sector >= d.sectors || len(src) != SectorSize {
		return kerr.InvalidArgument
	}
	off := sector * SectorSize
	copy(d.data[off:off+SectorSize], src)
	return nil
}

// MemDisk is an in-memory HostDisk substitute for tests that don't
// want a real file on disk.
type MemDisk struct {
	data    []byte
	sectors uint64
}

// NewMemDisk allocates a zero-filled in-memory disk of the given size.
func NewMemDisk(size int) *MemDisk {
	return &MemDisk{data: make([]byte, size), sectors: uint64(size) / SectorSize}
}

func (d *MemDisk) Sectors() uint64 { return d.sectors }

func (d *MemDisk) ReadSector(sector uint64, dst []byte) error {
	if sector >= d.sectors || len(dst) != SectorSize {
		return kerr.InvalidArgument
	}
	off := sector * SectorSize
	copy(dst, d.data[off:off+SectorSize])
	return nil
}

func (d *MemDisk) WriteSector(sector uint64, src []byte) error {
	if sector >= d.sectors || len(src) != SectorSize {
		return kerr.InvalidArgument
	}
	off := sector * SectorSize
	copy(d.data[off:off+SectorSize], src)
	return nil
}
