// Package virtioblk is the virtio-mmio block driver (spec §4.5): it
// probes the virtio-mmio bus, negotiates a legacy (v1) or modern (v2)
// transport, sets up a single virtqueue, and submits read/write
// requests by polling the used ring.
//
// It is grounded on original_source/kernel/fs/blk.c and blk.h (the
// register offsets, the three-descriptor req/data/status chain, and
// the v1-vs-v2 queue-setup branches), with register naming brought in
// line with the teacher's exported-constant style
// (biscuit/src/defs/device.go) and the virtio constant names used by
// _examples/other_examples' tinyrange virtio-blk device model.
package virtioblk

// Register is a 32-bit MMIO register offset within one virtio-mmio
// device slot (spec §6: slots at board.Layout.VirtioMMIOBase +
// n*board.Layout.VirtioMMIOStride).
type Register uint32

// virtio-mmio register layout (version-agnostic unless noted).
const (
	RegMagicValue        Register = 0x000
	RegVersion           Register = 0x004
	RegDeviceID          Register = 0x008
	RegVendorID          Register = 0x00c
	RegDeviceFeatures    Register = 0x010
	RegDeviceFeaturesSel Register = 0x014
	RegDriverFeatures    Register = 0x020
	RegDriverFeaturesSel Register = 0x024
	RegGuestPageSize     Register = 0x028 // v1 only
	RegQueueSel          Register = 0x030
	RegQueueNumMax       Register = 0x034
	RegQueueNum          Register = 0x038
	RegQueueAlign        Register = 0x03c // v1 only
	RegQueuePFN          Register = 0x040 // v1 only
	RegQueueReady        Register = 0x044 // v2 only
	RegQueueNotify       Register = 0x050
	RegInterruptStatus   Register = 0x060
	RegInterruptAck      Register = 0x064
	RegStatus            Register = 0x070
	RegQueueDescLow      Register = 0x080 // v2 only
	RegQueueDescHigh     Register = 0x084
	RegQueueAvailLow     Register = 0x090
	RegQueueAvailHigh    Register = 0x094
	RegQueueUsedLow      Register = 0x0a0
	RegQueueUsedHigh     Register = 0x0a4
)

// Status bits written to RegStatus during negotiation.
const (
	StatusAcknowledge uint32 = 1 << 0
	StatusDriver      uint32 = 1 << 1
	StatusDriverOK    uint32 = 1 << 2
	StatusFeaturesOK  uint32 = 1 << 3
)

// MagicValue is the fixed "virt" magic every virtio-mmio slot reports.
const MagicValue uint32 = 0x74726976

// DeviceIDBlock is the virtio device-id value for a block device.
const DeviceIDBlock uint32 = 2

// Request types for struct virtio_blk_req.Type.
const (
	BlkTypeIn    uint32 = 0 // read
	BlkTypeOut   uint32 = 1 // write
	BlkTypeFlush uint32 = 4
)

// Device status codes written by the device into the status byte.
const (
	BlkStatusOK     uint8 = 0
	BlkStatusIOErr  uint8 = 1
	BlkStatusUnsupp uint8 = 2
)

// Descriptor flag bits.
const (
	DescFNext  uint16 = 1 << 0
	DescFWrite uint16 = 1 << 1
)

// QueueSize is the fixed virtqueue depth this driver negotiates down
// to, matching original_source's 8-entry blk_virtq.
const QueueSize = 8

// SectorSize is the virtio-blk logical sector size.
const SectorSize = 512

// RegisterWindow is one virtio-mmio device slot's 32-bit register
// file. A bare-metal port backs it with a volatile MMIO pointer; the
// host build backs it with an in-memory simulated device (see
// simdevice.go).
type RegisterWindow interface {
	ReadReg(Register) uint32
	WriteReg(Register, uint32)
}
