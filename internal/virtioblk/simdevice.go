package virtioblk

// SectorStore is the block-addressable backing store a SimDevice
// serves requests from; HostDisk and MemDisk both implement it.
type SectorStore interface {
	Sectors() uint64
	ReadSector(sector uint64, dst []byte) error
	WriteSector(sector uint64, src []byte) error
}

// SimDevice is a host-only model of the virtio-mmio block device side
// of the transport: it answers the same register protocol
// original_source/kernel/fs/blk.c's blk_init/blk_do_io drive, and
// walks the descriptor chain the driver places on Bus to actually
// service reads and writes against a SectorStore. Real hardware (or
// QEMU) plays this role on a bare-metal port; the host build needs an
// explicit stand-in to exercise Device under `go test`.
type SimDevice struct {
	bus   *Bus
	store SectorStore

	version uint32

	status        uint32
	featuresSel   uint32
	driverFeatSel uint32

	queueSel      uint32
	queueNum      uint32
	queueAlign    uint32
	descLo, descHi uint32
	availLo, availHi uint32
	usedLo, usedHi   uint32
	pfn              uint32
	guestPageSize    uint32
	ready            uint32

	descBase, availBase, usedBase uint64
	lastAvailIdx                  uint16

	interruptStatus uint32
}

// NewSimDevice returns a device model of the requested transport
// version (1 for legacy PFN-based queues, 2 for modern split
// descriptor addressing) serving store over bus.
func NewSimDevice(bus *Bus, store SectorStore, version uint32) *SimDevice {
	return &SimDevice{bus: bus, store: store, version: version}
}

func (d *SimDevice) ReadReg(r Register) uint32 {
	switch r {
	case RegMagicValue:
		return MagicValue
	case RegVersion:
		return d.version
	case RegDeviceID:
		return DeviceIDBlock
	case RegVendorID:
		return 0x554d4551 // arbitrary, matches no real vendor
	case RegDeviceFeatures:
		return 0 // no optional features offered
	case RegQueueNumMax:
		return QueueSize
	case RegInterruptStatus:
		return d.interruptStatus
	case RegStatus:
		return d.status
	case RegQueueReady:
		return d.ready
	default:
		return 0
	}
}

func (d *SimDevice) WriteReg(r Register, v uint32) {
	switch r {
	case RegStatus:
		d.status = v
	case RegDeviceFeaturesSel:
		d.featuresSel = v
	case RegDriverFeatures:
		// optional features never requested by this driver; ignored.
	case RegDriverFeaturesSel:
		d.driverFeatSel = v
	case RegGuestPageSize:
		d.guestPageSize = v
	case RegQueueSel:
		d.queueSel = v
	case RegQueueNum:
		d.queueNum = v
	case RegQueueAlign:
		d.queueAlign = v
	case RegQueuePFN:
		d.pfn = v
		d.layoutFromPFN()
	case RegQueueReady:
		d.ready = v
	case RegQueueDescLow:
		d.descLo = v
	case RegQueueDescHigh:
		d.descHi = v
		d.descBase = uint64(d.descHi)<<32 | uint64(d.descLo)
	case RegQueueAvailLow:
		d.availLo = v
	case RegQueueAvailHigh:
		d.availHi = v
		d.availBase = uint64(d.availHi)<<32 | uint64(d.availLo)
	case RegQueueUsedLow:
		d.usedLo = v
	case RegQueueUsedHigh:
		d.usedHi = v
		d.usedBase = uint64(d.usedHi)<<32 | uint64(d.usedLo)
	case RegQueueNotify:
		d.handleNotify()
	case RegInterruptAck:
		d.interruptStatus &^= v
	}
}

// layoutFromPFN derives the desc/avail/used base addresses from a
// legacy (v1) QUEUE_PFN write, mirroring struct virtq's layout in
// blk.h: desc[8] then avail packed immediately after, then used
// page-aligned at queueAlign past the base.
func (d *SimDevice) layoutFromPFN() {
	if d.guestPageSize == 0 {
		d.guestPageSize = 4096
	}
	base := uint64(d.pfn) * uint64(d.guestPageSize)
	descSize := uint64(16 * QueueSize)
	availSize := uint64(4 + 2*QueueSize)
	align := uint64(d.queueAlign)
	if align == 0 {
		align = 4096
	}
	d.descBase = base
	d.availBase = base + descSize
	usedOff := align * (((descSize + availSize) + align - 1) / align)
	d.usedBase = base + usedOff
}

type descView struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (d *SimDevice) readDesc(idx uint16) descView {
	addr := d.descBase + uint64(idx)*16
	return descView{
		addr:  d.bus.u64(addr),
		len:   d.bus.u32(addr + 8),
		flags: d.bus.u16(addr + 12),
		next:  d.bus.u16(addr + 14),
	}
}

// handleNotify walks every newly-available descriptor chain head and
// services it synchronously, mirroring blk_do_io's poll loop but from
// the device side: there is no asynchronous completion to wait for,
// the chain is fully processed before handleNotify returns, and the
// used ring / interrupt-status bits are updated as if it had been.
func (d *SimDevice) handleNotify() {
	availIdx := d.bus.u16(d.availBase + 2)
	for d.lastAvailIdx != availIdx {
		ringOff := d.availBase + 4 + uint64(d.lastAvailIdx%QueueSize)*2
		head := d.bus.u16(ringOff)
		d.serviceChain(head)
		d.lastAvailIdx++

		usedIdx := d.bus.u16(d.usedBase + 2)
		elemOff := d.usedBase + 4 + uint64(usedIdx%QueueSize)*8
		d.bus.putU32(elemOff, uint32(head))
		d.bus.putU32(elemOff+4, 1)
		d.bus.putU16(d.usedBase+2, usedIdx+1)
	}
	d.interruptStatus |= 0x1
}

// serviceChain walks the 3-descriptor req/data/status chain
// blk_do_io builds and performs the corresponding read or write
// against the backing store, writing the result status byte into the
// chain's final descriptor.
func (d *SimDevice) serviceChain(head uint16) {
	reqDesc := d.readDesc(head)
	reqType := d.bus.u32(reqDesc.addr)
	sector := d.bus.u64(reqDesc.addr + 8)

	dataDesc := d.readDesc(reqDesc.next)
	statusDesc := d.readDesc(dataDesc.next)

	status := BlkStatusOK
	switch reqType {
	case BlkTypeIn:
		buf := d.bus.slice(dataDesc.addr, SectorSize)
		if err := d.store.ReadSector(sector, buf); err != nil {
			status = BlkStatusIOErr
		}
	case BlkTypeOut:
		buf := d.bus.slice(dataDesc.addr, SectorSize)
		if err := d.store.WriteSector(sector, buf); err != nil {
			status = BlkStatusIOErr
		}
	default:
		status = BlkStatusUnsupp
	}
	d.bus.slice(statusDesc.addr, 1)[0] = status
}
