package fs

import "encoding/binary"

func encodeSuperblock(sb Superblock, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], sb.Magic)
	binary.LittleEndian.PutUint32(buf[4:], sb.NBlocks)
	binary.LittleEndian.PutUint32(buf[8:], sb.NInodes)
	binary.LittleEndian.PutUint32(buf[12:], sb.RootInum)
}

func decodeSuperblock(buf []byte) Superblock {
	return Superblock{
		Magic:    binary.LittleEndian.Uint32(buf[0:]),
		NBlocks:  binary.LittleEndian.Uint32(buf[4:]),
		NInodes:  binary.LittleEndian.Uint32(buf[8:]),
		RootInum: binary.LittleEndian.Uint32(buf[12:]),
	}
}

func encodeDinode(d Dinode, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], d.Type)
	binary.LittleEndian.PutUint32(buf[4:], d.Nlink)
	binary.LittleEndian.PutUint32(buf[8:], d.Size)
	off := 12
	for i := 0; i < NDirect; i++ {
		binary.LittleEndian.PutUint32(buf[off:], d.Addrs[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], d.Indirect)
}

func decodeDinode(buf []byte) Dinode {
	var d Dinode
	d.Type = binary.LittleEndian.Uint32(buf[0:])
	d.Nlink = binary.LittleEndian.Uint32(buf[4:])
	d.Size = binary.LittleEndian.Uint32(buf[8:])
	off := 12
	for i := 0; i < NDirect; i++ {
		d.Addrs[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[off:])
	return d
}

func encodeDirent(d Dirent, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], d.Inum)
	copy(buf[4:4+NameMax], d.Name[:])
}

func decodeDirent(buf []byte) Dirent {
	var d Dirent
	d.Inum = binary.LittleEndian.Uint32(buf[0:])
	copy(d.Name[:], buf[4:4+NameMax])
	return d
}

const direntSize = 4 + NameMax
