package fs

import (
	"rvos/internal/kerr"
	"rvos/internal/klog"
)

var log = klog.For("fs")

// BlockDevice is the minimal contract the filesystem needs from the
// storage layer: fixed BlockSize reads and writes by block number.
// *virtioblk.Device satisfies this directly, since BlockSize ==
// virtioblk.SectorSize.
type BlockDevice interface {
	ReadSector(blockno uint64, dst []byte) error
	WriteSector(blockno uint64, src []byte) error
}

type fileDesc struct {
	used   bool
	inum   uint32
	offset uint32
}

// FileSystem is the mounted inode filesystem: one superblock, a
// linear inode table, a linear free-block bitmap, and a single flat
// root directory (spec §1 Non-goals: "no nested directories").
type FileSystem struct {
	dev BlockDevice
	sb  Superblock
	fds [MaxOpenFiles]fileDesc
}

// readmeContents is written into a README.md at format time, the same
// embellishment original_source's fs_format performs from a
// build-time README_MD blob; here it is just a short fixed string
// since there is no build step to embed one from.
const readmeContents = "This filesystem image was formatted by mkfs.\n"

// New wraps dev as a (not yet mounted) filesystem. Call Init before
// any other method.
func New(dev BlockDevice) *FileSystem {
	return &FileSystem{dev: dev}
}

func (fs *FileSystem) readBlock(blockno uint32, buf []byte) error {
	if blockno >= NBlocks {
		return kerr.InvalidArgument
	}
	return fs.dev.ReadSector(uint64(blockno), buf)
}

func (fs *FileSystem) writeBlock(blockno uint32, buf []byte) error {
	if blockno >= NBlocks {
		return kerr.InvalidArgument
	}
	return fs.dev.WriteSector(uint64(blockno), buf)
}

// Init loads the superblock from block 0 and formats a fresh
// filesystem if the magic doesn't match (spec §4.6: "mount reads the
// superblock; a bad or missing magic triggers format").
func (fs *FileSystem) Init() error {
	for i := range fs.fds {
		fs.fds[i] = fileDesc{}
	}

	buf := make([]byte, BlockSize)
	if err := fs.readBlock(SBBlock, buf); err != nil {
		return fs.format()
	}
	fs.sb = decodeSuperblock(buf)
	if fs.sb.Magic != Magic {
		log.Info().Msg("fs: bad magic, formatting")
		return fs.format()
	}
	log.Info().Uint32("magic", fs.sb.Magic).Msg("fs: superblock loaded")
	return nil
}

func (fs *FileSystem) format() error {
	log.Info().Msg("fs: formatting disk image")
	zero := make([]byte, BlockSize)
	for b := uint32(InodeStartBlock); b < InodeStartBlock+InodeBlocks; b++ {
		if err := fs.writeBlock(b, zero); err != nil {
			return err
		}
	}
	if err := fs.writeBlock(BitmapBlock, zero); err != nil {
		return err
	}

	fs.sb = Superblock{Magic: Magic, NBlocks: NBlocks, NInodes: NInode, RootInum: 1}
	sbBuf := make([]byte, BlockSize)
	encodeSuperblock(fs.sb, sbBuf)
	if err := fs.writeBlock(SBBlock, sbBuf); err != nil {
		return err
	}

	root := Dinode{Type: TypeDir, Nlink: 1, Size: 0}
	if err := fs.writeDinode(fs.sb.RootInum, root); err != nil {
		return err
	}

	readmeInum, err := fs.ialloc(TypeFile)
	if err == nil {
		if err := fs.dirAdd("README.md", readmeInum); err == nil {
			_, _ = fs.inodeWrite(readmeInum, []byte(readmeContents), 0)
		}
	}
	return nil
}

func (fs *FileSystem) dinodeLocation(inum uint32) (block uint32, off uint32, err error) {
	if inum == 0 || inum >= NInode {
		return 0, 0, kerr.InvalidArgument
	}
	// Whole inodes per block, so no record straddles a block boundary.
	const perBlock = BlockSize / dinodeSize
	idx := inum - 1
	block = InodeStartBlock + idx/perBlock
	off = (idx % perBlock) * dinodeSize
	return block, off, nil
}

func (fs *FileSystem) readDinode(inum uint32) (Dinode, error) {
	block, off, err := fs.dinodeLocation(inum)
	if err != nil {
		return Dinode{}, err
	}
	buf := make([]byte, BlockSize)
	if err := fs.readBlock(block, buf); err != nil {
		return Dinode{}, err
	}
	return decodeDinode(buf[off : off+dinodeSize]), nil
}

func (fs *FileSystem) writeDinode(inum uint32, d Dinode) error {
	block, off, err := fs.dinodeLocation(inum)
	if err != nil {
		return err
	}
	buf := make([]byte, BlockSize)
	if err := fs.readBlock(block, buf); err != nil {
		return err
	}
	encodeDinode(d, buf[off:off+dinodeSize])
	return fs.writeBlock(block, buf)
}

// balloc scans the bitmap linearly from DataStartBlock for a free
// block, same policy as original_source's balloc.
func (fs *FileSystem) balloc() (uint32, error) {
	buf := make([]byte, BlockSize)
	if err := fs.readBlock(BitmapBlock, buf); err != nil {
		return 0, err
	}
	for b := uint32(DataStartBlock); b < NBlocks; b++ {
		bi := b - DataStartBlock
		byteIdx, mask := bi/8, byte(1<<(bi%8))
		if buf[byteIdx]&mask == 0 {
			buf[byteIdx] |= mask
			if err := fs.writeBlock(BitmapBlock, buf); err != nil {
				return 0, err
			}
			return b, nil
		}
	}
	return 0, kerr.OutOfMemory
}

func (fs *FileSystem) bfree(blockno uint32) error {
	if blockno < DataStartBlock || blockno >= NBlocks {
		return kerr.InvalidArgument
	}
	buf := make([]byte, BlockSize)
	if err := fs.readBlock(BitmapBlock, buf); err != nil {
		return err
	}
	bi := blockno - DataStartBlock
	byteIdx, mask := bi/8, byte(1<<(bi%8))
	buf[byteIdx] &^= mask
	return fs.writeBlock(BitmapBlock, buf)
}

// bmap resolves a file-relative block index to a disk block number,
// allocating direct or single-indirect blocks on demand when alloc is
// true (spec §4.6, original_source's bmap).
func (fs *FileSystem) bmap(din *Dinode, fileBlockIdx uint32, alloc bool) (uint32, error) {
	if fileBlockIdx < NDirect {
		bno := din.Addrs[fileBlockIdx]
		if bno == 0 && alloc {
			var err error
			bno, err = fs.balloc()
			if err != nil {
				return 0, err
			}
			din.Addrs[fileBlockIdx] = bno
		}
		return bno, nil
	}

	idx := fileBlockIdx - NDirect
	if idx >= NIndirect {
		// Beyond MaxFile (NDirect+NIndirect blocks): not representable
		// by this on-disk layout regardless of alloc, so this is a
		// bound, not a failure — callers treat a (0, nil) result as
		// "stop here" the same way they do for an unallocated hole
		// (spec §8: "bmap beyond that returns 0 without allocating").
		return 0, nil
	}

	buf := make([]byte, BlockSize)
	if din.Indirect == 0 {
		if !alloc {
			return 0, nil
		}
		indirectBno, err := fs.balloc()
		if err != nil {
			return 0, err
		}
		if err := fs.writeBlock(indirectBno, buf); err != nil {
			return 0, err
		}
		din.Indirect = indirectBno
	} else {
		if err := fs.readBlock(din.Indirect, buf); err != nil {
			return 0, err
		}
	}

	bno := readIndirectSlot(buf, idx)
	if bno == 0 && alloc {
		var err error
		bno, err = fs.balloc()
		if err != nil {
			return 0, err
		}
		writeIndirectSlot(buf, idx, bno)
		if err := fs.writeBlock(din.Indirect, buf); err != nil {
			return 0, err
		}
	}
	return bno, nil
}

func readIndirectSlot(buf []byte, idx uint32) uint32 {
	off := idx * 4
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}

func writeIndirectSlot(buf []byte, idx uint32, v uint32) {
	off := idx * 4
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func (fs *FileSystem) inodeRead(inum uint32, dst []byte, off uint32) (int, error) {
	din, err := fs.readDinode(inum)
	if err != nil {
		return 0, err
	}
	if off >= din.Size {
		return 0, nil
	}
	n := uint32(len(dst))
	if off+n > din.Size {
		n = din.Size - off
	}

	var tot uint32
	buf := make([]byte, BlockSize)
	for tot < n {
		fblk := (off + tot) / BlockSize
		boff := (off + tot) % BlockSize
		bno, err := fs.bmap(&din, fblk, false)
		if err != nil {
			return int(tot), err
		}
		if bno == 0 {
			break
		}
		if err := fs.readBlock(bno, buf); err != nil {
			return int(tot), err
		}
		m := min(BlockSize-boff, n-tot)
		copy(dst[tot:tot+m], buf[boff:boff+m])
		tot += m
	}
	return int(tot), nil
}

func (fs *FileSystem) inodeWrite(inum uint32, src []byte, off uint32) (int, error) {
	din, err := fs.readDinode(inum)
	if err != nil {
		return 0, err
	}

	var tot uint32
	n := uint32(len(src))
	buf := make([]byte, BlockSize)
	for tot < n {
		fblk := (off + tot) / BlockSize
		boff := (off + tot) % BlockSize
		bno, err := fs.bmap(&din, fblk, true)
		if err != nil {
			return int(tot), err
		}
		if bno == 0 {
			// Past MaxFile: stop and return whatever was written so far
			// as a short count, not an error (spec §8).
			break
		}
		if err := fs.readBlock(bno, buf); err != nil {
			return int(tot), err
		}
		m := min(BlockSize-boff, n-tot)
		copy(buf[boff:boff+m], src[tot:tot+m])
		if err := fs.writeBlock(bno, buf); err != nil {
			return int(tot), err
		}
		tot += m
	}
	if off+tot > din.Size {
		din.Size = off + tot
	}
	if err := fs.writeDinode(inum, din); err != nil {
		return int(tot), err
	}
	return int(tot), nil
}

func min(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// ialloc scans the inode table linearly from inum 1 for a free slot
// (Type == TypeFree), same policy as original_source's ialloc.
func (fs *FileSystem) ialloc(typ uint32) (uint32, error) {
	for inum := uint32(1); inum < NInode; inum++ {
		din, err := fs.readDinode(inum)
		if err != nil {
			return 0, err
		}
		if din.Type == TypeFree {
			din = Dinode{Type: typ, Nlink: 1}
			if err := fs.writeDinode(inum, din); err != nil {
				return 0, err
			}
			return inum, nil
		}
	}
	return 0, kerr.OutOfMemory
}
