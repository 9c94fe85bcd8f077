package fs

import "rvos/internal/kerr"

func (fs *FileSystem) allocFD(inum uint32) (int, error) {
	for i := range fs.fds {
		if !fs.fds[i].used {
			fs.fds[i] = fileDesc{used: true, inum: inum}
			return FDBase + i, nil
		}
	}
	return 0, kerr.OutOfMemory
}

func (fs *FileSystem) fdSlot(fd int) (*fileDesc, error) {
	if fd < FDBase || fd >= FDBase+MaxOpenFiles {
		return nil, kerr.InvalidArgument
	}
	d := &fs.fds[fd-FDBase]
	if !d.used {
		return nil, kerr.InvalidArgument
	}
	return d, nil
}

// Create makes a new, empty file named name and opens it, returning
// its file descriptor. Fails with kerr.AlreadyExists if name is
// already in use.
func (fs *FileSystem) Create(name string) (int, error) {
	if _, err := fs.dirLookup(name); err == nil {
		return 0, kerr.AlreadyExists
	}
	inum, err := fs.ialloc(TypeFile)
	if err != nil {
		return 0, err
	}
	if err := fs.dirAdd(name, inum); err != nil {
		return 0, err
	}
	return fs.allocFD(inum)
}

// Open opens an existing file by name, returning its file descriptor.
func (fs *FileSystem) Open(name string) (int, error) {
	inum, err := fs.dirLookup(name)
	if err != nil {
		return 0, err
	}
	return fs.allocFD(inum)
}

// Read reads up to len(buf) bytes from fd at its current offset,
// advancing the offset by the number of bytes actually read.
func (fs *FileSystem) Read(fd int, buf []byte) (int, error) {
	d, err := fs.fdSlot(fd)
	if err != nil {
		return 0, err
	}
	n, err := fs.inodeRead(d.inum, buf, d.offset)
	if n > 0 {
		d.offset += uint32(n)
	}
	return n, err
}

// Write writes buf to fd at its current offset, advancing the offset
// and growing the file as needed.
func (fs *FileSystem) Write(fd int, buf []byte) (int, error) {
	d, err := fs.fdSlot(fd)
	if err != nil {
		return 0, err
	}
	n, err := fs.inodeWrite(d.inum, buf, d.offset)
	if n > 0 {
		d.offset += uint32(n)
	}
	return n, err
}

// Close releases fd.
func (fs *FileSystem) Close(fd int) error {
	d, err := fs.fdSlot(fd)
	if err != nil {
		return err
	}
	*d = fileDesc{}
	return nil
}

// Unlink removes name from the root directory and frees its data
// blocks (direct and single-indirect), matching original_source's
// fs_unlink exactly, including that the indirect block's own frame is
// freed after the blocks it points to.
func (fs *FileSystem) Unlink(name string) error {
	inum, err := fs.dirLookup(name)
	if err != nil {
		return err
	}
	din, err := fs.readDinode(inum)
	if err != nil {
		return err
	}

	for i := range din.Addrs {
		if din.Addrs[i] != 0 {
			if err := fs.bfree(din.Addrs[i]); err != nil {
				return err
			}
			din.Addrs[i] = 0
		}
	}
	if din.Indirect != 0 {
		buf := make([]byte, BlockSize)
		if err := fs.readBlock(din.Indirect, buf); err == nil {
			for i := uint32(0); i < NIndirect; i++ {
				if bno := readIndirectSlot(buf, i); bno != 0 {
					if err := fs.bfree(bno); err != nil {
						return err
					}
				}
			}
		}
		if err := fs.bfree(din.Indirect); err != nil {
			return err
		}
		din.Indirect = 0
	}
	din.Size = 0
	din.Type = TypeFree
	din.Nlink = 0
	if err := fs.writeDinode(inum, din); err != nil {
		return err
	}
	return fs.dirRemoveInum(inum)
}

// Trunc resets name's visible size to zero without freeing its data
// blocks, which are reused on the next writes (spec §4.6,
// original_source's fs_trunc).
func (fs *FileSystem) Trunc(name string) error {
	inum, err := fs.dirLookup(name)
	if err != nil {
		return err
	}
	din, err := fs.readDinode(inum)
	if err != nil {
		return err
	}
	din.Size = 0
	return fs.writeDinode(inum, din)
}
