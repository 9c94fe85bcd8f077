package fs

import "rvos/internal/kerr"

func nameEquals(a [NameMax]byte, b string) bool {
	return direntName(Dirent{Name: a}) == b
}

// dirLookup scans the root directory linearly for name, same as
// original_source's dir_lookup.
func (fs *FileSystem) dirLookup(name string) (uint32, error) {
	din, err := fs.readDinode(fs.sb.RootInum)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, direntSize)
	for off := uint32(0); off+direntSize <= din.Size; off += direntSize {
		n, err := fs.inodeRead(fs.sb.RootInum, buf, off)
		if err != nil || n != direntSize {
			return 0, kerr.IoError
		}
		de := decodeDirent(buf)
		if de.Inum != 0 && nameEquals(de.Name, name) {
			return de.Inum, nil
		}
	}
	return 0, kerr.NotFound
}

// dirAdd appends a new entry to the root directory file, growing it
// (original_source's dir_add never reuses a tombstoned slot — append
// only, same here).
func (fs *FileSystem) dirAdd(name string, inum uint32) error {
	din, err := fs.readDinode(fs.sb.RootInum)
	if err != nil {
		return err
	}
	de := Dirent{Inum: inum, Name: makeDirentName(name)}
	buf := make([]byte, direntSize)
	encodeDirent(de, buf)
	n, err := fs.inodeWrite(fs.sb.RootInum, buf, din.Size)
	if err != nil || n != direntSize {
		return kerr.IoError
	}
	return nil
}

// dirRemoveInum tombstones (zeroes) the first entry matching inum,
// without shrinking the directory file (original_source's
// dir_remove_inum).
func (fs *FileSystem) dirRemoveInum(inum uint32) error {
	din, err := fs.readDinode(fs.sb.RootInum)
	if err != nil {
		return err
	}
	buf := make([]byte, direntSize)
	for off := uint32(0); off+direntSize <= din.Size; off += direntSize {
		n, err := fs.inodeRead(fs.sb.RootInum, buf, off)
		if err != nil || n != direntSize {
			return kerr.IoError
		}
		de := decodeDirent(buf)
		if de.Inum == inum && de.Inum != 0 {
			de.Inum = 0
			de.Name = [NameMax]byte{}
			encodeDirent(de, buf)
			if n, err := fs.inodeWrite(fs.sb.RootInum, buf, off); err != nil || n != direntSize {
				return kerr.IoError
			}
			return nil
		}
	}
	return kerr.NotFound
}

// ListRoot returns the names of every live (non-tombstoned) entry in
// the root directory, the sys_ls operation's backing call
// (original_source syscall.c's sys_ls -> fs_list_root).
func (fs *FileSystem) ListRoot() ([]string, error) {
	din, err := fs.readDinode(fs.sb.RootInum)
	if err != nil {
		return nil, err
	}
	var names []string
	buf := make([]byte, direntSize)
	for off := uint32(0); off+direntSize <= din.Size; off += direntSize {
		n, err := fs.inodeRead(fs.sb.RootInum, buf, off)
		if err != nil || n != direntSize {
			return nil, kerr.IoError
		}
		de := decodeDirent(buf)
		if de.Inum != 0 {
			names = append(names, direntName(de))
		}
	}
	return names, nil
}
