package dirent

import (
	"fmt"

	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
)

// The callers of these functions hold the directory's lock: the read lock
// for Walk, Lookup and IsEmpty and the write lock for the others.

// scan calls fn for every record of dir, live or free, with the block
// holding it. Blocks in holes are skipped. fn may change the record and mark
// the block dirty; returning true stops the scan.
func scan(dir *common.Inode, fn func(bp *common.CacheBlock, off int, pos int64) bool) error {
	if !dir.IsDirectory() {
		return common.ENOTDIR
	}
	info := dir.Devinfo
	bs := int64(info.Blocksize)
	size := int64(dir.Size)

	for base := int64(0); base < size; base += bs {
		bnum, err := bmap.ReadMap(dir, int(base/bs))
		if err != nil {
			return err
		}
		if bnum == common.NO_BLOCK {
			continue
		}
		bp, err := dir.Bcache.GetBlock(bnum, common.DIRECTORY_BLOCK, common.NORMAL)
		if err != nil {
			return err
		}

		stop := false
		for off := 0; off < int(bs) && base+int64(off) < size; off += info.DirentSize {
			if stop = fn(bp, off, base+int64(off)); stop {
				break
			}
		}
		if err := dir.Bcache.PutBlock(bp, common.DIRECTORY_BLOCK); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// Walk calls fn with the name and inode number of each live entry of dir,
// in on-disk order, until fn returns false.
func Walk(dir *common.Inode, fn func(name string, inum int) bool) error {
	info := dir.Devinfo
	return scan(dir, func(bp *common.CacheBlock, off int, _ int64) bool {
		inum, name := Entry(bp.Data[off:], info)
		if inum == common.NO_INODE {
			return false
		}
		return !fn(name, inum)
	})
}

// Lookup returns the inode number of the entry called name.
func Lookup(dir *common.Inode, name string) (int, error) {
	found := common.NO_INODE
	err := Walk(dir, func(n string, inum int) bool {
		if n == name {
			found = inum
			return false
		}
		return true
	})
	if err != nil {
		return common.NO_INODE, err
	}
	if found == common.NO_INODE {
		return common.NO_INODE, common.ENOENT
	}
	return found, nil
}

// Insert adds an entry for inum called name. The first free record is
// reused; without one the directory grows by a record, taking a new block
// when the record starts one.
func Insert(dir *common.Inode, name string, inum int) error {
	info := dir.Devinfo
	if err := CheckName(info, name); err != nil {
		return err
	}

	free := int64(-1)
	exists := false
	err := scan(dir, func(bp *common.CacheBlock, off int, pos int64) bool {
		n, entname := Entry(bp.Data[off:], info)
		switch {
		case n == common.NO_INODE:
			if free < 0 {
				free = pos
			}
		case entname == name:
			exists = true
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%q: %w", name, common.EEXIST)
	}

	pos := free
	if pos < 0 {
		pos = int64(dir.Size)
		if pos+int64(info.DirentSize) > info.Maxsize {
			return common.EFBIG
		}
	}

	bs := int64(info.Blocksize)
	bnum, err := bmap.MapBlock(dir, int(pos/bs), true)
	if err != nil {
		return err
	}
	bp, err := dir.Bcache.GetBlock(bnum, common.DIRECTORY_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	PutEntry(bp.Data[pos%bs:], info, inum, name)
	bp.Dirty = true
	if err := dir.Bcache.PutBlock(bp, common.DIRECTORY_BLOCK); err != nil {
		return err
	}

	if free < 0 {
		dir.Size += uint32(info.DirentSize)
		dir.Dirty = true
	}
	return nil
}

// Remove frees the entry called name and returns the inode number it held.
// The record is left in place for reuse; directories never shrink.
func Remove(dir *common.Inode, name string) (int, error) {
	info := dir.Devinfo
	found := common.NO_INODE
	err := scan(dir, func(bp *common.CacheBlock, off int, _ int64) bool {
		inum, entname := Entry(bp.Data[off:], info)
		if inum == common.NO_INODE || entname != name {
			return false
		}
		found = inum
		PutEntry(bp.Data[off:], info, common.NO_INODE, entname)
		bp.Dirty = true
		return true
	})
	if err != nil {
		return common.NO_INODE, err
	}
	if found == common.NO_INODE {
		return common.NO_INODE, common.ENOENT
	}
	return found, nil
}

// IsEmpty reports whether dir holds nothing but "." and "..".
func IsEmpty(dir *common.Inode) (bool, error) {
	empty := true
	err := Walk(dir, func(name string, _ int) bool {
		if name != "." && name != ".." {
			empty = false
		}
		return empty
	})
	return empty, err
}

// MakeEmpty fills a new directory with its "." and ".." entries.
func MakeEmpty(dir *common.Inode, parent int) error {
	if err := Insert(dir, ".", dir.Inum); err != nil {
		return err
	}
	return Insert(dir, "..", parent)
}
