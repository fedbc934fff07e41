package fs

import (
	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/file"
	"github.com/EVAcacia/minixfs/super"
)

// RootInode returns a new reference to the root directory.
func (fs *FileSystem) RootInode() *common.Inode {
	return fs.itable.DupInode(fs.root)
}

// GetInode returns a reference to inode inum, which the caller gives back
// with PutInode.
func (fs *FileSystem) GetInode(inum int) (*common.Inode, error) {
	return fs.itable.GetInode(inum)
}

func (fs *FileSystem) PutInode(rip *common.Inode) error {
	return fs.itable.PutInode(rip)
}

// ReadFileBlock fills buf, which must be one block long, with logical block
// lblock of rip. Holes read as zeroes.
func (fs *FileSystem) ReadFileBlock(rip *common.Inode, lblock int, buf []byte) error {
	if len(buf) != fs.info.Blocksize {
		return common.EINVAL
	}
	rip.RLock()
	defer rip.RUnlock()

	bnum, err := bmap.ReadMap(rip, lblock)
	if err != nil {
		return err
	}
	if bnum == common.NO_BLOCK {
		clear(buf)
		return nil
	}
	bp, err := fs.cache.GetBlock(bnum, common.FULL_DATA_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	copy(buf, bp.Data)
	return fs.cache.PutBlock(bp, common.FULL_DATA_BLOCK)
}

// WriteFileBlock stores data at the start of logical block lblock of rip,
// allocating it when needed, and grows the file to cover it.
func (fs *FileSystem) WriteFileBlock(rip *common.Inode, lblock int, data []byte) error {
	if err := fs.writable(); err != nil {
		return err
	}
	if len(data) > fs.info.Blocksize {
		return common.EINVAL
	}
	rip.Lock()
	defer rip.Unlock()

	_, err := file.Write(rip, data, int64(lblock)*int64(fs.info.Blocksize), fs.stamp())
	return err
}

// Truncate sets the size of rip, freeing the zones past the new end.
func (fs *FileSystem) Truncate(rip *common.Inode, size int64) error {
	if err := fs.writable(); err != nil {
		return err
	}
	rip.Lock()
	defer rip.Unlock()

	if err := bmap.Truncate(rip, size); err != nil {
		return err
	}
	now := fs.stamp()
	rip.Mtime = now
	rip.Ctime = now
	return nil
}

// SyncInode writes rip to the cache. With wait the file's data is written
// first and the inode is on stable storage when it returns.
func (fs *FileSystem) SyncInode(rip *common.Inode, wait bool) error {
	if fs.super.State() == super.ReadOnly {
		return nil
	}
	if wait {
		if err := fs.cache.Flush(); err != nil {
			return err
		}
	}
	return fs.itable.FlushInode(rip, wait)
}
