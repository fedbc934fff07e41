package fs

import (
	"errors"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/dirent"
)

// newNode creates the inode for path with the given mode and enters it in
// its parent directory. New directories also get their "." and ".."
// entries. It returns the parent and the new inode, both referenced.
func (fs *FileSystem) newNode(path string, mode uint16, rdev common.DevNum) (*common.Inode, *common.Inode, error) {
	if err := fs.writable(); err != nil {
		return nil, nil, err
	}

	// Open the parent directory
	dirp, last, err := fs.lastDir(path)
	if err != nil {
		return nil, nil, err
	}
	if err := dirent.CheckName(fs.info, last); err != nil {
		fs.itable.PutInode(dirp)
		return nil, nil, err
	}

	isDir := mode&common.I_TYPE == common.I_DIRECTORY
	now := fs.stamp()

	dirp.Lock()
	fail := func(err error) (*common.Inode, *common.Inode, error) {
		dirp.Unlock()
		fs.itable.PutInode(dirp)
		return nil, nil, err
	}

	if isDir && int(dirp.Nlinks) >= fs.info.Version.LinkMax() {
		return fail(common.EMLINK)
	}

	// Does the new entry already exist?
	if _, err := dirent.Lookup(dirp, last); err == nil {
		return fail(common.EEXIST)
	} else if !errors.Is(err, common.ENOENT) {
		return fail(err)
	}

	rip, err := fs.itable.AllocInode(mode, 0, 0, now)
	if err != nil {
		return fail(err)
	}
	rip.Lock()
	rip.Nlinks = 1
	if rip.IsDevice() {
		rip.Rdev = rdev
	}
	rip.Unlock()

	// Force the inode to disk before making a directory entry to make the
	// system more robust in the face of a crash: an inode with no
	// directory entry is much better than the opposite.
	if err := fs.itable.FlushInode(rip, false); err != nil {
		fs.dropNode(rip)
		return fail(err)
	}

	if err := dirent.Insert(dirp, last, rip.Inum); err != nil {
		// pity, have to free disk inode
		fs.dropNode(rip)
		return fail(err)
	}

	if isDir {
		rip.Lock()
		err = dirent.MakeEmpty(rip, dirp.Inum)
		if err == nil {
			rip.Nlinks = 2 // this accounts for .
		}
		rip.Unlock()
		if err != nil {
			dirent.Remove(dirp, last)
			fs.dropNode(rip)
			return fail(err)
		}
		dirp.Nlinks++ // this accounts for ..
	}

	dirp.Mtime = now
	dirp.Ctime = now
	dirp.Dirty = true
	dirp.Unlock()
	return dirp, rip, nil
}

// dropNode gives back a node that never made it into a directory; with no
// links left the inode table frees it.
func (fs *FileSystem) dropNode(rip *common.Inode) {
	rip.Lock()
	rip.Nlinks = 0
	rip.Dirty = true
	rip.Unlock()
	if err := fs.itable.PutInode(rip); err != nil {
		fs.log.Warn("freeing new inode", "inum", rip.Inum, "err", err)
	}
}

// unlinkPrep fetches the parent directory of path and the inode named by
// its final component. The parent is returned locked for writing.
func (fs *FileSystem) unlinkPrep(path string) (*common.Inode, *common.Inode, string, error) {
	if err := fs.writable(); err != nil {
		return nil, nil, "", err
	}

	// Get the last directory in the path
	dirp, last, err := fs.lastDir(path)
	if err != nil {
		return nil, nil, "", err
	}
	if last == "." || last == ".." {
		fs.itable.PutInode(dirp)
		return nil, nil, "", common.EINVAL
	}

	dirp.Lock()
	inum, err := dirent.Lookup(dirp, last)
	if err != nil {
		dirp.Unlock()
		fs.itable.PutInode(dirp)
		return nil, nil, "", err
	}

	// The last directory exists. Does the file also exist?
	rip, err := fs.itable.GetInode(inum)
	if err != nil {
		dirp.Unlock()
		fs.itable.PutInode(dirp)
		return nil, nil, "", err
	}

	// Do not remove the root
	if rip.Inum == common.ROOT_INODE_NUM {
		dirp.Unlock()
		fs.itable.PutInode(dirp)
		fs.itable.PutInode(rip)
		return nil, nil, "", common.EBUSY
	}

	return dirp, rip, last, nil
}
