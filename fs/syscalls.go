package fs

import (
	"errors"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/dirent"
	"github.com/EVAcacia/minixfs/file"
)

// Create makes a regular file at path and returns a reference to it.
func (fs *FileSystem) Create(path string, mode uint16) (*common.Inode, error) {
	bits := common.I_REGULAR | mode&common.ALL_MODES
	dirp, rip, err := fs.newNode(path, bits, 0)
	if err != nil {
		return nil, err
	}
	fs.itable.PutInode(dirp)
	return rip, nil
}

// Mkdir makes a directory at path holding "." and "..".
func (fs *FileSystem) Mkdir(path string, mode uint16) error {
	bits := common.I_DIRECTORY | mode&common.ALL_MODES
	dirp, rip, err := fs.newNode(path, bits, 0)
	if err != nil {
		return err
	}
	return errors.Join(fs.itable.PutInode(rip), fs.itable.PutInode(dirp))
}

// Mknod makes a special file at path. mode carries the file type, which
// must be a character or block special or a named pipe.
func (fs *FileSystem) Mknod(path string, mode uint16, dev common.DevNum) error {
	switch mode & common.I_TYPE {
	case common.I_CHAR_SPECIAL, common.I_BLOCK_SPECIAL, common.I_NAMED_PIPE:
	default:
		return common.EINVAL
	}
	dirp, rip, err := fs.newNode(path, mode&(common.I_TYPE|common.ALL_MODES), dev)
	if err != nil {
		return err
	}
	return errors.Join(fs.itable.PutInode(rip), fs.itable.PutInode(dirp))
}

// Link enters the file at oldpath into the directory as newpath.
func (fs *FileSystem) Link(oldpath, newpath string) error {
	if err := fs.writable(); err != nil {
		return err
	}

	// Fetch the file to be linked
	rip, err := fs.LookupPath(oldpath)
	if err != nil {
		return err
	}
	defer fs.itable.PutInode(rip)

	if rip.IsDirectory() {
		return common.EPERM
	}
	rip.RLock()
	nlinks := int(rip.Nlinks)
	rip.RUnlock()
	// Check if the file has too many links
	if nlinks >= fs.info.Version.LinkMax() {
		return common.EMLINK
	}

	// Grab the new parent directory
	dirp, last, err := fs.lastDir(newpath)
	if err != nil {
		return err
	}
	defer fs.itable.PutInode(dirp)

	now := fs.stamp()
	dirp.Lock()
	err = dirent.Insert(dirp, last, rip.Inum)
	if err == nil {
		dirp.Mtime = now
		dirp.Ctime = now
		dirp.Dirty = true
	}
	dirp.Unlock()
	if err != nil {
		return err
	}

	// everything was successful, register the linking
	rip.Lock()
	rip.Nlinks++
	rip.Ctime = now
	rip.Dirty = true
	rip.Unlock()
	return nil
}

// Unlink removes the entry path. The file itself is freed when its last
// link and its last reference are gone.
func (fs *FileSystem) Unlink(path string) error {
	dirp, rip, last, err := fs.unlinkPrep(path)
	if err != nil {
		return err
	}

	if rip.IsDirectory() {
		err = common.EISDIR
	} else {
		_, err = dirent.Remove(dirp, last)
	}
	now := fs.stamp()
	if err == nil {
		dirp.Mtime = now
		dirp.Ctime = now
		dirp.Dirty = true
	}
	dirp.Unlock()

	if err == nil {
		rip.Lock()
		rip.Nlinks--
		rip.Ctime = now
		rip.Dirty = true
		rip.Unlock()
	}

	// Regardless, return both inodes
	return errors.Join(err, fs.itable.PutInode(rip), fs.itable.PutInode(dirp))
}

// Rmdir removes the empty directory path.
func (fs *FileSystem) Rmdir(path string) error {
	dirp, rip, last, err := fs.unlinkPrep(path)
	if err != nil {
		return err
	}
	err = fs.rmdir(dirp, rip, last)
	dirp.Unlock()
	return errors.Join(err, fs.itable.PutInode(rip), fs.itable.PutInode(dirp))
}

// Must be called with dirp locked.
func (fs *FileSystem) rmdir(dirp, rip *common.Inode, last string) error {
	if !rip.IsDirectory() {
		return common.ENOTDIR
	}

	// Make sure no one else is using this directory
	if fs.itable.Count(rip) > 1 {
		return common.EBUSY
	}

	rip.Lock()
	defer rip.Unlock()

	// Check to see if the directory is empty
	empty, err := dirent.IsEmpty(rip)
	if err != nil {
		return err
	}
	if !empty {
		return common.ENOTEMPTY
	}

	// Actually try to unlink from the parent
	if _, err := dirent.Remove(dirp, last); err != nil {
		return err
	}

	// We hold the inodes for both directories, so unlink . and .. from the
	// directory.
	dirent.Remove(rip, "..")
	dirent.Remove(rip, ".")

	now := fs.stamp()
	rip.Nlinks = 0
	rip.Ctime = now
	rip.Dirty = true
	dirp.Nlinks--
	dirp.Mtime = now
	dirp.Ctime = now
	dirp.Dirty = true
	return nil
}

// Open returns the regular file at path opened for reading and writing.
func (fs *FileSystem) Open(path string) (*file.File, error) {
	rip, err := fs.LookupPath(path)
	if err != nil {
		return nil, err
	}
	if rip.IsDirectory() {
		fs.itable.PutInode(rip)
		return nil, common.EISDIR
	}
	return fs.OpenInode(rip), nil
}

// OpenInode wraps a referenced inode in a File, which takes over the
// reference.
func (fs *FileSystem) OpenInode(rip *common.Inode) *file.File {
	return file.New(rip, fs.itable, fs.stamp)
}
