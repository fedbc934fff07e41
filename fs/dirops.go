package fs

import (
	"strings"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/dirent"
)

// DirEntry is one live entry of a directory.
type DirEntry struct {
	Name string
	Inum int
}

func components(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// Lookup returns a reference to the inode called name in dir.
func (fs *FileSystem) Lookup(dir *common.Inode, name string) (*common.Inode, error) {
	if !dir.IsDirectory() {
		return nil, common.ENOTDIR
	}
	dir.RLock()
	inum, err := dirent.Lookup(dir, name)
	dir.RUnlock()
	if err != nil {
		return nil, err
	}
	return fs.itable.GetInode(inum)
}

// LookupPath resolves a slash separated path from the root directory.
func (fs *FileSystem) LookupPath(path string) (*common.Inode, error) {
	rip := fs.RootInode()
	for _, name := range components(path) {
		next, err := fs.Lookup(rip, name)
		fs.itable.PutInode(rip)
		if err != nil {
			return nil, err
		}
		rip = next
	}
	return rip, nil
}

// lastDir returns the directory that holds the final component of path,
// along with that component.
func (fs *FileSystem) lastDir(path string) (*common.Inode, string, error) {
	comps := components(path)
	if len(comps) == 0 {
		return nil, "", common.EINVAL
	}
	dirp, err := fs.LookupPath(strings.Join(comps[:len(comps)-1], "/"))
	if err != nil {
		return nil, "", err
	}
	if !dirp.IsDirectory() {
		fs.itable.PutInode(dirp)
		return nil, "", common.ENOTDIR
	}
	return dirp, comps[len(comps)-1], nil
}

// ReadDir lists the live entries of dir in on-disk order.
func (fs *FileSystem) ReadDir(dir *common.Inode) ([]DirEntry, error) {
	dir.RLock()
	defer dir.RUnlock()

	var entries []DirEntry
	err := dirent.Walk(dir, func(name string, inum int) bool {
		entries = append(entries, DirEntry{Name: name, Inum: inum})
		return true
	})
	return entries, err
}
