// Package file gives byte granular access to the contents of an inode.
package file

import (
	"errors"
	"io"
	"sync"

	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
)

var ErrClosed = errors.New("file already closed")

// Inodes is the part of the inode table a File needs.
type Inodes interface {
	FlushInode(rip *common.Inode, wait bool) error
	PutInode(rip *common.Inode) error
}

// File is an open inode. It owns one reference to the inode, given back by
// Close. Reads share the inode's lock, while writes and truncation hold it
// exclusively.
type File struct {
	rip    *common.Inode
	itable Inodes
	now    func() uint32

	m      sync.Mutex
	closed bool
}

var _ io.ReaderAt = (*File)(nil)
var _ io.WriterAt = (*File)(nil)

func New(rip *common.Inode, itable Inodes, now func() uint32) *File {
	return &File{rip: rip, itable: itable, now: now}
}

func (f *File) Inode() *common.Inode { return f.rip }

func (f *File) check() error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.closed {
		return ErrClosed
	}
	return nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, common.EINVAL
	}

	f.rip.RLock()
	defer f.rip.RUnlock()
	if f.rip.IsDirectory() {
		return 0, common.EISDIR
	}

	n, err := Read(f.rip, b, off)
	if err == nil && n < len(b) {
		err = io.EOF
	}
	return n, err
}

// WriteAt implements io.WriterAt.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}

	f.rip.Lock()
	defer f.rip.Unlock()
	if f.rip.IsDirectory() {
		return 0, common.EISDIR
	}
	return Write(f.rip, b, off, f.now())
}

func (f *File) Truncate(size int64) error {
	if err := f.check(); err != nil {
		return err
	}

	f.rip.Lock()
	defer f.rip.Unlock()
	if f.rip.IsDirectory() {
		return common.EISDIR
	}
	if err := bmap.Truncate(f.rip, size); err != nil {
		return err
	}
	now := f.now()
	f.rip.Mtime = now
	f.rip.Ctime = now
	return nil
}

func (f *File) Size() int64 {
	f.rip.RLock()
	defer f.rip.RUnlock()
	return int64(f.rip.Size)
}

// Sync writes the file's data and inode to the device.
func (f *File) Sync() error {
	if err := f.check(); err != nil {
		return err
	}
	if err := f.rip.Bcache.Flush(); err != nil {
		return err
	}
	return f.itable.FlushInode(f.rip, true)
}

// Close pushes the inode back to the table and drops the reference.
func (f *File) Close() error {
	f.m.Lock()
	if f.closed {
		f.m.Unlock()
		return ErrClosed
	}
	f.closed = true
	f.m.Unlock()

	err := f.itable.FlushInode(f.rip, false)
	return errors.Join(err, f.itable.PutInode(f.rip))
}
