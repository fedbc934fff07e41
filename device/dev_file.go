package device

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// FileDevice is a device backed by an image file or a block special file,
// accessed with positioned reads and writes.
type FileDevice struct {
	filename string
	size     int64

	m  sync.RWMutex // guards fd against Close
	fd int
}

// NewFileDevice opens filename for reading and writing, or for reading
// only when readOnly is set.
func NewFileDevice(filename string, readOnly bool) (*FileDevice, error) {
	flags := unix.O_RDWR
	if readOnly {
		flags = unix.O_RDONLY
	}
	fd, err := unix.Open(filename, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}

	size, err := unix.Seek(fd, 0, io.SeekEnd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size of %s: %w", filename, err)
	}

	return &FileDevice{filename: filename, size: size, fd: fd}, nil
}

// CreateFileDevice creates (or truncates) an image file of the given size.
func CreateFileDevice(filename string, size int64) (*FileDevice, error) {
	fd, err := unix.Open(filename, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("resize %s: %w", filename, err)
	}
	return &FileDevice{filename: filename, size: size, fd: fd}, nil
}

func (dev *FileDevice) Name() string { return dev.filename }

func (dev *FileDevice) Size() int64 { return dev.size }

func (dev *FileDevice) Read(buf []byte, pos int64) error {
	if err := checkRange(dev.size, len(buf), pos); err != nil {
		return err
	}

	dev.m.RLock()
	defer dev.m.RUnlock()
	if dev.fd < 0 {
		return ErrClosed
	}

	for done := 0; done < len(buf); {
		n, err := unix.Pread(dev.fd, buf[done:], pos+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		done += n
	}
	return nil
}

func (dev *FileDevice) Write(buf []byte, pos int64) error {
	if err := checkRange(dev.size, len(buf), pos); err != nil {
		return err
	}

	dev.m.RLock()
	defer dev.m.RUnlock()
	if dev.fd < 0 {
		return ErrClosed
	}

	for done := 0; done < len(buf); {
		n, err := unix.Pwrite(dev.fd, buf[done:], pos+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		done += n
	}
	return nil
}

func (dev *FileDevice) Sync() error {
	dev.m.RLock()
	defer dev.m.RUnlock()
	if dev.fd < 0 {
		return ErrClosed
	}
	return unix.Fsync(dev.fd)
}

func (dev *FileDevice) Close() error {
	dev.m.Lock()
	defer dev.m.Unlock()
	if dev.fd < 0 {
		return ErrClosed
	}
	err := unix.Close(dev.fd)
	dev.fd = -1
	return err
}
