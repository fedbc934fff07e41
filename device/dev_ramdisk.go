package device

import "sync"

// RamdiskDevice is a device held entirely in memory.
type RamdiskDevice struct {
	m      sync.RWMutex
	data   []byte
	closed bool
}

// NewRamdiskDevice wraps data as a device. The slice is used in place, so
// the caller can inspect the image after writes.
func NewRamdiskDevice(data []byte) *RamdiskDevice {
	return &RamdiskDevice{data: data}
}

func (dev *RamdiskDevice) Read(buf []byte, pos int64) error {
	dev.m.RLock()
	defer dev.m.RUnlock()
	if dev.closed {
		return ErrClosed
	}
	if err := checkRange(int64(len(dev.data)), len(buf), pos); err != nil {
		return err
	}
	copy(buf, dev.data[pos:])
	return nil
}

func (dev *RamdiskDevice) Write(buf []byte, pos int64) error {
	dev.m.Lock()
	defer dev.m.Unlock()
	if dev.closed {
		return ErrClosed
	}
	if err := checkRange(int64(len(dev.data)), len(buf), pos); err != nil {
		return err
	}
	copy(dev.data[pos:], buf)
	return nil
}

func (dev *RamdiskDevice) Sync() error { return nil }

func (dev *RamdiskDevice) Close() error {
	dev.m.Lock()
	defer dev.m.Unlock()
	if dev.closed {
		return ErrClosed
	}
	dev.closed = true
	return nil
}

func (dev *RamdiskDevice) Size() int64 { return int64(len(dev.data)) }

// Bytes returns a copy of the current contents of the device.
func (dev *RamdiskDevice) Bytes() []byte {
	dev.m.RLock()
	defer dev.m.RUnlock()
	out := make([]byte, len(dev.data))
	copy(out, dev.data)
	return out
}
