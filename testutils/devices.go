package testutils

import (
	"errors"
	"sync"
	"testing"

	"github.com/EVAcacia/minixfs/device"
)

// ErrInjected is returned by a FailingDevice for the blocks it was told to
// fail.
var ErrInjected = errors.New("injected device failure")

//////////////////////////////////////////////////////////////////////////////
// A ramdisk device with a certain number of blocks with a given block size.
// Each block is filled with the bytes of the block number, so each byte in
// the first block contains a 0, the next block contains all 1, etc.
//////////////////////////////////////////////////////////////////////////////

func NewTestDevice(test testing.TB, bsize, blocks int) *device.RamdiskDevice {
	test.Helper()
	data := make([]byte, bsize*blocks)
	for i := 0; i < blocks; i++ {
		for j := 0; j < bsize; j++ {
			data[(i*bsize)+j] = byte(i)
		}
	}
	return device.NewRamdiskDevice(data)
}

// NewBlankDevice returns a zero filled ramdisk of blocks * bsize bytes.
func NewBlankDevice(bsize, blocks int) *device.RamdiskDevice {
	return device.NewRamdiskDevice(make([]byte, bsize*blocks))
}

//////////////////////////////////////////////////////////////////////////////
// A device that blocks on any read operation. It notifies of the read using
// the HasBlocked channel and waits to be unblocked on the Unblock channel
//////////////////////////////////////////////////////////////////////////////

type BlockingDevice struct {
	*device.RamdiskDevice
	HasBlocked chan int64
	Unblock    chan bool
}

func NewBlockingDevice(rdev *device.RamdiskDevice) *BlockingDevice {
	return &BlockingDevice{
		rdev,
		make(chan int64),
		make(chan bool),
	}
}

func (dev *BlockingDevice) Read(buf []byte, pos int64) error {
	dev.HasBlocked <- pos
	<-dev.Unblock
	return dev.RamdiskDevice.Read(buf, pos)
}

//////////////////////////////////////////////////////////////////////////////
// A device that fails reads or writes of chosen byte ranges and counts the
// transfers it performs.
//////////////////////////////////////////////////////////////////////////////

type FailingDevice struct {
	*device.RamdiskDevice

	m          sync.Mutex
	bsize      int64
	failRead   map[int64]bool // block numbers whose reads fail
	failWrite  map[int64]bool // block numbers whose writes fail
	failSync   bool
	Reads      int
	Writes     int
	Syncs      int
	WriteOrder []int64 // block numbers in the order they were written
}

func NewFailingDevice(rdev *device.RamdiskDevice, bsize int) *FailingDevice {
	return &FailingDevice{
		RamdiskDevice: rdev,
		bsize:         int64(bsize),
		failRead:      make(map[int64]bool),
		failWrite:     make(map[int64]bool),
	}
}

func (dev *FailingDevice) FailRead(block int64, fail bool) {
	dev.m.Lock()
	defer dev.m.Unlock()
	dev.failRead[block] = fail
}

func (dev *FailingDevice) FailWrite(block int64, fail bool) {
	dev.m.Lock()
	defer dev.m.Unlock()
	dev.failWrite[block] = fail
}

func (dev *FailingDevice) FailSync(fail bool) {
	dev.m.Lock()
	defer dev.m.Unlock()
	dev.failSync = fail
}

// Reset clears the transfer counters.
func (dev *FailingDevice) Reset() {
	dev.m.Lock()
	defer dev.m.Unlock()
	dev.Reads, dev.Writes, dev.Syncs = 0, 0, 0
	dev.WriteOrder = nil
}

func (dev *FailingDevice) Read(buf []byte, pos int64) error {
	dev.m.Lock()
	dev.Reads++
	fail := dev.failRead[pos/dev.bsize]
	dev.m.Unlock()
	if fail {
		return ErrInjected
	}
	return dev.RamdiskDevice.Read(buf, pos)
}

func (dev *FailingDevice) Write(buf []byte, pos int64) error {
	dev.m.Lock()
	dev.Writes++
	dev.WriteOrder = append(dev.WriteOrder, pos/dev.bsize)
	fail := dev.failWrite[pos/dev.bsize]
	dev.m.Unlock()
	if fail {
		return ErrInjected
	}
	return dev.RamdiskDevice.Write(buf, pos)
}

func (dev *FailingDevice) Sync() error {
	dev.m.Lock()
	dev.Syncs++
	fail := dev.failSync
	dev.m.Unlock()
	if fail {
		return ErrInjected
	}
	return nil
}
