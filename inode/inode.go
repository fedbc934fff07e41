// Package inode translates inodes between their on-disk records and memory
// and keeps the table of inodes in use on a mounted device.
package inode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
)

// A slot of the table. Goroutines asking for an inode that is still being
// loaded wait on ready.
type cacheSlot struct {
	inode *common.Inode
	ready chan struct{}
	err   error // set before ready is closed when the load failed

	// set while the last client's put writes back or frees the inode,
	// closed once the slot is gone
	released chan struct{}
}

// Table is the reference counted set of inodes in use on one device. An
// inode read from disk stays in the table while it has clients and is
// written back, or freed when it has no links left, when the last client
// puts it.
type Table struct {
	bcache common.BlockCache
	info   *common.DeviceInfo
	size   int // maximum number of inodes in use, 0 for no limit
	log    *slog.Logger

	m     sync.Mutex
	slots map[int]*cacheSlot
}

func NewTable(bcache common.BlockCache, info *common.DeviceInfo, size int, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		bcache: bcache,
		info:   info,
		size:   size,
		log:    log,
		slots:  make(map[int]*cacheSlot),
	}
}

// GetInode returns inode inum with its count incremented, loading it from
// the device on first use.
func (t *Table) GetInode(inum int) (*common.Inode, error) {
	if inum < 1 || inum > t.info.Inodes {
		return nil, fmt.Errorf("get inode %d: %w", inum, common.EINVAL)
	}

	t.m.Lock()
	slot, ok := t.slots[inum]
	for ok && slot.released != nil {
		released := slot.released
		t.m.Unlock()
		<-released
		t.m.Lock()
		slot, ok = t.slots[inum]
	}
	if ok {
		slot.inode.Count++
		t.m.Unlock()
		<-slot.ready
		if slot.err != nil {
			return nil, slot.err
		}
		return slot.inode, nil
	}
	if t.size > 0 && len(t.slots) >= t.size {
		t.m.Unlock()
		t.log.Warn("inode table overflow", "size", t.size)
		return nil, common.ENFILE
	}

	rip := &common.Inode{
		Bcache:  t.bcache,
		Devinfo: t.info,
		Inum:    inum,
		Count:   1,
	}
	slot = &cacheSlot{inode: rip, ready: make(chan struct{})}
	t.slots[inum] = slot
	t.m.Unlock()

	d, err := ReadInode(t.bcache, t.info, inum)
	if err != nil {
		t.m.Lock()
		slot.err = err
		delete(t.slots, inum)
		t.m.Unlock()
		close(slot.ready)
		return nil, err
	}
	rip.DiskInode = d
	close(slot.ready)
	return rip, nil
}

// DupInode adds a client to an inode the caller already holds.
func (t *Table) DupInode(rip *common.Inode) *common.Inode {
	t.m.Lock()
	rip.Count++
	t.m.Unlock()
	return rip
}

// PutInode drops a client of rip. When the last client goes away an inode
// without links has its zones truncated, its record zeroed and its number
// freed; any other dirty inode is written back to its block.
func (t *Table) PutInode(rip *common.Inode) error {
	if rip == nil {
		return nil
	}

	t.m.Lock()
	rip.Count--
	if rip.Count > 0 {
		t.m.Unlock()
		return nil
	}
	if rip.Count < 0 {
		t.log.Error("inode put too many times", "inum", rip.Inum)
		rip.Count = 0
		t.m.Unlock()
		return nil
	}
	// The slot stays in the table until the inode is on disk, so a new
	// client waits for it instead of reading a stale record.
	released := make(chan struct{})
	slot := t.slots[rip.Inum]
	if slot != nil {
		slot.released = released
	}
	t.m.Unlock()

	err := t.release(rip)

	t.m.Lock()
	if t.slots[rip.Inum] == slot {
		delete(t.slots, rip.Inum)
	}
	t.m.Unlock()
	close(released)
	return err
}

// release writes back or frees an inode nobody holds anymore.
func (t *Table) release(rip *common.Inode) error {
	rip.Lock()
	defer rip.Unlock()

	if rip.Nlinks == 0 && rip.Mode != common.I_NOT_ALLOC {
		return t.free(rip)
	}
	if rip.Dirty {
		if err := WriteInode(t.bcache, t.info, rip.Inum, &rip.DiskInode, false); err != nil {
			return err
		}
		rip.Dirty = false
	}
	return nil
}

// free releases everything an unlinked inode owns.
func (t *Table) free(rip *common.Inode) error {
	err := bmap.Truncate(rip, 0)
	if err != nil {
		t.log.Warn("truncating unlinked inode", "inum", rip.Inum, "err", err)
	}

	rip.DiskInode = common.DiskInode{Mode: common.I_NOT_ALLOC}
	rip.Dirty = false
	if cerr := ClearInode(t.bcache, t.info, rip.Inum); cerr != nil {
		return errors.Join(err, cerr)
	}

	ferr := t.info.AllocTbl.FreeInode(rip.Inum)
	var double *common.DoubleFreeError
	if errors.As(ferr, &double) {
		ferr = nil
	}
	return errors.Join(err, ferr)
}

// FlushInode writes rip back to its block, syncing the device when wait is
// set.
func (t *Table) FlushInode(rip *common.Inode, wait bool) error {
	rip.Lock()
	defer rip.Unlock()

	if !rip.Dirty && !wait {
		return nil
	}
	if err := WriteInode(t.bcache, t.info, rip.Inum, &rip.DiskInode, wait); err != nil {
		return err
	}
	rip.Dirty = false
	return nil
}

// Sync writes every dirty inode in the table to the cache.
func (t *Table) Sync() error {
	t.m.Lock()
	held := make([]*common.Inode, 0, len(t.slots))
	for _, slot := range t.slots {
		select {
		case <-slot.ready:
		default:
			continue // still loading, so nothing to write
		}
		if slot.released != nil {
			continue // written back by its last put
		}
		if slot.err == nil {
			slot.inode.Count++
			held = append(held, slot.inode)
		}
	}
	t.m.Unlock()

	var err error
	for _, rip := range held {
		err = errors.Join(err, t.FlushInode(rip, false), t.PutInode(rip))
	}
	return err
}

// Count returns the number of clients of rip.
func (t *Table) Count(rip *common.Inode) int {
	t.m.Lock()
	defer t.m.Unlock()
	return rip.Count
}

// InUse returns the number of inodes with clients.
func (t *Table) InUse() int {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.slots)
}

// AllocInode allocates a free inode and initializes it with the given mode
// and owner and no links. The caller links it somewhere and puts it; an
// inode put without links is freed again.
func (t *Table) AllocInode(mode, uid, gid uint16, now uint32) (*common.Inode, error) {
	inum, err := t.info.AllocTbl.AllocInode()
	if err != nil {
		return nil, err
	}

	rip, err := t.GetInode(inum)
	if err != nil {
		t.info.AllocTbl.FreeInode(inum)
		return nil, err
	}

	rip.Lock()
	if rip.Mode != common.I_NOT_ALLOC || rip.Nlinks != 0 {
		t.log.Warn("allocated inode was not free on disk", "inum", inum, "mode", rip.Mode, "nlinks", rip.Nlinks)
	}
	rip.DiskInode = common.DiskInode{
		Mode:  mode,
		Uid:   uid,
		Gid:   gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	rip.Dirty = true
	rip.Unlock()

	return rip, nil
}
