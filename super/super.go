// Package super manages the superblock and the allocation bitmaps of a
// mounted device.
package super

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/EVAcacia/minixfs/alloctbl"
	"github.com/EVAcacia/minixfs/common"
)

type State int

const (
	Unmounted State = iota
	Mounting
	Mounted
	ReadOnly
	Unmounting
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Mounting:
		return "mounting"
	case Mounted:
		return "mounted"
	case ReadOnly:
		return "read-only"
	case Unmounting:
		return "unmounting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats summarizes the space on a mounted device.
type Stats struct {
	Version       common.Version
	BlockSize     int
	TotalBlocks   int
	FreeBlocks    int
	TotalInodes   int
	FreeInodes    int
	MaxNameLength int
}

// Superblock is the in-memory superblock of a mounted device. It owns the
// bitmaps and is the allocator of its device. One mutex serializes every
// allocation and guards the mount state.
type Superblock struct {
	m sync.Mutex

	sp      *Disk_Superblock
	Devinfo *common.DeviceInfo
	cache   common.BlockCache
	log     *slog.Logger

	state       State
	mount_state uint16 // the state word found on disk at mount time

	sbuf      *common.CacheBlock // block holding the superblock, held until unmount
	soff      int                // offset of the superblock within sbuf
	imap_bufs []*common.CacheBlock
	zmap_bufs []*common.CacheBlock
	tbl       *alloctbl.Table
}

var _ common.AllocTbl = (*Superblock)(nil)

// Mount reads and validates the superblock through cache, loads both
// bitmaps and marks the file system as in use when mounted read-write. On
// failure every block it acquired is released.
func Mount(cache common.BlockCache, readOnly bool, log *slog.Logger) (*Superblock, error) {
	if log == nil {
		log = slog.Default()
	}
	sb := &Superblock{cache: cache, log: log, state: Mounting}
	if err := sb.load(); err != nil {
		sb.release()
		sb.state = Unmounted
		return nil, err
	}

	v := sb.Devinfo.Version
	if v.HasState() {
		sb.mount_state = sb.sp.State
	} else {
		sb.mount_state = common.MINIX_VALID_FS
	}

	// bit 0 of each map stands for "no inode" and "no zone"
	sb.tbl.Imap.Reserve(0)
	sb.tbl.Zmap.Reserve(0)

	if readOnly {
		sb.state = ReadOnly
	} else {
		sb.state = Mounted
		if v.HasState() {
			sb.sp.State &^= common.MINIX_VALID_FS
			sb.putState()
		}
		if err := sb.syncLocked(true); err != nil {
			sb.release()
			sb.state = Unmounted
			return nil, err
		}
	}

	sb.warnState("mounting")
	sb.log.Info("mounted file system",
		"version", v.String(),
		"blocksize", sb.Devinfo.Blocksize,
		"inodes", sb.Devinfo.Inodes,
		"zones", sb.Devinfo.Zones,
		"readonly", readOnly)
	return sb, nil
}

func (sb *Superblock) load() error {
	bs := sb.cache.Blocksize()
	bnum := common.SUPER_OFFSET / bs
	sb.soff = common.SUPER_OFFSET % bs

	sbuf, err := sb.cache.GetBlock(bnum, common.SUPER_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	sb.sbuf = sbuf

	sp, v, namelen, err := Decode(sbuf.Data[sb.soff : sb.soff+common.SUPER_SIZE])
	if err != nil {
		return err
	}
	if int(sp.Block_size) != bs {
		return &common.CorruptSuperblockError{Reason: fmt.Sprintf("block size %d does not match device block size %d", sp.Block_size, bs)}
	}
	info, err := NewDeviceInfo(sp, v, namelen)
	if err != nil {
		return err
	}
	sb.sp = sp
	sb.Devinfo = info

	// Read in the bitmaps, the inode map starts right after the superblock
	bnum = common.START_BLOCK
	for i := 0; i < info.ImapBlocks; i++ {
		cb, err := sb.cache.GetBlock(bnum+i, common.MAP_BLOCK, common.NORMAL)
		if err != nil {
			return err
		}
		sb.imap_bufs = append(sb.imap_bufs, cb)
	}
	bnum += info.ImapBlocks
	for i := 0; i < info.ZmapBlocks; i++ {
		cb, err := sb.cache.GetBlock(bnum+i, common.MAP_BLOCK, common.NORMAL)
		if err != nil {
			return err
		}
		sb.zmap_bufs = append(sb.zmap_bufs, cb)
	}

	imap, err := alloctbl.NewBitmap(common.IMAP, data(sb.imap_bufs), alloctbl.InodeBits(info))
	if err != nil {
		return &common.CorruptSuperblockError{Reason: err.Error()}
	}
	zmap, err := alloctbl.NewBitmap(common.ZMAP, data(sb.zmap_bufs), alloctbl.ZoneBits(info))
	if err != nil {
		return &common.CorruptSuperblockError{Reason: err.Error()}
	}
	if sb.tbl, err = alloctbl.NewTable(imap, zmap, info, sb.log); err != nil {
		return &common.CorruptSuperblockError{Reason: err.Error()}
	}

	info.AllocTbl = sb
	return nil
}

func data(bufs []*common.CacheBlock) [][]byte {
	out := make([][]byte, len(bufs))
	for i, cb := range bufs {
		out[i] = cb.Data
	}
	return out
}

// release gives back every block held by the superblock.
func (sb *Superblock) release() {
	for _, cb := range sb.zmap_bufs {
		sb.cache.PutBlock(cb, common.MAP_BLOCK)
	}
	for _, cb := range sb.imap_bufs {
		sb.cache.PutBlock(cb, common.MAP_BLOCK)
	}
	if sb.sbuf != nil {
		sb.cache.PutBlock(sb.sbuf, common.SUPER_BLOCK)
	}
	sb.zmap_bufs = nil
	sb.imap_bufs = nil
	sb.sbuf = nil
}

func (sb *Superblock) putState() {
	binary.LittleEndian.PutUint16(sb.sbuf.Data[sb.soff+offState:], sb.sp.State)
	sb.sbuf.Dirty = true
}

func (sb *Superblock) warnState(op string) {
	if sb.mount_state&common.MINIX_VALID_FS == 0 {
		sb.log.Warn(op + " unchecked file system, running fsck is recommended")
	} else if sb.mount_state&common.MINIX_ERROR_FS != 0 {
		sb.log.Warn(op + " file system with errors, running fsck is recommended")
	}
}

func (sb *Superblock) State() State {
	sb.m.Lock()
	defer sb.m.Unlock()
	return sb.state
}

// MountState returns the state word saved at mount time, which is written
// back on a clean unmount.
func (sb *Superblock) MountState() uint16 {
	sb.m.Lock()
	defer sb.m.Unlock()
	return sb.mount_state
}

func (sb *Superblock) Disk() Disk_Superblock {
	sb.m.Lock()
	defer sb.m.Unlock()
	return *sb.sp
}

// Remount switches between read-only and read-write. Asking for the
// current mode does nothing.
func (sb *Superblock) Remount(readOnly bool) error {
	sb.m.Lock()
	defer sb.m.Unlock()

	if sb.state != Mounted && sb.state != ReadOnly {
		return fmt.Errorf("remount of %v file system: %w", sb.state, common.EINVAL)
	}
	if readOnly == (sb.state == ReadOnly) {
		return nil
	}

	v := sb.Devinfo.Version
	if readOnly {
		// Mounting a rw partition read-only
		if v.HasState() {
			sb.sp.State = sb.mount_state
			sb.putState()
		}
		if err := sb.syncLocked(true); err != nil {
			return err
		}
		sb.state = ReadOnly
		return nil
	}

	// Mount a partition which is read-only, read-write
	// errors found while read-only survive the switch
	errs := sb.mount_state & common.MINIX_ERROR_FS
	if v.HasState() {
		sb.mount_state = sb.sp.State | errs
		sb.sp.State = sb.mount_state &^ common.MINIX_VALID_FS
		sb.putState()
	} else {
		sb.mount_state = common.MINIX_VALID_FS | errs
	}
	if err := sb.syncLocked(true); err != nil {
		return err
	}
	sb.state = Mounted
	sb.warnState("remounting")
	return nil
}

// Sync writes the superblock and the changed bitmap blocks. With wait the
// device is synced as well.
func (sb *Superblock) Sync(wait bool) error {
	sb.m.Lock()
	defer sb.m.Unlock()
	switch sb.state {
	case Mounted:
		return sb.syncLocked(wait)
	case ReadOnly:
		return nil
	}
	return fmt.Errorf("sync of %v file system: %w", sb.state, common.EINVAL)
}

func (sb *Superblock) syncLocked(wait bool) error {
	maps := []struct {
		bm   *alloctbl.Bitmap
		bufs []*common.CacheBlock
	}{
		{sb.tbl.Imap, sb.imap_bufs},
		{sb.tbl.Zmap, sb.zmap_bufs},
	}
	for _, m := range maps {
		for _, i := range m.bm.DirtyBlocks() {
			cb := m.bufs[i]
			m.bm.Block(i, cb.Data)
			cb.Dirty = true
			if err := sb.cache.FlushBlock(cb, false); err != nil {
				return err
			}
			m.bm.CleanBlock(i)
		}
	}
	return sb.cache.FlushBlock(sb.sbuf, wait)
}

// Unmount releases the superblock's blocks. A read-write file system gets
// its saved mount state back and is written out first.
func (sb *Superblock) Unmount() error {
	sb.m.Lock()
	defer sb.m.Unlock()

	if sb.state != Mounted && sb.state != ReadOnly {
		return fmt.Errorf("unmount of %v file system: %w", sb.state, common.EINVAL)
	}
	prev := sb.state
	sb.state = Unmounting

	var err error
	if prev == Mounted {
		if sb.Devinfo.Version.HasState() {
			sb.sp.State = sb.mount_state
			sb.putState()
		}
		err = sb.syncLocked(true)
	}
	sb.release()
	sb.state = Unmounted
	return err
}

// MarkError records that an inconsistency was found. The error flag is
// kept on unmount, so the next mount recommends running fsck.
func (sb *Superblock) MarkError() {
	sb.m.Lock()
	defer sb.m.Unlock()
	if sb.mount_state&common.MINIX_ERROR_FS != 0 {
		return
	}
	sb.mount_state |= common.MINIX_ERROR_FS
	if sb.state == Mounted && sb.Devinfo.Version.HasState() {
		sb.sp.State |= common.MINIX_ERROR_FS
		sb.putState()
	}
	sb.log.Warn("file system marked as having errors")
}

// Statistics reports the size and free space of the device.
func (sb *Superblock) Statistics() Stats {
	sb.m.Lock()
	defer sb.m.Unlock()
	info := sb.Devinfo
	ifree, zfree := sb.tbl.FreeCounts()
	return Stats{
		Version:       info.Version,
		BlockSize:     info.Blocksize,
		TotalBlocks:   (info.Zones - info.Firstdatazone) << info.Scale,
		FreeBlocks:    zfree << info.Scale,
		TotalInodes:   info.Inodes,
		FreeInodes:    ifree,
		MaxNameLength: info.NameLen,
	}
}

func (sb *Superblock) writable() error {
	switch sb.state {
	case Mounted:
		return nil
	case ReadOnly:
		return common.EROFS
	}
	return fmt.Errorf("%v file system: %w", sb.state, common.EINVAL)
}

func (sb *Superblock) AllocInode() (int, error) {
	sb.m.Lock()
	defer sb.m.Unlock()
	if err := sb.writable(); err != nil {
		return common.NO_INODE, err
	}
	return sb.tbl.AllocInode()
}

func (sb *Superblock) AllocZone(zstart int) (int, error) {
	sb.m.Lock()
	defer sb.m.Unlock()
	if err := sb.writable(); err != nil {
		return common.NO_ZONE, err
	}
	return sb.tbl.AllocZone(zstart)
}

// FreeInode frees an inode number. A number that is already free is
// logged and reported with a DoubleFreeError, and marks the file system as
// having errors.
func (sb *Superblock) FreeInode(inum int) error {
	sb.m.Lock()
	defer sb.m.Unlock()
	if err := sb.writable(); err != nil {
		return err
	}
	err := sb.tbl.FreeInode(inum)
	sb.checkFree(err, "free inode", inum)
	return err
}

// FreeZone frees a data zone, with the same double free handling as
// FreeInode.
func (sb *Superblock) FreeZone(znum int) error {
	sb.m.Lock()
	defer sb.m.Unlock()
	if err := sb.writable(); err != nil {
		return err
	}
	err := sb.tbl.FreeZone(znum)
	sb.checkFree(err, "free zone", znum)
	return err
}

// Must be called with sb.m held.
func (sb *Superblock) checkFree(err error, op string, n int) {
	if err == nil {
		return
	}
	var double *common.DoubleFreeError
	if errors.As(err, &double) {
		sb.log.Warn(op+": bit already cleared", "number", n, "bit", double.Bit)
	} else {
		sb.log.Warn(op+" failed", "number", n, "err", err)
	}
	if sb.mount_state&common.MINIX_ERROR_FS == 0 {
		sb.mount_state |= common.MINIX_ERROR_FS
		if sb.Devinfo.Version.HasState() {
			sb.sp.State |= common.MINIX_ERROR_FS
			sb.putState()
		}
	}
}

// InodeAllocated reports whether inode inum is marked in the inode map.
func (sb *Superblock) InodeAllocated(inum int) bool {
	sb.m.Lock()
	defer sb.m.Unlock()
	return sb.tbl.Imap.IsSet(inum)
}

// ZoneAllocated reports whether data zone z is marked in the zone map.
func (sb *Superblock) ZoneAllocated(z int) bool {
	sb.m.Lock()
	defer sb.m.Unlock()
	return sb.tbl.Zmap.IsSet(z - (sb.Devinfo.Firstdatazone - 1))
}
