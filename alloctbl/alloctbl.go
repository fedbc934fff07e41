// Package alloctbl allocates inode and zone numbers from the bitmaps of a
// device.
package alloctbl

import (
	"fmt"
	"log/slog"

	"github.com/EVAcacia/minixfs/common"
)

// Table translates between inode/zone numbers and bits of the two maps and
// remembers where the next search should start. It does no locking: the
// owner of the table serializes every call.
type Table struct {
	Imap *Bitmap
	Zmap *Bitmap

	firstdatazone int
	zones         int
	inodes        int

	i_search int // start searching for unallocated inodes here
	z_search int // start searching for unallocated zones here

	log *slog.Logger
}

// NewTable wraps the maps of a device described by info.
func NewTable(imap, zmap *Bitmap, info *common.DeviceInfo, log *slog.Logger) (*Table, error) {
	if imap.Bits() != info.Inodes+1 {
		return nil, fmt.Errorf("inode map holds %d bits, device has %d inodes", imap.Bits(), info.Inodes)
	}
	if zmap.Bits() != ZoneBits(info) {
		return nil, fmt.Errorf("zone map holds %d bits, device has %d data zones", zmap.Bits(), info.Zones-info.Firstdatazone)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		Imap:          imap,
		Zmap:          zmap,
		firstdatazone: info.Firstdatazone,
		zones:         info.Zones,
		inodes:        info.Inodes,
		log:           log,
	}, nil
}

// InodeBits is the number of bits of the inode map naming an inode,
// counting the reserved bit 0.
func InodeBits(info *common.DeviceInfo) int {
	return info.Inodes + 1
}

// ZoneBits is the number of bits of the zone map naming a zone, counting
// the reserved bit 0.
func ZoneBits(info *common.DeviceInfo) int {
	return info.Zones - (info.Firstdatazone - 1)
}

// AllocInode allocates a free inode number.
func (t *Table) AllocInode() (int, error) {
	b, err := t.Imap.Alloc(t.i_search)
	if err != nil {
		t.log.Warn("Out of i-nodes on device")
		return common.NO_INODE, err
	}
	t.i_search = b // next time start here
	return b, nil
}

// AllocZone allocates a zone, searching from zstart when it names a data
// zone.
func (t *Table) AllocZone(zstart int) (int, error) {
	var bstart int
	if zstart <= t.firstdatazone {
		bstart = t.z_search
	} else {
		bstart = zstart - (t.firstdatazone - 1)
	}

	b, err := t.Zmap.Alloc(bstart)
	if err != nil {
		t.log.Warn("No space on device")
		return common.NO_ZONE, err
	}

	if zstart <= t.firstdatazone {
		t.z_search = b
	}
	return (t.firstdatazone - 1) + b, nil
}

// FreeInode returns an inode number to the map.
func (t *Table) FreeInode(inum int) error {
	if inum <= 0 || inum > t.inodes {
		return fmt.Errorf("free inode %d: inode 0 or nonexistent inode: %w", inum, common.EINVAL)
	}
	if err := t.Imap.Free(inum); err != nil {
		return err
	}
	if inum < t.i_search {
		t.i_search = inum
	}
	return nil
}

// FreeZone returns a data zone to the map.
func (t *Table) FreeZone(znum int) error {
	if znum < t.firstdatazone || znum >= t.zones {
		return fmt.Errorf("free zone %d: trying to free block not in datazone: %w", znum, common.EINVAL)
	}

	// Turn this from an absolute zone into a bit number
	b := znum - (t.firstdatazone - 1)
	if err := t.Zmap.Free(b); err != nil {
		return err
	}
	if b < t.z_search {
		t.z_search = b
	}
	return nil
}

// FreeCounts returns the number of free inodes and free zones.
func (t *Table) FreeCounts() (inodes, zones int) {
	return t.Imap.CountFree(), t.Zmap.CountFree()
}
