// Package bmap translates logical file blocks into device blocks through the
// zone slots of an inode and the indirect blocks hanging off them.
//
// None of the functions lock the inode. Callers hold its read lock for
// ReadMap and its write lock for MapBlock with allocation and for Truncate.
package bmap

import (
	"encoding/binary"
	"fmt"

	"github.com/EVAcacia/minixfs/common"
)

// ReadMap returns the device block holding logical block lblock of rip, or
// NO_BLOCK when the block lies in a hole.
func ReadMap(rip *common.Inode, lblock int) (int, error) {
	return MapBlock(rip, lblock, false)
}

// MapBlock returns the device block holding logical block lblock of rip.
// With allocate, missing zones and indirect blocks are allocated, zeroed and
// written to the device before being linked into their parent. Without it a
// hole yields NO_BLOCK.
func MapBlock(rip *common.Inode, lblock int, allocate bool) (int, error) {
	info := rip.Devinfo
	if lblock < 0 {
		return common.NO_BLOCK, fmt.Errorf("negative block %d: %w", lblock, common.EINVAL)
	}
	if !rip.HasZones() {
		return common.NO_BLOCK, fmt.Errorf("inode %d has no data zones: %w", rip.Inum, common.EINVAL)
	}
	if allocate && int64(lblock)*int64(info.Blocksize) >= info.Maxsize {
		return common.NO_BLOCK, common.EFBIG
	}

	zone := lblock >> info.Scale
	boff := lblock - zone<<info.Scale

	slot, idx, err := path(info, zone)
	if err != nil {
		return common.NO_BLOCK, err
	}

	z := int(rip.Zone[slot])
	if z == common.NO_ZONE {
		if !allocate {
			return common.NO_BLOCK, nil
		}
		if z, err = newZone(rip, len(idx) > 0); err != nil {
			return common.NO_BLOCK, err
		}
		rip.Zone[slot] = uint32(z)
		rip.Dirty = true
	} else if !validZone(info, z) {
		info.AllocTbl.MarkError()
		return common.NO_BLOCK, &common.CorruptZoneError{Zone: z, Block: common.NO_BLOCK, Index: slot}
	}

	for level, i := range idx {
		// the last step yields a data zone, the ones before it indirect zones
		last := level == len(idx)-1
		if z, err = step(rip, z, i, allocate, !last); err != nil {
			return common.NO_BLOCK, err
		}
		if z == common.NO_ZONE {
			return common.NO_BLOCK, nil
		}
	}

	return z<<info.Scale + boff, nil
}

// path finds the inode slot that addresses zone and the index to follow in
// each indirect block below it.
func path(info *common.DeviceInfo, zone int) (int, []int, error) {
	if zone < common.NR_DZONES {
		return zone, nil, nil
	}
	zone -= common.NR_DZONES

	n := info.Indirects()
	span := 1
	for level := 1; level <= info.Version.IndirectLevels(); level++ {
		span *= n
		if zone < span {
			idx := make([]int, level)
			for i := level - 1; i >= 0; i-- {
				idx[i] = zone % n
				zone /= n
			}
			return common.NR_DZONES + level - 1, idx, nil
		}
		zone -= span
	}
	return 0, nil, common.EFBIG
}

// step follows entry i of the indirect zone z, allocating the target when
// it is missing and allocate is set.
func step(rip *common.Inode, z, i int, allocate, indirect bool) (int, error) {
	info := rip.Devinfo
	bnum := z << info.Scale
	bp, err := rip.Bcache.GetBlock(bnum, common.INDIRECT_BLOCK, common.NORMAL)
	if err != nil {
		return common.NO_ZONE, err
	}

	next := entry(bp.Data, i, info.Version)
	switch {
	case next == common.NO_ZONE && allocate:
		next, err = newZone(rip, indirect)
		if err == nil {
			setEntry(bp.Data, i, info.Version, next)
			bp.Dirty = true
		}
	case next != common.NO_ZONE && !validZone(info, next):
		info.AllocTbl.MarkError()
		err = &common.CorruptZoneError{Zone: next, Block: bnum, Index: i}
		next = common.NO_ZONE
	}

	if perr := rip.Bcache.PutBlock(bp, common.INDIRECT_BLOCK); err == nil {
		err = perr
	}
	if err != nil {
		return common.NO_ZONE, err
	}
	return next, nil
}

// newZone allocates a zone near the start of the file and writes it out
// zeroed.
func newZone(rip *common.Inode, indirect bool) (int, error) {
	info := rip.Devinfo
	z, err := info.AllocTbl.AllocZone(int(rip.Zone[0]))
	if err != nil {
		return common.NO_ZONE, err
	}

	btype := common.FULL_DATA_BLOCK
	if indirect {
		btype = common.INDIRECT_BLOCK
	}
	for b := z << info.Scale; b < (z+1)<<info.Scale; b++ {
		if err = zeroBlock(rip.Bcache, b, btype); err != nil {
			info.AllocTbl.FreeZone(z)
			return common.NO_ZONE, err
		}
	}
	return z, nil
}

func zeroBlock(cache common.BlockCache, bnum int, btype common.BlockType) error {
	bp, err := cache.GetBlock(bnum, btype, common.NO_READ)
	if err != nil {
		return err
	}
	clear(bp.Data)
	bp.Dirty = true
	return cache.PutBlock(bp, btype|common.WRITE_IMMED)
}

func validZone(info *common.DeviceInfo, z int) bool {
	return z >= info.Firstdatazone && z < info.Zones
}

// entry reads zone number i of an indirect block.
func entry(data []byte, i int, v common.Version) int {
	if v == common.V1 {
		return int(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return int(binary.LittleEndian.Uint32(data[4*i:]))
}

func setEntry(data []byte, i int, v common.Version, z int) {
	if v == common.V1 {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(z))
		return
	}
	binary.LittleEndian.PutUint32(data[4*i:], uint32(z))
}
