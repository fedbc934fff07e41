package bmap

import (
	"errors"
	"fmt"

	"github.com/EVAcacia/minixfs/common"
)

// Truncate sets the size of rip to size. Zones wholly beyond the new size
// are returned to the allocator along with any indirect block left without
// entries, and the tail of the last partial block is zeroed. Inodes without
// data zones only have their size changed.
func Truncate(rip *common.Inode, size int64) error {
	info := rip.Devinfo
	if size < 0 {
		return fmt.Errorf("negative size %d: %w", size, common.EINVAL)
	}
	if size > info.Maxsize {
		return common.EFBIG
	}
	if !rip.HasZones() {
		rip.Size = uint32(size)
		rip.Dirty = true
		return nil
	}

	old := int64(rip.Size)
	zsize := int64(info.ZoneSize())
	if size < old && size%zsize != 0 {
		if err := zeroTail(rip, size); err != nil {
			return err
		}
	}

	keep := int((size + zsize - 1) / zsize)

	var err error
	for i := keep; i < common.NR_DZONES; i++ {
		switch z := int(rip.Zone[i]); {
		case z == common.NO_ZONE:
			continue
		case !validZone(info, z):
			info.AllocTbl.MarkError()
		default:
			err = errors.Join(err, freeZone(info, z))
		}
		rip.Zone[i] = common.NO_ZONE
	}

	n := info.Indirects()
	base, span := common.NR_DZONES, 1
	for level := 1; level <= info.Version.IndirectLevels(); level++ {
		span *= n
		slot := common.NR_DZONES + level - 1
		if z := int(rip.Zone[slot]); z != common.NO_ZONE {
			if !validZone(info, z) {
				info.AllocTbl.MarkError()
				rip.Zone[slot] = common.NO_ZONE
			} else {
				empty, perr := prune(rip, z, level, base, keep)
				err = errors.Join(err, perr)
				if empty {
					err = errors.Join(err, freeZone(info, z))
					rip.Zone[slot] = common.NO_ZONE
				}
			}
		}
		base += span
	}

	rip.Size = uint32(size)
	rip.Dirty = true
	return err
}

// prune drops every entry of the indirect zone z that addresses logical
// zones at or beyond keep. z spans depth levels of indirection and its first
// entry addresses logical zone base. Reports whether z was left empty.
func prune(rip *common.Inode, z, depth, base, keep int) (bool, error) {
	info := rip.Devinfo
	n := info.Indirects()
	sub := 1
	for i := 1; i < depth; i++ {
		sub *= n
	}
	if keep >= base+sub*n {
		return false, nil
	}

	bnum := z << info.Scale
	bp, err := rip.Bcache.GetBlock(bnum, common.INDIRECT_BLOCK, common.NORMAL)
	if err != nil {
		return false, err
	}

	empty := true
	for i := 0; i < n; i++ {
		e := entry(bp.Data, i, info.Version)
		if e == common.NO_ZONE {
			continue
		}
		start := base + i*sub
		drop := start >= keep
		switch {
		case !validZone(info, e):
			info.AllocTbl.MarkError()
			drop = true
		case drop:
			err = errors.Join(err, freeTree(rip, e, depth-1))
		case depth > 1 && keep < start+sub:
			var cerr error
			drop, cerr = prune(rip, e, depth-1, start, keep)
			err = errors.Join(err, cerr)
			if drop {
				err = errors.Join(err, freeZone(info, e))
			}
		}
		if drop {
			setEntry(bp.Data, i, info.Version, common.NO_ZONE)
			bp.Dirty = true
		} else {
			empty = false
		}
	}

	if perr := rip.Bcache.PutBlock(bp, common.INDIRECT_BLOCK); perr != nil {
		err = errors.Join(err, perr)
	}
	return empty && err == nil, err
}

// freeTree frees zone z and, when it is an indirect zone of the given
// depth, every zone reachable from it.
func freeTree(rip *common.Inode, z, depth int) error {
	info := rip.Devinfo
	if depth == 0 {
		return freeZone(info, z)
	}

	bp, err := rip.Bcache.GetBlock(z<<info.Scale, common.INDIRECT_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	for i := 0; i < info.Indirects(); i++ {
		e := entry(bp.Data, i, info.Version)
		switch {
		case e == common.NO_ZONE:
		case !validZone(info, e):
			info.AllocTbl.MarkError()
		default:
			err = errors.Join(err, freeTree(rip, e, depth-1))
		}
	}
	// the block is about to be free, there is no point writing it
	if perr := rip.Bcache.PutBlock(bp, common.INDIRECT_BLOCK|common.ONE_SHOT); perr != nil {
		err = errors.Join(err, perr)
	}
	return errors.Join(err, freeZone(info, z))
}

// freeZone frees a zone. Double frees have already been logged by the
// allocator and are not an error here.
func freeZone(info *common.DeviceInfo, z int) error {
	err := info.AllocTbl.FreeZone(z)
	var double *common.DoubleFreeError
	if errors.As(err, &double) {
		return nil
	}
	return err
}

// zeroTail clears the bytes of the zone holding offset size that lie at or
// beyond it, so a later extension of the file reads zeros.
func zeroTail(rip *common.Inode, size int64) error {
	info := rip.Devinfo
	bs := int64(info.Blocksize)
	lblock := int(size / bs)
	end := (lblock>>info.Scale + 1) << info.Scale
	if limit := int((info.Maxsize + bs - 1) / bs); end > limit {
		end = limit
	}

	if size%bs != 0 {
		bnum, err := ReadMap(rip, lblock)
		if err != nil {
			return err
		}
		if bnum != common.NO_BLOCK {
			bp, err := rip.Bcache.GetBlock(bnum, common.PARTIAL_DATA_BLOCK, common.NORMAL)
			if err != nil {
				return err
			}
			clear(bp.Data[size%bs:])
			bp.Dirty = true
			if err := rip.Bcache.PutBlock(bp, common.PARTIAL_DATA_BLOCK); err != nil {
				return err
			}
		}
		lblock++
	}

	// whole blocks left in the zone
	for ; lblock < end; lblock++ {
		bnum, err := ReadMap(rip, lblock)
		if err != nil {
			return err
		}
		if bnum == common.NO_BLOCK {
			continue
		}
		if err := zeroBlock(rip.Bcache, bnum, common.FULL_DATA_BLOCK); err != nil {
			return err
		}
	}
	return nil
}
