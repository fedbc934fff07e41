package bmap

import "github.com/EVAcacia/minixfs/common"

// Walk calls fn for every zone reachable from the zone slots of rip. Data
// zones are passed with depth 0 and indirect zones with the number of
// levels of indirection below them. Zones outside the data area are passed
// to fn but not followed. Walking stops at the first error fn returns.
func Walk(rip *common.Inode, fn func(z, depth int) error) error {
	if !rip.HasZones() {
		return nil
	}
	info := rip.Devinfo
	for slot := 0; slot < info.Version.NrZones(); slot++ {
		z := int(rip.Zone[slot])
		if z == common.NO_ZONE {
			continue
		}
		depth := 0
		if slot >= common.NR_DZONES {
			depth = slot - common.NR_DZONES + 1
		}
		if err := walk(rip, z, depth, fn); err != nil {
			return err
		}
	}
	return nil
}

func walk(rip *common.Inode, z, depth int, fn func(z, depth int) error) error {
	if err := fn(z, depth); err != nil {
		return err
	}
	info := rip.Devinfo
	if depth == 0 || !validZone(info, z) {
		return nil
	}

	bp, err := rip.Bcache.GetBlock(z<<info.Scale, common.INDIRECT_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	children := make([]int, 0, info.Indirects())
	for i := 0; i < info.Indirects(); i++ {
		if e := entry(bp.Data, i, info.Version); e != common.NO_ZONE {
			children = append(children, e)
		}
	}
	// release before descending so deep trees hold one block at a time
	if err := rip.Bcache.PutBlock(bp, common.INDIRECT_BLOCK); err != nil {
		return err
	}

	for _, e := range children {
		if err := walk(rip, e, depth-1, fn); err != nil {
			return err
		}
	}
	return nil
}
