package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/EVAcacia/minixfs/common"
)

// Locate returns the block holding inode inum and the byte offset of its
// record within that block.
func Locate(info *common.DeviceInfo, inum int) (int, int, error) {
	if inum < 1 || inum > info.Inodes {
		return 0, 0, fmt.Errorf("bad inode number %d is out of range: %w", inum, common.EINVAL)
	}
	ipb := info.InodesPerBlock()
	inum-- // inode 1 is the first record of the table
	return info.MapOffset + inum/ipb, (inum % ipb) * info.Version.InodeSize(), nil
}

// Decode extracts an inode from its on-disk record.
func Decode(raw []byte, v common.Version) common.DiskInode {
	le := binary.LittleEndian
	var d common.DiskInode

	switch v {
	case common.V1:
		d.Mode = le.Uint16(raw[0:])
		d.Uid = le.Uint16(raw[2:])
		d.Size = le.Uint32(raw[4:])
		// a V1 inode only has the modification time
		d.Mtime = le.Uint32(raw[8:])
		d.Atime = d.Mtime
		d.Ctime = d.Mtime
		d.Gid = uint16(raw[12])
		d.Nlinks = uint16(raw[13])
		for i := 0; i < common.V1_NR_TZONES; i++ {
			d.Zone[i] = uint32(le.Uint16(raw[14+2*i:]))
		}
	case common.V2, common.V3:
		d.Mode = le.Uint16(raw[0:])
		d.Nlinks = le.Uint16(raw[2:])
		d.Uid = le.Uint16(raw[4:])
		d.Gid = le.Uint16(raw[6:])
		d.Size = le.Uint32(raw[8:])
		d.Atime = le.Uint32(raw[12:])
		d.Mtime = le.Uint32(raw[16:])
		d.Ctime = le.Uint32(raw[20:])
		for i := 0; i < common.V2_NR_TZONES; i++ {
			d.Zone[i] = le.Uint32(raw[24+4*i:])
		}
	default:
		panic("minixfs: invalid version " + v.String())
	}

	if d.IsDevice() {
		d.Rdev = common.DevNum(d.Zone[0])
	}
	return d
}

// Encode stores an inode into its on-disk record. Character and block
// specials only store their device number in the first zone slot, the rest
// of the record's zone slots are left as they are.
func Encode(d *common.DiskInode, v common.Version, raw []byte) {
	le := binary.LittleEndian
	dev := d.IsDevice()

	switch v {
	case common.V1:
		le.PutUint16(raw[0:], d.Mode)
		le.PutUint16(raw[2:], d.Uid)
		le.PutUint32(raw[4:], d.Size)
		le.PutUint32(raw[8:], d.Mtime)
		raw[12] = uint8(d.Gid)
		raw[13] = uint8(d.Nlinks)
		if dev {
			le.PutUint16(raw[14:], uint16(d.Rdev))
			break
		}
		for i := 0; i < common.V1_NR_TZONES; i++ {
			le.PutUint16(raw[14+2*i:], uint16(d.Zone[i]))
		}
	case common.V2, common.V3:
		le.PutUint16(raw[0:], d.Mode)
		le.PutUint16(raw[2:], d.Nlinks)
		le.PutUint16(raw[4:], d.Uid)
		le.PutUint16(raw[6:], d.Gid)
		le.PutUint32(raw[8:], d.Size)
		le.PutUint32(raw[12:], d.Atime)
		le.PutUint32(raw[16:], d.Mtime)
		le.PutUint32(raw[20:], d.Ctime)
		if dev {
			le.PutUint32(raw[24:], uint32(d.Rdev))
			break
		}
		for i := 0; i < common.V2_NR_TZONES; i++ {
			le.PutUint32(raw[24+4*i:], d.Zone[i])
		}
	default:
		panic("minixfs: invalid version " + v.String())
	}
}

// ReadInode reads inode inum from the device.
func ReadInode(cache common.BlockCache, info *common.DeviceInfo, inum int) (common.DiskInode, error) {
	bnum, off, err := Locate(info, inum)
	if err != nil {
		return common.DiskInode{}, err
	}
	bp, err := cache.GetBlock(bnum, common.INODE_BLOCK, common.NORMAL)
	if err != nil {
		return common.DiskInode{}, err
	}
	d := Decode(bp.Data[off:], info.Version)
	err = cache.PutBlock(bp, common.INODE_BLOCK)
	return d, err
}

// WriteInode merges inode inum into its block. With wait the block is
// written and the device synced before returning, otherwise the block is
// left dirty in the cache.
func WriteInode(cache common.BlockCache, info *common.DeviceInfo, inum int, d *common.DiskInode, wait bool) error {
	bnum, off, err := Locate(info, inum)
	if err != nil {
		return err
	}
	bp, err := cache.GetBlock(bnum, common.INODE_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	Encode(d, info.Version, bp.Data[off:])
	bp.Dirty = true

	if wait {
		err = cache.FlushBlock(bp, true)
	}
	if perr := cache.PutBlock(bp, common.INODE_BLOCK); err == nil {
		err = perr
	}
	return err
}

// ClearInode zeroes the on-disk record of inode inum.
func ClearInode(cache common.BlockCache, info *common.DeviceInfo, inum int) error {
	bnum, off, err := Locate(info, inum)
	if err != nil {
		return err
	}
	bp, err := cache.GetBlock(bnum, common.INODE_BLOCK, common.NORMAL)
	if err != nil {
		return err
	}
	clear(bp.Data[off : off+info.Version.InodeSize()])
	bp.Dirty = true
	return cache.PutBlock(bp, common.INODE_BLOCK)
}
