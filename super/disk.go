package super

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/EVAcacia/minixfs/common"
)

// Disk_Superblock is the superblock in a version independent form. Fields
// that a version does not store are zero.
type Disk_Superblock struct {
	Ninodes       uint32 // # usable inodes on the minor device
	Nzones        uint16 // total device size in zones (V1)
	Imap_blocks   uint16 // # of blocks used by inode bit map
	Zmap_blocks   uint16 // # of blocks used by zone bit map
	Firstdatazone uint16 // number of first data zone
	Log_zone_size uint16 // log2 of blocks/zone
	Max_size      uint32 // maximum file size on this device
	Zones         uint32 // number of zones (V2 and V3)
	Magic         uint16 // magic number to recognize super-blocks
	State         uint16 // mount state (V1 and V2)
	Block_size    uint16 // block size in bytes (V3)
	Disk_version  uint8  // filesystem format sub-version (V3)
}

// Byte offsets of the V1/V2 state word and magic, and the V3 magic.
const (
	offMagic  = 16
	offState  = 18
	offMagic3 = 24
)

// Decode parses a raw superblock, detecting its version from the magic
// numbers. It returns the version and the maximum name length of the
// matching layout.
func Decode(raw []byte) (*Disk_Superblock, common.Version, int, error) {
	if len(raw) < 32 {
		return nil, 0, 0, &common.CorruptSuperblockError{Reason: "short superblock"}
	}
	le := binary.LittleEndian

	magic := le.Uint16(raw[offMagic:])
	if v, namelen, ok := common.MagicInfo(magic); ok && v != common.V3 {
		sp := &Disk_Superblock{
			Ninodes:       uint32(le.Uint16(raw[0:])),
			Nzones:        le.Uint16(raw[2:]),
			Imap_blocks:   le.Uint16(raw[4:]),
			Zmap_blocks:   le.Uint16(raw[6:]),
			Firstdatazone: le.Uint16(raw[8:]),
			Log_zone_size: le.Uint16(raw[10:]),
			Max_size:      le.Uint32(raw[12:]),
			Magic:         magic,
			State:         le.Uint16(raw[offState:]),
			Block_size:    common.STATIC_BLOCK_SIZE,
		}
		if v == common.V2 {
			sp.Zones = le.Uint32(raw[20:])
		}
		return sp, v, namelen, nil
	}

	magic3 := le.Uint16(raw[offMagic3:])
	if magic3 == common.MINIX3_SUPER_MAGIC {
		sp := &Disk_Superblock{
			Ninodes:       le.Uint32(raw[0:]),
			Imap_blocks:   le.Uint16(raw[6:]),
			Zmap_blocks:   le.Uint16(raw[8:]),
			Firstdatazone: le.Uint16(raw[10:]),
			Log_zone_size: le.Uint16(raw[12:]),
			Max_size:      le.Uint32(raw[16:]),
			Zones:         le.Uint32(raw[20:]),
			Magic:         magic3,
			Block_size:    le.Uint16(raw[28:]),
			Disk_version:  raw[30],
		}
		return sp, common.V3, 60, nil
	}

	return nil, 0, 0, &common.UnsupportedFormatError{Magic: magic, Magic3: magic3}
}

// Encode stores the superblock into raw in the layout of version v. Bytes
// the layout does not use are left untouched.
func (sp *Disk_Superblock) Encode(raw []byte, v common.Version) {
	le := binary.LittleEndian
	switch v {
	case common.V1, common.V2:
		le.PutUint16(raw[0:], uint16(sp.Ninodes))
		le.PutUint16(raw[2:], sp.Nzones)
		le.PutUint16(raw[4:], sp.Imap_blocks)
		le.PutUint16(raw[6:], sp.Zmap_blocks)
		le.PutUint16(raw[8:], sp.Firstdatazone)
		le.PutUint16(raw[10:], sp.Log_zone_size)
		le.PutUint32(raw[12:], sp.Max_size)
		le.PutUint16(raw[offMagic:], sp.Magic)
		le.PutUint16(raw[offState:], sp.State)
		if v == common.V2 {
			le.PutUint32(raw[20:], sp.Zones)
		}
	case common.V3:
		le.PutUint32(raw[0:], sp.Ninodes)
		le.PutUint16(raw[4:], 0)
		le.PutUint16(raw[6:], sp.Imap_blocks)
		le.PutUint16(raw[8:], sp.Zmap_blocks)
		le.PutUint16(raw[10:], sp.Firstdatazone)
		le.PutUint16(raw[12:], sp.Log_zone_size)
		le.PutUint16(raw[14:], 0)
		le.PutUint32(raw[16:], sp.Max_size)
		le.PutUint32(raw[20:], sp.Zones)
		le.PutUint16(raw[offMagic3:], sp.Magic)
		le.PutUint16(raw[26:], 0)
		le.PutUint16(raw[28:], sp.Block_size)
		raw[30] = sp.Disk_version
	default:
		panic("minixfs: invalid version " + v.String())
	}
}

// ZoneCount returns the number of zones on the device.
func (sp *Disk_Superblock) ZoneCount(v common.Version) int {
	if v == common.V1 {
		return int(sp.Nzones)
	}
	return int(sp.Zones)
}

// BitmapSize returns the number of blocks needed to hold nr_bits bits.
func BitmapSize(nr_bits, block_size int) int {
	bits_per_block := block_size * 8
	return (nr_bits + bits_per_block - 1) / bits_per_block
}

// NewDeviceInfo validates the geometry of a superblock and derives the
// device information from it.
func NewDeviceInfo(sp *Disk_Superblock, v common.Version, namelen int) (*common.DeviceInfo, error) {
	corrupt := func(format string, args ...interface{}) error {
		return &common.CorruptSuperblockError{Reason: fmt.Sprintf(format, args...)}
	}

	blocksize := int(sp.Block_size)
	if blocksize < common.MIN_BLOCK_SIZE || blocksize > common.MAX_BLOCK_SIZE || bits.OnesCount(uint(blocksize)) != 1 {
		return nil, corrupt("bad block size %d", blocksize)
	}
	if sp.Log_zone_size > 16 {
		return nil, corrupt("bad zone size 2^%d blocks", sp.Log_zone_size)
	}

	ninodes := int(sp.Ninodes)
	zones := sp.ZoneCount(v)
	first := int(sp.Firstdatazone)
	if ninodes < 1 {
		return nil, corrupt("no inodes")
	}
	if first < 1 || zones <= first {
		return nil, corrupt("first data zone %d outside of %d zones", first, zones)
	}

	imap := int(sp.Imap_blocks)
	zmap := int(sp.Zmap_blocks)
	if imap == 0 || zmap == 0 {
		return nil, corrupt("bad superblock or unable to read bitmaps")
	}
	if need := BitmapSize(ninodes+1, blocksize); imap < need {
		return nil, corrupt("file system does not have enough imap blocks allocated (%d < %d)", imap, need)
	}
	if need := BitmapSize(zones-first+1, blocksize); zmap < need {
		return nil, corrupt("file system does not have enough zmap blocks allocated (%d < %d)", zmap, need)
	}

	info := &common.DeviceInfo{
		Version:       v,
		MapOffset:     common.START_BLOCK + imap + zmap,
		Blocksize:     blocksize,
		Scale:         uint(sp.Log_zone_size),
		Firstdatazone: first,
		Zones:         zones,
		Inodes:        ninodes,
		Maxsize:       int64(sp.Max_size),
		ImapBlocks:    imap,
		ZmapBlocks:    zmap,
		NameLen:       namelen,
		DirentSize:    namelen + v.DirNumSize(),
	}

	itable := (ninodes + info.InodesPerBlock() - 1) / info.InodesPerBlock()
	if first<<info.Scale < info.MapOffset+itable {
		return nil, corrupt("inode table (blocks %d-%d) overlaps first data zone %d", info.MapOffset, info.MapOffset+itable-1, first)
	}
	return info, nil
}

// Probe reads the superblock of dev to find its version and block size.
func Probe(dev common.BlockDevice) (*Disk_Superblock, common.Version, int, error) {
	raw := make([]byte, common.SUPER_SIZE)
	if err := dev.Read(raw, common.SUPER_OFFSET); err != nil {
		return nil, 0, 0, &common.IOError{Op: "read", Block: common.SUPER_OFFSET / common.STATIC_BLOCK_SIZE, Err: err}
	}
	return Decode(raw)
}
