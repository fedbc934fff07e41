package common

import "sync"

// DevNum is a device number in the old 16-bit encoding kept in the first
// zone slot of character and block special inodes.
type DevNum uint16

func MkDev(major, minor uint8) DevNum {
	return DevNum(uint16(major)<<8 | uint16(minor))
}

func (d DevNum) Major() uint8 { return uint8(d >> 8) }
func (d DevNum) Minor() uint8 { return uint8(d) }

// DiskInode holds the fields of an inode record in a version independent
// form. V1 records only carry a single time, an 8-bit gid and link count,
// and nine zone slots.
type DiskInode struct {
	Mode   uint16
	Nlinks uint16
	Uid    uint16
	Gid    uint16
	Size   uint32
	Atime  uint32
	Mtime  uint32
	Ctime  uint32
	Zone   [V2_NR_TZONES]uint32
	Rdev   DevNum // only meaningful for character and block specials
}

func (d *DiskInode) Type() uint16 { return d.Mode & I_TYPE }

func (d *DiskInode) IsRegular() bool   { return d.Type() == I_REGULAR }
func (d *DiskInode) IsDirectory() bool { return d.Type() == I_DIRECTORY }
func (d *DiskInode) IsSymlink() bool   { return d.Type() == I_SYMBOLIC_LINK }

// IsDevice reports whether the inode is a character or block special file,
// whose first zone slot holds a device number rather than a zone.
func (d *DiskInode) IsDevice() bool {
	t := d.Type()
	return t == I_CHAR_SPECIAL || t == I_BLOCK_SPECIAL
}

// HasZones reports whether the zone slots of the inode address data. Only
// regular files, directories and symbolic links own zones.
func (d *DiskInode) HasZones() bool {
	return d.IsRegular() || d.IsDirectory() || d.IsSymlink()
}

// Inode is an inode held in memory by the inode table.
type Inode struct {
	DiskInode // the inode as stored on disk

	Bcache  BlockCache  // the block cache for the file system
	Devinfo *DeviceInfo // the device information for this inode's device

	Inum  int  // the inode number of this inode
	Count int  // the number of clients of this inode, owned by the inode table
	Dirty bool // whether or not this inode has uncommited changes

	// Guards the zone slots and size. Readers of the file share it, any
	// change to the block map takes it exclusively.
	sync.RWMutex
}

// DeviceInfo carries the geometry of a mounted device, computed from the
// superblock.
type DeviceInfo struct {
	Version       Version
	MapOffset     int      // first block of the inode table
	Blocksize     int      // bytes per block
	Scale         uint     // log2 of blocks per zone
	Firstdatazone int      // the first data zone on the system
	Zones         int      // the number of zones on the disk
	Inodes        int      // the number of inodes on the disk
	Maxsize       int64    // the maximum size of a file on the disk
	ImapBlocks    int      // the number of inode bitmap blocks
	ZmapBlocks    int      // the number of zone bitmap blocks
	NameLen       int      // maximum length of a name in a directory
	DirentSize    int      // size of a directory entry
	AllocTbl      AllocTbl // the allocator for this device
}

func (d *DeviceInfo) InodesPerBlock() int { return d.Blocksize / d.Version.InodeSize() }

// Indirects is the number of zone numbers held by one indirect block.
func (d *DeviceInfo) Indirects() int { return d.Blocksize / d.Version.ZoneNumSize() }

// ZoneSize is the number of bytes in a zone.
func (d *DeviceInfo) ZoneSize() int { return d.Blocksize << d.Scale }

func (d *DeviceInfo) DirentsPerBlock() int { return d.Blocksize / d.DirentSize }

// CacheBlock is a block of the device held in the block cache.
type CacheBlock struct {
	Data     []byte // contents of the block
	Blocknum int    // block number on the device
	Dirty    bool   // set by the holder after changing Data
	Buf      interface{}
}

// BlockDevice is a random access device addressed in bytes.
type BlockDevice interface {
	Read(buf []byte, pos int64) error
	Write(buf []byte, pos int64) error
	Sync() error
	Close() error
}

// BlockCache hands out exclusive access to blocks of a single device.
type BlockCache interface {
	// Fetch a block, holding it exclusively until PutBlock.
	GetBlock(bnum int, btype BlockType, mode ReadMode) (*CacheBlock, error)
	// Release a block obtained with GetBlock.
	PutBlock(cb *CacheBlock, btype BlockType) error
	// Write a held block if it is dirty, waiting for the device when asked.
	FlushBlock(cb *CacheBlock, wait bool) error
	// Write every dirty block that is not held and sync the device.
	Flush() error
	// Drop every block that is not held, without writing it.
	Invalidate()
	// Number of blocks currently held.
	InUse() int
	Blocksize() int
	Close() error
}

// AllocTbl allocates and frees inodes and zones on a device.
type AllocTbl interface {
	AllocInode() (int, error)
	AllocZone(zstart int) (int, error)
	FreeInode(inum int) error
	FreeZone(znum int) error
	// Record that an on-disk inconsistency was found.
	MarkError()
}
