package common

// On-disk geometry shared by every version of the file system.
const (
	BOOT_BLOCK        = 0    // block number of the boot block
	SUPER_OFFSET      = 1024 // byte offset of the superblock on the device
	SUPER_SIZE        = 1024 // bytes read when probing the superblock
	START_BLOCK       = 2    // first block of the inode bitmap
	STATIC_BLOCK_SIZE = 1024 // block size of V1 and V2 file systems
	MIN_BLOCK_SIZE    = 1024
	MAX_BLOCK_SIZE    = 32768

	ROOT_INODE_NUM = 1 // inode number of the root directory

	NR_DZONES    = 7  // number of direct zones in every inode
	V1_NR_TZONES = 9  // total zone slots in a V1 inode
	V2_NR_TZONES = 10 // total zone slots in a V2/V3 inode

	V1_INODE_SIZE = 32
	V2_INODE_SIZE = 64

	V1_ZONE_NUM_SIZE = 2 // bytes per zone number in a V1 indirect block
	V2_ZONE_NUM_SIZE = 4 // bytes per zone number in a V2/V3 indirect block

	V1_LINK_MAX = 250
	V2_LINK_MAX = 65530
)

// Magic numbers, found at offset 16 of the superblock (offset 24 for V3).
const (
	MINIX_SUPER_MAGIC   = 0x137F // V1, 14 character names
	MINIX_SUPER_MAGIC2  = 0x138F // V1, 30 character names
	MINIX2_SUPER_MAGIC  = 0x2468 // V2, 14 character names
	MINIX2_SUPER_MAGIC2 = 0x2478 // V2, 30 character names
	MINIX3_SUPER_MAGIC  = 0x4d5a // V3, 60 character names
)

// Bits of the superblock state word (V1 and V2 only).
const (
	MINIX_VALID_FS = 0x0001 // cleanly unmounted
	MINIX_ERROR_FS = 0x0002 // errors were detected
)

// Sentinel values
const (
	NO_BLOCK = 0 // absence of a block number
	NO_ZONE  = 0 // absence of a zone number
	NO_BIT   = 0 // returned by the allocator when a map is full
	NO_INODE = 0 // absence of an inode number (and an unused dirent)
)

// File modes, as found in the mode field of an inode
const (
	I_TYPE          = 0170000 // this field gives inode type
	I_SOCKET        = 0140000 // socket
	I_SYMBOLIC_LINK = 0120000 // file is a symbolic link
	I_REGULAR       = 0100000 // regular file, not dir or special
	I_BLOCK_SPECIAL = 0060000 // block special file
	I_DIRECTORY     = 0040000 // file is a directory
	I_CHAR_SPECIAL  = 0020000 // character special file
	I_NAMED_PIPE    = 0010000 // named pipe (FIFO)
	I_SET_UID_BIT   = 0004000 // set effective uid_t on exec
	I_SET_GID_BIT   = 0002000 // set effective gid_t on exec
	I_SET_STCKY_BIT = 0001000 // sticky bit
	ALL_MODES       = 0007777 // all bits for user, group and others
	RWX_MODES       = 0000777 // mode bits for RWX only
	I_NOT_ALLOC     = 0000000 // this inode is free
)

// Identifies the two bitmaps on a device.
type MapKind int

const (
	IMAP MapKind = 0 // operating on the inode bitmap
	ZMAP MapKind = 1 // operating on the zone bitmap
)

func (m MapKind) String() string {
	switch m {
	case IMAP:
		return "inode map"
	case ZMAP:
		return "zone map"
	}
	return "unknown map"
}

// BlockType describes the contents of a cache block and, through its high
// bits, how the cache should treat the block when it is released.
type BlockType int

const (
	INODE_BLOCK        BlockType = 0 // inode block
	DIRECTORY_BLOCK    BlockType = 1 // directory block
	INDIRECT_BLOCK     BlockType = 2 // pointer block
	MAP_BLOCK          BlockType = 3 // bit map
	SUPER_BLOCK        BlockType = 4 // block holding the superblock
	FULL_DATA_BLOCK    BlockType = 5 // data, fully used
	PARTIAL_DATA_BLOCK BlockType = 6 // data, partly used

	WRITE_IMMED BlockType = 0100 // write the block out as soon as it is released
	ONE_SHOT    BlockType = 0200 // block is unlikely to be needed again soon
)

// ReadMode controls whether GetBlock fetches the block from the device.
type ReadMode int

const (
	NORMAL  ReadMode = 0 // forces the block to be read from the device
	NO_READ ReadMode = 1 // the block will be overwritten, do not read it
)
