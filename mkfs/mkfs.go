// Package mkfs writes empty Minix file systems onto block devices.
package mkfs

import (
	"errors"
	"fmt"
	"math"

	"github.com/EVAcacia/minixfs/alloctbl"
	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/dirent"
	"github.com/EVAcacia/minixfs/inode"
	"github.com/EVAcacia/minixfs/super"
)

// Options describes the file system to create.
type Options struct {
	Version   common.Version // defaults to V3
	NameLen   int            // 14 or 30 for V1 and V2, defaults to 30
	Blocks    int            // size of the device in blocks
	Inodes    int            // 0 picks a count from the device size
	BlockSize int            // V3 only, defaults to 4096
	ZoneShift int            // log2 of blocks per zone
	Time      uint32         // timestamps of the root directory
}

// Geometry is the layout Format computed for a device.
type Geometry struct {
	Super *super.Disk_Superblock
	Info  *common.DeviceInfo
}

var ErrTooSmall = errors.New("device is too small for a file system")

// Plan computes the superblock of a new file system without touching any
// device.
func Plan(opts Options) (*Geometry, error) {
	v := opts.Version
	if v == 0 {
		v = common.V3
	}
	if !v.Valid() {
		return nil, fmt.Errorf("unknown version %d: %w", int(v), common.EINVAL)
	}

	namelen := opts.NameLen
	bs := opts.BlockSize
	switch v {
	case common.V1, common.V2:
		if namelen == 0 {
			namelen = 30
		}
		if bs == 0 {
			bs = common.STATIC_BLOCK_SIZE
		}
		if bs != common.STATIC_BLOCK_SIZE {
			return nil, fmt.Errorf("%v block size must be %d: %w", v, common.STATIC_BLOCK_SIZE, common.EINVAL)
		}
	case common.V3:
		if namelen == 0 {
			namelen = 60
		}
		if bs == 0 {
			bs = 4096
		}
		if bs < common.MIN_BLOCK_SIZE || bs > common.MAX_BLOCK_SIZE || bs&(bs-1) != 0 {
			return nil, fmt.Errorf("block size %d is not a power of two in [%d, %d]: %w",
				bs, common.MIN_BLOCK_SIZE, common.MAX_BLOCK_SIZE, common.EINVAL)
		}
	}
	magic, err := common.Magic(v, namelen)
	if err != nil {
		return nil, err
	}
	if opts.ZoneShift < 0 || opts.ZoneShift > 8 {
		return nil, fmt.Errorf("zone shift %d: %w", opts.ZoneShift, common.EINVAL)
	}
	shift := uint(opts.ZoneShift)

	blocks := opts.Blocks
	zones := blocks >> shift
	ipb := bs / v.InodeSize()

	inodes := opts.Inodes
	if inodes == 0 {
		kb := blocks * (bs / 1024)
		inodes = kb / 2
		if kb >= 100000 {
			inodes = kb / 4
		}
		// round up to fill inode block
		inodes = (inodes + ipb - 1) / ipb * ipb
	}
	if inodes < 1 {
		return nil, fmt.Errorf("inode count is too small: %w", common.EINVAL)
	}

	limit16 := math.MaxUint16
	switch {
	case v != common.V3 && inodes > limit16:
		return nil, fmt.Errorf("%d inodes is too many for %v: %w", inodes, v, common.EINVAL)
	case v == common.V1 && zones > limit16:
		return nil, fmt.Errorf("%d zones is too many for %v: %w", zones, v, common.EINVAL)
	}

	imap := super.BitmapSize(inodes+1, bs)
	zmap := super.BitmapSize(zones, bs)
	inode_offset := common.START_BLOCK + imap + zmap
	inodeblks := (inodes + ipb - 1) / ipb
	first := (inode_offset + inodeblks + (1 << shift) - 1) >> shift
	// the root directory needs one data zone
	if first+1 > zones {
		return nil, ErrTooSmall
	}
	if first > limit16 || imap > limit16 || zmap > limit16 {
		return nil, fmt.Errorf("bitmaps are too large, try a larger block size: %w", common.EINVAL)
	}

	sp := &super.Disk_Superblock{
		Ninodes:       uint32(inodes),
		Imap_blocks:   uint16(imap),
		Zmap_blocks:   uint16(zmap),
		Firstdatazone: uint16(first),
		Log_zone_size: uint16(shift),
		Max_size:      maxSize(v, bs, shift),
		Magic:         magic,
		Block_size:    uint16(bs),
	}
	switch v {
	case common.V1:
		sp.Nzones = uint16(zones)
		sp.State = common.MINIX_VALID_FS
	case common.V2:
		sp.Zones = uint32(zones)
		sp.State = common.MINIX_VALID_FS
	case common.V3:
		sp.Zones = uint32(zones)
	}

	info, err := super.NewDeviceInfo(sp, v, namelen)
	if err != nil {
		return nil, err
	}
	return &Geometry{Super: sp, Info: info}, nil
}

// maxSize is the largest file the zone slots can address, capped at what
// the 32-bit size field holds.
func maxSize(v common.Version, bs int, shift uint) uint32 {
	n := int64(bs / v.ZoneNumSize())
	zo := int64(common.NR_DZONES) + n + n*n
	if v != common.V1 {
		zo += n * n * n
	}
	size := zo * int64(bs<<shift)
	if size > math.MaxInt32 {
		return math.MaxInt32
	}
	return uint32(size)
}

// Format writes a new file system onto dev: the boot block, the superblock,
// both bitmaps, a zeroed inode table and a root directory holding "." and
// "..".
func Format(dev common.BlockDevice, opts Options) (*Geometry, error) {
	g, err := Plan(opts)
	if err != nil {
		return nil, err
	}
	info := g.Info
	bs := info.Blocksize
	root := info.Firstdatazone << info.Scale

	write := func(bnum int, data []byte) error {
		if err := dev.Write(data, int64(bnum)*int64(bs)); err != nil {
			return &common.IOError{Op: "write", Block: bnum, Err: err}
		}
		return nil
	}

	// touch the last block first so a short device fails before anything
	// is written
	zero := make([]byte, bs)
	if err := write(opts.Blocks-1, zero); err != nil {
		return nil, err
	}
	for b := 0; b < root+(1<<info.Scale); b++ {
		if err := write(b, zero); err != nil {
			return nil, err
		}
	}

	sbuf := make([]byte, common.SUPER_SIZE)
	g.Super.Encode(sbuf, info.Version)
	if err := dev.Write(sbuf, common.SUPER_OFFSET); err != nil {
		return nil, &common.IOError{Op: "write", Block: common.SUPER_OFFSET / bs, Err: err}
	}

	// inode 1 and zone bit 1 belong to the root directory
	imap, err := mapBlocks(common.IMAP, info.ImapBlocks, bs, alloctbl.InodeBits(info), common.ROOT_INODE_NUM)
	if err != nil {
		return nil, err
	}
	zmap, err := mapBlocks(common.ZMAP, info.ZmapBlocks, bs, alloctbl.ZoneBits(info), 1)
	if err != nil {
		return nil, err
	}
	bnum := common.START_BLOCK
	for _, blk := range append(imap, zmap...) {
		if err := write(bnum, blk); err != nil {
			return nil, err
		}
		bnum++
	}

	dir := make([]byte, bs)
	dirent.PutEntry(dir, info, common.ROOT_INODE_NUM, ".")
	dirent.PutEntry(dir[info.DirentSize:], info, common.ROOT_INODE_NUM, "..")
	if err := write(root, dir); err != nil {
		return nil, err
	}

	rootInode := common.DiskInode{
		Mode:   common.I_DIRECTORY | 0755,
		Nlinks: 2,
		Size:   uint32(2 * info.DirentSize),
		Atime:  opts.Time,
		Mtime:  opts.Time,
		Ctime:  opts.Time,
	}
	rootInode.Zone[0] = uint32(info.Firstdatazone)

	iblk, off, err := inode.Locate(info, common.ROOT_INODE_NUM)
	if err != nil {
		return nil, err
	}
	itable := make([]byte, bs)
	inode.Encode(&rootInode, info.Version, itable[off:])
	if err := write(iblk, itable); err != nil {
		return nil, err
	}

	if err := dev.Sync(); err != nil {
		return nil, &common.IOError{Op: "sync", Err: err}
	}
	return g, nil
}

// mapBlocks builds the on-disk blocks of a fresh bitmap. Bit 0, the bits
// from 1 to used and every bit past the end of the map start out set.
func mapBlocks(kind common.MapKind, nblocks, bs, map_bits, used int) ([][]byte, error) {
	blocks := make([][]byte, nblocks)
	for i := range blocks {
		blocks[i] = make([]byte, bs)
	}
	bm, err := alloctbl.NewBitmap(kind, blocks, nblocks*bs*8)
	if err != nil {
		return nil, err
	}
	for b := 0; b <= used; b++ {
		bm.Reserve(b)
	}
	for b := map_bits; b < nblocks*bs*8; b++ {
		bm.Reserve(b)
	}
	for i := range blocks {
		bm.Block(i, blocks[i])
	}
	return blocks, nil
}
