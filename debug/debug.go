// Package debug prints the on-disk structures of a Minix file system in a
// human readable form.
package debug

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/dirent"
	"github.com/EVAcacia/minixfs/inode"
	"github.com/EVAcacia/minixfs/super"
)

var l_ifmt = []byte("0pcCd?bB-?l?s???")

// ModeString renders a mode the way ls -l does.
func ModeString(mode uint16) string {
	rwx := []byte("----------")

	// This is a dirty hack we inherit from Minix3 to map and file type
	// into a letter for display in ls -l
	rwx[0] = l_ifmt[(mode>>12)&0xF]

	const letters = "rwx"
	for i := 0; i < 9; i++ {
		if mode&(0400>>i) != 0 {
			rwx[1+i] = letters[i%3]
		}
	}

	if mode&common.I_SET_UID_BIT != 0 && mode&0100 != 0 {
		rwx[3] = 's'
	}
	if mode&common.I_SET_GID_BIT != 0 && mode&0010 != 0 {
		rwx[6] = 's'
	}
	if mode&common.I_SET_STCKY_BIT != 0 && mode&0001 != 0 {
		rwx[9] = 't'
	}
	return string(rwx)
}

func PrintSuperblock(w io.Writer, sp *super.Disk_Superblock, info *common.DeviceInfo) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "version:\t%v\n", info.Version)
	fmt.Fprintf(tw, "magic:\t%#04x\n", sp.Magic)
	fmt.Fprintf(tw, "block size:\t%d\n", info.Blocksize)
	fmt.Fprintf(tw, "zone shift:\t%d\n", info.Scale)
	fmt.Fprintf(tw, "inodes:\t%d\n", info.Inodes)
	fmt.Fprintf(tw, "zones:\t%d\n", info.Zones)
	fmt.Fprintf(tw, "imap blocks:\t%d\n", info.ImapBlocks)
	fmt.Fprintf(tw, "zmap blocks:\t%d\n", info.ZmapBlocks)
	fmt.Fprintf(tw, "inode table:\t%d\n", info.MapOffset)
	fmt.Fprintf(tw, "first data zone:\t%d\n", info.Firstdatazone)
	fmt.Fprintf(tw, "max file size:\t%d\n", info.Maxsize)
	fmt.Fprintf(tw, "name length:\t%d\n", info.NameLen)
	if info.Version.HasState() {
		fmt.Fprintf(tw, "state:\t%s\n", StateString(sp.State))
	}
	tw.Flush()
}

// StateString names the bits of a V1 or V2 state word.
func StateString(state uint16) string {
	s := "not clean"
	if state&common.MINIX_VALID_FS != 0 {
		s = "clean"
	}
	if state&common.MINIX_ERROR_FS != 0 {
		s += ", errors"
	}
	return s
}

func PrintInode(w io.Writer, inum int, d *common.DiskInode) {
	fmt.Fprintf(w, "inode %d: %s nlinks=%d uid=%d gid=%d size=%d mtime=%d", inum, ModeString(d.Mode), d.Nlinks, d.Uid, d.Gid, d.Size, d.Mtime)
	if d.IsDevice() {
		fmt.Fprintf(w, " dev=%d,%d\n", d.Rdev.Major(), d.Rdev.Minor())
		return
	}
	fmt.Fprintf(w, " zones=%v\n", d.Zone)
}

// PrintBlock prints the contents of a cached block according to its type.
func PrintBlock(w io.Writer, bp *common.CacheBlock, btype common.BlockType, info *common.DeviceInfo) {
	switch btype &^ (common.WRITE_IMMED | common.ONE_SHOT) {
	case common.DIRECTORY_BLOCK:
		for off := 0; off+info.DirentSize <= len(bp.Data); off += info.DirentSize {
			inum, name := dirent.Entry(bp.Data[off:], info)
			if inum != common.NO_INODE {
				fmt.Fprintf(w, "Entry %8d: %q at inode %8d\n", off/info.DirentSize, name, inum)
			}
		}
	case common.INODE_BLOCK:
		// Print which inodes these are, so need to convert from block number
		// to inode number.
		isize := info.Version.InodeSize()
		first := (bp.Blocknum-info.MapOffset)*info.InodesPerBlock() + 1
		for i := 0; i < info.InodesPerBlock(); i++ {
			d := inode.Decode(bp.Data[i*isize:], info.Version)
			if d.Mode != common.I_NOT_ALLOC {
				PrintInode(w, first+i, &d)
			}
		}
	default:
		fmt.Fprintf(w, "block %d:\n", bp.Blocknum)
		for off := 0; off < len(bp.Data); off += 16 {
			fmt.Fprintf(w, "%08x  % x\n", off, bp.Data[off:min(off+16, len(bp.Data))])
		}
	}
}
