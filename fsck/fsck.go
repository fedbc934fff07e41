// Package fsck checks the consistency of a mounted Minix file system: the
// bitmaps against the inodes and zones actually in use, and link counts
// against the directory tree.
package fsck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/dirent"
	"github.com/EVAcacia/minixfs/fs"
	"github.com/EVAcacia/minixfs/inode"
)

// Report is the result of a check.
type Report struct {
	Problems []string

	Regular     int
	Directories int
	Special     int // character and block specials, pipes and sockets
	Symlinks    int
	UsedInodes  int
	UsedZones   int // data and indirect zones referenced by inodes
	ZonesByType map[int]int // zones per level of indirection, 0 for data
}

func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) problem(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d inodes used: %d regular, %d directories, %d special, %d symlinks\n",
		r.UsedInodes, r.Regular, r.Directories, r.Special, r.Symlinks)
	fmt.Fprintf(&b, "%d zones used\n", r.UsedZones)
	for _, p := range r.Problems {
		fmt.Fprintln(&b, p)
	}
	return b.String()
}

type checker struct {
	fsys   *fs.FileSystem
	info   *common.DeviceInfo
	report *Report

	inodes map[int]*common.Inode // every allocated inode, as on disk
	zmap   map[int]int           // zone -> owning inode
	count  map[int]int           // directory entries naming each inode
}

// Check examines fsys. Dirty state is written to the cache first so the
// check sees what is on disk.
func Check(fsys *fs.FileSystem) (*Report, error) {
	if err := fsys.Sync(); err != nil {
		return nil, err
	}
	c := &checker{
		fsys:   fsys,
		info:   fsys.Devinfo(),
		report: &Report{ZonesByType: make(map[int]int)},
		inodes: make(map[int]*common.Inode),
		zmap:   make(map[int]int),
		count:  make(map[int]int),
	}

	if err := c.chkinodes(); err != nil {
		return nil, err
	}
	if err := c.chktree(); err != nil {
		return nil, err
	}
	c.chkcount()
	c.chkmap()
	return c.report, nil
}

// chkinodes reads the inode table and checks each inode in use against the
// inode map, marking its zones.
func (c *checker) chkinodes() error {
	sb := c.fsys.Superblock()
	cache := c.fsys.Cache()
	for ino := 1; ino <= c.info.Inodes; ino++ {
		d, err := inode.ReadInode(cache, c.info, ino)
		if err != nil {
			return err
		}
		marked := sb.InodeAllocated(ino)
		inUse := d.Mode != common.I_NOT_ALLOC
		switch {
		case inUse && !marked:
			c.report.problem("inode %d in use but free in the inode map", ino)
		case !inUse && marked:
			c.report.problem("inode %d marked in the inode map but not in use", ino)
		}
		if !inUse {
			continue
		}
		if ino == common.ROOT_INODE_NUM && !d.IsDirectory() {
			c.report.problem("root inode is not a directory (mode = %o)", d.Mode)
		}
		if d.Nlinks == 0 {
			c.report.problem("link count zero of inode %d", ino)
		}

		c.report.UsedInodes++
		rip := &common.Inode{DiskInode: d, Bcache: cache, Devinfo: c.info, Inum: ino}
		c.inodes[ino] = rip
		if err := c.chkmode(rip); err != nil {
			return err
		}
	}
	return nil
}

// Check the mode and the contents of an inode
func (c *checker) chkmode(rip *common.Inode) error {
	switch rip.Type() {
	case common.I_REGULAR:
		c.report.Regular++
	case common.I_DIRECTORY:
		c.report.Directories++
	case common.I_SYMBOLIC_LINK:
		c.report.Symlinks++
		if rip.Size == 0 || int(rip.Size) > c.info.Blocksize {
			c.report.problem("symbolic link %d has bad size %d", rip.Inum, rip.Size)
		}
	case common.I_BLOCK_SPECIAL, common.I_CHAR_SPECIAL:
		c.report.Special++
		return nil
	case common.I_NAMED_PIPE, common.I_SOCKET:
		c.report.Special++
	default:
		c.report.problem("bad mode of inode %d (mode = %o)", rip.Inum, rip.Mode)
		return nil
	}
	return c.chkzones(rip)
}

func (c *checker) chkzones(rip *common.Inode) error {
	return bmap.Walk(rip, func(z, depth int) error {
		c.markzone(rip.Inum, z, depth)
		return nil
	})
}

func (c *checker) markzone(ino, z, level int) {
	c.report.ZonesByType[level]++
	if z < c.info.Firstdatazone || z >= c.info.Zones {
		c.report.problem("out-of-range zone %d in inode %d (%s)", z, ino, levelName(level))
		return
	}
	if owner, ok := c.zmap[z]; ok {
		c.report.problem("duplicate zone %d in inode %d (%s), also in inode %d", z, ino, levelName(level), owner)
		return
	}
	c.zmap[z] = ino
	c.report.UsedZones++
}

func levelName(level int) string {
	switch level {
	case 0:
		return "data"
	case 1:
		return "single indirect"
	case 2:
		return "double indirect"
	}
	return "triple indirect"
}

// chktree walks the directory tree from the root, counting the entries that
// name each inode.
func (c *checker) chktree() error {
	seen := map[int]bool{common.ROOT_INODE_NUM: true}
	queue := []int{common.ROOT_INODE_NUM}
	// the root's ".." names the root itself, nothing else names it
	for len(queue) > 0 {
		ino := queue[0]
		queue = queue[1:]
		dir, ok := c.inodes[ino]
		if !ok || !dir.IsDirectory() {
			continue
		}

		dot, dotdot := false, false
		err := dirent.Walk(dir, func(name string, inum int) bool {
			c.count[inum]++
			switch name {
			case ".":
				dot = true
				if inum != ino {
					c.report.problem("'.' in directory %d names inode %d", ino, inum)
				}
				return true
			case "..":
				dotdot = true
				return true
			}
			child, ok := c.inodes[inum]
			switch {
			case inum > c.info.Inodes:
				c.report.problem("entry %q in directory %d names inode %d out of range", name, ino, inum)
			case !ok:
				c.report.problem("entry %q in directory %d names free inode %d", name, ino, inum)
			case child.IsDirectory() && !seen[inum]:
				seen[inum] = true
				queue = append(queue, inum)
			}
			return true
		})
		var corrupt *common.CorruptZoneError
		if errors.As(err, &corrupt) {
			c.report.problem("directory %d: %v", ino, err)
		} else if err != nil {
			return err
		}
		if !dot {
			c.report.problem(". missing in directory %d", ino)
		}
		if !dotdot {
			c.report.problem(".. missing in directory %d", ino)
		}
	}
	return nil
}

func (c *checker) chkcount() {
	for ino, rip := range c.inodes {
		if n := c.count[ino]; n != int(rip.Nlinks) {
			c.report.problem("link count of inode %d is %d, should be %d", ino, rip.Nlinks, n)
		}
	}
}

// chkmap compares the zone map with the zones found in the inodes.
func (c *checker) chkmap() {
	sb := c.fsys.Superblock()
	for z := c.info.Firstdatazone; z < c.info.Zones; z++ {
		_, used := c.zmap[z]
		marked := sb.ZoneAllocated(z)
		switch {
		case used && !marked:
			c.report.problem("zone %d in use but free in the zone map", z)
		case !used && marked:
			c.report.problem("zone %d marked in the zone map but not in use", z)
		}
	}
}
