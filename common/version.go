package common

import "fmt"

// Version selects one of the on-disk layouts. It is chosen once at mount
// time and passed into every codec call.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

func (v Version) String() string {
	switch v {
	case V1, V2, V3:
		return fmt.Sprintf("V%d", int(v))
	}
	return fmt.Sprintf("Version(%d)", int(v))
}

// Valid reports whether v names a known layout.
func (v Version) Valid() bool {
	return v == V1 || v == V2 || v == V3
}

// InodeSize is the size in bytes of an on-disk inode record.
func (v Version) InodeSize() int {
	switch v {
	case V1:
		return V1_INODE_SIZE
	case V2, V3:
		return V2_INODE_SIZE
	}
	panic("minixfs: invalid version " + v.String())
}

// ZoneNumSize is the width in bytes of a zone number stored in an indirect
// block.
func (v Version) ZoneNumSize() int {
	switch v {
	case V1:
		return V1_ZONE_NUM_SIZE
	case V2, V3:
		return V2_ZONE_NUM_SIZE
	}
	panic("minixfs: invalid version " + v.String())
}

// NrZones is the number of zone slots in an inode.
func (v Version) NrZones() int {
	switch v {
	case V1:
		return V1_NR_TZONES
	case V2, V3:
		return V2_NR_TZONES
	}
	panic("minixfs: invalid version " + v.String())
}

// IndirectLevels is the deepest level of indirection an inode can address:
// double indirect for V1, triple indirect for V2 and V3.
func (v Version) IndirectLevels() int {
	return v.NrZones() - NR_DZONES
}

// DirNumSize is the width in bytes of the inode number in a directory entry.
func (v Version) DirNumSize() int {
	switch v {
	case V1, V2:
		return 2
	case V3:
		return 4
	}
	panic("minixfs: invalid version " + v.String())
}

// LinkMax is the largest link count an inode may carry.
func (v Version) LinkMax() int {
	switch v {
	case V1:
		return V1_LINK_MAX
	case V2, V3:
		return V2_LINK_MAX
	}
	panic("minixfs: invalid version " + v.String())
}

// HasState reports whether the superblock carries a mount state word.
func (v Version) HasState() bool {
	return v == V1 || v == V2
}

// MagicInfo maps a superblock magic number to its version and maximum name
// length. The V3 magic is matched separately at its own offset.
func MagicInfo(magic uint16) (Version, int, bool) {
	switch magic {
	case MINIX_SUPER_MAGIC:
		return V1, 14, true
	case MINIX_SUPER_MAGIC2:
		return V1, 30, true
	case MINIX2_SUPER_MAGIC:
		return V2, 14, true
	case MINIX2_SUPER_MAGIC2:
		return V2, 30, true
	case MINIX3_SUPER_MAGIC:
		return V3, 60, true
	}
	return 0, 0, false
}

// Magic returns the superblock magic for a version and name length.
func Magic(v Version, namelen int) (uint16, error) {
	switch {
	case v == V1 && namelen == 14:
		return MINIX_SUPER_MAGIC, nil
	case v == V1 && namelen == 30:
		return MINIX_SUPER_MAGIC2, nil
	case v == V2 && namelen == 14:
		return MINIX2_SUPER_MAGIC, nil
	case v == V2 && namelen == 30:
		return MINIX2_SUPER_MAGIC2, nil
	case v == V3 && namelen == 60:
		return MINIX3_SUPER_MAGIC, nil
	}
	return 0, fmt.Errorf("no %v layout with %d character names: %w", v, namelen, EINVAL)
}
