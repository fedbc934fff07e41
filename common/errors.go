package common

import (
	"errors"
	"fmt"
)

// The following string constants are taken from the Minix 3.1.0 source,
// specifically from lib/ansi/errlist.c.

var (
	EBUSY        = errors.New("Resource busy")
	EEXIST       = errors.New("File exists")
	EFBIG        = errors.New("File too large")
	EINVAL       = errors.New("Invalid argument")
	EIO          = errors.New("I/O error")
	EISDIR       = errors.New("Is a directory")
	EMLINK       = errors.New("Too many links")
	ENFILE       = errors.New("File table overflow")
	ENAMETOOLONG = errors.New("File name too long")
	ENOENT       = errors.New("No such file or directory")
	ENOSPC       = errors.New("No space left on device")
	ENOTDIR      = errors.New("Not a directory")
	ENOTEMPTY    = errors.New("Directory not empty")
	EPERM        = errors.New("Operation not permitted")
	EROFS        = errors.New("Read-only file system")
)

// IOError reports a failed device transfer.
type IOError struct {
	Op    string // "read", "write" or "sync"
	Block int
	Err   error
}

func (e *IOError) Error() string {
	if e.Op == "sync" {
		return fmt.Sprintf("sync: %v", e.Err)
	}
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Block, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == EIO }

// CorruptSuperblockError is returned when the superblock geometry cannot
// describe a usable file system.
type CorruptSuperblockError struct {
	Reason string
}

func (e *CorruptSuperblockError) Error() string {
	return "corrupt superblock: " + e.Reason
}

// UnsupportedFormatError is returned when no known magic number is found.
type UnsupportedFormatError struct {
	Magic  uint16 // value at the V1/V2 magic offset
	Magic3 uint16 // value at the V3 magic offset
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file system format (magic %#04x, v3 magic %#04x)", e.Magic, e.Magic3)
}

// ExhaustedError is returned when a bitmap has no clear bit left.
type ExhaustedError struct {
	Map MapKind
}

func (e *ExhaustedError) Error() string {
	if e.Map == IMAP {
		return "out of inodes"
	}
	return "out of zones"
}

func (e *ExhaustedError) Is(target error) bool { return target == ENOSPC }

// DoubleFreeError is returned when freeing a bit that is already clear. It
// signals on-disk inconsistency and never aborts the calling operation.
type DoubleFreeError struct {
	Map MapKind
	Bit int
}

func (e *DoubleFreeError) Error() string {
	return fmt.Sprintf("%v bit %d already cleared", e.Map, e.Bit)
}

// CorruptZoneError reports a zone number outside the data zones, found in an
// inode or an indirect block.
type CorruptZoneError struct {
	Zone  int
	Block int // the indirect block holding the entry, NO_BLOCK for an inode
	Index int
}

func (e *CorruptZoneError) Error() string {
	if e.Block == NO_BLOCK {
		return fmt.Sprintf("illegal zone number %d in inode slot %d", e.Zone, e.Index)
	}
	return fmt.Sprintf("illegal zone number %d in indirect block %d, index %d", e.Zone, e.Block, e.Index)
}

func (e *CorruptZoneError) Is(target error) bool { return target == EIO }
