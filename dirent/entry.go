// Package dirent reads and changes the entries stored in directory inodes.
// A directory is a file of fixed size records holding an inode number and a
// NUL padded name; records with inode number zero are free.
package dirent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/EVAcacia/minixfs/common"
)

// Entry decodes the directory record at the start of data.
func Entry(data []byte, info *common.DeviceInfo) (int, string) {
	var inum int
	nsize := info.Version.DirNumSize()
	if nsize == 2 {
		inum = int(binary.LittleEndian.Uint16(data))
	} else {
		inum = int(binary.LittleEndian.Uint32(data))
	}

	name := data[nsize : nsize+info.NameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return inum, string(name)
}

// PutEntry encodes a directory record at the start of data.
func PutEntry(data []byte, info *common.DeviceInfo, inum int, name string) {
	nsize := info.Version.DirNumSize()
	if nsize == 2 {
		binary.LittleEndian.PutUint16(data, uint16(inum))
	} else {
		binary.LittleEndian.PutUint32(data, uint32(inum))
	}
	field := data[nsize : nsize+info.NameLen]
	n := copy(field, name)
	clear(field[n:])
}

// CheckName rejects names that cannot be stored in a directory of info.
func CheckName(info *common.DeviceInfo, name string) error {
	switch {
	case name == "" || strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("bad name %q: %w", name, common.EINVAL)
	case len(name) > info.NameLen:
		return fmt.Errorf("%q is longer than %d bytes: %w", name, info.NameLen, common.ENAMETOOLONG)
	}
	return nil
}
