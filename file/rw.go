package file

import (
	"io"

	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
)

// Read copies bytes of rip starting at pos into b, stopping at the end of
// the file. Holes read as zeroes. The caller holds rip's read lock.
func Read(rip *common.Inode, b []byte, pos int64) (int, error) {
	size := int64(rip.Size)
	if pos >= size {
		return 0, io.EOF
	}
	if pos+int64(len(b)) > size {
		b = b[:size-pos]
	}

	bs := int64(rip.Devinfo.Blocksize)
	n := 0
	for n < len(b) {
		cur := pos + int64(n)
		offset := int(cur % bs)
		chunk := min(len(b)-n, int(bs)-offset)

		bnum, err := bmap.ReadMap(rip, int(cur/bs))
		if err != nil {
			return n, err
		}
		if bnum == common.NO_BLOCK {
			clear(b[n : n+chunk])
			n += chunk
			continue
		}

		bp, err := rip.Bcache.GetBlock(bnum, common.FULL_DATA_BLOCK, common.NORMAL)
		if err != nil {
			return n, err
		}
		copy(b[n:n+chunk], bp.Data[offset:])
		if err := rip.Bcache.PutBlock(bp, common.FULL_DATA_BLOCK); err != nil {
			return n, err
		}
		n += chunk
	}
	return n, nil
}

// Write copies b into rip starting at pos, allocating blocks as needed and
// growing the file. The caller holds rip's write lock.
func Write(rip *common.Inode, b []byte, pos int64, now uint32) (int, error) {
	info := rip.Devinfo
	if !rip.HasZones() {
		return 0, common.EINVAL
	}
	if pos < 0 {
		return 0, common.EINVAL
	}
	if pos+int64(len(b)) > info.Maxsize {
		return 0, common.EFBIG
	}

	bs := int64(info.Blocksize)
	n := 0
	var err error
	for n < len(b) {
		cur := pos + int64(n)
		offset := int(cur % bs)
		chunk := min(len(b)-n, int(bs)-offset)
		if err = writeChunk(rip, int(cur/bs), offset, b[n:n+chunk]); err != nil {
			break
		}
		n += chunk
	}

	if n > 0 {
		if end := pos + int64(n); end > int64(rip.Size) {
			rip.Size = uint32(end)
		}
		rip.Mtime = now
		rip.Ctime = now
		rip.Dirty = true
	}
	return n, err
}

// writeChunk writes data at offset within logical block lblock of rip.
func writeChunk(rip *common.Inode, lblock, offset int, data []byte) error {
	bnum, err := bmap.MapBlock(rip, lblock, true)
	if err != nil {
		return err
	}

	btype := common.PARTIAL_DATA_BLOCK
	mode := common.NORMAL
	if len(data) == rip.Devinfo.Blocksize {
		// the whole block is overwritten, no need to read it
		btype = common.FULL_DATA_BLOCK
		mode = common.NO_READ
	}

	bp, err := rip.Bcache.GetBlock(bnum, btype, mode)
	if err != nil {
		return err
	}
	copy(bp.Data[offset:], data)
	bp.Dirty = true
	return rip.Bcache.PutBlock(bp, btype)
}
