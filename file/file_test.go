package file_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EVAcacia/minixfs/bcache"
	"github.com/EVAcacia/minixfs/bmap"
	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/device"
	"github.com/EVAcacia/minixfs/file"
	"github.com/EVAcacia/minixfs/inode"
	"github.com/EVAcacia/minixfs/mkfs"
	"github.com/EVAcacia/minixfs/super"
	"github.com/EVAcacia/minixfs/testutils"
)

type env struct {
	dev    *device.RamdiskDevice
	sb     *super.Superblock
	itable *inode.Table
	clock  uint32
}

func setup(test *testing.T, opts mkfs.Options) *env {
	test.Helper()
	bs := opts.BlockSize
	if bs == 0 {
		bs = 1024
	}
	dev := testutils.NewBlankDevice(bs, opts.Blocks)
	_, err := mkfs.Format(dev, opts)
	require.NoError(test, err)

	cache := bcache.NewLRUCache(dev, bs, 16, nil)
	sb, err := super.Mount(cache, false, nil)
	require.NoError(test, err)
	test.Cleanup(func() {
		sb.Unmount()
		cache.Close()
	})
	return &env{dev: dev, sb: sb, itable: inode.NewTable(cache, sb.Devinfo, 0, nil), clock: 100}
}

func (e *env) now() uint32 {
	e.clock++
	return e.clock
}

func (e *env) create(test *testing.T) *file.File {
	test.Helper()
	rip, err := e.itable.AllocInode(common.I_REGULAR|0644, 0, 0, 0)
	require.NoError(test, err)
	rip.Nlinks = 1
	return file.New(rip, e.itable, e.now)
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/1024)
	}
	return data
}

func TestWriteReadBack(test *testing.T) {
	for _, opts := range []mkfs.Options{
		{Version: common.V1, NameLen: 14, Blocks: 320, Inodes: 64},
		{Version: common.V2, Blocks: 400},
		{Version: common.V3, Blocks: 100, BlockSize: 4096},
	} {
		e := setup(test, opts)
		f := e.create(test)
		data := pattern(50 * 1024)

		// chunks that straddle block boundaries
		for pos := 0; pos < len(data); pos += 1000 {
			n, err := f.WriteAt(data[pos:min(pos+1000, len(data))], int64(pos))
			require.NoError(test, err)
			assert.Equal(test, min(1000, len(data)-pos), n)
		}
		assert.Equal(test, int64(len(data)), f.Size())

		got := make([]byte, len(data))
		n, err := f.ReadAt(got, 0)
		require.NoError(test, err)
		assert.Equal(test, len(data), n)
		assert.True(test, bytes.Equal(data, got))

		got = make([]byte, 3000)
		n, err = f.ReadAt(got, 20000)
		require.NoError(test, err)
		assert.Equal(test, 3000, n)
		assert.Equal(test, data[20000:23000], got)

		require.NoError(test, f.Close())
	}
}

func TestReadEOF(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	f := e.create(test)
	defer f.Close()
	_, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(test, err)

	buf := make([]byte, 20)
	n, err := f.ReadAt(buf, 6)
	assert.Equal(test, 5, n)
	assert.ErrorIs(test, err, io.EOF)
	assert.Equal(test, "world", string(buf[:n]))

	n, err = f.ReadAt(buf, 11)
	assert.Zero(test, n)
	assert.ErrorIs(test, err, io.EOF)

	_, err = f.ReadAt(buf, -1)
	assert.ErrorIs(test, err, common.EINVAL)

	data, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
	require.NoError(test, err)
	assert.Equal(test, "hello world", string(data))
}

func TestHolesReadAsZero(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V1, Blocks: 320, Inodes: 64})
	f := e.create(test)
	defer f.Close()
	free := e.sb.Statistics().FreeBlocks

	_, err := f.WriteAt([]byte{0xff}, 20*1024)
	require.NoError(test, err)
	assert.Equal(test, int64(20*1024+1), f.Size())
	// one data zone and the single indirect block
	assert.Equal(test, free-2, e.sb.Statistics().FreeBlocks)

	buf := make([]byte, 20*1024+1)
	n, err := f.ReadAt(buf, 0)
	require.NoError(test, err)
	assert.Equal(test, len(buf), n)
	assert.Equal(test, make([]byte, 20*1024), buf[:20*1024])
	assert.Equal(test, byte(0xff), buf[20*1024])
}

func TestOverwrite(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	f := e.create(test)
	defer f.Close()

	data := pattern(3000)
	_, err := f.WriteAt(data, 0)
	require.NoError(test, err)
	_, err = f.WriteAt([]byte("XYZ"), 1022)
	require.NoError(test, err)
	copy(data[1022:], "XYZ")
	assert.Equal(test, int64(3000), f.Size())

	got := make([]byte, 3000)
	_, err = f.ReadAt(got, 0)
	require.NoError(test, err)
	assert.Equal(test, data, got)
}

func TestWriteUpdatesTimes(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	f := e.create(test)
	defer f.Close()

	_, err := f.WriteAt([]byte("x"), 0)
	require.NoError(test, err)
	rip := f.Inode()
	assert.Equal(test, uint32(101), rip.Mtime)
	assert.Equal(test, uint32(101), rip.Ctime)
	assert.True(test, rip.Dirty)
}

func TestWriteTooBig(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V1, Blocks: 320, Inodes: 64})
	f := e.create(test)
	defer f.Close()

	_, err := f.WriteAt([]byte("x"), e.sb.Devinfo.Maxsize)
	assert.ErrorIs(test, err, common.EFBIG)
	_, err = f.WriteAt([]byte("x"), -1)
	assert.ErrorIs(test, err, common.EINVAL)
	assert.Zero(test, f.Size())
}

// Running out of zones part way keeps what was written.
func TestWriteNoSpace(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V1, Blocks: 64, Inodes: 32})
	f := e.create(test)
	defer f.Close()

	data := pattern(64 * 1024)
	n, err := f.WriteAt(data, 0)
	assert.ErrorIs(test, err, common.ENOSPC)
	assert.Greater(test, n, 0)
	assert.Less(test, n, len(data))
	assert.Equal(test, int64(n), f.Size())
	assert.Zero(test, n%1024)
	assert.Zero(test, e.sb.Statistics().FreeBlocks)
}

func TestTruncate(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	f := e.create(test)
	defer f.Close()
	free := e.sb.Statistics().FreeBlocks

	data := pattern(10 * 1024)
	_, err := f.WriteAt(data, 0)
	require.NoError(test, err)

	require.NoError(test, f.Truncate(1500))
	assert.Equal(test, int64(1500), f.Size())
	assert.Equal(test, free-2, e.sb.Statistics().FreeBlocks)

	// growing again exposes zeroes, not the old contents
	require.NoError(test, f.Truncate(3000))
	got := make([]byte, 3000)
	_, err = f.ReadAt(got, 0)
	require.NoError(test, err)
	assert.Equal(test, data[:1500], got[:1500])
	assert.Equal(test, make([]byte, 1500), got[1500:])

	require.NoError(test, f.Truncate(0))
	assert.Equal(test, free, e.sb.Statistics().FreeBlocks)
}

func TestSyncReachesDevice(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	f := e.create(test)
	defer f.Close()

	data := pattern(2048)
	_, err := f.WriteAt(data, 0)
	require.NoError(test, err)
	require.NoError(test, f.Sync())
	assert.False(test, f.Inode().Dirty)

	bnum, err := bmap.ReadMap(f.Inode(), 1)
	require.NoError(test, err)
	raw := e.dev.Bytes()
	assert.Equal(test, data[1024:], raw[bnum*1024:(bnum+1)*1024])

	d, err := inode.ReadInode(f.Inode().Bcache, e.sb.Devinfo, f.Inode().Inum)
	require.NoError(test, err)
	assert.Equal(test, uint32(2048), d.Size)
}

func TestClosed(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	f := e.create(test)
	require.NoError(test, f.Close())
	assert.ErrorIs(test, f.Close(), file.ErrClosed)

	_, err := f.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(test, err, file.ErrClosed)
	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(test, err, file.ErrClosed)
	assert.Zero(test, e.itable.InUse())
}

func TestDirectory(test *testing.T) {
	e := setup(test, mkfs.Options{Version: common.V2, Blocks: 200})
	root, err := e.itable.GetInode(common.ROOT_INODE_NUM)
	require.NoError(test, err)
	f := file.New(root, e.itable, e.now)
	defer f.Close()

	_, err = f.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(test, err, common.EISDIR)
	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(test, err, common.EISDIR)
	assert.ErrorIs(test, f.Truncate(0), common.EISDIR)
}
