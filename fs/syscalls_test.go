package fs_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/fs"
	"github.com/EVAcacia/minixfs/inode"
)

func names(test *testing.T, fsys *fs.FileSystem, path string) []string {
	test.Helper()
	dir, err := fsys.LookupPath(path)
	require.NoError(test, err)
	defer fsys.PutInode(dir)
	entries, err := fsys.ReadDir(dir)
	require.NoError(test, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func nlinks(test *testing.T, fsys *fs.FileSystem, path string) int {
	test.Helper()
	rip, err := fsys.LookupPath(path)
	require.NoError(test, err)
	defer fsys.PutInode(rip)
	return int(rip.Nlinks)
}

func TestCreateLookup(test *testing.T) {
	fsys := mountV1(test)
	rip, err := fsys.Create("/hello", 0644)
	require.NoError(test, err)
	assert.Equal(test, uint16(common.I_REGULAR|0644), rip.Mode)
	assert.Equal(test, uint16(1), rip.Nlinks)
	assert.Equal(test, uint32(epoch.Unix()), rip.Mtime)
	inum := rip.Inum
	require.NoError(test, fsys.PutInode(rip))

	found, err := fsys.LookupPath("/hello")
	require.NoError(test, err)
	assert.Equal(test, inum, found.Inum)
	require.NoError(test, fsys.PutInode(found))

	assert.Equal(test, []string{".", "..", "hello"}, names(test, fsys, "/"))
	assert.Equal(test, 1, fsys.InodeTable().InUse())
	checkClean(test, fsys)
}

func TestCreateErrors(test *testing.T) {
	fsys := mountV1(test)
	rip, err := fsys.Create("/a", 0644)
	require.NoError(test, err)
	require.NoError(test, fsys.PutInode(rip))
	free := fsys.Statistics().FreeInodes

	_, err = fsys.Create("/a", 0644)
	assert.ErrorIs(test, err, common.EEXIST)
	_, err = fsys.Create("/"+strings.Repeat("n", 15), 0644)
	assert.ErrorIs(test, err, common.ENAMETOOLONG)
	_, err = fsys.Create("/missing/a", 0644)
	assert.ErrorIs(test, err, common.ENOENT)
	_, err = fsys.Create("/a/b", 0644)
	assert.ErrorIs(test, err, common.ENOTDIR)
	_, err = fsys.Create("/", 0644)
	assert.ErrorIs(test, err, common.EINVAL)

	// failed creations give back the inodes they took
	assert.Equal(test, free, fsys.Statistics().FreeInodes)
	assert.Equal(test, 1, fsys.InodeTable().InUse())
}

func TestCreateOutOfInodes(test *testing.T) {
	fsys := mountV1(test)
	for i := 0; i < 63; i++ {
		rip, err := fsys.Create("/f"+string(rune('A'+i)), 0644)
		require.NoError(test, err, "file %d", i)
		require.NoError(test, fsys.PutInode(rip))
	}
	_, err := fsys.Create("/last", 0644)
	assert.ErrorIs(test, err, common.ENOSPC)
	checkClean(test, fsys)
}

func TestUnlinkFrees(test *testing.T) {
	fsys := mountV1(test)
	before := fsys.Statistics()

	rip, err := fsys.Create("/data", 0644)
	require.NoError(test, err)
	for b := 0; b < 10; b++ {
		require.NoError(test, fsys.WriteFileBlock(rip, b, []byte("block")))
	}
	inum := rip.Inum
	require.NoError(test, fsys.PutInode(rip))
	assert.Equal(test, before.FreeBlocks-11, fsys.Statistics().FreeBlocks)

	require.NoError(test, fsys.Unlink("/data"))
	after := fsys.Statistics()
	assert.Equal(test, before.FreeBlocks, after.FreeBlocks)
	assert.Equal(test, before.FreeInodes, after.FreeInodes)
	assert.False(test, fsys.Superblock().InodeAllocated(inum))

	_, err = fsys.LookupPath("/data")
	assert.ErrorIs(test, err, common.ENOENT)
	assert.ErrorIs(test, fsys.Unlink("/data"), common.ENOENT)
	checkClean(test, fsys)
}

// An open file outlives its last name until it is closed.
func TestUnlinkOpenFile(test *testing.T) {
	fsys := mountV1(test)
	free := fsys.Statistics().FreeInodes

	rip, err := fsys.Create("/tmp", 0644)
	require.NoError(test, err)
	f := fsys.OpenInode(rip)
	_, err = f.WriteAt([]byte("still here"), 0)
	require.NoError(test, err)

	require.NoError(test, fsys.Unlink("/tmp"))
	assert.Equal(test, free-1, fsys.Statistics().FreeInodes)
	buf := make([]byte, 10)
	_, err = f.ReadAt(buf, 0)
	require.NoError(test, err)
	assert.Equal(test, "still here", string(buf))

	require.NoError(test, f.Close())
	assert.Equal(test, free, fsys.Statistics().FreeInodes)
	checkClean(test, fsys)
}

func TestUnlinkErrors(test *testing.T) {
	fsys := mountV1(test)
	require.NoError(test, fsys.Mkdir("/dir", 0755))

	assert.ErrorIs(test, fsys.Unlink("/dir"), common.EISDIR)
	assert.ErrorIs(test, fsys.Unlink("/dir/."), common.EINVAL)
	assert.ErrorIs(test, fsys.Unlink("/dir/.."), common.EINVAL)
	assert.ErrorIs(test, fsys.Unlink("/"), common.EINVAL)
	assert.Equal(test, 1, fsys.InodeTable().InUse())
}

func TestMkdirRmdir(test *testing.T) {
	fsys := mountV1(test)
	before := fsys.Statistics()

	require.NoError(test, fsys.Mkdir("/dir", 0755))
	assert.Equal(test, 3, nlinks(test, fsys, "/"))
	assert.Equal(test, 2, nlinks(test, fsys, "/dir"))
	assert.Equal(test, []string{".", ".."}, names(test, fsys, "/dir"))

	dir, err := fsys.LookupPath("/dir")
	require.NoError(test, err)
	parent, err := fsys.Lookup(dir, "..")
	require.NoError(test, err)
	assert.Equal(test, common.ROOT_INODE_NUM, parent.Inum)
	require.NoError(test, fsys.PutInode(parent))
	require.NoError(test, fsys.PutInode(dir))

	require.NoError(test, fsys.Mkdir("/dir/sub", 0700))
	assert.Equal(test, 3, nlinks(test, fsys, "/dir"))
	assert.ErrorIs(test, fsys.Mkdir("/dir/sub", 0700), common.EEXIST)
	assert.ErrorIs(test, fsys.Rmdir("/dir"), common.ENOTEMPTY)
	checkClean(test, fsys)

	require.NoError(test, fsys.Rmdir("/dir/sub"))
	assert.Equal(test, 2, nlinks(test, fsys, "/dir"))
	require.NoError(test, fsys.Rmdir("/dir"))
	assert.Equal(test, 2, nlinks(test, fsys, "/"))
	assert.Equal(test, before, fsys.Statistics())
	assert.Equal(test, []string{".", ".."}, names(test, fsys, "/"))
	checkClean(test, fsys)
}

func TestRmdirErrors(test *testing.T) {
	fsys := mountV1(test)
	rip, err := fsys.Create("/file", 0644)
	require.NoError(test, err)
	require.NoError(test, fsys.PutInode(rip))
	require.NoError(test, fsys.Mkdir("/dir", 0755))

	assert.ErrorIs(test, fsys.Rmdir("/file"), common.ENOTDIR)
	assert.ErrorIs(test, fsys.Rmdir("/missing"), common.ENOENT)
	assert.ErrorIs(test, fsys.Rmdir("/dir/."), common.EINVAL)

	// a directory somebody holds cannot go
	dir, err := fsys.LookupPath("/dir")
	require.NoError(test, err)
	assert.ErrorIs(test, fsys.Rmdir("/dir"), common.EBUSY)
	require.NoError(test, fsys.PutInode(dir))
	require.NoError(test, fsys.Rmdir("/dir"))
}

func TestNestedPaths(test *testing.T) {
	fsys := mountV1(test)
	require.NoError(test, fsys.Mkdir("/a", 0755))
	require.NoError(test, fsys.Mkdir("/a/b", 0755))
	rip, err := fsys.Create("/a/b/c", 0644)
	require.NoError(test, err)
	inum := rip.Inum
	require.NoError(test, fsys.PutInode(rip))

	for _, path := range []string{"/a/b/c", "a/b/c", "//a/./b/../b/c"} {
		found, err := fsys.LookupPath(path)
		require.NoError(test, err, path)
		assert.Equal(test, inum, found.Inum, path)
		require.NoError(test, fsys.PutInode(found))
	}
	_, err = fsys.LookupPath("/a/b/c/d")
	assert.ErrorIs(test, err, common.ENOTDIR)
	checkClean(test, fsys)
}

func TestLink(test *testing.T) {
	fsys := mountV1(test)
	rip, err := fsys.Create("/orig", 0644)
	require.NoError(test, err)
	require.NoError(test, fsys.WriteFileBlock(rip, 0, []byte("shared")))
	require.NoError(test, fsys.PutInode(rip))
	require.NoError(test, fsys.Mkdir("/dir", 0755))

	require.NoError(test, fsys.Link("/orig", "/dir/alias"))
	assert.Equal(test, 2, nlinks(test, fsys, "/orig"))
	checkClean(test, fsys)

	require.NoError(test, fsys.Unlink("/orig"))
	f, err := fsys.Open("/dir/alias")
	require.NoError(test, err)
	buf := make([]byte, 6)
	_, err = f.ReadAt(buf, 0)
	require.NoError(test, err)
	assert.Equal(test, "shared", string(buf))
	require.NoError(test, f.Close())
	assert.Equal(test, 1, nlinks(test, fsys, "/dir/alias"))

	assert.ErrorIs(test, fsys.Link("/dir", "/dir2"), common.EPERM)
	assert.ErrorIs(test, fsys.Link("/dir/alias", "/dir/alias"), common.EEXIST)
	assert.ErrorIs(test, fsys.Link("/missing", "/x"), common.ENOENT)
	checkClean(test, fsys)
}

func TestLinkMax(test *testing.T) {
	fsys := mountV1(test)
	rip, err := fsys.Create("/f", 0644)
	require.NoError(test, err)
	// pretend the file already carries the most links a V1 inode can count
	rip.Lock()
	rip.Nlinks = uint16(common.V1.LinkMax())
	rip.Unlock()
	assert.ErrorIs(test, fsys.Link("/f", "/g"), common.EMLINK)
	rip.Lock()
	rip.Nlinks = 1
	rip.Unlock()
	require.NoError(test, fsys.PutInode(rip))
}

func TestMknod(test *testing.T) {
	fsys := mountV1(test)
	dev := common.MkDev(3, 1)
	require.NoError(test, fsys.Mknod("/tty", common.I_CHAR_SPECIAL|0620, dev))
	require.NoError(test, fsys.Mknod("/disk", common.I_BLOCK_SPECIAL|0600, common.MkDev(8, 0)))
	require.NoError(test, fsys.Mknod("/pipe", common.I_NAMED_PIPE|0600, 0))
	assert.ErrorIs(test, fsys.Mknod("/reg", common.I_REGULAR|0600, 0), common.EINVAL)
	assert.ErrorIs(test, fsys.Mknod("/tty", common.I_CHAR_SPECIAL|0600, dev), common.EEXIST)

	rip, err := fsys.LookupPath("/tty")
	require.NoError(test, err)
	inum := rip.Inum
	require.NoError(test, fsys.PutInode(rip))

	require.NoError(test, fsys.Sync())
	d, err := inode.ReadInode(fsys.Cache(), fsys.Devinfo(), inum)
	require.NoError(test, err)
	assert.True(test, d.IsDevice())
	assert.Equal(test, dev, d.Rdev)
	assert.Equal(test, uint16(common.I_CHAR_SPECIAL|0620), d.Mode)

	report := checkClean(test, fsys)
	assert.Equal(test, 3, report.Special)
	require.NoError(test, fsys.Unlink("/tty"))
}

func TestOpen(test *testing.T) {
	fsys := mountV1(test)
	_, err := fsys.Open("/")
	assert.ErrorIs(test, err, common.EISDIR)
	_, err = fsys.Open("/nope")
	assert.ErrorIs(test, err, common.ENOENT)
	assert.Equal(test, 1, fsys.InodeTable().InUse())
}

func TestDirectoryGrowth(test *testing.T) {
	fsys := mountV1(test)
	perBlock := fsys.Devinfo().DirentsPerBlock()

	// 61 files and two directories use up the free inodes and spill the
	// root into a second block
	for i := 0; i < 61; i++ {
		rip, err := fsys.Create("/"+strings.Repeat("x", 1+i%13)+string(rune('a'+i/13)), 0644)
		require.NoError(test, err, "file %d", i)
		require.NoError(test, fsys.PutInode(rip))
	}
	require.NoError(test, fsys.Mkdir("/d", 0755))
	require.NoError(test, fsys.Mkdir("/d2", 0755))
	_, err := fsys.Create("/more", 0644)
	assert.ErrorIs(test, err, common.ENOSPC)

	entries := 2 + 61 + 2
	require.Greater(test, entries, perBlock)
	assert.Len(test, names(test, fsys, "/"), entries)
	assert.Equal(test, 4, nlinks(test, fsys, "/"))

	root := fsys.RootInode()
	assert.Equal(test, uint32(entries*16), root.Size)
	assert.NotZero(test, root.Zone[1])
	require.NoError(test, fsys.PutInode(root))
	checkClean(test, fsys)
}
