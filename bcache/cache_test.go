package bcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/device"
	"github.com/EVAcacia/minixfs/testutils"
)

func openTestCache(test *testing.T, slots int) (*testutils.FailingDevice, *LRUCache) {
	dev := testutils.NewFailingDevice(testutils.NewTestDevice(test, 64, 100), 64)
	cache := NewLRUCache(dev, 64, slots, nil)
	test.Cleanup(func() { cache.Close() })
	return dev, cache
}

func getBlock(test *testing.T, cache *LRUCache, bnum int) *common.CacheBlock {
	test.Helper()
	cb, err := cache.GetBlock(bnum, common.FULL_DATA_BLOCK, common.NORMAL)
	require.NoError(test, err)
	return cb
}

// Test to ensure that blocks are re-used in last-recently-used order, i.e.
// in the order they are 'put' back into the cache.
func TestLRUOrder(test *testing.T) {
	_, cache := openTestCache(test, 10)

	// get 10 blocks
	blocks := make([]*common.CacheBlock, 10)
	for i := 0; i < 10; i++ {
		blocks[i] = getBlock(test, cache, i)
	}

	// put them back
	for i := 0; i < 10; i++ {
		require.NoError(test, cache.PutBlock(blocks[i], common.FULL_DATA_BLOCK))
	}

	// now fetch 10 more different blocks
	for i := 0; i < 10; i++ {
		cb := getBlock(test, cache, i+10)
		assert.Same(test, blocks[i], cb, "cache block mismatch for block %d", i+10)
		assert.Equal(test, byte(i+10), cb.Data[0])
		assert.Equal(test, byte(i+10), cb.Data[63])
		require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
	}
}

// ONE_SHOT blocks go to the front of the chain and are reused first.
func TestOneShot(test *testing.T) {
	_, cache := openTestCache(test, 3)

	a := getBlock(test, cache, 1)
	b := getBlock(test, cache, 2)
	c := getBlock(test, cache, 3)
	require.NoError(test, cache.PutBlock(a, common.FULL_DATA_BLOCK))
	require.NoError(test, cache.PutBlock(b, common.FULL_DATA_BLOCK))
	require.NoError(test, cache.PutBlock(c, common.FULL_DATA_BLOCK|common.ONE_SHOT))

	d := getBlock(test, cache, 4)
	assert.Same(test, c, d)
	require.NoError(test, cache.PutBlock(d, common.FULL_DATA_BLOCK))
}

func TestCachedBlockIsNotReread(test *testing.T) {
	dev, cache := openTestCache(test, 4)

	cb := getBlock(test, cache, 5)
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
	dev.Reset()

	cb = getBlock(test, cache, 5)
	assert.Equal(test, byte(5), cb.Data[10])
	assert.Equal(test, 0, dev.Reads)
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
}

func TestNoRead(test *testing.T) {
	dev, cache := openTestCache(test, 4)

	cb, err := cache.GetBlock(7, common.FULL_DATA_BLOCK, common.NO_READ)
	require.NoError(test, err)
	assert.Equal(test, make([]byte, 64), cb.Data)
	assert.Equal(test, 0, dev.Reads)
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
}

func TestDirtyBlockWrittenOnEviction(test *testing.T) {
	dev, cache := openTestCache(test, 2)

	cb := getBlock(test, cache, 3)
	copy(cb.Data, testutils.Pattern(64, 3))
	cb.Dirty = true
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
	assert.Equal(test, 0, dev.Writes)

	// fill the cache with other blocks so block 3 is evicted
	for _, bnum := range []int{4, 5} {
		cb := getBlock(test, cache, bnum)
		require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
	}

	assert.Equal(test, []int64{3}, dev.WriteOrder)
	buf := make([]byte, 64)
	require.NoError(test, dev.RamdiskDevice.Read(buf, 3*64))
	assert.Equal(test, testutils.Pattern(64, 3), buf)
}

func TestWriteImmediate(test *testing.T) {
	dev, cache := openTestCache(test, 4)

	cb := getBlock(test, cache, 9)
	cb.Data[0] = 0xAB
	cb.Dirty = true
	require.NoError(test, cache.PutBlock(cb, common.INDIRECT_BLOCK|common.WRITE_IMMED))
	assert.Equal(test, []int64{9}, dev.WriteOrder)
	assert.Equal(test, 0, cache.Dirty())
}

func TestFlush(test *testing.T) {
	dev, cache := openTestCache(test, 8)

	for _, bnum := range []int{6, 2, 4} {
		cb := getBlock(test, cache, bnum)
		cb.Data[0] = 0xFF
		cb.Dirty = true
		require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
	}

	// held blocks are left alone
	held := getBlock(test, cache, 8)
	held.Dirty = true

	assert.Equal(test, 3, cache.Dirty())
	require.NoError(test, cache.Flush())
	assert.Equal(test, []int64{2, 4, 6}, dev.WriteOrder)
	assert.Equal(test, 1, dev.Syncs)
	assert.Equal(test, 0, cache.Dirty())

	require.NoError(test, cache.FlushBlock(held, true))
	assert.Equal(test, []int64{2, 4, 6, 8}, dev.WriteOrder)
	assert.Equal(test, 2, dev.Syncs)
	require.NoError(test, cache.PutBlock(held, common.FULL_DATA_BLOCK))
}

func TestFlushBlockReportsSyncFailure(test *testing.T) {
	dev, cache := openTestCache(test, 2)
	dev.FailSync(true)

	cb := getBlock(test, cache, 1)
	cb.Dirty = true
	err := cache.FlushBlock(cb, true)
	require.Error(test, err)
	assert.True(test, errors.Is(err, common.EIO))
	assert.True(test, errors.Is(err, testutils.ErrInjected))

	// without wait only the write is performed
	cb.Dirty = true
	assert.NoError(test, cache.FlushBlock(cb, false))
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
}

func TestReadFailure(test *testing.T) {
	dev, cache := openTestCache(test, 4)
	dev.FailRead(12, true)

	_, err := cache.GetBlock(12, common.FULL_DATA_BLOCK, common.NORMAL)
	var ioerr *common.IOError
	require.ErrorAs(test, err, &ioerr)
	assert.Equal(test, 12, ioerr.Block)
	assert.Equal(test, "read", ioerr.Op)
	assert.Equal(test, 0, cache.InUse())

	// once the device recovers the block can be read
	dev.FailRead(12, false)
	cb := getBlock(test, cache, 12)
	assert.Equal(test, byte(12), cb.Data[0])
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
}

func TestAllInUse(test *testing.T) {
	_, cache := openTestCache(test, 2)

	a := getBlock(test, cache, 1)
	b := getBlock(test, cache, 2)
	assert.Equal(test, 2, cache.InUse())

	_, err := cache.GetBlock(3, common.FULL_DATA_BLOCK, common.NORMAL)
	assert.ErrorIs(test, err, ErrAllInUse)

	require.NoError(test, cache.PutBlock(a, common.FULL_DATA_BLOCK))
	require.NoError(test, cache.PutBlock(b, common.FULL_DATA_BLOCK))
	assert.Equal(test, 0, cache.InUse())
}

// A held block is exclusive: a second GetBlock waits until it is released.
func TestExclusiveAccess(test *testing.T) {
	_, cache := openTestCache(test, 4)

	cb := getBlock(test, cache, 1)

	got := make(chan *common.CacheBlock)
	go func() {
		cb2, err := cache.GetBlock(1, common.FULL_DATA_BLOCK, common.NORMAL)
		if err != nil {
			close(got)
			return
		}
		got <- cb2
	}()

	select {
	case <-got:
		test.Fatal("second GetBlock returned while the block was held")
	case <-time.After(50 * time.Millisecond):
	}

	cb.Data[0] = 0x42
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))

	cb2, ok := <-got
	require.True(test, ok)
	assert.Same(test, cb, cb2)
	assert.Equal(test, byte(0x42), cb2.Data[0])
	require.NoError(test, cache.PutBlock(cb2, common.FULL_DATA_BLOCK))
}

func TestInvalidate(test *testing.T) {
	dev, cache := openTestCache(test, 4)

	cb := getBlock(test, cache, 2)
	cb.Data[0] = 0x99
	cb.Dirty = true
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))

	cache.Invalidate()
	assert.Equal(test, 0, cache.Dirty())

	cb = getBlock(test, cache, 2)
	assert.Equal(test, byte(2), cb.Data[0])
	assert.Equal(test, 0, dev.Writes)
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))
}

func TestBackgroundWriteback(test *testing.T) {
	rdev := device.NewRamdiskDevice(make([]byte, 64*16))
	cache := NewLRUCache(rdev, 64, 4, nil)
	cache.StartWriteback(10 * time.Millisecond)

	cb := getBlock(test, cache, 5)
	cb.Data[3] = 0x77
	cb.Dirty = true
	require.NoError(test, cache.PutBlock(cb, common.FULL_DATA_BLOCK))

	assert.Eventually(test, func() bool {
		return rdev.Bytes()[5*64+3] == 0x77
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(test, cache.Close())
	_, err := cache.GetBlock(1, common.FULL_DATA_BLOCK, common.NORMAL)
	assert.ErrorIs(test, err, ErrClosed)
}
