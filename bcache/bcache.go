// Package bcache implements the block cache of a mounted device. Blocks are
// handed out for exclusive use between GetBlock and PutBlock, and reused in
// least recently used order.
package bcache

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EVAcacia/minixfs/common"
)

var (
	ErrAllInUse = errors.New("bcache: all buffers in use")
	ErrClosed   = errors.New("bcache: cache is closed")
)

// An elaboration of the CacheBlock type, decorated with the members we need
// to handle the LRU cache policy.
type lru_buf struct {
	*common.CacheBlock

	count int      // the number of clients of this block
	valid bool     // Data holds the contents of Blocknum
	next  *lru_buf // used to link all free bufs in a chain
	prev  *lru_buf // used to link all free bufs the other way

	m sync.Mutex // held by the client between GetBlock and PutBlock
}

type LRUCache struct {
	dev       common.BlockDevice
	blocksize int
	numslots  int
	log       *slog.Logger

	m      sync.Mutex       // guards the fields below and the chain links
	bufs   map[int]*lru_buf // cached buffers by block number
	nbufs  int              // buffers created so far, at most numslots
	front  *lru_buf         // a pointer to the least recently used block
	rear   *lru_buf         // a pointer to the most recently used block
	inuse  int              // buffers with a non-zero count
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ common.BlockCache = (*LRUCache)(nil)

// NewLRUCache creates a cache of numslots blocks of the given size over dev.
func NewLRUCache(dev common.BlockDevice, blocksize, numslots int, log *slog.Logger) *LRUCache {
	if numslots < 1 {
		numslots = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &LRUCache{
		dev:       dev,
		blocksize: blocksize,
		numslots:  numslots,
		log:       log,
		bufs:      make(map[int]*lru_buf, numslots),
	}
}

func (c *LRUCache) Blocksize() int { return c.blocksize }

// StartWriteback starts a goroutine that writes dirty blocks that nobody
// holds every interval, until Close is called.
func (c *LRUCache) StartWriteback(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.m.Lock()
	if c.done != nil || c.closed {
		c.m.Unlock()
		return
	}
	c.done = make(chan struct{})
	done := c.done
	c.m.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.flush(false); err != nil {
					c.log.Warn("background writeback failed", "err", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// GetBlock returns the requested block, held exclusively by the caller until
// it is given back with PutBlock. If the block is held by somebody else the
// call waits for it. With NO_READ a block that is not cached is returned
// zeroed instead of being read from the device.
func (c *LRUCache) GetBlock(bnum int, btype common.BlockType, mode common.ReadMode) (*common.CacheBlock, error) {
	c.m.Lock()
	if c.closed {
		c.m.Unlock()
		return nil, ErrClosed
	}

	bp, ok := c.bufs[bnum]
	if ok {
		if bp.count == 0 {
			c.rm_lru(bp)
			c.inuse++
		}
		bp.count++
		c.m.Unlock()
		bp.m.Lock()
	} else {
		var err error
		if bp, err = c.evictBlock(); err != nil {
			c.m.Unlock()
			return nil, err
		}
		bp.Blocknum = bnum
		bp.Dirty = false
		bp.valid = false
		bp.count = 1
		c.inuse++
		c.bufs[bnum] = bp
		// nobody else can hold a buffer just taken from the free chain
		bp.m.Lock()
		c.m.Unlock()
	}

	if !bp.valid {
		if mode == common.NORMAL {
			pos := int64(c.blocksize) * int64(bnum)
			if err := c.dev.Read(bp.Data, pos); err != nil {
				bp.m.Unlock()
				c.release(bp, common.ONE_SHOT)
				return nil, &common.IOError{Op: "read", Block: bnum, Err: err}
			}
		} else {
			clear(bp.Data)
		}
		bp.valid = true
	}

	return bp.CacheBlock, nil
}

// Take the least recently used free buffer, writing it out first if it is
// dirty. Must be called with c.m held.
func (c *LRUCache) evictBlock() (*lru_buf, error) {
	if c.nbufs < c.numslots {
		c.nbufs++
		bp := &lru_buf{CacheBlock: &common.CacheBlock{Data: make([]byte, c.blocksize)}}
		bp.Buf = bp
		return bp, nil
	}

	// Desired block is not available on chain. Take oldest block ('front')
	bp := c.front
	if bp == nil {
		return nil, ErrAllInUse
	}

	if bp.valid && bp.Dirty {
		if err := c.writeBlock(bp); err != nil {
			return nil, err
		}
	}

	c.rm_lru(bp)
	if c.bufs[bp.Blocknum] == bp {
		delete(c.bufs, bp.Blocknum)
	}
	c.log.Debug("evicted block", "block", bp.Blocknum)
	return bp, nil
}

// Return a block to the list of available blocks. Depending on block_type it
// may be put on the front or rear of the LRU chain. Blocks whose loss can
// hurt the integrity of the file system (e.g., indirect blocks) are released
// with WRITE_IMMED and are written to the disk immediately if they are dirty.
func (c *LRUCache) PutBlock(cb *common.CacheBlock, btype common.BlockType) error {
	if cb == nil {
		return nil
	}

	// We can find the lru_buf that corresponds to the given CacheBlock by
	// checking the 'buf' field and coercing it.
	bp := cb.Buf.(*lru_buf)

	var err error
	if btype&common.WRITE_IMMED != 0 && bp.Dirty {
		err = c.writeBlock(bp)
	}

	bp.m.Unlock()
	c.release(bp, btype)
	return err
}

func (c *LRUCache) release(bp *lru_buf, btype common.BlockType) {
	c.m.Lock()
	defer c.m.Unlock()

	bp.count--
	if bp.count > 0 { // block is still in use
		return
	}
	c.inuse--

	if !bp.valid {
		// a failed read, forget about the block entirely
		if c.bufs[bp.Blocknum] == bp {
			delete(c.bufs, bp.Blocknum)
		}
		btype = common.ONE_SHOT
	}

	if btype&common.ONE_SHOT != 0 {
		// Block probably won't be needed quickly. Put it on the front of the
		// chain. It will be the next block to be evicted from the cache.
		bp.prev = nil
		bp.next = c.front
		if c.front == nil {
			c.rear = bp
		} else {
			c.front.prev = bp
		}
		c.front = bp
	} else {
		// Block probably will be needed quickly. Put it on rear of chain. It
		// will not be evicted from the cache for a long time.
		bp.prev = c.rear
		bp.next = nil
		if c.rear == nil {
			c.front = bp
		} else {
			c.rear.next = bp
		}
		c.rear = bp
	}
}

// FlushBlock writes a held block if it is dirty. When wait is set the device
// is synced as well, so a nil result means the block is on stable storage.
func (c *LRUCache) FlushBlock(cb *common.CacheBlock, wait bool) error {
	bp := cb.Buf.(*lru_buf)
	if bp.Dirty {
		if err := c.writeBlock(bp); err != nil {
			return err
		}
	}
	if wait {
		if err := c.dev.Sync(); err != nil {
			return &common.IOError{Op: "sync", Err: err}
		}
	}
	return nil
}

// Flush writes every dirty block that is not currently held and syncs the
// device. Held blocks are left to their holders.
func (c *LRUCache) Flush() error {
	return c.flush(true)
}

func (c *LRUCache) flush(sync bool) error {
	c.m.Lock()
	var dirty []*lru_buf
	for _, bp := range c.bufs {
		if bp.count == 0 && bp.valid && bp.Dirty {
			c.rm_lru(bp)
			bp.count++
			c.inuse++
			dirty = append(dirty, bp)
		}
	}
	c.m.Unlock()

	sort.Slice(dirty, func(i, j int) bool { return dirty[i].Blocknum < dirty[j].Blocknum })

	var first error
	for _, bp := range dirty {
		bp.m.Lock()
		if bp.Dirty {
			if err := c.writeBlock(bp); err != nil && first == nil {
				first = err
			}
		}
		bp.m.Unlock()
		c.release(bp, common.FULL_DATA_BLOCK)
	}
	if first != nil {
		return first
	}

	if len(dirty) > 0 {
		c.log.Debug("flushed blocks", "count", len(dirty))
	}
	if sync {
		if err := c.dev.Sync(); err != nil {
			return &common.IOError{Op: "sync", Err: err}
		}
	}
	return nil
}

// Invalidate drops every block that is not held, discarding unwritten
// changes.
func (c *LRUCache) Invalidate() {
	c.m.Lock()
	defer c.m.Unlock()
	for bnum, bp := range c.bufs {
		if bp.count == 0 {
			bp.valid = false
			bp.Dirty = false
			delete(c.bufs, bnum)
		}
	}
}

// InUse returns the number of blocks currently held by clients.
func (c *LRUCache) InUse() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.inuse
}

// Dirty returns the number of cached blocks waiting to be written.
func (c *LRUCache) Dirty() int {
	c.m.Lock()
	defer c.m.Unlock()
	n := 0
	for _, bp := range c.bufs {
		if bp.count == 0 && bp.valid && bp.Dirty {
			n++
		}
	}
	return n
}

// Close stops background writeback. Dirty blocks are not written, call
// Flush first.
func (c *LRUCache) Close() error {
	c.m.Lock()
	if c.closed {
		c.m.Unlock()
		return ErrClosed
	}
	c.closed = true
	done := c.done
	c.m.Unlock()

	if done != nil {
		close(done)
		c.wg.Wait()
	}
	return nil
}

func (c *LRUCache) writeBlock(bp *lru_buf) error {
	pos := int64(c.blocksize) * int64(bp.Blocknum)
	if err := c.dev.Write(bp.Data, pos); err != nil {
		return &common.IOError{Op: "write", Block: bp.Blocknum, Err: err}
	}
	bp.Dirty = false
	return nil
}

// Remove a block from its LRU chain
func (c *LRUCache) rm_lru(bp *lru_buf) {
	nextp := bp.next
	prevp := bp.prev
	if prevp != nil {
		prevp.next = nextp
	} else {
		c.front = nextp
	}

	if nextp != nil {
		nextp.prev = prevp
	} else {
		c.rear = prevp
	}
	bp.next = nil
	bp.prev = nil
}
