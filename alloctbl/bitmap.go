package alloctbl

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/EVAcacia/minixfs/common"
)

// Bitmap is the in-memory copy of an inode or zone bitmap. Bit 0 never
// names a resource. Bitmap does no locking of its own.
type Bitmap struct {
	kind      common.MapKind
	bits      *bitmap.Bitmap
	blocksize int
	nblocks   int
	map_bits  int          // how many bits name a resource (including bit 0)
	dirty     map[int]bool // blocks of the map changed since the last Clean
}

// NewBitmap builds a bitmap from the contents of its on-disk blocks. Only
// the first map_bits bits are ever allocated or freed.
func NewBitmap(kind common.MapKind, blocks [][]byte, map_bits int) (*Bitmap, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%v has no blocks", kind)
	}
	blocksize := len(blocks[0])
	raw := make([]byte, 0, blocksize*len(blocks))
	for _, b := range blocks {
		if len(b) != blocksize {
			return nil, fmt.Errorf("%v block of %d bytes, expected %d", kind, len(b), blocksize)
		}
		raw = append(raw, b...)
	}
	if map_bits < 1 || map_bits > len(raw)*8 {
		return nil, fmt.Errorf("%v of %d blocks cannot hold %d bits", kind, len(blocks), map_bits)
	}

	bm := bitmap.NewBits(len(raw) * 8)
	bm.FromBytes(raw)

	return &Bitmap{
		kind:      kind,
		bits:      bm,
		blocksize: blocksize,
		nblocks:   len(blocks),
		map_bits:  map_bits,
		dirty:     make(map[int]bool),
	}, nil
}

func (m *Bitmap) Kind() common.MapKind { return m.kind }

// Bits returns the number of bits that name a resource, including bit 0.
func (m *Bitmap) Bits() int { return m.map_bits }

func (m *Bitmap) IsSet(bit int) bool {
	set, err := m.bits.IsSet(bit)
	// bits outside the map count as allocated
	return err != nil || set
}

// Reserve sets a bit without going through the allocator, reporting whether
// it changed. Used to force bit 0 at mount time.
func (m *Bitmap) Reserve(bit int) bool {
	if m.IsSet(bit) {
		return false
	}
	if err := m.bits.Set(bit); err != nil {
		return false
	}
	m.touch(bit)
	return true
}

// Alloc allocates the first clear bit at or after origin, wrapping around to
// the start of the map. It never returns bit 0.
func (m *Bitmap) Alloc(origin int) (int, error) {
	if origin < 1 || origin >= m.map_bits {
		origin = 1 // for robustness
	}

	b := m.firstClear(origin)
	if b == common.NO_BIT && origin > 1 {
		b = m.firstClear(1)
	}
	if b == common.NO_BIT {
		return common.NO_BIT, &common.ExhaustedError{Map: m.kind}
	}

	if err := m.bits.Set(b); err != nil {
		return common.NO_BIT, fmt.Errorf("%v: set bit %d: %w", m.kind, b, err)
	}
	m.touch(b)
	return b, nil
}

// Free clears a bit. Freeing a clear bit leaves the map untouched and
// returns a DoubleFreeError.
func (m *Bitmap) Free(b int) error {
	if b < 1 || b >= m.map_bits {
		return fmt.Errorf("%v: bit %d out of range: %w", m.kind, b, common.EINVAL)
	}
	if !m.IsSet(b) {
		return &common.DoubleFreeError{Map: m.kind, Bit: b}
	}
	if err := m.bits.Clear(b); err != nil {
		return fmt.Errorf("%v: clear bit %d: %w", m.kind, b, err)
	}
	m.touch(b)
	return nil
}

// CountFree returns the number of clear bits among the bits naming a
// resource.
func (m *Bitmap) CountFree() int {
	raw := m.bits.ToBytes()
	set := 0
	full := m.map_bits / 8
	for _, b := range raw[:full] {
		set += bits.OnesCount8(b)
	}
	if rem := m.map_bits % 8; rem != 0 {
		set += bits.OnesCount8(raw[full] & (byte(1)<<rem - 1))
	}
	return m.map_bits - set
}

// DirtyBlocks returns the indexes, within the map, of blocks changed since
// the last call to Clean.
func (m *Bitmap) DirtyBlocks() []int {
	blocks := make([]int, 0, len(m.dirty))
	for b := range m.dirty {
		blocks = append(blocks, b)
	}
	sort.Ints(blocks)
	return blocks
}

// Block copies the current contents of block i of the map into dst.
func (m *Bitmap) Block(i int, dst []byte) {
	raw := m.bits.ToBytes()
	copy(dst, raw[i*m.blocksize:(i+1)*m.blocksize])
}

func (m *Bitmap) Clean() {
	clear(m.dirty)
}

// CleanBlock marks block i of the map as written.
func (m *Bitmap) CleanBlock(i int) {
	delete(m.dirty, i)
}

// Blocks returns the number of on-disk blocks the map occupies.
func (m *Bitmap) Blocks() int { return m.nblocks }

func (m *Bitmap) touch(b int) {
	m.dirty[b/(m.blocksize*8)] = true
}

// Find the first clear bit in [from, map_bits).
func (m *Bitmap) firstClear(from int) int {
	b := m.bits.FirstFree(from)
	switch {
	case b < 0 || b >= m.map_bits:
		return common.NO_BIT
	case b >= from && !m.IsSet(b):
		return b
	}

	// FirstFree scans whole bytes, so it can answer with a bit below 'from'
	for b = from; b < m.map_bits; b++ {
		if !m.IsSet(b) {
			return b
		}
	}
	return common.NO_BIT
}
