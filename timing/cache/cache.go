// Package cache provides the direct-mapped caches used by the memory
// subsystem, with tag/state management built on Akita cache components.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/mipssim/emu"
)

// Cache is a direct-mapped cache over word-granular main memory. The
// Akita directory tracks tags and valid bits; block contents are held
// beside it as Words so that instruction slots survive a round trip
// through the cache.
//
// Timing is not modeled here. The memory arbiter owns the miss timers
// and decides when a block fill completes; Populate installs the block
// at that point.
type Cache struct {
	blocks        int
	wordsPerBlock int
	blockSize     int // bytes

	directory *akitacache.DirectoryImpl

	// store is indexed by (setID * associativity + wayID), one Word
	// slice per block.
	store [][]emu.Word
}

// New creates a direct-mapped cache with the given geometry. Both
// counts must be powers of two.
func New(blocks, wordsPerBlock int) *Cache {
	store := make([][]emu.Word, blocks)
	for i := range store {
		store[i] = make([]emu.Word, wordsPerBlock)
	}

	return &Cache{
		blocks:        blocks,
		wordsPerBlock: wordsPerBlock,
		blockSize:     wordsPerBlock * 4,
		directory: akitacache.NewDirectory(
			blocks, // one set per block: direct-mapped
			1,
			wordsPerBlock*4,
			akitacache.NewLRUVictimFinder(),
		),
		store: store,
	}
}

// Blocks returns the number of blocks.
func (c *Cache) Blocks() int {
	return c.blocks
}

// WordsPerBlock returns the block size in words.
func (c *Cache) WordsPerBlock() int {
	return c.wordsPerBlock
}

// blockAddr returns the block-aligned base address containing addr.
// This is where a downward scan from addr would stop: the first lower
// address maps to a different block index.
func (c *Cache) blockAddr(addr int) int {
	return addr / c.blockSize * c.blockSize
}

// wordIndex returns the index of addr's word within its block.
func (c *Cache) wordIndex(addr int) int {
	return (addr >> 2) & (c.wordsPerBlock - 1)
}

// storeIndex returns the index into store for a directory block.
func (c *Cache) storeIndex(block *akitacache.Block) int {
	return block.SetID + block.WayID
}

// lookup finds the directory block holding addr's tag, or nil.
func (c *Cache) lookup(addr int) *akitacache.Block {
	return c.directory.Lookup(0, uint64(c.blockAddr(addr)))
}

// Hit reports whether addr's block is resident and valid.
func (c *Cache) Hit(addr int) bool {
	block := c.lookup(addr)
	return block != nil && block.IsValid
}

// FetchWord returns the cached word at addr. The result is undefined
// unless Hit(addr) holds or the block was just populated.
func (c *Cache) FetchWord(addr int) emu.Word {
	block := c.lookup(addr)
	if block == nil {
		block = c.directory.FindVictim(uint64(c.blockAddr(addr)))
	}
	return c.store[c.storeIndex(block)][c.wordIndex(addr)]
}

// Write overwrites the cached word at addr. The slot for addr's block
// index is written whether or not the resident tag matches; callers
// write only after a hit or a completed fill.
func (c *Cache) Write(w emu.Word, addr int) {
	block := c.lookup(addr)
	if block == nil {
		block = c.directory.FindVictim(uint64(c.blockAddr(addr)))
	}
	c.store[c.storeIndex(block)][c.wordIndex(addr)] = w
}

// Populate installs the whole block containing addr from main memory,
// marking it valid and recording its tag.
func (c *Cache) Populate(addr int, mem *emu.Memory) {
	base := c.blockAddr(addr)
	victim := c.directory.FindVictim(uint64(base))

	data := c.store[c.storeIndex(victim)]
	for i := 0; i < c.wordsPerBlock; i++ {
		data[i] = mem.Word(base + i*4)
	}

	victim.Tag = uint64(base)
	victim.IsValid = true
	c.directory.Visit(victim)
}
