package witness

import "sync"

// CachedWitness is a wire-friendly witness representation keyed by raw
// 32-byte hashes, suitable for storing in WitnessCache without pulling in
// the full BlockWitness/GeneratedWitness types.
type CachedWitness struct {
	BlockHash     [32]byte
	BlockNumber   uint64
	StateRoot     [32]byte
	AccountProofs map[[32]byte][]byte
	StorageProofs map[[32]byte]map[[32]byte][]byte
	CodeChunks    map[[32]byte][]byte
	Size          uint64
}

// WitnessCacheStats summarizes a WitnessCache's current occupancy and
// cumulative hit/miss counters.
type WitnessCacheStats struct {
	Entries   int
	TotalSize uint64
	Hits      uint64
	Misses    uint64
}

const defaultMaxCachedBlocks = 128

// WitnessCache holds recently produced or verified witnesses keyed by block
// hash, evicting the oldest entry once maxBlocks is reached. Safe for
// concurrent use.
type WitnessCache struct {
	mu        sync.Mutex
	maxBlocks int
	entries   map[[32]byte]*CachedWitness
	order     []([32]byte)
	hits      uint64
	misses    uint64
}

// NewWitnessCache returns a cache holding at most maxBlocks witnesses
// (defaultMaxCachedBlocks if maxBlocks <= 0).
func NewWitnessCache(maxBlocks int) *WitnessCache {
	if maxBlocks <= 0 {
		maxBlocks = defaultMaxCachedBlocks
	}
	return &WitnessCache{
		maxBlocks: maxBlocks,
		entries:   make(map[[32]byte]*CachedWitness),
	}
}

// StoreWitness caches w under blockHash, evicting the oldest entry if the
// cache is full. Storing a nil witness is a no-op.
func (c *WitnessCache) StoreWitness(blockHash [32]byte, w *CachedWitness) {
	if w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[blockHash]; exists {
		c.entries[blockHash] = w
		return
	}

	for len(c.entries) >= c.maxBlocks && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[blockHash] = w
	c.order = append(c.order, blockHash)
}

// GetWitness returns the cached witness for blockHash, recording a hit or
// miss.
func (c *WitnessCache) GetWitness(blockHash [32]byte) (*CachedWitness, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.entries[blockHash]
	if ok {
		c.hits++
		return w, true
	}
	c.misses++
	return nil, false
}

// HasWitness reports whether blockHash is cached, without affecting
// hit/miss stats.
func (c *WitnessCache) HasWitness(blockHash [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[blockHash]
	return ok
}

// RemoveWitness evicts blockHash from the cache, if present.
func (c *WitnessCache) RemoveWitness(blockHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[blockHash]; !ok {
		return
	}
	delete(c.entries, blockHash)
	for i, h := range c.order {
		if h == blockHash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// PruneBeforeBlock removes every cached witness whose BlockNumber is less
// than before, returning the number of entries removed.
func (c *WitnessCache) PruneBeforeBlock(before uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	kept := c.order[:0:0]
	for _, h := range c.order {
		w := c.entries[h]
		if w.BlockNumber < before {
			delete(c.entries, h)
			pruned++
			continue
		}
		kept = append(kept, h)
	}
	c.order = kept
	return pruned
}

// TotalSize returns the sum of every cached witness's Size field.
func (c *WitnessCache) TotalSize() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, w := range c.entries {
		total += w.Size
	}
	return total
}

// Stats returns a snapshot of the cache's occupancy and hit/miss counters.
func (c *WitnessCache) Stats() WitnessCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, w := range c.entries {
		total += w.Size
	}
	return WitnessCacheStats{
		Entries:   len(c.entries),
		TotalSize: total,
		Hits:      c.hits,
		Misses:    c.misses,
	}
}
