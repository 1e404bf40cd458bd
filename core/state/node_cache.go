package state

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
)

// DefaultNodeCacheBytes is the default byte budget for a NodeCache.
const DefaultNodeCacheBytes = 32 * 1024 * 1024

// NodeCache is a thread-safe read-through cache for RLP-encoded account
// trie leaves, keyed by address hash and a content fingerprint so a stale
// entry is never returned for a changed account. Backed by fastcache, the
// same in-memory cache the teacher uses for its own hot read paths.
type NodeCache struct {
	c *fastcache.Cache
}

// NewNodeCache returns a NodeCache with the given byte budget
// (DefaultNodeCacheBytes if maxBytes <= 0).
func NewNodeCache(maxBytes int) *NodeCache {
	if maxBytes <= 0 {
		maxBytes = DefaultNodeCacheBytes
	}
	return &NodeCache{c: fastcache.New(maxBytes)}
}

func nodeCacheKey(hashedAddr []byte, fingerprint uint64) []byte {
	key := make([]byte, len(hashedAddr)+8)
	copy(key, hashedAddr)
	binary.BigEndian.PutUint64(key[len(hashedAddr):], fingerprint)
	return key
}

// Get returns the cached RLP encoding for hashedAddr if fingerprint (a hash
// of the account's current field values) matches what was last stored.
func (nc *NodeCache) Get(hashedAddr []byte, fingerprint uint64) ([]byte, bool) {
	if nc == nil {
		return nil, false
	}
	key := nodeCacheKey(hashedAddr, fingerprint)
	val := nc.c.Get(nil, key)
	if val == nil {
		return nil, false
	}
	return val, true
}

// Put stores the RLP encoding for hashedAddr under fingerprint.
func (nc *NodeCache) Put(hashedAddr []byte, fingerprint uint64, encoded []byte) {
	if nc == nil {
		return
	}
	key := nodeCacheKey(hashedAddr, fingerprint)
	nc.c.Set(key, encoded)
}

// Reset clears every cached entry.
func (nc *NodeCache) Reset() {
	if nc == nil {
		return
	}
	nc.c.Reset()
}

// NodeCacheStats summarizes a NodeCache's fastcache-reported counters.
type NodeCacheStats struct {
	EntriesCount uint64
	BytesSize    uint64
	GetCalls     uint64
	SetCalls     uint64
	Misses       uint64
}

// Stats returns a snapshot of the cache's fastcache statistics.
func (nc *NodeCache) Stats() NodeCacheStats {
	if nc == nil {
		return NodeCacheStats{}
	}
	var s fastcache.Stats
	nc.c.UpdateStats(&s)
	return NodeCacheStats{
		EntriesCount: s.EntriesCount,
		BytesSize:    s.BytesSize,
		GetCalls:     s.GetCalls,
		SetCalls:     s.SetCalls,
		Misses:       s.Misses,
	}
}

// accountFingerprint folds an account's mutable fields into a fingerprint
// suitable for NodeCache invalidation: any field change produces a new key.
func accountFingerprint(nonce uint64, balance, storageRoot, codeHash []byte) uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	mix := func(b []byte) {
		for _, c := range b {
			h ^= uint64(c)
			h *= 1099511628211 // FNV-1a prime
		}
	}
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	mix(nb[:])
	mix(balance)
	mix(storageRoot)
	mix(codeHash)
	return h
}
