package witness

import (
	"errors"
	"sort"
	"sync"

	"github.com/ethcore/execution/core/types"
)

// DefaultMaxWitnessSize bounds the approximate encoded size of a witness
// produced with DefaultProducerConfig.
const DefaultMaxWitnessSize = 1 << 20 // 1 MiB

// Errors returned by WitnessProducer.
var (
	ErrWitnessNotStarted = errors.New("witness: producer has not started a block")
	ErrWitnessNoAccess   = errors.New("witness: no state accesses recorded")
	ErrWitnessTooLarge   = errors.New("witness: produced witness exceeds configured size limit")
)

// WitnessProducerConfig controls what a WitnessProducer includes in the
// witnesses it produces.
type WitnessProducerConfig struct {
	MaxWitnessSize       int
	IncludeStorageProofs bool
	IncludeCode          bool
}

// DefaultProducerConfig returns a config with a 1 MiB size cap and both
// storage proofs and code included.
func DefaultProducerConfig() WitnessProducerConfig {
	return WitnessProducerConfig{
		MaxWitnessSize:       DefaultMaxWitnessSize,
		IncludeStorageProofs: true,
		IncludeCode:          true,
	}
}

// AccountAccessRecord tracks which fields and storage keys of an account
// were accessed during block execution.
type AccountAccessRecord struct {
	Fields       map[string]bool
	StorageKeys  map[types.Hash]bool
	CodeAccessed bool
}

func newAccountAccessRecord() *AccountAccessRecord {
	return &AccountAccessRecord{
		Fields:      make(map[string]bool),
		StorageKeys: make(map[types.Hash]bool),
	}
}

func (r *AccountAccessRecord) clone() *AccountAccessRecord {
	c := newAccountAccessRecord()
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	for k, v := range r.StorageKeys {
		c.StorageKeys[k] = v
	}
	c.CodeAccessed = r.CodeAccessed
	return c
}

// ProducedWitness is the immutable output of WitnessProducer.ProduceWitness.
type ProducedWitness struct {
	BlockNumber      uint64
	StateRoot        types.Hash
	AccountCount     int
	StorageKeyCount  int
	AccessedAccounts map[types.Address]*AccountAccessRecord
	StorageProofs    map[types.Address][]types.Hash
	CodeChunks       map[types.Address]bool
}

// WitnessProducer accumulates account/storage/code access markers made
// while executing a block and assembles a ProducedWitness summarizing
// them. Unlike WitnessCollector (which captures concrete pre-state
// values), WitnessProducer tracks only which fields and slots were
// touched -- useful for access-list-style witnesses. Safe for concurrent
// use.
type WitnessProducer struct {
	mu              sync.Mutex
	config          WitnessProducerConfig
	started         bool
	blockNumber     uint64
	stateRoot       types.Hash
	accounts        map[types.Address]*AccountAccessRecord
	storageKeyTotal int
}

// NewWitnessProducer returns a producer using the given config.
func NewWitnessProducer(config WitnessProducerConfig) *WitnessProducer {
	return &WitnessProducer{
		config:   config,
		accounts: make(map[types.Address]*AccountAccessRecord),
	}
}

// BeginBlock starts recording accesses for a new block, discarding any
// accesses recorded for a previous block.
func (wp *WitnessProducer) BeginBlock(blockNumber uint64, stateRoot types.Hash) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.started = true
	wp.blockNumber = blockNumber
	wp.stateRoot = stateRoot
	wp.accounts = make(map[types.Address]*AccountAccessRecord)
	wp.storageKeyTotal = 0
}

// IsStarted reports whether BeginBlock has been called since construction
// or the last Reset.
func (wp *WitnessProducer) IsStarted() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.started
}

// BlockNumber returns the block number set by the most recent BeginBlock.
func (wp *WitnessProducer) BlockNumber() uint64 {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.blockNumber
}

// Reset clears all recorded state and marks the producer as not started.
func (wp *WitnessProducer) Reset() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.started = false
	wp.blockNumber = 0
	wp.stateRoot = types.Hash{}
	wp.accounts = make(map[types.Address]*AccountAccessRecord)
	wp.storageKeyTotal = 0
}

func (wp *WitnessProducer) getOrCreate(addr types.Address) *AccountAccessRecord {
	rec, ok := wp.accounts[addr]
	if !ok {
		rec = newAccountAccessRecord()
		wp.accounts[addr] = rec
	}
	return rec
}

// RecordAccountAccess marks the given fields of addr as accessed.
// Duplicate field names are deduplicated.
func (wp *WitnessProducer) RecordAccountAccess(addr types.Address, fields []string) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	rec := wp.getOrCreate(addr)
	for _, f := range fields {
		rec.Fields[f] = true
	}
}

// RecordStorageAccess marks key as accessed for addr. Duplicate keys for
// the same address are deduplicated.
func (wp *WitnessProducer) RecordStorageAccess(addr types.Address, key types.Hash) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	rec := wp.getOrCreate(addr)
	if !rec.StorageKeys[key] {
		rec.StorageKeys[key] = true
		wp.storageKeyTotal++
	}
}

// RecordCodeAccess marks addr's code as accessed.
func (wp *WitnessProducer) RecordCodeAccess(addr types.Address) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	rec := wp.getOrCreate(addr)
	rec.CodeAccessed = true
	rec.Fields["code"] = true
}

// HasAccountAccess reports whether any access has been recorded for addr.
func (wp *WitnessProducer) HasAccountAccess(addr types.Address) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	_, ok := wp.accounts[addr]
	return ok
}

// AccountAccessCount returns the number of distinct accounts accessed.
func (wp *WitnessProducer) AccountAccessCount() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.accounts)
}

// StorageAccessCount returns the total number of distinct (address, key)
// storage accesses recorded.
func (wp *WitnessProducer) StorageAccessCount() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.storageKeyTotal
}

// ProduceWitness assembles a ProducedWitness from the accesses recorded
// since the last BeginBlock. The returned value is a deep copy: mutating
// it does not affect the producer's internal state.
func (wp *WitnessProducer) ProduceWitness() (*ProducedWitness, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return nil, ErrWitnessNotStarted
	}
	if len(wp.accounts) == 0 {
		return nil, ErrWitnessNoAccess
	}

	pw := &ProducedWitness{
		BlockNumber:      wp.blockNumber,
		StateRoot:        wp.stateRoot,
		AccountCount:     len(wp.accounts),
		StorageKeyCount:  wp.storageKeyTotal,
		AccessedAccounts: make(map[types.Address]*AccountAccessRecord, len(wp.accounts)),
		StorageProofs:    make(map[types.Address][]types.Hash),
		CodeChunks:       make(map[types.Address]bool),
	}

	for addr, rec := range wp.accounts {
		pw.AccessedAccounts[addr] = rec.clone()

		if wp.config.IncludeStorageProofs && len(rec.StorageKeys) > 0 {
			keys := make([]types.Hash, 0, len(rec.StorageKeys))
			for k := range rec.StorageKeys {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
			pw.StorageProofs[addr] = keys
		}

		if wp.config.IncludeCode && rec.CodeAccessed {
			pw.CodeChunks[addr] = true
		}
	}

	if wp.config.MaxWitnessSize > 0 {
		if size := WitnessSize(pw); size > wp.config.MaxWitnessSize {
			return nil, ErrWitnessTooLarge
		}
	}

	return pw, nil
}

// WitnessSize returns an approximate encoded byte size of pw, or 0 if pw
// is nil.
func WitnessSize(pw *ProducedWitness) int {
	if pw == nil {
		return 0
	}
	size := 48
	for addr, rec := range pw.AccessedAccounts {
		_ = addr
		size += 20
		for f := range rec.Fields {
			size += len(f) + 1
		}
		size += len(rec.StorageKeys) * 32
	}
	for addr, keys := range pw.StorageProofs {
		_ = addr
		size += len(keys) * 32
	}
	size += len(pw.CodeChunks) * 20
	return size
}
