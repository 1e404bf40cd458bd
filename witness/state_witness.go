package witness

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sort"

	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/crypto"
)

// ErrStateWitnessEmpty is returned by Finalize when no accounts were
// recorded.
var ErrStateWitnessEmpty = errors.New("witness: state witness is empty")

// ErrStateWitnessFinalized is returned when a builder is used after
// Finalize has already been called.
var ErrStateWitnessFinalized = errors.New("witness: state witness already finalized")

// StateWitnessAccount is the pre-execution state of a single account,
// along with any storage slots accessed during execution.
type StateWitnessAccount struct {
	Exists   bool
	Nonce    uint64
	Balance  *big.Int
	CodeHash types.Hash
	Storage  map[types.Hash]types.Hash
}

// StateWitness is a finalized, immutable account-based execution witness
// for a single block.
type StateWitness struct {
	BlockNumber   uint64
	StateRoot     types.Hash
	Accounts      map[types.Address]*StateWitnessAccount
	Codes         map[types.Hash][]byte
	AccessedSlots int
	WitnessHash   types.Hash
}

type accessLogEntry struct {
	addr types.Address
	key  types.Hash
}

// StateWitnessBuilder accumulates account, storage and code accesses made
// while executing a block and produces an immutable StateWitness.
type StateWitnessBuilder struct {
	blockNumber uint64
	stateRoot   types.Hash
	accounts    map[types.Address]*StateWitnessAccount
	codes       map[types.Hash][]byte
	accessLog   []accessLogEntry
	slotCount   int
	finalized   bool
}

// NewStateWitnessBuilder returns a builder for the given block number and
// pre-execution state root.
func NewStateWitnessBuilder(blockNumber uint64, stateRoot types.Hash) *StateWitnessBuilder {
	return &StateWitnessBuilder{
		blockNumber: blockNumber,
		stateRoot:   stateRoot,
		accounts:    make(map[types.Address]*StateWitnessAccount),
		codes:       make(map[types.Hash][]byte),
	}
}

// RecordAccount records an account's pre-execution field values. Only the
// first call for a given address has effect; later calls are no-ops so
// that the witness always reflects the first-observed (pre-state) values.
func (b *StateWitnessBuilder) RecordAccount(addr types.Address, exists bool, nonce uint64, balance *big.Int, codeHash types.Hash) error {
	if b.finalized {
		return ErrStateWitnessFinalized
	}
	if _, ok := b.accounts[addr]; ok {
		return nil
	}
	if balance == nil {
		balance = new(big.Int)
	} else {
		balance = new(big.Int).Set(balance)
	}
	b.accounts[addr] = &StateWitnessAccount{
		Exists:   exists,
		Nonce:    nonce,
		Balance:  balance,
		CodeHash: codeHash,
		Storage:  make(map[types.Hash]types.Hash),
	}
	b.accessLog = append(b.accessLog, accessLogEntry{addr: addr})
	return nil
}

// RecordStorage records a storage slot's pre-execution value for addr. The
// account must already have been recorded via RecordAccount; if not, an
// empty placeholder account is created. Duplicate keys are no-ops.
func (b *StateWitnessBuilder) RecordStorage(addr types.Address, key, value types.Hash) error {
	if b.finalized {
		return ErrStateWitnessFinalized
	}
	acc, ok := b.accounts[addr]
	if !ok {
		acc = &StateWitnessAccount{Balance: new(big.Int), Storage: make(map[types.Hash]types.Hash)}
		b.accounts[addr] = acc
	}
	b.accessLog = append(b.accessLog, accessLogEntry{addr: addr, key: key})
	if _, dup := acc.Storage[key]; dup {
		b.slotCount++
		return nil
	}
	acc.Storage[key] = value
	b.slotCount++
	return nil
}

// RecordCode records the bytecode for codeHash. Empty and zero code hashes
// are ignored since they carry no code. Duplicate hashes are no-ops.
func (b *StateWitnessBuilder) RecordCode(codeHash types.Hash, code []byte) error {
	if b.finalized {
		return ErrStateWitnessFinalized
	}
	if codeHash == (types.Hash{}) || codeHash == types.EmptyCodeHash {
		return nil
	}
	if _, ok := b.codes[codeHash]; ok {
		return nil
	}
	stored := make([]byte, len(code))
	copy(stored, code)
	b.codes[codeHash] = stored
	return nil
}

// AccountCount returns the number of distinct accounts recorded.
func (b *StateWitnessBuilder) AccountCount() int { return len(b.accounts) }

// SlotCount returns the total number of RecordStorage calls, including
// duplicates.
func (b *StateWitnessBuilder) SlotCount() int { return b.slotCount }

// CodeCount returns the number of distinct code entries recorded.
func (b *StateWitnessBuilder) CodeCount() int { return len(b.codes) }

// AccessLogLen returns the number of access log entries recorded, one per
// RecordAccount/RecordStorage call (including duplicates).
func (b *StateWitnessBuilder) AccessLogLen() int { return len(b.accessLog) }

// IsFinalized reports whether Finalize has already been called.
func (b *StateWitnessBuilder) IsFinalized() bool { return b.finalized }

// EstimateSize returns a rough byte-size estimate of the witness under
// construction, useful for size-budgeted witness generation.
func (b *StateWitnessBuilder) EstimateSize() int {
	size := 48 // base header overhead
	for _, acc := range b.accounts {
		size += 20 + 8 + 32 + 32 // address + nonce + balance + codehash
		size += len(acc.Storage) * 64
	}
	for _, code := range b.codes {
		size += 32 + len(code)
	}
	return size
}

// Finalize produces an immutable StateWitness from the accumulated state.
// The builder cannot be used afterwards. Returns ErrStateWitnessEmpty if
// no accounts were recorded, or ErrStateWitnessFinalized if already
// finalized.
func (b *StateWitnessBuilder) Finalize() (*StateWitness, error) {
	if b.finalized {
		return nil, ErrStateWitnessFinalized
	}
	if len(b.accounts) == 0 {
		return nil, ErrStateWitnessEmpty
	}
	b.finalized = true

	sw := &StateWitness{
		BlockNumber:   b.blockNumber,
		StateRoot:     b.stateRoot,
		Accounts:      make(map[types.Address]*StateWitnessAccount, len(b.accounts)),
		Codes:         make(map[types.Hash][]byte, len(b.codes)),
		AccessedSlots: b.slotCount,
	}
	for addr, acc := range b.accounts {
		storage := make(map[types.Hash]types.Hash, len(acc.Storage))
		for k, v := range acc.Storage {
			storage[k] = v
		}
		sw.Accounts[addr] = &StateWitnessAccount{
			Exists:   acc.Exists,
			Nonce:    acc.Nonce,
			Balance:  new(big.Int).Set(acc.Balance),
			CodeHash: acc.CodeHash,
			Storage:  storage,
		}
	}
	for h, code := range b.codes {
		stored := make([]byte, len(code))
		copy(stored, code)
		sw.Codes[h] = stored
	}

	sw.WitnessHash = computeStateWitnessHash(sw)
	return sw, nil
}

// computeStateWitnessHash hashes the witness deterministically by sorting
// map keys before folding them into the hash input; Go's map iteration
// order is randomized and must never leak into the result.
func computeStateWitnessHash(sw *StateWitness) types.Hash {
	var buf []byte

	addrs := make([]types.Address, 0, len(sw.Accounts))
	for addr := range sw.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	var blockNum [8]byte
	binary.BigEndian.PutUint64(blockNum[:], sw.BlockNumber)
	buf = append(buf, blockNum[:]...)
	buf = append(buf, sw.StateRoot[:]...)

	for _, addr := range addrs {
		acc := sw.Accounts[addr]
		buf = append(buf, addr[:]...)
		if acc.Exists {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		var nonce [8]byte
		binary.BigEndian.PutUint64(nonce[:], acc.Nonce)
		buf = append(buf, nonce[:]...)
		if acc.Balance != nil {
			buf = append(buf, acc.Balance.Bytes()...)
		}
		buf = append(buf, acc.CodeHash[:]...)

		keys := make([]types.Hash, 0, len(acc.Storage))
		for k := range acc.Storage {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
		for _, k := range keys {
			buf = append(buf, k[:]...)
			v := acc.Storage[k]
			buf = append(buf, v[:]...)
		}
	}

	hashes := make([]types.Hash, 0, len(sw.Codes))
	for h := range sw.Codes {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Hex() < hashes[j].Hex() })
	for _, h := range hashes {
		buf = append(buf, h[:]...)
		buf = append(buf, sw.Codes[h]...)
	}

	return crypto.Keccak256Hash(buf)
}

// VerifyStateWitnessHash reports whether sw.WitnessHash matches the hash
// recomputed from its current contents, detecting tampering after
// Finalize.
func VerifyStateWitnessHash(sw *StateWitness) bool {
	if sw == nil {
		return false
	}
	return sw.WitnessHash == computeStateWitnessHash(sw)
}

// StateWitnessSize returns an approximate serialized byte size of sw, or 0
// if sw is nil.
func StateWitnessSize(sw *StateWitness) int {
	if sw == nil {
		return 0
	}
	size := 48
	for addr, acc := range sw.Accounts {
		_ = addr
		size += 20 + 1 + 8 + 32 + 32
		size += len(acc.Storage) * 64
	}
	for h, code := range sw.Codes {
		_ = h
		size += 32 + len(code)
	}
	return size
}
