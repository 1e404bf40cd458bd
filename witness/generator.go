package witness

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/crypto"
)

// ErrGeneratorNotStarted is returned by GenerateWitness when BeginBlock has
// not been called since construction or the last Reset.
var ErrGeneratorNotStarted = errors.New("witness: generator has not started a block")

// ErrGeneratedWitnessTooLarge is returned by GenerateWitness when the
// assembled witness exceeds the configured MaxWitnessSize.
var ErrGeneratedWitnessTooLarge = errors.New("witness: generated witness exceeds configured size limit")

// StateReader is the minimal read-only state surface a WitnessGenerator
// needs to capture pre-state while a block executes.
type StateReader interface {
	GetBalance(addr types.Address) *big.Int
	GetNonce(addr types.Address) uint64
	GetCodeHash(addr types.Address) types.Hash
	GetCode(addr types.Address) []byte
	GetState(addr types.Address, key types.Hash) types.Hash
	Exist(addr types.Address) bool
	GetRoot() types.Hash
}

// EventType identifies the kind of state access a WitnessEvent records.
type EventType int

const (
	AccountRead EventType = iota
	AccountWrite
	StorageRead
	StorageWrite
	CodeRead
)

// WitnessEvent is a single recorded state access, in the order it
// occurred.
type WitnessEvent struct {
	Type    EventType
	Address types.Address
	Key     types.Hash
}

// GeneratorConfig controls what a WitnessGenerator records and how large
// a witness it will produce.
type GeneratorConfig struct {
	MaxWitnessSize int
	CollectEvents  bool
}

// DefaultGeneratorConfig returns a config with a 1 MiB size cap and event
// collection enabled.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxWitnessSize: DefaultMaxWitnessSize,
		CollectEvents:  true,
	}
}

// GeneratedWitnessAccount is the pre-state of a single account captured by
// a WitnessGenerator.
type GeneratedWitnessAccount struct {
	Exists   bool
	Balance  *big.Int
	Nonce    uint64
	CodeHash types.Hash
}

// GeneratedWitness is the immutable output of WitnessGenerator.GenerateWitness.
type GeneratedWitness struct {
	BlockNumber   uint64
	ParentRoot    types.Hash
	PostRoot      types.Hash
	Accounts      map[types.Address]*GeneratedWitnessAccount
	StorageProofs map[types.Address]map[types.Hash]types.Hash
	CodeChunks    map[types.Hash][]byte
	Events        []WitnessEvent
	ProofData     map[types.Hash][]byte
}

// WitnessGenerator accumulates per-block state access events from a
// StateReader and assembles a GeneratedWitness. Safe for concurrent use.
type WitnessGenerator struct {
	mu sync.Mutex

	config GeneratorConfig

	started     bool
	blockNumber uint64
	parentRoot  types.Hash

	accounts      map[types.Address]*GeneratedWitnessAccount
	storageProofs map[types.Address]map[types.Hash]types.Hash
	storageKeys   map[types.Address]map[types.Hash]bool
	storageTotal  int
	codeChunks    map[types.Hash][]byte
	events        []WitnessEvent
}

// NewWitnessGenerator returns a generator using the given config.
func NewWitnessGenerator(config GeneratorConfig) *WitnessGenerator {
	g := &WitnessGenerator{config: config}
	g.reset()
	return g
}

func (g *WitnessGenerator) reset() {
	g.accounts = make(map[types.Address]*GeneratedWitnessAccount)
	g.storageProofs = make(map[types.Address]map[types.Hash]types.Hash)
	g.storageKeys = make(map[types.Address]map[types.Hash]bool)
	g.storageTotal = 0
	g.codeChunks = make(map[types.Hash][]byte)
	g.events = nil
}

// BeginBlock starts recording accesses for a new block, discarding any
// accesses recorded for a previous block.
func (g *WitnessGenerator) BeginBlock(blockNumber uint64, parentRoot types.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = true
	g.blockNumber = blockNumber
	g.parentRoot = parentRoot
	g.reset()
}

// Reset clears all recorded state and marks the generator as not started.
func (g *WitnessGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = false
	g.blockNumber = 0
	g.parentRoot = types.Hash{}
	g.reset()
}

// IsStarted reports whether BeginBlock has been called since construction
// or the last Reset.
func (g *WitnessGenerator) IsStarted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

func (g *WitnessGenerator) addEvent(e WitnessEvent) {
	if g.config.CollectEvents {
		g.events = append(g.events, e)
	}
}

func (g *WitnessGenerator) captureAccount(addr types.Address, reader StateReader) {
	if _, ok := g.accounts[addr]; ok {
		return
	}
	g.accounts[addr] = &GeneratedWitnessAccount{
		Exists:   reader.Exist(addr),
		Balance:  reader.GetBalance(addr),
		Nonce:    reader.GetNonce(addr),
		CodeHash: reader.GetCodeHash(addr),
	}
}

// RecordAccountRead captures addr's pre-state on first access.
func (g *WitnessGenerator) RecordAccountRead(addr types.Address, reader StateReader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureAccount(addr, reader)
	g.addEvent(WitnessEvent{Type: AccountRead, Address: addr})
}

// RecordAccountWrite captures addr's pre-state on first access (whether
// that access is this write or an earlier read).
func (g *WitnessGenerator) RecordAccountWrite(addr types.Address, reader StateReader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureAccount(addr, reader)
	g.addEvent(WitnessEvent{Type: AccountWrite, Address: addr})
}

func (g *WitnessGenerator) captureStorage(addr types.Address, key types.Hash, reader StateReader) {
	keys, ok := g.storageKeys[addr]
	if !ok {
		keys = make(map[types.Hash]bool)
		g.storageKeys[addr] = keys
	}
	if keys[key] {
		return
	}
	keys[key] = true
	g.storageTotal++
	if _, ok := g.storageProofs[addr]; !ok {
		g.storageProofs[addr] = make(map[types.Hash]types.Hash)
	}
	g.storageProofs[addr][key] = reader.GetState(addr, key)
}

// RecordStorageRead captures addr's slot key pre-state on first access.
func (g *WitnessGenerator) RecordStorageRead(addr types.Address, key types.Hash, reader StateReader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureStorage(addr, key, reader)
	g.addEvent(WitnessEvent{Type: StorageRead, Address: addr, Key: key})
}

// RecordStorageWrite captures addr's slot key pre-state on first access
// (whether that access is this write or an earlier read).
func (g *WitnessGenerator) RecordStorageWrite(addr types.Address, key types.Hash, reader StateReader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureStorage(addr, key, reader)
	g.addEvent(WitnessEvent{Type: StorageWrite, Address: addr, Key: key})
}

// RecordCodeRead captures addr's code on first access. Externally-owned
// accounts (empty code hash) produce no code chunk and no event.
func (g *WitnessGenerator) RecordCodeRead(addr types.Address, reader StateReader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	codeHash := reader.GetCodeHash(addr)
	if codeHash == types.EmptyCodeHash || codeHash == (types.Hash{}) {
		return
	}
	if _, ok := g.codeChunks[codeHash]; !ok {
		g.codeChunks[codeHash] = reader.GetCode(addr)
	}
	g.addEvent(WitnessEvent{Type: CodeRead, Address: addr})
}

// AccountCount returns the number of distinct accounts accessed.
func (g *WitnessGenerator) AccountCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.accounts)
}

// StorageKeyCount returns the total number of distinct (address, key)
// storage accesses recorded.
func (g *WitnessGenerator) StorageKeyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.storageTotal
}

// EventCount returns the number of events recorded so far.
func (g *WitnessGenerator) EventCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

// EstimateWitnessSize returns an approximate encoded byte size of the
// witness that GenerateWitness would currently produce.
func (g *WitnessGenerator) EstimateWitnessSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	size := 80
	size += len(g.accounts) * 84
	size += g.storageTotal * 64
	for _, code := range g.codeChunks {
		size += len(code) + 32
	}
	return size
}

func computeAccountLeaf(addr types.Address, acc *GeneratedWitnessAccount) []byte {
	var buf []byte
	buf = append(buf, addr[:]...)
	if acc.Exists {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, acc.Balance.Bytes()...)
	buf = append(buf, acc.CodeHash[:]...)
	return buf
}

func computeStorageLeaf(addr types.Address, key, value types.Hash) []byte {
	buf := append([]byte{}, addr[:]...)
	buf = append(buf, key[:]...)
	buf = append(buf, value[:]...)
	return buf
}

// GenerateWitness assembles a GeneratedWitness from the accesses recorded
// since the last BeginBlock, with postRoot as the claimed post-execution
// state root.
func (g *WitnessGenerator) GenerateWitness(postRoot types.Hash) (*GeneratedWitness, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil, ErrGeneratorNotStarted
	}

	w := &GeneratedWitness{
		BlockNumber:   g.blockNumber,
		ParentRoot:    g.parentRoot,
		PostRoot:      postRoot,
		Accounts:      make(map[types.Address]*GeneratedWitnessAccount, len(g.accounts)),
		StorageProofs: make(map[types.Address]map[types.Hash]types.Hash, len(g.storageProofs)),
		CodeChunks:    make(map[types.Hash][]byte, len(g.codeChunks)),
		Events:        append([]WitnessEvent(nil), g.events...),
		ProofData:     make(map[types.Hash][]byte),
	}

	addrs := make([]types.Address, 0, len(g.accounts))
	for addr := range g.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	for _, addr := range addrs {
		acc := g.accounts[addr]
		cp := &GeneratedWitnessAccount{
			Exists:   acc.Exists,
			Balance:  new(big.Int).Set(acc.Balance),
			Nonce:    acc.Nonce,
			CodeHash: acc.CodeHash,
		}
		w.Accounts[addr] = cp

		leaf := computeAccountLeaf(addr, cp)
		for _, n := range buildProofChain(leaf, ProofTreeDepth) {
			w.ProofData[n.Hash] = n.Data
		}
	}

	storageAddrs := make([]types.Address, 0, len(g.storageProofs))
	for addr := range g.storageProofs {
		storageAddrs = append(storageAddrs, addr)
	}
	sort.Slice(storageAddrs, func(i, j int) bool { return storageAddrs[i].Hex() < storageAddrs[j].Hex() })

	for _, addr := range storageAddrs {
		slots := g.storageProofs[addr]
		cp := make(map[types.Hash]types.Hash, len(slots))
		keys := make([]types.Hash, 0, len(slots))
		for k := range slots {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
		for _, k := range keys {
			v := slots[k]
			cp[k] = v
			leaf := computeStorageLeaf(addr, k, v)
			for _, n := range buildProofChain(leaf, ProofTreeDepth) {
				w.ProofData[n.Hash] = n.Data
			}
		}
		w.StorageProofs[addr] = cp
	}

	for h, code := range g.codeChunks {
		stored := append([]byte(nil), code...)
		w.CodeChunks[h] = stored
	}

	if g.config.MaxWitnessSize > 0 {
		if size := EstimateGeneratedWitnessSize(w); size > g.config.MaxWitnessSize {
			return nil, ErrGeneratedWitnessTooLarge
		}
	}

	return w, nil
}

// EstimateGeneratedWitnessSize returns an approximate encoded byte size of
// w, or 0 if w is nil.
func EstimateGeneratedWitnessSize(w *GeneratedWitness) int {
	if w == nil {
		return 0
	}
	size := 80
	for _, acc := range w.Accounts {
		size += 20 + 8 + 32 + len(acc.Balance.Bytes())
	}
	for _, slots := range w.StorageProofs {
		size += len(slots) * 64
	}
	for _, code := range w.CodeChunks {
		size += len(code) + 32
	}
	for _, data := range w.ProofData {
		size += len(data) + 32
	}
	return size
}

// ValidateWitnessRoots checks that w's claimed post-state root matches
// expectedPostRoot and that every proof node in w.ProofData is internally
// consistent (its map key is the Keccak256 hash of its data).
func ValidateWitnessRoots(w *GeneratedWitness, expectedPostRoot types.Hash) error {
	if w == nil {
		return fmt.Errorf("witness: nil generated witness")
	}
	if w.PostRoot != expectedPostRoot {
		return fmt.Errorf("witness: post root mismatch: have %s, want %s", w.PostRoot.Hex(), expectedPostRoot.Hex())
	}
	for h, data := range w.ProofData {
		if h != crypto.Keccak256Hash(data) {
			return fmt.Errorf("witness: proof node %s fails self-consistency check", h.Hex())
		}
	}
	return nil
}

// CompressedWitness is a space-reduced encoding of a GeneratedWitness that
// stores each address once and references it by index from both the
// account and storage sections.
type CompressedWitness struct {
	BlockNumber     uint64
	ParentRoot      types.Hash
	PostRoot        types.Hash
	UniqueAddresses []types.Address
	Accounts        map[int]*GeneratedWitnessAccount
	StorageKeys     map[int][]types.Hash
	StorageValues   map[int][]types.Hash
	CodeChunks      map[types.Hash][]byte
	OriginalSize    int
	CompressedSize  int
}

// WitnessCompressor compresses and decompresses GeneratedWitness values
// for network transport or storage.
type WitnessCompressor struct{}

// NewWitnessCompressor returns a WitnessCompressor.
func NewWitnessCompressor() *WitnessCompressor {
	return &WitnessCompressor{}
}

// Compress reduces w to a CompressedWitness, or returns nil if w is nil.
func (c *WitnessCompressor) Compress(w *GeneratedWitness) *CompressedWitness {
	if w == nil {
		return nil
	}

	addrSet := make(map[types.Address]bool)
	for addr := range w.Accounts {
		addrSet[addr] = true
	}
	for addr := range w.StorageProofs {
		addrSet[addr] = true
	}
	addrs := make([]types.Address, 0, len(addrSet))
	for addr := range addrSet {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	index := make(map[types.Address]int, len(addrs))
	for i, addr := range addrs {
		index[addr] = i
	}

	cw := &CompressedWitness{
		BlockNumber:     w.BlockNumber,
		ParentRoot:      w.ParentRoot,
		PostRoot:        w.PostRoot,
		UniqueAddresses: addrs,
		Accounts:        make(map[int]*GeneratedWitnessAccount, len(w.Accounts)),
		StorageKeys:     make(map[int][]types.Hash),
		StorageValues:   make(map[int][]types.Hash),
		CodeChunks:      make(map[types.Hash][]byte, len(w.CodeChunks)),
	}

	for addr, acc := range w.Accounts {
		cw.Accounts[index[addr]] = &GeneratedWitnessAccount{
			Exists:   acc.Exists,
			Balance:  new(big.Int).Set(acc.Balance),
			Nonce:    acc.Nonce,
			CodeHash: acc.CodeHash,
		}
	}

	for addr, slots := range w.StorageProofs {
		i := index[addr]
		keys := make([]types.Hash, 0, len(slots))
		for k := range slots {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(a, b int) bool { return keys[a].Hex() < keys[b].Hex() })
		values := make([]types.Hash, len(keys))
		for j, k := range keys {
			values[j] = slots[k]
		}
		cw.StorageKeys[i] = keys
		cw.StorageValues[i] = values
	}

	for h, code := range w.CodeChunks {
		cw.CodeChunks[h] = append([]byte(nil), code...)
	}

	cw.OriginalSize = EstimateGeneratedWitnessSize(w)
	cw.CompressedSize = estimateCompressedSize(cw)
	return cw
}

func estimateCompressedSize(cw *CompressedWitness) int {
	size := 80 + len(cw.UniqueAddresses)*20
	for _, acc := range cw.Accounts {
		size += 4 + 8 + 32 + len(acc.Balance.Bytes())
	}
	for _, keys := range cw.StorageKeys {
		size += 4 + len(keys)*64
	}
	for _, code := range cw.CodeChunks {
		size += len(code) + 32
	}
	return size
}

// Decompress rebuilds a GeneratedWitness from cw, or returns nil if cw is
// nil.
func (c *WitnessCompressor) Decompress(cw *CompressedWitness) *GeneratedWitness {
	if cw == nil {
		return nil
	}

	w := &GeneratedWitness{
		BlockNumber:   cw.BlockNumber,
		ParentRoot:    cw.ParentRoot,
		PostRoot:      cw.PostRoot,
		Accounts:      make(map[types.Address]*GeneratedWitnessAccount, len(cw.Accounts)),
		StorageProofs: make(map[types.Address]map[types.Hash]types.Hash, len(cw.StorageKeys)),
		CodeChunks:    make(map[types.Hash][]byte, len(cw.CodeChunks)),
		ProofData:     make(map[types.Hash][]byte),
	}

	for i, acc := range cw.Accounts {
		if i < 0 || i >= len(cw.UniqueAddresses) {
			continue
		}
		addr := cw.UniqueAddresses[i]
		w.Accounts[addr] = &GeneratedWitnessAccount{
			Exists:   acc.Exists,
			Balance:  new(big.Int).Set(acc.Balance),
			Nonce:    acc.Nonce,
			CodeHash: acc.CodeHash,
		}
	}

	for i, keys := range cw.StorageKeys {
		if i < 0 || i >= len(cw.UniqueAddresses) {
			continue
		}
		addr := cw.UniqueAddresses[i]
		values := cw.StorageValues[i]
		slots := make(map[types.Hash]types.Hash, len(keys))
		for j, k := range keys {
			if j < len(values) {
				slots[k] = values[j]
			}
		}
		w.StorageProofs[addr] = slots
	}

	for h, code := range cw.CodeChunks {
		w.CodeChunks[h] = append([]byte(nil), code...)
	}

	return w
}
