package witness

import (
	"math/big"

	"github.com/ethcore/execution/core/state"
	"github.com/ethcore/execution/core/types"
)

// AccountWitness is the pre-execution snapshot of a single account
// recorded by a WitnessCollector, together with every storage slot
// touched during execution.
type AccountWitness struct {
	Exists   bool
	Balance  *big.Int
	Nonce    uint64
	CodeHash types.Hash
	Storage  map[types.Hash]types.Hash
}

// BlockWitness accumulates the account and code pre-state touched while
// executing a block.
type BlockWitness struct {
	State map[types.Address]*AccountWitness
	Codes map[types.Hash][]byte
}

// NewBlockWitness returns an empty BlockWitness.
func NewBlockWitness() *BlockWitness {
	return &BlockWitness{
		State: make(map[types.Address]*AccountWitness),
		Codes: make(map[types.Hash][]byte),
	}
}

// innerStateDB is the state backend a WitnessCollector wraps: the ordinary
// core/state.StateDB surface plus ClearTransientStorage, which the EVM
// requires (core/vm.StateDB) but core/state.StateDB does not declare.
type innerStateDB interface {
	state.StateDB
	ClearTransientStorage()
}

// WitnessCollector decorates a state.StateDB, transparently recording the
// pre-execution value of every account field and storage slot the first
// time it is accessed -- whether that access is a read or a write. It
// implements core/vm.StateDB, so it can be substituted for the EVM's
// regular state backend to produce an execution witness as a side effect
// of normal block execution.
type WitnessCollector struct {
	inner   innerStateDB
	witness *BlockWitness
}

// NewWitnessCollector wraps inner, recording accesses into witness.
func NewWitnessCollector(inner innerStateDB, witness *BlockWitness) *WitnessCollector {
	return &WitnessCollector{inner: inner, witness: witness}
}

// Witness returns the BlockWitness being populated.
func (c *WitnessCollector) Witness() *BlockWitness {
	return c.witness
}

func (c *WitnessCollector) recordAccount(addr types.Address) *AccountWitness {
	if aw, ok := c.witness.State[addr]; ok {
		return aw
	}
	aw := &AccountWitness{
		Exists:   c.inner.Exist(addr),
		Balance:  new(big.Int).Set(c.inner.GetBalance(addr)),
		Nonce:    c.inner.GetNonce(addr),
		CodeHash: c.inner.GetCodeHash(addr),
		Storage:  make(map[types.Hash]types.Hash),
	}
	c.witness.State[addr] = aw
	return aw
}

func (c *WitnessCollector) recordStorage(addr types.Address, key, preValue types.Hash) {
	aw := c.recordAccount(addr)
	if _, ok := aw.Storage[key]; !ok {
		aw.Storage[key] = preValue
	}
}

func (c *WitnessCollector) recordCode(addr types.Address, code []byte) {
	if len(code) == 0 {
		return
	}
	codeHash := c.inner.GetCodeHash(addr)
	if codeHash == (types.Hash{}) || codeHash == types.EmptyCodeHash {
		return
	}
	if _, ok := c.witness.Codes[codeHash]; ok {
		return
	}
	stored := make([]byte, len(code))
	copy(stored, code)
	c.witness.Codes[codeHash] = stored
}

// CreateAccount records the account's pre-creation state (Exists=false for
// a fresh account) before delegating to the inner state.
func (c *WitnessCollector) CreateAccount(addr types.Address) {
	c.recordAccount(addr)
	c.inner.CreateAccount(addr)
}

func (c *WitnessCollector) GetBalance(addr types.Address) *big.Int {
	c.recordAccount(addr)
	return c.inner.GetBalance(addr)
}

func (c *WitnessCollector) AddBalance(addr types.Address, amount *big.Int) {
	c.recordAccount(addr)
	c.inner.AddBalance(addr, amount)
}

func (c *WitnessCollector) SubBalance(addr types.Address, amount *big.Int) {
	c.recordAccount(addr)
	c.inner.SubBalance(addr, amount)
}

func (c *WitnessCollector) GetNonce(addr types.Address) uint64 {
	c.recordAccount(addr)
	return c.inner.GetNonce(addr)
}

func (c *WitnessCollector) SetNonce(addr types.Address, nonce uint64) {
	c.recordAccount(addr)
	c.inner.SetNonce(addr, nonce)
}

func (c *WitnessCollector) GetCode(addr types.Address) []byte {
	c.recordAccount(addr)
	code := c.inner.GetCode(addr)
	c.recordCode(addr, code)
	return code
}

func (c *WitnessCollector) SetCode(addr types.Address, code []byte) {
	c.recordAccount(addr)
	c.inner.SetCode(addr, code)
}

func (c *WitnessCollector) GetCodeHash(addr types.Address) types.Hash {
	c.recordAccount(addr)
	return c.inner.GetCodeHash(addr)
}

func (c *WitnessCollector) GetCodeSize(addr types.Address) int {
	c.recordAccount(addr)
	return c.inner.GetCodeSize(addr)
}

func (c *WitnessCollector) SelfDestruct(addr types.Address) {
	c.recordAccount(addr)
	c.inner.SelfDestruct(addr)
}

func (c *WitnessCollector) HasSelfDestructed(addr types.Address) bool {
	return c.inner.HasSelfDestructed(addr)
}

func (c *WitnessCollector) GetState(addr types.Address, key types.Hash) types.Hash {
	c.recordAccount(addr)
	val := c.inner.GetState(addr, key)
	c.recordStorage(addr, key, val)
	return val
}

func (c *WitnessCollector) SetState(addr types.Address, key, value types.Hash) {
	c.recordAccount(addr)
	pre := c.inner.GetState(addr, key)
	c.recordStorage(addr, key, pre)
	c.inner.SetState(addr, key, value)
}

func (c *WitnessCollector) GetCommittedState(addr types.Address, key types.Hash) types.Hash {
	c.recordAccount(addr)
	val := c.inner.GetCommittedState(addr, key)
	c.recordStorage(addr, key, val)
	return val
}

func (c *WitnessCollector) Exist(addr types.Address) bool {
	c.recordAccount(addr)
	return c.inner.Exist(addr)
}

func (c *WitnessCollector) Empty(addr types.Address) bool {
	c.recordAccount(addr)
	return c.inner.Empty(addr)
}

func (c *WitnessCollector) Snapshot() int {
	return c.inner.Snapshot()
}

// RevertToSnapshot reverts the wrapped state but leaves the witness
// untouched: a witness must reflect every access that was ever attempted,
// including ones later rolled back.
func (c *WitnessCollector) RevertToSnapshot(id int) {
	c.inner.RevertToSnapshot(id)
}

func (c *WitnessCollector) AddLog(log *types.Log) {
	c.inner.AddLog(log)
}

func (c *WitnessCollector) GetLogs(txHash types.Hash) []*types.Log {
	return c.inner.GetLogs(txHash)
}

func (c *WitnessCollector) AddRefund(gas uint64) {
	c.inner.AddRefund(gas)
}

func (c *WitnessCollector) SubRefund(gas uint64) {
	c.inner.SubRefund(gas)
}

func (c *WitnessCollector) GetRefund() uint64 {
	return c.inner.GetRefund()
}

func (c *WitnessCollector) AddAddressToAccessList(addr types.Address) {
	c.inner.AddAddressToAccessList(addr)
}

func (c *WitnessCollector) AddSlotToAccessList(addr types.Address, slot types.Hash) {
	c.inner.AddSlotToAccessList(addr, slot)
}

func (c *WitnessCollector) AddressInAccessList(addr types.Address) bool {
	return c.inner.AddressInAccessList(addr)
}

func (c *WitnessCollector) SlotInAccessList(addr types.Address, slot types.Hash) (bool, bool) {
	return c.inner.SlotInAccessList(addr, slot)
}

func (c *WitnessCollector) GetTransientState(addr types.Address, key types.Hash) types.Hash {
	return c.inner.GetTransientState(addr, key)
}

func (c *WitnessCollector) SetTransientState(addr types.Address, key, value types.Hash) {
	c.inner.SetTransientState(addr, key, value)
}

func (c *WitnessCollector) ClearTransientStorage() {
	c.inner.ClearTransientStorage()
}

func (c *WitnessCollector) Commit() (types.Hash, error) {
	return c.inner.Commit()
}
