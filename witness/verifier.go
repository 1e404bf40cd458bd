package witness

import (
	"math/big"

	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/core/vm"
	"github.com/ethcore/execution/crypto"
)

// wsdbAccount is the mutable, in-memory view of a single account inside a
// WitnessStateDB. committed holds the account's witness pre-state storage
// and is never mutated after construction; storage is the current overlay
// written by SetState.
type wsdbAccount struct {
	exists         bool
	balance        *big.Int
	nonce          uint64
	codeHash       types.Hash
	code           []byte
	storage        map[types.Hash]types.Hash
	committed      map[types.Hash]types.Hash
	selfDestructed bool
}

func newWsdbAccount() *wsdbAccount {
	return &wsdbAccount{
		balance:   new(big.Int),
		storage:   make(map[types.Hash]types.Hash),
		committed: make(map[types.Hash]types.Hash),
	}
}

// wsdbJournalEntry is a revertible change applied to a WitnessStateDB.
type wsdbJournalEntry interface {
	revert(s *WitnessStateDB)
}

type wsdbJournal struct {
	entries   []wsdbJournalEntry
	snapshots map[int]int
	nextID    int
}

func newWsdbJournal() *wsdbJournal {
	return &wsdbJournal{snapshots: make(map[int]int)}
}

func (j *wsdbJournal) append(e wsdbJournalEntry) {
	j.entries = append(j.entries, e)
}

func (j *wsdbJournal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots[id] = len(j.entries)
	return id
}

func (j *wsdbJournal) revertToSnapshot(id int, s *WitnessStateDB) {
	idx, ok := j.snapshots[id]
	if !ok {
		return
	}
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:idx]
	for sid := range j.snapshots {
		if sid >= id {
			delete(j.snapshots, sid)
		}
	}
}

type wsdbCreateAccountChange struct {
	addr types.Address
	prev *wsdbAccount // nil if the account had no entry before
}

func (ch wsdbCreateAccountChange) revert(s *WitnessStateDB) {
	if ch.prev == nil {
		delete(s.accounts, ch.addr)
	} else {
		s.accounts[ch.addr] = ch.prev
	}
}

type wsdbBalanceChange struct {
	addr types.Address
	prev *big.Int
}

func (ch wsdbBalanceChange) revert(s *WitnessStateDB) {
	if obj, ok := s.accounts[ch.addr]; ok {
		obj.balance = ch.prev
	}
}

type wsdbNonceChange struct {
	addr types.Address
	prev uint64
}

func (ch wsdbNonceChange) revert(s *WitnessStateDB) {
	if obj, ok := s.accounts[ch.addr]; ok {
		obj.nonce = ch.prev
	}
}

type wsdbCodeChange struct {
	addr     types.Address
	prevCode []byte
	prevHash types.Hash
}

func (ch wsdbCodeChange) revert(s *WitnessStateDB) {
	if obj, ok := s.accounts[ch.addr]; ok {
		obj.code = ch.prevCode
		obj.codeHash = ch.prevHash
	}
}

type wsdbStorageChange struct {
	addr       types.Address
	key        types.Hash
	prev       types.Hash
	prevExists bool
}

func (ch wsdbStorageChange) revert(s *WitnessStateDB) {
	obj, ok := s.accounts[ch.addr]
	if !ok {
		return
	}
	if ch.prevExists {
		obj.storage[ch.key] = ch.prev
	} else {
		delete(obj.storage, ch.key)
	}
}

type wsdbSelfDestructChange struct {
	addr        types.Address
	prevDestruct bool
	prevBalance *big.Int
}

func (ch wsdbSelfDestructChange) revert(s *WitnessStateDB) {
	if obj, ok := s.accounts[ch.addr]; ok {
		obj.selfDestructed = ch.prevDestruct
		obj.balance = ch.prevBalance
	}
}

type wsdbTransientChange struct {
	addr types.Address
	key  types.Hash
	prev types.Hash
}

func (ch wsdbTransientChange) revert(s *WitnessStateDB) {
	if ch.prev == (types.Hash{}) {
		delete(s.transient[ch.addr], ch.key)
		if len(s.transient[ch.addr]) == 0 {
			delete(s.transient, ch.addr)
		}
	} else {
		if s.transient[ch.addr] == nil {
			s.transient[ch.addr] = make(map[types.Hash]types.Hash)
		}
		s.transient[ch.addr][ch.key] = ch.prev
	}
}

type wsdbLogChange struct {
	prevLen int
}

func (ch wsdbLogChange) revert(s *WitnessStateDB) {
	s.logs = s.logs[:ch.prevLen]
}

type wsdbRefundChange struct {
	prev uint64
}

func (ch wsdbRefundChange) revert(s *WitnessStateDB) {
	s.refund = ch.prev
}

type wsdbAccessListAccountChange struct {
	addr types.Address
}

func (ch wsdbAccessListAccountChange) revert(s *WitnessStateDB) {
	delete(s.accessListAddrs, ch.addr)
}

type wsdbAccessListSlotChange struct {
	addr types.Address
	slot types.Hash
}

func (ch wsdbAccessListSlotChange) revert(s *WitnessStateDB) {
	if slots, ok := s.accessListSlots[ch.addr]; ok {
		delete(slots, ch.slot)
		if len(slots) == 0 {
			delete(s.accessListSlots, ch.addr)
		}
	}
}

// WitnessStateDB replays a BlockWitness as a core/vm.StateDB, letting a
// block be re-executed stateless-ly against nothing but its execution
// witness. Reads that miss the witness's recorded pre-state behave as if
// the account or slot did not exist; GetCommittedState always returns the
// witness's original value regardless of subsequent writes.
type WitnessStateDB struct {
	witness *BlockWitness
	accounts map[types.Address]*wsdbAccount

	logs   []*types.Log
	refund uint64

	accessListAddrs map[types.Address]bool
	accessListSlots map[types.Address]map[types.Hash]bool

	transient map[types.Address]map[types.Hash]types.Hash

	journal *wsdbJournal
}

// NewWitnessStateDB builds a WitnessStateDB from w, deep-copying every
// account's balance, code, and storage so that mutating the returned
// state has no effect on w.
func NewWitnessStateDB(w *BlockWitness) *WitnessStateDB {
	s := &WitnessStateDB{
		witness:         w,
		accounts:        make(map[types.Address]*wsdbAccount, len(w.State)),
		accessListAddrs: make(map[types.Address]bool),
		accessListSlots: make(map[types.Address]map[types.Hash]bool),
		transient:       make(map[types.Address]map[types.Hash]types.Hash),
		journal:         newWsdbJournal(),
	}

	for addr, aw := range w.State {
		obj := newWsdbAccount()
		obj.exists = aw.Exists
		obj.balance = new(big.Int).Set(aw.Balance)
		obj.nonce = aw.Nonce
		obj.codeHash = aw.CodeHash
		if code, ok := w.Codes[aw.CodeHash]; ok {
			obj.code = append([]byte(nil), code...)
		}
		for k, v := range aw.Storage {
			obj.committed[k] = v
		}
		s.accounts[addr] = obj
	}

	return s
}

func (s *WitnessStateDB) getAccount(addr types.Address) *wsdbAccount {
	return s.accounts[addr]
}

func (s *WitnessStateDB) getOrCreateAccount(addr types.Address) *wsdbAccount {
	if obj, ok := s.accounts[addr]; ok {
		return obj
	}
	obj := newWsdbAccount()
	s.accounts[addr] = obj
	return obj
}

// --- Account operations ---

func (s *WitnessStateDB) CreateAccount(addr types.Address) {
	prev := s.accounts[addr]
	s.journal.append(wsdbCreateAccountChange{addr: addr, prev: prev})
	obj := newWsdbAccount()
	obj.exists = true
	obj.codeHash = types.EmptyCodeHash
	s.accounts[addr] = obj
}

func (s *WitnessStateDB) GetBalance(addr types.Address) *big.Int {
	obj := s.getAccount(addr)
	if obj == nil || !obj.exists {
		return new(big.Int)
	}
	return new(big.Int).Set(obj.balance)
}

func (s *WitnessStateDB) AddBalance(addr types.Address, amount *big.Int) {
	obj := s.getOrCreateAccount(addr)
	s.journal.append(wsdbBalanceChange{addr: addr, prev: new(big.Int).Set(obj.balance)})
	obj.balance = new(big.Int).Add(obj.balance, amount)
	obj.exists = true
}

func (s *WitnessStateDB) SubBalance(addr types.Address, amount *big.Int) {
	obj := s.getOrCreateAccount(addr)
	s.journal.append(wsdbBalanceChange{addr: addr, prev: new(big.Int).Set(obj.balance)})
	obj.balance = new(big.Int).Sub(obj.balance, amount)
	obj.exists = true
}

func (s *WitnessStateDB) GetNonce(addr types.Address) uint64 {
	obj := s.getAccount(addr)
	if obj == nil || !obj.exists {
		return 0
	}
	return obj.nonce
}

func (s *WitnessStateDB) SetNonce(addr types.Address, nonce uint64) {
	obj := s.getOrCreateAccount(addr)
	s.journal.append(wsdbNonceChange{addr: addr, prev: obj.nonce})
	obj.nonce = nonce
}

func (s *WitnessStateDB) GetCode(addr types.Address) []byte {
	obj := s.getAccount(addr)
	if obj == nil {
		return nil
	}
	return obj.code
}

func (s *WitnessStateDB) SetCode(addr types.Address, code []byte) {
	obj := s.getOrCreateAccount(addr)
	s.journal.append(wsdbCodeChange{addr: addr, prevCode: obj.code, prevHash: obj.codeHash})
	stored := append([]byte(nil), code...)
	obj.code = stored
	if len(stored) > 0 {
		obj.codeHash = crypto.Keccak256Hash(stored)
	} else {
		obj.codeHash = types.EmptyCodeHash
	}
}

func (s *WitnessStateDB) GetCodeHash(addr types.Address) types.Hash {
	obj := s.getAccount(addr)
	if obj == nil || !obj.exists {
		return types.Hash{}
	}
	return obj.codeHash
}

func (s *WitnessStateDB) GetCodeSize(addr types.Address) int {
	obj := s.getAccount(addr)
	if obj == nil {
		return 0
	}
	return len(obj.code)
}

// --- Storage ---

func (s *WitnessStateDB) GetState(addr types.Address, key types.Hash) types.Hash {
	obj := s.getAccount(addr)
	if obj == nil {
		return types.Hash{}
	}
	if v, ok := obj.storage[key]; ok {
		return v
	}
	return obj.committed[key]
}

func (s *WitnessStateDB) SetState(addr types.Address, key, value types.Hash) {
	obj := s.getOrCreateAccount(addr)
	prevDirty, dirty := obj.storage[key]
	var prev types.Hash
	if dirty {
		prev = prevDirty
	} else {
		prev = obj.committed[key]
	}
	s.journal.append(wsdbStorageChange{addr: addr, key: key, prev: prev, prevExists: dirty})
	obj.storage[key] = value
}

func (s *WitnessStateDB) GetCommittedState(addr types.Address, key types.Hash) types.Hash {
	obj := s.getAccount(addr)
	if obj == nil {
		return types.Hash{}
	}
	return obj.committed[key]
}

// --- Transient storage (EIP-1153) ---

func (s *WitnessStateDB) GetTransientState(addr types.Address, key types.Hash) types.Hash {
	if slots, ok := s.transient[addr]; ok {
		return slots[key]
	}
	return types.Hash{}
}

func (s *WitnessStateDB) SetTransientState(addr types.Address, key, value types.Hash) {
	prev := s.GetTransientState(addr, key)
	s.journal.append(wsdbTransientChange{addr: addr, key: key, prev: prev})
	if s.transient[addr] == nil {
		s.transient[addr] = make(map[types.Hash]types.Hash)
	}
	s.transient[addr][key] = value
}

// ClearTransientStorage resets all transient storage. Not itself
// journaled: per EIP-1153 this only happens between transactions, outside
// any snapshot scope that would need to revert it.
func (s *WitnessStateDB) ClearTransientStorage() {
	s.transient = make(map[types.Address]map[types.Hash]types.Hash)
}

// --- Self-destruct ---

func (s *WitnessStateDB) SelfDestruct(addr types.Address) {
	obj := s.getAccount(addr)
	if obj == nil {
		return
	}
	s.journal.append(wsdbSelfDestructChange{
		addr:         addr,
		prevDestruct: obj.selfDestructed,
		prevBalance:  new(big.Int).Set(obj.balance),
	})
	obj.selfDestructed = true
	obj.balance = new(big.Int)
}

func (s *WitnessStateDB) HasSelfDestructed(addr types.Address) bool {
	obj := s.getAccount(addr)
	if obj == nil {
		return false
	}
	return obj.selfDestructed
}

// --- Account existence ---

func (s *WitnessStateDB) Exist(addr types.Address) bool {
	obj := s.getAccount(addr)
	return obj != nil && obj.exists
}

func (s *WitnessStateDB) Empty(addr types.Address) bool {
	obj := s.getAccount(addr)
	if obj == nil || !obj.exists {
		return true
	}
	return obj.nonce == 0 && obj.balance.Sign() == 0 && obj.codeHash == types.EmptyCodeHash
}

// --- Snapshot and revert ---

func (s *WitnessStateDB) Snapshot() int {
	return s.journal.snapshot()
}

func (s *WitnessStateDB) RevertToSnapshot(id int) {
	s.journal.revertToSnapshot(id, s)
}

// --- Logs ---

func (s *WitnessStateDB) AddLog(log *types.Log) {
	s.journal.append(wsdbLogChange{prevLen: len(s.logs)})
	s.logs = append(s.logs, log)
}

// GetLogs returns every log recorded so far, ignoring txHash: a
// WitnessStateDB replays a single block's execution and does not key logs
// per transaction.
func (s *WitnessStateDB) GetLogs(txHash types.Hash) []*types.Log {
	return s.logs
}

// --- Refund counter ---

func (s *WitnessStateDB) AddRefund(gas uint64) {
	s.journal.append(wsdbRefundChange{prev: s.refund})
	s.refund += gas
}

func (s *WitnessStateDB) SubRefund(gas uint64) {
	s.journal.append(wsdbRefundChange{prev: s.refund})
	s.refund -= gas
}

func (s *WitnessStateDB) GetRefund() uint64 {
	return s.refund
}

// --- Access list (EIP-2929) ---

func (s *WitnessStateDB) AddAddressToAccessList(addr types.Address) {
	if s.accessListAddrs[addr] {
		return
	}
	s.journal.append(wsdbAccessListAccountChange{addr: addr})
	s.accessListAddrs[addr] = true
}

func (s *WitnessStateDB) AddSlotToAccessList(addr types.Address, slot types.Hash) {
	if !s.accessListAddrs[addr] {
		s.journal.append(wsdbAccessListAccountChange{addr: addr})
		s.accessListAddrs[addr] = true
	}
	slots, ok := s.accessListSlots[addr]
	if !ok {
		slots = make(map[types.Hash]bool)
		s.accessListSlots[addr] = slots
	}
	if !slots[slot] {
		s.journal.append(wsdbAccessListSlotChange{addr: addr, slot: slot})
		slots[slot] = true
	}
}

func (s *WitnessStateDB) AddressInAccessList(addr types.Address) bool {
	return s.accessListAddrs[addr]
}

func (s *WitnessStateDB) SlotInAccessList(addr types.Address, slot types.Hash) (addressOk, slotOk bool) {
	addressOk = s.accessListAddrs[addr]
	if slots, ok := s.accessListSlots[addr]; ok {
		slotOk = slots[slot]
	}
	return addressOk, slotOk
}

// Verify interface compliance at compile time.
var _ vm.StateDB = (*WitnessStateDB)(nil)
