package vops

import (
	"errors"
	"math/big"

	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/crypto"
)

var (
	ErrStateTooLarge   = errors.New("vops: partial state exceeds max size")
	ErrMissingSender   = errors.New("vops: transaction sender not in partial state")
	ErrInsufficientBal = errors.New("vops: insufficient balance for transfer")
	ErrNonceMismatch   = errors.New("vops: nonce mismatch")
)

// PartialExecutor executes transactions against a partial state subset.
type PartialExecutor struct {
	config VOPSConfig
}

// NewPartialExecutor creates a PartialExecutor with the given config.
func NewPartialExecutor(config VOPSConfig) *PartialExecutor {
	return &PartialExecutor{config: config}
}

// Execute runs a single transaction against the partial state and returns
// the execution result including accessed keys and updated post-state.
// The header provides block context (number, coinbase, etc.).
func (pe *PartialExecutor) Execute(tx *types.Transaction, state *PartialState, header *types.Header) (*ExecutionResult, error) {
	stateSize := len(state.Accounts)
	for _, slots := range state.Storage {
		stateSize += len(slots)
	}
	if stateSize > pe.config.MaxStateSize {
		return nil, ErrStateTooLarge
	}

	sender := tx.Sender()
	if sender == nil {
		return nil, ErrMissingSender
	}
	senderAcct := state.GetAccount(*sender)
	if senderAcct == nil {
		return nil, ErrMissingSender
	}

	if senderAcct.Nonce != tx.Nonce() {
		return nil, ErrNonceMismatch
	}

	// Calculate cost: value + gas * gasPrice.
	gasPrice := tx.GasPrice()
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(tx.Gas()))
	totalCost := new(big.Int).Add(gasCost, tx.Value())
	if senderAcct.Balance.Cmp(totalCost) < 0 {
		return nil, ErrInsufficientBal
	}

	// Build post-state by cloning the partial state.
	postState := clonePartialState(state)

	// Track accessed keys.
	var accessedKeys [][]byte
	accessedKeys = append(accessedKeys, senderKey(*sender)...)

	// Deduct gas cost and value from sender.
	postSender := postState.GetAccount(*sender)
	postSender.Balance = new(big.Int).Sub(postSender.Balance, totalCost)
	postSender.Nonce++

	// Transfer value to recipient if present.
	var gasUsed uint64
	success := true
	if to := tx.To(); to != nil {
		accessedKeys = append(accessedKeys, recipientKey(*to)...)
		recipient := postState.GetAccount(*to)
		if recipient == nil {
			// Create new account in partial state.
			recipient = &AccountState{
				Balance:  new(big.Int),
				CodeHash: types.EmptyCodeHash,
			}
			postState.SetAccount(*to, recipient)
		}
		recipient.Balance = new(big.Int).Add(recipient.Balance, tx.Value())

		// If recipient has code, simulate gas usage for the call.
		if code, ok := postState.Code[*to]; ok && len(code) > 0 {
			gasUsed = 21000 + uint64(len(tx.Data()))*16
		} else {
			gasUsed = 21000 // simple transfer
		}
	} else {
		// Contract creation: gas is 21000 + initcode cost.
		gasUsed = 21000 + uint64(len(tx.Data()))*16
		// Derive contract address and create account.
		contractAddr := createAddress(*sender, senderAcct.Nonce)
		accessedKeys = append(accessedKeys, senderKey(contractAddr)...)
		postState.SetAccount(contractAddr, &AccountState{
			Balance:  tx.Value(),
			CodeHash: crypto.Keccak256Hash(tx.Data()),
		})
	}

	// Cap gas used.
	if gasUsed > tx.Gas() {
		gasUsed = tx.Gas()
		success = false
	}

	// Refund unused gas.
	unusedGas := tx.Gas() - gasUsed
	refund := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(unusedGas))
	postSender.Balance = new(big.Int).Add(postSender.Balance, refund)

	// Pay gas to coinbase.
	coinbaseAcct := postState.GetAccount(header.Coinbase)
	if coinbaseAcct == nil {
		coinbaseAcct = &AccountState{
			Balance:  new(big.Int),
			CodeHash: types.EmptyCodeHash,
		}
		postState.SetAccount(header.Coinbase, coinbaseAcct)
	}
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasUsed))
	coinbaseAcct.Balance = new(big.Int).Add(coinbaseAcct.Balance, fee)

	return &ExecutionResult{
		GasUsed:      gasUsed,
		Success:      success,
		AccessedKeys: accessedKeys,
		PostState:    postState,
	}, nil
}

// CollectAccessedState executes a transaction in tracing mode against
// a full StateDB to determine which state entries are accessed, then
// returns a PartialState containing only those entries.
func (pe *PartialExecutor) CollectAccessedState(tx *types.Transaction, fullState FullStateReader) (*PartialState, error) {
	ps := NewPartialState()

	sender := tx.Sender()
	if sender == nil {
		return nil, ErrMissingSender
	}

	// Record sender state.
	collectAccount(ps, fullState, *sender)

	// Record recipient state.
	if to := tx.To(); to != nil {
		collectAccount(ps, fullState, *to)
	}

	// Record access list entries.
	for _, entry := range tx.AccessList() {
		collectAccount(ps, fullState, entry.Address)
		for _, slot := range entry.StorageKeys {
			val := fullState.GetState(entry.Address, slot)
			ps.SetStorage(entry.Address, slot, val)
		}
	}

	return ps, nil
}

// FullStateReader is a read-only subset of StateDB needed by
// CollectAccessedState.
type FullStateReader interface {
	GetBalance(addr types.Address) *big.Int
	GetNonce(addr types.Address) uint64
	GetCodeHash(addr types.Address) types.Hash
	GetCode(addr types.Address) []byte
	GetState(addr types.Address, key types.Hash) types.Hash
	StorageRoot(addr types.Address) types.Hash
}

// collectAccount reads an account from fullState into the partial state.
func collectAccount(ps *PartialState, fullState FullStateReader, addr types.Address) {
	if _, ok := ps.Accounts[addr]; ok {
		return
	}
	ps.SetAccount(addr, &AccountState{
		Nonce:       fullState.GetNonce(addr),
		Balance:     new(big.Int).Set(fullState.GetBalance(addr)),
		CodeHash:    fullState.GetCodeHash(addr),
		StorageRoot: fullState.StorageRoot(addr),
	})
	code := fullState.GetCode(addr)
	if len(code) > 0 {
		cp := make([]byte, len(code))
		copy(cp, code)
		ps.Code[addr] = cp
	}
}

// clonePartialState creates a deep copy of a PartialState.
func clonePartialState(ps *PartialState) *PartialState {
	clone := NewPartialState()
	for addr, acct := range ps.Accounts {
		clone.Accounts[addr] = &AccountState{
			Nonce:       acct.Nonce,
			Balance:     new(big.Int).Set(acct.Balance),
			CodeHash:    acct.CodeHash,
			StorageRoot: acct.StorageRoot,
		}
	}
	for addr, slots := range ps.Storage {
		clone.Storage[addr] = make(map[types.Hash]types.Hash, len(slots))
		for k, v := range slots {
			clone.Storage[addr][k] = v
		}
	}
	for addr, code := range ps.Code {
		cp := make([]byte, len(code))
		copy(cp, code)
		clone.Code[addr] = cp
	}
	return clone
}

// senderKey returns the key bytes for an address (for accessed key tracking).
func senderKey(addr types.Address) [][]byte {
	return [][]byte{addr[:]}
}

// recipientKey returns the key bytes for a recipient address.
func recipientKey(addr types.Address) [][]byte {
	return [][]byte{addr[:]}
}

// createAddress derives a contract address from sender + nonce using
// Keccak256(RLP(sender, nonce)). Simplified for VOPS purposes.
func createAddress(sender types.Address, nonce uint64) types.Address {
	data := append(sender[:], byte(nonce))
	h := crypto.Keccak256(data)
	var addr types.Address
	copy(addr[:], h[12:])
	return addr
}
