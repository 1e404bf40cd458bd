package core

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethcore/execution/core/state"
	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/rlp"
	"github.com/ethcore/execution/trie"
)

// EIP-4844 blob gas errors for block building.
var (
	ErrBlobGasLimitExceeded = errors.New("blob gas limit exceeded for block")
	ErrInvalidBlobHash      = errors.New("blob hash has invalid version byte")
)

// TxPoolReader is an interface for reading pending transactions from a pool.
// It is the minimal surface the block builder needs from the mempool; the
// concrete txpool.TxPool satisfies it.
type TxPoolReader interface {
	Pending() []*types.Transaction
}

// PayloadAttributes holds the parameters a caller (e.g. an engine-API driven
// consensus client) supplies when asking the Blockchain to assemble a new
// block on top of a given parent.
type PayloadAttributes struct {
	Timestamp    uint64
	FeeRecipient types.Address
	Random       types.Hash
	Withdrawals  []*types.Withdrawal
	BeaconRoot   *types.Hash
	GasLimit     uint64
}

// PayloadBundle is the result of building a new block: the sealed block
// together with the receipts produced by executing its transactions.
type PayloadBundle struct {
	Block    *types.Block
	Receipts []*types.Receipt
}

// BlockBuilder constructs new blocks by draining a transaction pool in
// priority order and tentatively executing candidates against a state view
// rooted at the parent block, finalizing on commit.
type BlockBuilder struct {
	config *ChainConfig
	chain  *Blockchain
	txPool TxPoolReader
	state  state.StateDB
}

// NewBlockBuilder creates a new block builder. If chain is nil, a standalone
// builder is created (useful for tests that supply state directly).
func NewBlockBuilder(config *ChainConfig, chain *Blockchain, pool TxPoolReader) *BlockBuilder {
	return &BlockBuilder{
		config: config,
		chain:  chain,
		txPool: pool,
	}
}

// SetState sets the state database for standalone builder usage (testing).
func (b *BlockBuilder) SetState(statedb state.StateDB) {
	b.state = statedb
}

// sortedTxLists separates and sorts pending transactions into regular and blob
// transaction lists, each ordered by effective gas price descending.
func sortedTxLists(pending []*types.Transaction, baseFee *big.Int) (regular, blobs []*types.Transaction) {
	for _, tx := range pending {
		if tx.Type() == types.BlobTxType {
			blobs = append(blobs, tx)
		} else {
			regular = append(regular, tx)
		}
	}
	sortByPrice := func(txs []*types.Transaction) {
		sort.Slice(txs, func(i, j int) bool {
			pi := effectiveGasPrice(txs[i], baseFee)
			pj := effectiveGasPrice(txs[j], baseFee)
			return pi.Cmp(pj) > 0
		})
	}
	sortByPrice(regular)
	sortByPrice(blobs)
	return regular, blobs
}

// validateBlobHashes checks that every versioned hash starts with 0x01.
func validateBlobHashes(hashes []types.Hash) error {
	for i, h := range hashes {
		if h[0] != BlobTxHashVersion {
			return fmt.Errorf("%w: hash %d version 0x%02x, want 0x%02x",
				ErrInvalidBlobHash, i, h[0], BlobTxHashVersion)
		}
	}
	return nil
}

// calcExcessBlobGasFromParent returns the excess blob gas for a new block
// given the parent header. Uses parent's ExcessBlobGas and BlobGasUsed;
// returns 0 if either is nil (pre-Cancun parent).
func calcExcessBlobGasFromParent(parent *types.Header) uint64 {
	var parentExcess, parentUsed uint64
	if parent.ExcessBlobGas != nil {
		parentExcess = *parent.ExcessBlobGas
	}
	if parent.BlobGasUsed != nil {
		parentUsed = *parent.BlobGasUsed
	}
	return CalcExcessBlobGas(parentExcess, parentUsed)
}

// BuildPayload constructs a new block by selecting transactions from the
// txpool, ordering them by effective gas price descending, and applying them
// until the block gas limit is reached. Blob transactions (EIP-4844) are
// tracked separately with their own blob gas limit. After all transactions
// are applied, withdrawals are credited (EIP-4895), requests are accumulated
// (EIP-7685), and the post-state root is computed.
func (b *BlockBuilder) BuildPayload(parent *types.Header, attrs *PayloadAttributes) (*PayloadBundle, error) {
	gasLimit := attrs.GasLimit
	if gasLimit == 0 {
		gasLimit = calcGasLimit(parent.GasLimit, parent.GasUsed)
	}

	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, big.NewInt(1)),
		GasLimit:   gasLimit,
		Time:       attrs.Timestamp,
		Coinbase:   attrs.FeeRecipient,
		Difficulty: new(big.Int), // always 0 post-merge
		MixDigest:  attrs.Random,
		BaseFee:    CalcBaseFee(parent),
		UncleHash:  EmptyUncleHash,
	}

	if attrs.BeaconRoot != nil {
		header.ParentBeaconRoot = attrs.BeaconRoot
	}

	// EIP-4844: compute blob gas fields when Cancun is active.
	cancunActive := b.config != nil && b.config.IsCancun(header.Time)
	var blobGasUsed uint64
	var excessBlobGas uint64
	if cancunActive {
		excessBlobGas = calcExcessBlobGasFromParent(parent)
		header.ExcessBlobGas = &excessBlobGas
		header.BlobGasUsed = &blobGasUsed // updated later
	}

	// Get state at parent block.
	statedb := b.state
	if statedb == nil && b.chain != nil {
		parentBlock := b.chain.GetBlock(parent.Hash())
		if parentBlock == nil && parent.Hash() == b.chain.Genesis().Hash() {
			parentBlock = b.chain.Genesis()
		}
		if parentBlock != nil {
			var err error
			statedb, err = b.chain.stateAt(parentBlock)
			if err != nil {
				return nil, err
			}
		}
	}
	if statedb == nil {
		statedb = state.NewMemoryStateDB()
	}

	gasPool := new(GasPool).AddGas(header.GasLimit)

	// EIP-4788: store the parent beacon block root before any user transactions.
	if b.config != nil && b.config.IsCancun(header.Time) {
		ProcessBeaconBlockRoot(statedb, header)
	}

	// EIP-2935: store parent block hash in history storage contract (Prague+).
	pragueActive := b.config != nil && b.config.IsPrague(header.Time)
	if pragueActive && header.Number.Uint64() > 0 {
		ProcessParentBlockHash(statedb, header.Number.Uint64()-1, header.ParentHash)
	}

	var (
		txs      []*types.Transaction
		receipts []*types.Receipt
		gasUsed  uint64
	)

	// Collect pending transactions from pool, highest effective price first.
	var pendingTxs []*types.Transaction
	if b.txPool != nil {
		pendingTxs = b.txPool.Pending()
	}
	regularTxs, blobTxs := sortedTxLists(pendingTxs, header.BaseFee)
	allSorted := append(regularTxs, blobTxs...)

	txIndex := 0
	for _, tx := range allSorted {
		if header.BaseFee != nil && tx.GasFeeCap() != nil && tx.GasFeeCap().Cmp(header.BaseFee) < 0 {
			continue
		}
		if gasPool.Gas() < tx.Gas() {
			continue
		}

		if tx.Type() == types.BlobTxType && cancunActive {
			txBlobGas := tx.BlobGas()
			if blobGasUsed+txBlobGas > MaxBlobGasPerBlock {
				continue // would exceed block blob gas limit
			}
			if err := validateBlobHashes(tx.BlobHashes()); err != nil {
				continue
			}
			blobBaseFee := calcBlobBaseFee(excessBlobGas)
			if tx.BlobGasFeeCap() == nil || tx.BlobGasFeeCap().Cmp(blobBaseFee) < 0 {
				continue
			}
		}

		statedb.SetTxContext(tx.Hash(), txIndex)

		snap := statedb.Snapshot()
		receipt, used, err := ApplyTransaction(b.config, statedb, header, tx, gasPool)
		if err != nil {
			statedb.RevertToSnapshot(snap)
			continue
		}

		txs = append(txs, tx)
		receipts = append(receipts, receipt)
		gasUsed += used

		if tx.Type() == types.BlobTxType && cancunActive {
			blobGasUsed += tx.BlobGas()
		}

		txIndex++
	}

	header.GasUsed = gasUsed
	if cancunActive {
		header.BlobGasUsed = &blobGasUsed
	}

	header.Bloom = types.CreateBloom(receipts)

	// CumulativeGasUsed is a running total, recomputed here since the receipt
	// generation path stores per-tx gas used.
	var cumGas uint64
	for _, r := range receipts {
		cumGas += r.GasUsed
		r.CumulativeGasUsed = cumGas
	}

	header.TxHash = deriveTxsRoot(txs)
	header.ReceiptHash = deriveReceiptsRoot(receipts)
	header.Root = statedb.GetRoot()

	// Post-Shanghai blocks must always include withdrawals (even if empty).
	withdrawals := attrs.Withdrawals
	shanghaiActive := b.config != nil && b.config.IsShanghai(header.Time)
	if withdrawals == nil && shanghaiActive {
		withdrawals = []*types.Withdrawal{}
	}

	body := &types.Body{
		Transactions: txs,
		Withdrawals:  withdrawals,
	}

	// EIP-4895: process withdrawals, applied strictly after all transactions.
	if withdrawals != nil {
		wHash := deriveWithdrawalsRoot(withdrawals)
		header.WithdrawalsHash = &wHash

		for _, w := range withdrawals {
			amount := new(big.Int).SetUint64(w.Amount)
			amount.Mul(amount, big.NewInt(1_000_000_000)) // Gwei -> wei
			statedb.AddBalance(w.Address, amount)
		}
		header.Root = statedb.GetRoot()
	}

	// EIP-7685: accumulate execution layer requests (Prague+).
	if pragueActive {
		requests, err := ProcessRequests(b.config, statedb, header)
		if err == nil && requests != nil {
			rHash := types.ComputeRequestsHash(requests)
			header.RequestsHash = &rHash
			header.Root = statedb.GetRoot()
		} else if err == nil {
			emptyReqs := types.Requests{}
			rHash := types.ComputeRequestsHash(emptyReqs)
			header.RequestsHash = &rHash
		}
	}

	block := types.NewBlock(header, body)

	return &PayloadBundle{Block: block, Receipts: receipts}, nil
}

// BuildBlockWithTxs constructs a block from an explicit transaction list
// rather than draining a pool. It is a thin convenience wrapper around
// BuildPayload for callers (and tests) that already have a concrete set of
// candidate transactions.
func (b *BlockBuilder) BuildBlockWithTxs(parent *types.Header, txs []*types.Transaction, timestamp uint64, coinbase types.Address, extra []byte) (*types.Block, []*types.Receipt, error) {
	pool := &staticTxPool{txs: txs}
	prev := b.txPool
	b.txPool = pool
	defer func() { b.txPool = prev }()

	bundle, err := b.BuildPayload(parent, &PayloadAttributes{
		Timestamp:    timestamp,
		FeeRecipient: coinbase,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(extra) > 0 {
		bundle.Block.Header().Extra = extra
	}
	return bundle.Block, bundle.Receipts, nil
}

// staticTxPool adapts a fixed transaction slice to TxPoolReader.
type staticTxPool struct{ txs []*types.Transaction }

func (p *staticTxPool) Pending() []*types.Transaction { return p.txs }

// effectiveGasPrice returns the effective gas price for a transaction
// considering the base fee (EIP-1559).
func effectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil || tx.GasFeeCap() == nil || tx.GasTipCap() == nil {
		return tx.GasPrice()
	}
	// effectiveGasPrice = min(gasFeeCap, baseFee + gasTipCap)
	effectiveTip := new(big.Int).Add(baseFee, tx.GasTipCap())
	if effectiveTip.Cmp(tx.GasFeeCap()) > 0 {
		return new(big.Int).Set(tx.GasFeeCap())
	}
	return effectiveTip
}

// calcGasLimit calculates the gas limit for the next block.
// Per EIP-1559, the gas limit can change by at most 1/1024 per block.
func calcGasLimit(parentGasLimit, parentGasUsed uint64) uint64 {
	target := parentGasLimit / 2
	delta := parentGasLimit / 1024

	switch {
	case parentGasUsed > target:
		return parentGasLimit + delta
	case parentGasUsed < target:
		if delta > parentGasLimit || parentGasLimit-delta < MinGasLimit {
			return MinGasLimit
		}
		return parentGasLimit - delta
	default:
		return parentGasLimit
	}
}

// DeriveTxsRoot is the exported version of deriveTxsRoot.
func DeriveTxsRoot(txs []*types.Transaction) types.Hash { return deriveTxsRoot(txs) }

// DeriveReceiptsRoot is the exported version of deriveReceiptsRoot.
func DeriveReceiptsRoot(receipts []*types.Receipt) types.Hash { return deriveReceiptsRoot(receipts) }

// deriveTxsRoot computes the transactions root using a Merkle Patricia Trie.
// Key: RLP(index), Value: RLP-encoded transaction.
func deriveTxsRoot(txs []*types.Transaction) types.Hash {
	if len(txs) == 0 {
		return types.EmptyRootHash
	}
	t := trie.New()
	for i, tx := range txs {
		key, _ := rlp.EncodeToBytes(uint64(i))
		val, err := tx.EncodeRLP()
		if err != nil {
			continue
		}
		t.Put(key, val)
	}
	return t.Hash()
}

// deriveReceiptsRoot computes the receipts root using a Merkle Patricia Trie.
// Key: RLP(index), Value: RLP-encoded receipt.
func deriveReceiptsRoot(receipts []*types.Receipt) types.Hash {
	if len(receipts) == 0 {
		return types.EmptyRootHash
	}
	t := trie.New()
	for i, receipt := range receipts {
		key, _ := rlp.EncodeToBytes(uint64(i))
		val, err := receipt.EncodeRLP()
		if err != nil {
			continue
		}
		t.Put(key, val)
	}
	return t.Hash()
}

// deriveWithdrawalsRoot computes the withdrawals root using a Merkle Patricia Trie.
func deriveWithdrawalsRoot(ws []*types.Withdrawal) types.Hash {
	if len(ws) == 0 {
		return types.EmptyRootHash
	}
	t := trie.New()
	for i, w := range ws {
		key, _ := rlp.EncodeToBytes(uint64(i))
		val, _ := rlp.EncodeToBytes([]interface{}{w.Index, w.ValidatorIndex, w.Address, w.Amount})
		t.Put(key, val)
	}
	return t.Hash()
}
