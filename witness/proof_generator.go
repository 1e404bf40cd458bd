package witness

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/crypto"
)

// ProofTreeDepth is the default number of hash-chain nodes generated per
// inclusion proof.
const ProofTreeDepth = 8

// MaxProofBundleSize is the default byte-size budget for a ProofBundle.
const MaxProofBundleSize = 4 << 20 // 4 MiB

// Errors returned by WitnessProofGenerator.
var (
	ErrProofGenNilWitness  = errors.New("witness: proof generator given a nil witness")
	ErrProofGenNilRoot     = errors.New("witness: witness has a zero state root")
	ErrProofGenNoAccounts  = errors.New("witness: witness has no accounts to prove")
	ErrProofBundleTooLarge = errors.New("witness: proof bundle exceeds configured size limit")
)

// WitnessProofNode is one link in a deterministic hash chain binding an
// inclusion proof's leaf content to the witness's state root.
type WitnessProofNode struct {
	Hash types.Hash
	Data []byte
}

func buildProofChain(leaf []byte, depth int) []WitnessProofNode {
	nodes := make([]WitnessProofNode, depth)
	data := leaf
	for i := 0; i < depth; i++ {
		h := crypto.Keccak256Hash(data)
		nodes[i] = WitnessProofNode{Hash: h, Data: data}
		data = append([]byte(nil), h[:]...)
	}
	return nodes
}

func verifyProofChain(nodes []WitnessProofNode, leaf []byte) bool {
	if len(nodes) == 0 {
		return false
	}
	if !bytes.Equal(nodes[0].Data, leaf) {
		return false
	}
	for i, n := range nodes {
		if n.Hash != crypto.Keccak256Hash(n.Data) {
			return false
		}
		if i+1 < len(nodes) {
			if !bytes.Equal(nodes[i+1].Data, n.Hash[:]) {
				return false
			}
		}
	}
	return true
}

// AccountInclusionProof proves that an account's recorded state is part of
// a StateWitness rooted at StateRoot.
type AccountInclusionProof struct {
	StateRoot  types.Hash
	Address    types.Address
	AddressKey types.Hash
	Exists     bool
	Nonce      uint64
	Balance    []byte
	CodeHash   types.Hash
	Nodes      []WitnessProofNode
}

func accountProofLeaf(addressKey types.Hash, exists bool, nonce uint64, balance []byte, codeHash types.Hash) []byte {
	var buf []byte
	buf = append(buf, addressKey[:]...)
	if exists {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf = append(buf, n[:]...)
	buf = append(buf, balance...)
	buf = append(buf, codeHash[:]...)
	return buf
}

// StorageInclusionProof proves that a storage slot's recorded value is
// part of a StateWitness.
type StorageInclusionProof struct {
	Address     types.Address
	SlotKey     types.Hash
	Value       types.Hash
	StorageRoot types.Hash
	SlotHash    types.Hash
	Nodes       []WitnessProofNode
}

func storageProofLeaf(slotHash, value types.Hash) []byte {
	return append(append([]byte{}, slotHash[:]...), value[:]...)
}

// ProofBundle groups every account and storage inclusion proof for a
// StateWitness, deduplicating the hash-chain nodes they share.
type ProofBundle struct {
	StateRoot     types.Hash
	AccountProofs []*AccountInclusionProof
	StorageProofs []*StorageInclusionProof
	SharedNodes   map[types.Hash]WitnessProofNode
	TotalSize     int
}

// ProofBundleStats summarizes a ProofBundle's size and proof counts.
type ProofBundleStats struct {
	AccountProofCount int
	StorageProofCount int
	UniqueNodeCount   int
	TotalSize         int
}

// WitnessProofGenerator produces inclusion proofs over a StateWitness.
type WitnessProofGenerator struct {
	depth          int
	maxBundleSize  int
	generatedCount int64
}

// NewWitnessProofGenerator returns a generator producing hash chains of
// the given depth (ProofTreeDepth if depth <= 0) and bundles bounded by
// maxBundleSize bytes (unbounded if maxBundleSize <= 0).
func NewWitnessProofGenerator(depth, maxBundleSize int) *WitnessProofGenerator {
	if depth <= 0 {
		depth = ProofTreeDepth
	}
	return &WitnessProofGenerator{depth: depth, maxBundleSize: maxBundleSize}
}

// GeneratedCount returns the number of individual proofs generated so far.
func (g *WitnessProofGenerator) GeneratedCount() int {
	return int(atomic.LoadInt64(&g.generatedCount))
}

// GenerateAccountProof produces an inclusion proof for addr's recorded
// state in sw.
func (g *WitnessProofGenerator) GenerateAccountProof(sw *StateWitness, addr types.Address) (*AccountInclusionProof, error) {
	if sw == nil {
		return nil, ErrProofGenNilWitness
	}
	if sw.StateRoot.IsZero() {
		return nil, ErrProofGenNilRoot
	}
	acc, ok := sw.Accounts[addr]
	if !ok {
		return nil, fmt.Errorf("witness: account %s not present in witness", addr.Hex())
	}

	addressKey := crypto.Keccak256Hash(addr[:])
	balance := acc.Balance.Bytes()
	leaf := accountProofLeaf(addressKey, acc.Exists, acc.Nonce, balance, acc.CodeHash)

	proof := &AccountInclusionProof{
		StateRoot:  sw.StateRoot,
		Address:    addr,
		AddressKey: addressKey,
		Exists:     acc.Exists,
		Nonce:      acc.Nonce,
		Balance:    balance,
		CodeHash:   acc.CodeHash,
		Nodes:      buildProofChain(leaf, g.depth),
	}
	atomic.AddInt64(&g.generatedCount, 1)
	return proof, nil
}

// GenerateStorageProof produces an inclusion proof for addr's slot key in
// sw.
func (g *WitnessProofGenerator) GenerateStorageProof(sw *StateWitness, addr types.Address, key types.Hash) (*StorageInclusionProof, error) {
	if sw == nil {
		return nil, ErrProofGenNilWitness
	}
	if sw.StateRoot.IsZero() {
		return nil, ErrProofGenNilRoot
	}
	acc, ok := sw.Accounts[addr]
	if !ok {
		return nil, fmt.Errorf("witness: account %s not present in witness", addr.Hex())
	}
	value, ok := acc.Storage[key]
	if !ok {
		return nil, fmt.Errorf("witness: slot %s not present for account %s", key.Hex(), addr.Hex())
	}

	slotHash := crypto.Keccak256Hash(addr[:], key[:])
	storageRoot := crypto.Keccak256Hash(addr[:], []byte("storage-root"))
	leaf := storageProofLeaf(slotHash, value)

	proof := &StorageInclusionProof{
		Address:     addr,
		SlotKey:     key,
		Value:       value,
		StorageRoot: storageRoot,
		SlotHash:    slotHash,
		Nodes:       buildProofChain(leaf, g.depth),
	}
	atomic.AddInt64(&g.generatedCount, 1)
	return proof, nil
}

// GenerateProofBundle produces inclusion proofs for every account and
// storage slot recorded in sw.
func (g *WitnessProofGenerator) GenerateProofBundle(sw *StateWitness) (*ProofBundle, error) {
	if sw == nil {
		return nil, ErrProofGenNilWitness
	}
	if sw.StateRoot.IsZero() {
		return nil, ErrProofGenNilRoot
	}
	if len(sw.Accounts) == 0 {
		return nil, ErrProofGenNoAccounts
	}

	addrs := make([]types.Address, 0, len(sw.Accounts))
	for addr := range sw.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	bundle := &ProofBundle{
		StateRoot:   sw.StateRoot,
		SharedNodes: make(map[types.Hash]WitnessProofNode),
	}

	for _, addr := range addrs {
		ap, err := g.GenerateAccountProof(sw, addr)
		if err != nil {
			return nil, err
		}
		bundle.AccountProofs = append(bundle.AccountProofs, ap)
		for _, n := range ap.Nodes {
			bundle.SharedNodes[n.Hash] = n
		}

		acc := sw.Accounts[addr]
		keys := make([]types.Hash, 0, len(acc.Storage))
		for k := range acc.Storage {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
		for _, k := range keys {
			sp, err := g.GenerateStorageProof(sw, addr, k)
			if err != nil {
				return nil, err
			}
			bundle.StorageProofs = append(bundle.StorageProofs, sp)
			for _, n := range sp.Nodes {
				bundle.SharedNodes[n.Hash] = n
			}
		}
	}

	bundle.TotalSize = estimateProofBundleSize(bundle)
	if g.maxBundleSize > 0 && bundle.TotalSize > g.maxBundleSize {
		return nil, ErrProofBundleTooLarge
	}

	return bundle, nil
}

func estimateProofBundleSize(bundle *ProofBundle) int {
	size := 32
	for _, n := range bundle.SharedNodes {
		size += 32 + len(n.Data)
	}
	size += len(bundle.AccountProofs) * 64
	size += len(bundle.StorageProofs) * 96
	return size
}

// VerifyAccountInclusionProof checks that proof's hash chain is internally
// consistent and correctly binds its claimed account fields.
func VerifyAccountInclusionProof(proof *AccountInclusionProof) bool {
	if proof == nil {
		return false
	}
	if proof.StateRoot.IsZero() {
		return false
	}
	leaf := accountProofLeaf(proof.AddressKey, proof.Exists, proof.Nonce, proof.Balance, proof.CodeHash)
	return verifyProofChain(proof.Nodes, leaf)
}

// VerifyStorageInclusionProof checks that proof's hash chain is internally
// consistent and correctly binds its claimed slot value.
func VerifyStorageInclusionProof(proof *StorageInclusionProof) bool {
	if proof == nil {
		return false
	}
	if proof.StorageRoot.IsZero() {
		return false
	}
	leaf := storageProofLeaf(proof.SlotHash, proof.Value)
	return verifyProofChain(proof.Nodes, leaf)
}

// VerifyProofBundle verifies every proof contained in bundle.
func VerifyProofBundle(bundle *ProofBundle) bool {
	if bundle == nil {
		return false
	}
	for _, ap := range bundle.AccountProofs {
		if !VerifyAccountInclusionProof(ap) {
			return false
		}
	}
	for _, sp := range bundle.StorageProofs {
		if !VerifyStorageInclusionProof(sp) {
			return false
		}
	}
	return true
}

// ComputeProofBundleStats summarizes bundle's proof counts and size.
func ComputeProofBundleStats(bundle *ProofBundle) ProofBundleStats {
	if bundle == nil {
		return ProofBundleStats{}
	}
	return ProofBundleStats{
		AccountProofCount: len(bundle.AccountProofs),
		StorageProofCount: len(bundle.StorageProofs),
		UniqueNodeCount:   len(bundle.SharedNodes),
		TotalSize:         bundle.TotalSize,
	}
}
