package witness

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ethcore/execution/core/types"
	"github.com/ethcore/execution/crypto"
)

// maxProofDepth bounds the number of nodes accepted in a single account or
// storage inclusion proof passed to ValidateAccountProof/ValidateStorageProof.
const maxProofDepth = ProofTreeDepth * 2

// ErrEmptyWitness is returned when ValidateWitness is given no proof nodes
// at all.
var ErrEmptyWitness = errors.New("witness: witness has no proof nodes")

// WitnessValidatorConfig controls how strictly WitnessValidator checks an
// incoming witness.
type WitnessValidatorConfig struct {
	MaxWitnessSize int
	StrictMode     bool
	AllowMissing   bool
}

// ValidationResult reports the outcome of a single ValidateWitness call.
type ValidationResult struct {
	Valid       bool
	Error       string
	MissingKeys []types.Hash
	ExtraKeys   []types.Hash
}

// ValidationStats accumulates counters across every call to ValidateWitness.
type ValidationStats struct {
	Validated    int
	Failed       int
	MissingCount int
}

// WitnessValidator checks that a witness's proof nodes are internally
// consistent, bind to a claimed state root, and cover the keys a verifier
// expects to find. Safe for concurrent use.
type WitnessValidator struct {
	config WitnessValidatorConfig

	mu    sync.Mutex
	stats ValidationStats
}

// NewWitnessValidator returns a validator using config, filling
// MaxWitnessSize with DefaultMaxWitnessSize when left unset.
func NewWitnessValidator(config WitnessValidatorConfig) *WitnessValidator {
	if config.MaxWitnessSize == 0 {
		config.MaxWitnessSize = DefaultMaxWitnessSize
	}
	return &WitnessValidator{config: config}
}

func proofNodeKey(node []byte) (types.Hash, bool) {
	if len(node) < types.HashLength {
		return types.Hash{}, false
	}
	return types.BytesToHash(node[:types.HashLength]), true
}

// ValidateWitness checks proofNodes against stateRoot and the account and
// storage keys a verifier expects the witness to prove.
//
// A zero stateRoot skips root verification. A non-zero stateRoot must equal
// the keccak256 hash of all proofNodes concatenated in order. Unless
// config.AllowMissing is set, every key in accountKeys and storageKeys must
// be embedded (as its first 32 bytes) in some proof node. In config.StrictMode,
// proof nodes embedding keys outside that expected set are reported too.
func (v *WitnessValidator) ValidateWitness(stateRoot types.Hash, accountKeys, storageKeys []types.Hash, proofNodes [][]byte) ValidationResult {
	if len(proofNodes) == 0 {
		return v.fail(ValidationResult{Error: ErrEmptyWitness.Error()})
	}

	totalSize := 0
	for _, n := range proofNodes {
		totalSize += len(n)
	}
	if v.config.MaxWitnessSize > 0 && totalSize > v.config.MaxWitnessSize {
		return v.fail(ValidationResult{Error: ErrWitnessTooLarge.Error()})
	}

	if !stateRoot.IsZero() {
		var buf []byte
		for _, n := range proofNodes {
			buf = append(buf, n...)
		}
		if crypto.Keccak256Hash(buf) != stateRoot {
			return v.fail(ValidationResult{Error: "proof root does not match state root"})
		}
	}

	proofKeys := make(map[types.Hash]bool, len(proofNodes))
	for _, n := range proofNodes {
		if k, ok := proofNodeKey(n); ok {
			proofKeys[k] = true
		}
	}

	expected := make(map[types.Hash]bool, len(accountKeys)+len(storageKeys))
	for _, k := range accountKeys {
		expected[k] = true
	}
	for _, k := range storageKeys {
		expected[k] = true
	}

	result := ValidationResult{Valid: true}

	if !v.config.AllowMissing {
		for _, k := range accountKeys {
			if !proofKeys[k] {
				result.MissingKeys = append(result.MissingKeys, k)
			}
		}
		for _, k := range storageKeys {
			if !proofKeys[k] {
				result.MissingKeys = append(result.MissingKeys, k)
			}
		}
		if len(result.MissingKeys) > 0 {
			result.Valid = false
		}
	}

	if v.config.StrictMode {
		keys := make([]types.Hash, 0, len(proofKeys))
		for k := range proofKeys {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
		for _, k := range keys {
			if !expected[k] {
				result.ExtraKeys = append(result.ExtraKeys, k)
			}
		}
		if len(result.ExtraKeys) > 0 {
			result.Valid = false
		}
	}

	if !result.Valid {
		if result.Error == "" {
			result.Error = "witness validation failed"
		}
		return v.fail(result)
	}

	v.mu.Lock()
	v.stats.Validated++
	v.mu.Unlock()
	return result
}

func (v *WitnessValidator) fail(result ValidationResult) ValidationResult {
	result.Valid = false
	v.mu.Lock()
	v.stats.Failed++
	v.stats.MissingCount += len(result.MissingKeys)
	v.mu.Unlock()
	return result
}

func validateInclusionProof(proof [][]byte, root types.Hash, depthLimit int) bool {
	if len(proof) == 0 {
		return false
	}
	if root.IsZero() {
		return false
	}
	if depthLimit > 0 && len(proof) > depthLimit {
		return false
	}
	var buf []byte
	for _, n := range proof {
		if len(n) == 0 {
			return false
		}
		buf = append(buf, n...)
	}
	return crypto.Keccak256Hash(buf) == root
}

// ValidateAccountProof checks that proof's nodes, concatenated in order,
// hash to root.
func (v *WitnessValidator) ValidateAccountProof(addr types.Address, proof [][]byte, root types.Hash) bool {
	_ = addr
	return validateInclusionProof(proof, root, 0)
}

// ValidateStorageProof checks that proof's nodes, concatenated in order,
// hash to root, and that the proof does not exceed maxProofDepth nodes.
func (v *WitnessValidator) ValidateStorageProof(addr types.Address, key types.Hash, proof [][]byte, root types.Hash) bool {
	_ = addr
	_ = key
	return validateInclusionProof(proof, root, maxProofDepth)
}

// Stats returns a snapshot of the validator's cumulative counters.
func (v *WitnessValidator) Stats() ValidationStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// ComputeWitnessHash folds keys and their paired values into a single
// deterministic, order-independent hash. Returns the zero hash for empty
// input.
func (v *WitnessValidator) ComputeWitnessHash(keys []types.Hash, values [][]byte) types.Hash {
	if len(keys) == 0 {
		return types.Hash{}
	}

	type pair struct {
		key   types.Hash
		value []byte
	}
	pairs := make([]pair, len(keys))
	for i, k := range keys {
		var val []byte
		if i < len(values) {
			val = values[i]
		}
		pairs[i] = pair{key: k, value: val}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key.Hex() < pairs[j].key.Hex() })

	var buf bytes.Buffer
	for _, p := range pairs {
		buf.Write(p.key[:])
		buf.Write(p.value)
	}
	return crypto.Keccak256Hash(buf.Bytes())
}
