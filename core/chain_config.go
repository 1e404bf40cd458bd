package core

import "math/big"

// ChainConfig holds chain-level configuration for fork scheduling. Pre-merge
// forks are activated by block number; Shanghai and later forks are
// activated by timestamp, following the post-merge scheduling convention.
type ChainConfig struct {
	ChainID *big.Int

	HomesteadBlock      *big.Int
	EIP150Block         *big.Int
	EIP155Block         *big.Int
	EIP158Block         *big.Int
	ByzantiumBlock      *big.Int
	ConstantinopleBlock *big.Int
	PetersburgBlock     *big.Int
	IstanbulBlock       *big.Int
	MuirGlacierBlock    *big.Int
	BerlinBlock         *big.Int
	LondonBlock         *big.Int

	// TerminalTotalDifficulty marks the difficulty threshold at which the
	// chain transitioned from proof-of-work to proof-of-stake (The Merge).
	// A non-nil value here is what allows IsMerge to report true.
	TerminalTotalDifficulty *big.Int

	ShanghaiTime *uint64
	CancunTime   *uint64
	PragueTime   *uint64
}

func isBlockForked(forkBlock *big.Int, blockNum *big.Int) bool {
	if forkBlock == nil || blockNum == nil {
		return false
	}
	return forkBlock.Cmp(blockNum) <= 0
}

func isTimestampForked(forkTime *uint64, blockTime uint64) bool {
	if forkTime == nil {
		return false
	}
	return *forkTime <= blockTime
}

// IsHomestead returns whether the given block number is at or past Homestead.
func (c *ChainConfig) IsHomestead(num *big.Int) bool { return isBlockForked(c.HomesteadBlock, num) }

// IsEIP150 returns whether the given block number is at or past the EIP-150 gas repricing.
func (c *ChainConfig) IsEIP150(num *big.Int) bool { return isBlockForked(c.EIP150Block, num) }

// IsEIP155 returns whether the given block number is at or past EIP-155 replay protection.
func (c *ChainConfig) IsEIP155(num *big.Int) bool { return isBlockForked(c.EIP155Block, num) }

// IsEIP158 returns whether the given block number is at or past EIP-158 (empty account pruning).
func (c *ChainConfig) IsEIP158(num *big.Int) bool { return isBlockForked(c.EIP158Block, num) }

// IsByzantium returns whether the given block number is at or past Byzantium.
func (c *ChainConfig) IsByzantium(num *big.Int) bool { return isBlockForked(c.ByzantiumBlock, num) }

// IsConstantinople returns whether the given block number is at or past Constantinople.
func (c *ChainConfig) IsConstantinople(num *big.Int) bool {
	return isBlockForked(c.ConstantinopleBlock, num)
}

// IsPetersburg returns whether the given block number is at or past Petersburg.
func (c *ChainConfig) IsPetersburg(num *big.Int) bool { return isBlockForked(c.PetersburgBlock, num) }

// IsIstanbul returns whether the given block number is at or past Istanbul.
func (c *ChainConfig) IsIstanbul(num *big.Int) bool { return isBlockForked(c.IstanbulBlock, num) }

// IsMuirGlacier returns whether the given block number is at or past MuirGlacier.
func (c *ChainConfig) IsMuirGlacier(num *big.Int) bool {
	return isBlockForked(c.MuirGlacierBlock, num)
}

// IsBerlin returns whether the given block number is at or past Berlin.
func (c *ChainConfig) IsBerlin(num *big.Int) bool { return isBlockForked(c.BerlinBlock, num) }

// IsLondon returns whether the given block number is at or past London.
func (c *ChainConfig) IsLondon(num *big.Int) bool { return isBlockForked(c.LondonBlock, num) }

// IsMerge reports whether the chain has transitioned to proof-of-stake.
// A chain config is considered post-merge once TerminalTotalDifficulty is set,
// since this implementation only ever executes post-merge blocks.
func (c *ChainConfig) IsMerge() bool { return c.TerminalTotalDifficulty != nil }

// IsShanghai returns whether the given block time is at or past the Shanghai fork.
func (c *ChainConfig) IsShanghai(time uint64) bool {
	return isTimestampForked(c.ShanghaiTime, time)
}

// IsCancun returns whether the given block time is at or past the Cancun fork.
func (c *ChainConfig) IsCancun(time uint64) bool {
	return isTimestampForked(c.CancunTime, time)
}

// IsPrague returns whether the given block time is at or past the Prague fork.
func (c *ChainConfig) IsPrague(time uint64) bool {
	return isTimestampForked(c.PragueTime, time)
}

// IsGlamsterdan always reports false: this configuration schedules no fork
// beyond Prague.
func (c *ChainConfig) IsGlamsterdan(time uint64) bool { return false }

// IsAmsterdam always reports false: this configuration schedules no fork
// beyond Prague.
func (c *ChainConfig) IsAmsterdam(time uint64) bool { return false }

func newUint64(v uint64) *uint64 { return &v }

// MainnetConfig is the chain config for Ethereum mainnet.
var MainnetConfig = &ChainConfig{
	ChainID:                 big.NewInt(1),
	HomesteadBlock:          big.NewInt(1150000),
	EIP150Block:             big.NewInt(2463000),
	EIP155Block:             big.NewInt(2675000),
	EIP158Block:             big.NewInt(2675000),
	ByzantiumBlock:          big.NewInt(4370000),
	ConstantinopleBlock:     big.NewInt(7280000),
	PetersburgBlock:         big.NewInt(7280000),
	IstanbulBlock:           big.NewInt(9069000),
	MuirGlacierBlock:        big.NewInt(9200000),
	BerlinBlock:             big.NewInt(12244000),
	LondonBlock:             big.NewInt(12965000),
	TerminalTotalDifficulty: new(big.Int).Mul(big.NewInt(58750000000000000), big.NewInt(1)),
	ShanghaiTime:            newUint64(1681338455),
	CancunTime:              newUint64(1710338135),
	PragueTime:              newUint64(1746612311),
}

// Rules is a snapshot of which fork rules are active for a specific block
// number and timestamp, used to parameterize gas scheduling, the jump table,
// and the precompile set without repeatedly re-evaluating ChainConfig.
type Rules struct {
	IsHomestead      bool
	IsEIP150         bool
	IsEIP155         bool
	IsEIP158         bool
	IsByzantium      bool
	IsConstantinople bool
	IsPetersburg     bool
	IsIstanbul       bool
	IsBerlin         bool
	IsLondon         bool
	IsMerge          bool
	IsShanghai       bool
	IsCancun         bool
	IsPrague         bool
}

// Rules returns the fork rules active at the given block number, merge
// status, and timestamp.
func (c *ChainConfig) Rules(num *big.Int, isMerge bool, time uint64) Rules {
	return Rules{
		IsHomestead:      c.IsHomestead(num),
		IsEIP150:         c.IsEIP150(num),
		IsEIP155:         c.IsEIP155(num),
		IsEIP158:         c.IsEIP158(num),
		IsByzantium:      c.IsByzantium(num),
		IsConstantinople: c.IsConstantinople(num),
		IsPetersburg:     c.IsPetersburg(num),
		IsIstanbul:       c.IsIstanbul(num),
		IsBerlin:         c.IsBerlin(num),
		IsLondon:         c.IsLondon(num),
		IsMerge:          isMerge,
		IsShanghai:       isMerge && c.IsShanghai(time),
		IsCancun:         isMerge && c.IsCancun(time),
		IsPrague:         isMerge && c.IsPrague(time),
	}
}

// TestConfig is a chain config with all forks active at genesis (block/time 0).
var TestConfig = &ChainConfig{
	ChainID:                 big.NewInt(1337),
	HomesteadBlock:          big.NewInt(0),
	EIP150Block:             big.NewInt(0),
	EIP155Block:             big.NewInt(0),
	EIP158Block:             big.NewInt(0),
	ByzantiumBlock:          big.NewInt(0),
	ConstantinopleBlock:     big.NewInt(0),
	PetersburgBlock:         big.NewInt(0),
	IstanbulBlock:           big.NewInt(0),
	MuirGlacierBlock:        big.NewInt(0),
	BerlinBlock:             big.NewInt(0),
	LondonBlock:             big.NewInt(0),
	TerminalTotalDifficulty: big.NewInt(0),
	ShanghaiTime:            newUint64(0),
	CancunTime:              newUint64(0),
	PragueTime:              newUint64(0),
}
