package pathoram

import "github.com/rs/zerolog"

// Config holds the construction-time parameters of an Engine.
type Config struct {
	// NumBlocks is the number of logical addresses supported. Valid
	// addresses are 0..NumBlocks-1.
	NumBlocks int

	// BlockSize is the size, in bytes, of each block's payload.
	BlockSize int

	// BucketSize is Z, the number of block slots per bucket. Defaults to 4.
	BucketSize int

	// StashCapacity is S, the maximum number of real blocks the stash may
	// hold before an access is reported as a fatal overflow. Defaults to
	// 20, a security parameter: set it too low and an access pattern has
	// a real chance of overflowing the stash.
	StashCapacity int

	// BaseThreshold is the address-space size at or below which the
	// position map uses the linear-scan base case instead of recursing
	// into a smaller Path ORAM. Defaults to 64.
	BaseThreshold int

	// TwoPathEviction, when true, evicts along one additional
	// independently random path after every access (see Engine's
	// evictExtraPath), trading an extra path read/write pair for a lower
	// stash-size tail. Defaults to false: evict only along the path just
	// accessed.
	TwoPathEviction bool

	// CountAccesses enables atomic physical bucket read/write counters on
	// the storage layer, for benchmark use only.
	CountAccesses bool

	// Debug enables re-entrancy guards and post-access structural
	// invariant checks, at a performance cost. Never enable in a deployed
	// enclave.
	Debug bool

	// Logger receives structured diagnostics: a debug-level event when an
	// Engine is constructed and an error-level event when it is poisoned;
	// individual state transitions are not logged. Defaults to a disabled logger so the library
	// is silent unless a caller opts in.
	Logger zerolog.Logger
}

// Validate returns a copy of cfg with defaults applied, or ErrInvalidConfig
// if the configuration cannot be made sensible.
func (c Config) Validate() (Config, error) {
	if c.NumBlocks <= 0 || c.BlockSize <= 0 {
		return c, ErrInvalidConfig
	}
	if c.BucketSize == 0 {
		c.BucketSize = 4
	}
	if c.BucketSize < 1 {
		return c, ErrInvalidConfig
	}
	if c.StashCapacity == 0 {
		c.StashCapacity = 20
	}
	if c.StashCapacity < 1 {
		return c, ErrInvalidConfig
	}
	if c.BaseThreshold == 0 {
		c.BaseThreshold = 64
	}
	if c.BaseThreshold < 1 {
		return c, ErrInvalidConfig
	}
	return c, nil
}

// treeParams returns (height, numLeaves) for an ORAM holding numBlocks
// blocks at the given bucket size: height H = ceil(log2(numLeaves)) where
// numLeaves is the smallest power of two such that numLeaves*bucketSize >=
// numBlocks. The tree has 2*numLeaves-1 buckets, root = node 0.
func treeParams(numBlocks, bucketSize int) (height, numLeaves int) {
	numLeaves = 1
	height = 0
	for numLeaves*bucketSize < numBlocks {
		numLeaves *= 2
		height++
	}
	if numLeaves < 1 {
		numLeaves = 1
	}
	return height, numLeaves
}
