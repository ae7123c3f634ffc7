package pathoram

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Engine is the tree-based Path ORAM realization of ORAM. Every Access
// walks the same state sequence regardless of op or address: Remapping
// (draw a fresh leaf, look up and overwrite the old one), PathRead (pull
// every bucket on the old path into the stash), StashMerge (extract the
// old value and fold in the new one), Evict (push stash contents back
// down the same path via the oblivious sort in primitives.go), PathWrite
// (commit the evicted buckets), back to Idle. A fatal error at any step
// from the fresh-leaf draw onward leaves the engine poisoned: every later call fails
// immediately without touching storage, rather than risk acting on a
// torn tree.
type Engine struct {
	cfg       Config
	height    int
	numLeaves int
	storage   Storage
	counting  *countingStorage
	stash     *Stash
	posMap    positionMap
	rng       io.Reader
	logger    zerolog.Logger
	poisoned  error
	busy      atomic.Bool
}

// New constructs an Engine over the given Storage, which must already be
// sized for cfg (NumBuckets == 2*numLeaves-1, matching BucketSize and
// BlockSize) — use NewInMemory when a fresh InMemoryStorage is wanted
// instead. rng is consulted for every fresh leaf this engine or any
// recursive position map beneath it draws; passing a deterministic
// source is a caller error outside of tests.
func New(cfg Config, storage Storage, rng io.Reader) (*Engine, error) {
	return newEngine(cfg, storage, rng)
}

// NewInMemory constructs an Engine backed by a freshly allocated
// InMemoryStorage sized for cfg.
func NewInMemory(cfg Config, rng io.Reader) (*Engine, error) {
	return newEngine(cfg, nil, rng)
}

func newEngine(cfg Config, storage Storage, rng io.Reader) (*Engine, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, ErrNilRNG
	}

	height, numLeaves := treeParams(cfg.NumBlocks, cfg.BucketSize)
	numBuckets := 2*numLeaves - 1

	if storage == nil {
		storage = NewInMemoryStorage(numBuckets, cfg.BucketSize, cfg.BlockSize)
	}
	var counting *countingStorage
	if cfg.CountAccesses {
		counting = newCountingStorage(storage)
		storage = counting
	}

	posMap, err := buildPositionMap(cfg, numLeaves, rng)
	if err != nil {
		return nil, fmt.Errorf("pathoram: building position map: %w", err)
	}

	stash := NewStash(cfg.StashCapacity, (height+1)*cfg.BucketSize, cfg.BlockSize)

	e := &Engine{
		cfg:       cfg,
		height:    height,
		numLeaves: numLeaves,
		storage:   storage,
		counting:  counting,
		stash:     stash,
		posMap:    posMap,
		rng:       rng,
		logger:    cfg.Logger,
	}
	e.logger.Debug().
		Int("num_blocks", cfg.NumBlocks).
		Int("height", height).
		Int("num_leaves", numLeaves).
		Msg("engine constructed")
	return e, nil
}

// buildPositionMap resolves, once, which positionMap realization this
// engine uses: directPositionMap at or below cfg.BaseThreshold addresses,
// otherwise a recursivePositionMap owning a smaller Engine of its own.
// Nothing downstream re-decides this per access.
func buildPositionMap(cfg Config, numLeaves int, rng io.Reader) (positionMap, error) {
	k := cfg.BlockSize / leafTagSize

	// Recursion only shrinks the address space when at least two leaf
	// tags fit per block; below that, recursing would never terminate,
	// so fall back to the linear-scan base case regardless of threshold.
	if cfg.NumBlocks <= cfg.BaseThreshold || k < 2 {
		return newDirectPositionMap(cfg.NumBlocks, numLeaves, rng)
	}

	childBlocks := (cfg.NumBlocks + k - 1) / k

	childCfg := Config{
		NumBlocks:     childBlocks,
		BlockSize:     cfg.BlockSize,
		BucketSize:    cfg.BucketSize,
		StashCapacity: cfg.StashCapacity,
		BaseThreshold: cfg.BaseThreshold,
		Debug:         cfg.Debug,
		Logger:        cfg.Logger.With().Str("component", "posmap").Logger(),
	}
	child, err := newEngine(childCfg, nil, rng)
	if err != nil {
		return nil, err
	}

	// A freshly allocated InMemoryStorage starts every bucket zeroed, so
	// every packed block child would otherwise serve decodes as leaf 0
	// for every address until that block's first real write — a fixed,
	// predictable position rather than the independently random one every
	// address needs from the start. Front-load exactly what
	// newDirectPositionMap does for the base case, one packed block at a
	// time, through child's own (already correctly initialized, however
	// many levels deep) Write path.
	if err := seedPackedLeaves(child, childBlocks, k, numLeaves, cfg.BlockSize, rng); err != nil {
		return nil, err
	}

	return &recursivePositionMap{k: k, engine: child}, nil
}

// seedPackedLeaves writes an independently-drawn random leaf tag into
// every one of the k slots of every block child will ever serve, so the
// recursive position map's packed representation starts out exactly as
// unpredictable as directPositionMap's flat array does.
func seedPackedLeaves(child *Engine, childBlocks, k, numLeaves, blockSize int, rng io.Reader) error {
	buf := make([]byte, blockSize)
	for q := 0; q < childBlocks; q++ {
		for r := 0; r < k; r++ {
			leaf, err := randomLeaf(rng, numLeaves)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(buf[r*leafTagSize:(r+1)*leafTagSize], uint64(leaf))
		}
		if _, err := child.Write(q, buf); err != nil {
			return err
		}
	}
	return nil
}

// randomLeaf draws a uniformly random leaf in [0, numLeaves) from rng.
func randomLeaf(rng io.Reader, numLeaves int) (int, error) {
	if numLeaves <= 1 {
		return 0, nil
	}
	n, err := rand.Int(rng, big.NewInt(int64(numLeaves)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRNGFailure, err)
	}
	return int(n.Int64()), nil
}

// Read returns the current value at address.
func (e *Engine) Read(address int) ([]byte, error) {
	return e.Access(OpRead, address, nil)
}

// Write stores value at address, returning the value previously there.
func (e *Engine) Write(address int, value []byte) ([]byte, error) {
	return e.Access(OpWrite, address, value)
}

// Access performs one read or read-modify-write access.
func (e *Engine) Access(op Op, address int, value []byte) ([]byte, error) {
	if op == OpWrite && len(value) != e.cfg.BlockSize {
		return nil, ErrInvalidValueSize
	}
	return e.access(address, func(stash *Stash, freshLeaf int) []byte {
		return stash.ReadAndRemap(address, freshLeaf, op, value)
	})
}

// accessUpdate is the variant the recursive position map uses: merge is
// handed the old value and computes the new one in the same pass, which
// is the only way to patch one packed leaf tag without a second,
// distinguishable round trip to the tree.
func (e *Engine) accessUpdate(address int, update func(old []byte) []byte) ([]byte, error) {
	return e.access(address, func(stash *Stash, freshLeaf int) []byte {
		return stash.ReadAndRemapFunc(address, freshLeaf, func(old []byte) ([]byte, bool) {
			return update(old), true
		})
	})
}

// access runs the common Remapping/PathRead/StashMerge/Evict/PathWrite
// sequence, deferring the merge step's exact behavior to merge.
func (e *Engine) access(address int, merge func(stash *Stash, freshLeaf int) []byte) ([]byte, error) {
	if e.poisoned != nil {
		return nil, e.poisoned
	}
	if !ctInRange(address, e.cfg.NumBlocks) {
		return nil, ErrInvalidAddress
	}

	if e.cfg.Debug {
		if !e.busy.CompareAndSwap(false, true) {
			return nil, ErrReentrantAccess
		}
		defer e.busy.Store(false)
	}

	freshLeaf, err := randomLeaf(e.rng, e.numLeaves)
	if err != nil {
		e.poison(err)
		return nil, err
	}

	oldLeaf, err := e.posMap.lookupAndRemap(address, freshLeaf)
	if err != nil {
		e.poison(err)
		return nil, err
	}

	treePath := path(e.height, e.numLeaves, oldLeaf)
	pathBlocks := make([]Block, 0, len(treePath)*e.cfg.BucketSize)
	for _, node := range treePath {
		pathBlocks = append(pathBlocks, e.storage.ReadBucket(node)...)
	}
	e.stash.InsertPath(pathBlocks)

	oldValue := merge(e.stash, freshLeaf)

	buckets, evictErr := e.stash.EvictAlong(e.height, e.numLeaves, treePath, e.cfg.BucketSize)
	for i, node := range treePath {
		e.storage.WriteBucket(node, buckets[i])
	}
	if evictErr != nil {
		e.poison(evictErr)
		return nil, evictErr
	}

	if e.cfg.TwoPathEviction {
		if err := e.evictExtraPath(); err != nil {
			e.poison(err)
			return nil, err
		}
	}

	if e.cfg.Debug {
		if verr := e.checkInvariants(treePath); verr != nil {
			e.poison(verr)
			return nil, verr
		}
	}

	return oldValue, nil
}

// evictExtraPath reads and evicts along one additional, independently
// random path with no address of interest and no merge step — the
// two-path eviction policy, which trades this extra
// read/write pair for a lower stash-occupancy tail.
func (e *Engine) evictExtraPath() error {
	leaf, err := randomLeaf(e.rng, e.numLeaves)
	if err != nil {
		return err
	}

	treePath := path(e.height, e.numLeaves, leaf)
	pathBlocks := make([]Block, 0, len(treePath)*e.cfg.BucketSize)
	for _, node := range treePath {
		pathBlocks = append(pathBlocks, e.storage.ReadBucket(node)...)
	}
	e.stash.InsertPath(pathBlocks)

	buckets, err := e.stash.EvictAlong(e.height, e.numLeaves, treePath, e.cfg.BucketSize)
	for i, node := range treePath {
		e.storage.WriteBucket(node, buckets[i])
	}
	return err
}

func (e *Engine) poison(cause error) {
	e.poisoned = fmt.Errorf("%w: %v", ErrPoisoned, cause)
	e.logger.Error().Err(cause).Msg("engine poisoned")
}

// checkInvariants re-derives the structural properties that must hold
// after every access, checked only in Debug mode: every real block on
// treePath still lives somewhere eligible for its assigned leaf, and the
// stash has not quietly grown past its reported capacity. Violations are
// aggregated with go-multierror so a single Debug run surfaces every
// broken invariant, not just the first.
func (e *Engine) checkInvariants(treePath []int) error {
	var result *multierror.Error

	if e.stash.RealCount() > e.cfg.StashCapacity {
		result = multierror.Append(result, fmt.Errorf("%w: stash holds %d real blocks, capacity %d",
			ErrInvariantViolation, e.stash.RealCount(), e.cfg.StashCapacity))
	}

	for _, node := range treePath {
		bucket := e.storage.ReadBucket(node)
		for _, b := range bucket {
			if b.isDummy() {
				continue
			}
			if !canReside(e.numLeaves, b.Leaf, node) {
				result = multierror.Append(result, fmt.Errorf("%w: real block at bucket %d is not on its leaf's path",
					ErrInvariantViolation, node))
			}
		}
	}

	return result.ErrorOrNil()
}

// Capacity returns the number of logical addresses this engine supports.
func (e *Engine) Capacity() int { return e.cfg.NumBlocks }

// Counters returns cumulative physical bucket reads and writes. Both are
// always 0 if the engine was constructed with CountAccesses false.
func (e *Engine) Counters() (reads, writes int64) {
	if !e.cfg.CountAccesses {
		return 0, 0
	}
	return e.counting.Reads(), e.counting.Writes()
}
