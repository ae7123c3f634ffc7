package pathoram

import (
	"encoding/binary"
	"io"
)

// positionMap is the client-side mapping from logical address to current
// leaf tag. Both realizations below satisfy this one interface; which
// one an Engine uses is decided once, at construction, and never
// re-decided per access.
type positionMap interface {
	// lookupAndRemap atomically reads the current leaf tag for address
	// and overwrites it with newLeaf, returning the previous value.
	lookupAndRemap(address, newLeaf int) (oldLeaf int, err error)
}

// directPositionMap is the base case: a flat array of leaf tags, looked
// up via a full oblivious scan rather than direct indexing, so that the
// sequence of operations performed is independent of which address was
// queried.
type directPositionMap struct {
	leaves []int
}

// newDirectPositionMap builds a base-case position map for n addresses,
// assigning each one an independently-drawn random leaf up front.
func newDirectPositionMap(n, numLeaves int, rng io.Reader) (*directPositionMap, error) {
	leaves := make([]int, n)
	for i := range leaves {
		leaf, err := randomLeaf(rng, numLeaves)
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}
	return &directPositionMap{leaves: leaves}, nil
}

func (m *directPositionMap) lookupAndRemap(address, newLeaf int) (int, error) {
	old := 0
	for i := range m.leaves {
		match := boolToMask(boolIntEq(i, address))
		old = cmovInt(match, m.leaves[i], old)
		m.leaves[i] = cmovInt(match, newLeaf, m.leaves[i])
	}
	return old, nil
}

// leafTagSize is the serialized width of one packed leaf tag inside a
// recursive position-map block.
const leafTagSize = 8

// recursivePositionMap packs K = BlockSize/leafTagSize leaf tags into
// each block of a smaller, independently-parameterized Path ORAM engine,
// and recurses until the remaining address space is small enough for
// directPositionMap to take over (buildPositionMap in engine.go decides
// the cutoff and owns construction of both realizations). Every
// recursion level draws its own independent randomness from the shared
// rng passed down from the top-level Engine.
type recursivePositionMap struct {
	k      int
	engine *Engine
}

func (m *recursivePositionMap) lookupAndRemap(address, newLeaf int) (int, error) {
	q := address / m.k
	r := address % m.k

	var oldLeaf int
	_, err := m.engine.accessUpdate(q, func(old []byte) []byte {
		oldLeaf = int(binary.LittleEndian.Uint64(old[r*leafTagSize : (r+1)*leafTagSize]))
		patched := make([]byte, len(old))
		copy(patched, old)
		binary.LittleEndian.PutUint64(patched[r*leafTagSize:(r+1)*leafTagSize], uint64(newLeaf))
		return patched
	})
	if err != nil {
		return 0, err
	}
	return oldLeaf, nil
}
