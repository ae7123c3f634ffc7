package pathoram

import (
	"crypto/rand"
	"encoding/binary"
	"testing"
)

func TestDirectPositionMapLookupAndRemap(t *testing.T) {
	m, err := newDirectPositionMap(10, 8, rand.Reader)
	if err != nil {
		t.Fatalf("newDirectPositionMap: %v", err)
	}

	initial := make([]int, 10)
	copy(initial, m.leaves)

	oldLeaf, err := m.lookupAndRemap(3, 5)
	if err != nil {
		t.Fatalf("lookupAndRemap: %v", err)
	}
	if oldLeaf != initial[3] {
		t.Errorf("lookupAndRemap returned %d, want initial leaf %d", oldLeaf, initial[3])
	}
	if m.leaves[3] != 5 {
		t.Errorf("leaf for address 3 = %d, want 5", m.leaves[3])
	}
	for i := range m.leaves {
		if i == 3 {
			continue
		}
		if m.leaves[i] != initial[i] {
			t.Errorf("unrelated address %d changed from %d to %d", i, initial[i], m.leaves[i])
		}
	}
}

func TestDirectPositionMapSecondLookupReturnsRemappedValue(t *testing.T) {
	m, err := newDirectPositionMap(4, 8, rand.Reader)
	if err != nil {
		t.Fatalf("newDirectPositionMap: %v", err)
	}

	if _, err := m.lookupAndRemap(2, 7); err != nil {
		t.Fatalf("lookupAndRemap: %v", err)
	}
	old, err := m.lookupAndRemap(2, 1)
	if err != nil {
		t.Fatalf("lookupAndRemap: %v", err)
	}
	if old != 7 {
		t.Errorf("second lookupAndRemap returned %d, want 7", old)
	}
}

func TestRecursivePositionMapRoundTrips(t *testing.T) {
	numLeaves := 64
	n := 2000
	// n above BaseThreshold forces at least one level of recursion, given
	// a BlockSize large enough that k = blockSize/leafTagSize is >= 2.
	pm, err := buildPositionMap(Config{
		NumBlocks:     n,
		BlockSize:     64,
		BucketSize:    4,
		StashCapacity: 40,
		BaseThreshold: 64,
	}.mustValidate(t), numLeaves, rand.Reader)
	if err != nil {
		t.Fatalf("buildPositionMap: %v", err)
	}
	if _, ok := pm.(*recursivePositionMap); !ok {
		t.Fatalf("buildPositionMap returned %T, want *recursivePositionMap for n=%d", pm, n)
	}

	old1, err := pm.lookupAndRemap(1234, 10)
	if err != nil {
		t.Fatalf("lookupAndRemap: %v", err)
	}
	if old1 < 0 || old1 >= numLeaves {
		t.Fatalf("initial leaf %d out of range [0, %d)", old1, numLeaves)
	}

	old2, err := pm.lookupAndRemap(1234, 20)
	if err != nil {
		t.Fatalf("lookupAndRemap: %v", err)
	}
	if old2 != 10 {
		t.Errorf("second lookupAndRemap for address 1234 = %d, want 10", old2)
	}

	// A different address must be unaffected.
	old3, err := pm.lookupAndRemap(1567, 30)
	if err != nil {
		t.Fatalf("lookupAndRemap: %v", err)
	}
	if old3 == 20 {
		t.Errorf("unrelated address 1567 picked up address 1234's remapped leaf")
	}
}

func TestRecursivePositionMapPackedBlocksAreEagerlyRandomized(t *testing.T) {
	numLeaves := 64
	blockSize := 64
	k := blockSize / leafTagSize // 8

	pm, err := buildPositionMap(Config{
		NumBlocks:     2000,
		BlockSize:     blockSize,
		BucketSize:    4,
		StashCapacity: 40,
		BaseThreshold: 64,
	}.mustValidate(t), numLeaves, rand.Reader)
	if err != nil {
		t.Fatalf("buildPositionMap: %v", err)
	}
	rpm, ok := pm.(*recursivePositionMap)
	if !ok {
		t.Fatalf("buildPositionMap returned %T, want *recursivePositionMap", pm)
	}

	// Every packed block must be seeded with independently-random leaf
	// tags at construction, before any address inside it has ever been
	// looked up — never left at the all-zero contents a freshly
	// allocated Storage starts with. Check several never-touched blocks;
	// with numLeaves=64 and k=8 tags per block, an honestly-randomized
	// block has a 64^-8 chance of decoding as all zero.
	for _, q := range []int{0, 7, 42} {
		raw, err := rpm.engine.Read(q)
		if err != nil {
			t.Fatalf("engine.Read(%d): %v", q, err)
		}
		allZero := true
		for r := 0; r < k; r++ {
			leaf := binary.LittleEndian.Uint64(raw[r*leafTagSize : (r+1)*leafTagSize])
			if leaf != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			t.Errorf("packed block %d decodes as all-zero leaf tags; position map was not eagerly randomized", q)
		}
	}
}

func (c Config) mustValidate(t *testing.T) Config {
	t.Helper()
	validated, err := c.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return validated
}
