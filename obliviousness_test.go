package pathoram

import (
	"bytes"
	"math/rand"
	"testing"
)

// traceEvent records one physical bucket touch without recording what was
// in it — exactly what an observer limited to the physical access pattern
// is assumed to see.
type traceEvent struct {
	op  string
	idx int
}

type tracingStorage struct {
	inner Storage
	trace []traceEvent
}

func newTracingStorage(inner Storage) *tracingStorage {
	return &tracingStorage{inner: inner}
}

func (t *tracingStorage) ReadBucket(idx int) Bucket {
	t.trace = append(t.trace, traceEvent{"read", idx})
	return t.inner.ReadBucket(idx)
}

func (t *tracingStorage) WriteBucket(idx int, bucket Bucket) {
	t.trace = append(t.trace, traceEvent{"write", idx})
	t.inner.WriteBucket(idx, bucket)
}

func (t *tracingStorage) NumBuckets() int { return t.inner.NumBuckets() }
func (t *tracingStorage) BucketSize() int { return t.inner.BucketSize() }
func (t *tracingStorage) BlockSize() int  { return t.inner.BlockSize() }

// runTrace drives the same deterministic sequence of addresses against a
// fresh engine seeded with the same deterministic randomness, writing
// fill as every value, and returns the resulting physical access trace.
func runTrace(t *testing.T, addresses []int, fill byte) []traceEvent {
	t.Helper()
	cfg := Config{NumBlocks: 128, BlockSize: 16, BucketSize: 4, StashCapacity: 30}.mustValidate(t)

	height, numLeaves := treeParams(cfg.NumBlocks, cfg.BucketSize)
	storage := newTracingStorage(NewInMemoryStorage(2*numLeaves-1, cfg.BucketSize, cfg.BlockSize))

	seed := rand.New(rand.NewSource(1))
	e, err := New(cfg, storage, seed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = height

	value := bytes.Repeat([]byte{fill}, cfg.BlockSize)
	for _, addr := range addresses {
		if _, err := e.Write(addr, value); err != nil {
			t.Fatalf("Write(%d): %v", addr, err)
		}
	}
	return storage.trace
}

func TestAccessTraceIndependentOfValues(t *testing.T) {
	addresses := []int{3, 17, 3, 42, 100, 17, 0}

	traceA := runTrace(t, addresses, 0xAA)
	traceB := runTrace(t, addresses, 0x55)

	if len(traceA) != len(traceB) {
		t.Fatalf("trace lengths differ: %d vs %d", len(traceA), len(traceB))
	}
	for i := range traceA {
		if traceA[i] != traceB[i] {
			t.Fatalf("trace diverges at event %d: %+v vs %+v", i, traceA[i], traceB[i])
		}
	}
}

func TestAccessTraceReadsAndWritesEveryBucketOnPath(t *testing.T) {
	cfg := Config{NumBlocks: 64, BlockSize: 8, BucketSize: 4, StashCapacity: 20}.mustValidate(t)
	height, numLeaves := treeParams(cfg.NumBlocks, cfg.BucketSize)
	storage := newTracingStorage(NewInMemoryStorage(2*numLeaves-1, cfg.BucketSize, cfg.BlockSize))

	e, err := New(cfg, storage, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Read(5); err != nil {
		t.Fatalf("Read: %v", err)
	}

	reads := 0
	writes := 0
	for _, ev := range storage.trace {
		switch ev.op {
		case "read":
			reads++
		case "write":
			writes++
		}
	}
	if reads != height+1 {
		t.Errorf("got %d physical reads, want %d (height+1)", reads, height+1)
	}
	if writes != height+1 {
		t.Errorf("got %d physical writes, want %d (height+1)", writes, height+1)
	}
}
