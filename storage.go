package pathoram

import "sync/atomic"

// Storage provides whole-bucket access to the physical tree. Every call
// touches the full Z*blockStride bytes of the bucket; there is no
// partial-bucket operation. An out-of-range index is a fatal programming
// error, not a recoverable condition.
type Storage interface {
	// ReadBucket returns a copy of the bucket at idx.
	ReadBucket(idx int) Bucket

	// WriteBucket overwrites the bucket at idx with bucket, which must
	// have exactly BucketSize() slots.
	WriteBucket(idx int, bucket Bucket)

	// NumBuckets returns the total number of buckets (2*numLeaves-1).
	NumBuckets() int

	// BucketSize returns Z, the number of block slots per bucket.
	BucketSize() int

	// BlockSize returns the size in bytes of each block's value.
	BlockSize() int
}

// countingStorage wraps a Storage and records physical access counts for
// benchmark use. Counters are exposed only via Reads/Writes/Reset, never
// surfaced through the ordinary Storage interface, so an ordinary caller
// of Engine cannot observe them.
type countingStorage struct {
	Storage
	reads  atomic.Int64
	writes atomic.Int64
}

func newCountingStorage(s Storage) *countingStorage {
	return &countingStorage{Storage: s}
}

func (c *countingStorage) ReadBucket(idx int) Bucket {
	c.reads.Add(1)
	return c.Storage.ReadBucket(idx)
}

func (c *countingStorage) WriteBucket(idx int, bucket Bucket) {
	c.writes.Add(1)
	c.Storage.WriteBucket(idx, bucket)
}

// Reads returns the number of physical bucket reads since the last Reset.
func (c *countingStorage) Reads() int64 { return c.reads.Load() }

// Writes returns the number of physical bucket writes since the last Reset.
func (c *countingStorage) Writes() int64 { return c.writes.Load() }

// Reset zeroes both counters.
func (c *countingStorage) Reset() {
	c.reads.Store(0)
	c.writes.Store(0)
}

// InMemoryStorage implements Storage as a flat in-process slice of
// buckets: a thin physical-memory abstraction, deliberately dumb, with
// no notion of encryption or persistence of its own.
type InMemoryStorage struct {
	buckets    []Bucket
	bucketSize int
	blockSize  int
}

// NewInMemoryStorage allocates numBuckets buckets of bucketSize dummy
// blocks each, with blockSize-byte zeroed values.
func NewInMemoryStorage(numBuckets, bucketSize, blockSize int) *InMemoryStorage {
	buckets := make([]Bucket, numBuckets)
	for i := range buckets {
		buckets[i] = newBucket(bucketSize, blockSize)
	}
	return &InMemoryStorage{
		buckets:    buckets,
		bucketSize: bucketSize,
		blockSize:  blockSize,
	}
}

// ReadBucket returns a copy of the bucket at idx. Out-of-range idx
// panics: it is a programming error, not a recoverable condition.
func (s *InMemoryStorage) ReadBucket(idx int) Bucket {
	return s.buckets[idx].clone()
}

// WriteBucket overwrites the bucket at idx with a copy of bucket.
func (s *InMemoryStorage) WriteBucket(idx int, bucket Bucket) {
	if len(bucket) != s.bucketSize {
		panic("pathoram: wrong bucket size in WriteBucket")
	}
	s.buckets[idx] = bucket.clone()
}

// NumBuckets returns the total number of buckets.
func (s *InMemoryStorage) NumBuckets() int { return len(s.buckets) }

// BucketSize returns slots per bucket.
func (s *InMemoryStorage) BucketSize() int { return s.bucketSize }

// BlockSize returns bytes per block value.
func (s *InMemoryStorage) BlockSize() int { return s.blockSize }
