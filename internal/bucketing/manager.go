package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads partition keys across a fixed number of buckets
// so no single Scylla partition grows with the user base.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewBucketingManager(userBuckets int) *BucketingManager {
	if userBuckets <= 0 {
		userBuckets = 1
	}
	bm := &BucketingManager{userBuckets: userBuckets}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns a consistent bucket in [0, userBuckets).
func (bm *BucketingManager) GetUserBucket(userID uuid.UUID) int {
	return bm.GetKeyBucket(userID.String())
}

// GetKeyBucket buckets an arbitrary string key, such as an email lookup hash.
func (bm *BucketingManager) GetKeyBucket(key string) int {
	return int(bm.getHash(key) % uint64(bm.userBuckets))
}

// GetDateBucket returns the UTC day used to partition time series rows.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetUserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

// Benchmark bucketing performance
func (bm *BucketingManager) Benchmark(iterations int) (avgTime time.Duration) {
	if iterations <= 0 {
		return 0
	}
	start := time.Now()

	for i := 0; i < iterations; i++ {
		bm.GetKeyBucket(fmt.Sprintf("user%d@example.com", i))
	}

	return time.Since(start) / time.Duration(iterations)
}
