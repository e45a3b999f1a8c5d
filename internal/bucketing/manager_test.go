package bucketing

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBucketsAreStableAndInRange(t *testing.T) {
	bm := NewBucketingManager(16)
	id := uuid.New()

	first := bm.GetUserBucket(id)
	for i := 0; i < 10; i++ {
		if got := bm.GetUserBucket(id); got != first {
			t.Fatalf("bucket changed: %d then %d", first, got)
		}
	}

	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		b := bm.GetUserBucket(uuid.New())
		if b < 0 || b >= 16 {
			t.Fatalf("bucket %d out of range", b)
		}
		seen[b] = true
	}
	if len(seen) < 12 {
		t.Fatalf("poor spread: only %d of 16 buckets used", len(seen))
	}
}

func TestNonPositiveBucketCount(t *testing.T) {
	bm := NewBucketingManager(0)
	if bm.GetUserBuckets() != 1 || bm.GetKeyBucket("x") != 0 {
		t.Fatal("expected a single bucket")
	}
}

func TestDateBucketIsUTC(t *testing.T) {
	loc := time.FixedZone("east", 10*3600)
	ts := time.Date(2024, 3, 2, 5, 0, 0, 0, loc)
	if got := NewBucketingManager(4).GetDateBucket(ts); got != "2024-03-01" {
		t.Fatalf("got %s", got)
	}
}
