package httpmiddleware

import "testing"

func TestTokenBucketExhaustion(t *testing.T) {
	l := NewSimpleTokenBucket(3, 3)
	for i := 0; i < 3; i++ {
		if !l.allow("station-1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.allow("station-1") {
		t.Fatalf("request past capacity should be rejected")
	}
	// Separate keys get separate buckets.
	if !l.allow("station-2") {
		t.Fatalf("fresh key should be allowed")
	}
}

func TestTokenBucketDefaultsCapacity(t *testing.T) {
	l := NewSimpleTokenBucket(0, 5)
	if l.capacity != 5 {
		t.Fatalf("capacity = %d, want 5", l.capacity)
	}
}
