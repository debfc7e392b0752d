package ratelimit

import "testing"

func TestAllowPerUserBucketsAreIndependent(t *testing.T) {
	l := New(1, 1)

	if !l.Allow(1) {
		t.Fatal("first request for user 1 should be allowed (burst 1)")
	}
	if l.Allow(1) {
		t.Fatal("second immediate request for user 1 should be rejected, bucket exhausted")
	}
	if !l.Allow(2) {
		t.Fatal("user 2's bucket must be independent of user 1's exhausted bucket")
	}
}

func TestBucketForReusesExistingLimiter(t *testing.T) {
	l := New(5, 5)
	a := l.bucketFor(42)
	b := l.bucketFor(42)
	if a != b {
		t.Fatal("bucketFor(42) should return the same *rate.Limiter on repeated calls")
	}
}
