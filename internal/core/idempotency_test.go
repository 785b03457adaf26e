package core

import (
	"errors"
	"testing"
)

type stubDBChecker struct {
	dups map[string]bool
	err  error
	hits int
}

func (s *stubDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	s.hits++
	if s.err != nil {
		return false, s.err
	}
	return s.dups[eventType+":"+key], nil
}

func TestIdempotencyLRUTier(t *testing.T) {
	ic := NewIdempotencyChecker(10, nil, nil)

	if ic.IsDuplicate("HireInsurance", "k1") {
		t.Error("fresh key reported duplicate")
	}
	ic.MarkProcessed("HireInsurance", "k1")
	if !ic.IsDuplicate("HireInsurance", "k1") {
		t.Error("processed key not caught")
	}

	// Same key under a different event type is distinct.
	if ic.IsDuplicate("CreateAsset", "k1") {
		t.Error("key collided across event types")
	}
}

func TestIdempotencyFallsBackToDB(t *testing.T) {
	db := &stubDBChecker{dups: map[string]bool{"HireInsurance:old": true}}
	ic := NewIdempotencyChecker(10, db, nil)

	if !ic.IsDuplicate("HireInsurance", "old") {
		t.Fatal("DB-known key not caught")
	}
	if db.hits != 1 {
		t.Errorf("db hits = %d, want 1", db.hits)
	}

	// The hit was promoted into the LRU: no second DB roundtrip.
	if !ic.IsDuplicate("HireInsurance", "old") {
		t.Fatal("promoted key not caught")
	}
	if db.hits != 1 {
		t.Errorf("db hits = %d after promotion, want 1", db.hits)
	}
}

func TestIdempotencyDBErrorIsNotDuplicate(t *testing.T) {
	db := &stubDBChecker{err: errors.New("connection refused")}
	ic := NewIdempotencyChecker(10, db, nil)

	// A failing DB must not block processing.
	if ic.IsDuplicate("HireInsurance", "k1") {
		t.Error("DB error treated as duplicate")
	}
}

func TestLRUEviction(t *testing.T) {
	lru := newIdempotencyLRU(3)
	lru.add("a")
	lru.add("b")
	lru.add("c")

	// Touch "a" so "b" becomes the eviction candidate.
	if !lru.contains("a") {
		t.Fatal("a missing")
	}
	lru.add("d")

	if lru.contains("b") {
		t.Error("b survived eviction")
	}
	if !lru.contains("a") || !lru.contains("c") || !lru.contains("d") {
		t.Error("wrong entry evicted")
	}
	if lru.size() != 3 {
		t.Errorf("size = %d, want 3", lru.size())
	}
}

func TestWarmFromKeys(t *testing.T) {
	ic := NewIdempotencyChecker(10, nil, nil)
	ic.WarmFromKeys([]string{"HireInsurance:k1", "CreateAsset:k2"})

	if !ic.IsDuplicate("HireInsurance", "k1") || !ic.IsDuplicate("CreateAsset", "k2") {
		t.Error("warmed keys not recognized")
	}
}
