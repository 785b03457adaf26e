package book

import (
	"testing"

	"github.com/google/uuid"
)

func TestAddAccumulates(t *testing.T) {
	b := NewBook()
	assetID := uuid.New()

	b.Add(assetID, "alice", 10, 10_000_000)
	rec := b.Add(assetID, "alice", 5, 5_000_000)

	if rec.Quantity != 15 {
		t.Errorf("quantity = %d, want 15", rec.Quantity)
	}
	if rec.SecuredAmount != 15_000_000 {
		t.Errorf("secured = %d, want 15000000", rec.SecuredAmount)
	}
	if got := b.TotalSecured(assetID); got != 15_000_000 {
		t.Errorf("total = %d, want 15000000", got)
	}
}

func TestRecordsRegistrationOrder(t *testing.T) {
	b := NewBook()
	assetID := uuid.New()

	b.Add(assetID, "carol", 1, 100)
	b.Add(assetID, "alice", 1, 100)
	b.Add(assetID, "bob", 1, 100)
	b.Add(assetID, "carol", 1, 100) // repeat purchase keeps original slot

	records := b.Records(assetID)
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	want := []string{"carol", "alice", "bob"}
	for i, rec := range records {
		if rec.Buyer != want[i] {
			t.Errorf("records[%d] = %s, want %s", i, rec.Buyer, want[i])
		}
		if rec.Seq != int64(i) {
			t.Errorf("records[%d].Seq = %d, want %d", i, rec.Seq, i)
		}
	}
}

func TestHasClients(t *testing.T) {
	b := NewBook()
	assetID := uuid.New()

	if b.HasClients(assetID) {
		t.Error("empty book has clients")
	}
	b.Add(assetID, "alice", 1, 100)
	if !b.HasClients(assetID) {
		t.Error("book with a record has no clients")
	}
}

func TestDrain(t *testing.T) {
	b := NewBook()
	assetID := uuid.New()
	other := uuid.New()

	b.Add(assetID, "alice", 10, 1000)
	b.Add(assetID, "bob", 20, 2000)
	b.Add(other, "carol", 5, 500)

	drained := b.Drain(assetID)
	if len(drained) != 2 {
		t.Fatalf("drained %d records, want 2", len(drained))
	}
	if drained[0].Buyer != "alice" || drained[0].SecuredAmount != 1000 {
		t.Errorf("drained[0] = %+v", drained[0])
	}
	if drained[1].Buyer != "bob" || drained[1].SecuredAmount != 2000 {
		t.Errorf("drained[1] = %+v", drained[1])
	}

	if b.HasClients(assetID) {
		t.Error("book still has clients after drain")
	}
	if len(b.Records(assetID)) != 0 {
		t.Error("live records remain after drain")
	}

	// Other assets are untouched.
	if got := b.TotalSecured(other); got != 500 {
		t.Errorf("other asset total = %d, want 500", got)
	}
}

func TestDrainTwiceIsEmpty(t *testing.T) {
	b := NewBook()
	assetID := uuid.New()
	b.Add(assetID, "alice", 1, 100)

	b.Drain(assetID)
	if got := b.Drain(assetID); len(got) != 0 {
		t.Errorf("second drain returned %d records", len(got))
	}
}

func TestRebuyAfterDrain(t *testing.T) {
	b := NewBook()
	assetID := uuid.New()

	b.Add(assetID, "alice", 10, 1000)
	b.Drain(assetID)

	rec := b.Add(assetID, "alice", 3, 300)
	if rec.Quantity != 3 || rec.SecuredAmount != 300 {
		t.Errorf("rebuy record = %+v", rec)
	}
	if got := b.TotalSecured(assetID); got != 300 {
		t.Errorf("total = %d, want 300", got)
	}
}
