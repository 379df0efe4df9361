package network

import (
	"testing"

	"hybridchain/core"
)

func TestSeenTxDedup(t *testing.T) {
	s := NewSeenStore(16)
	id := core.Hash{1}

	if s.SeenTx(id) {
		t.Fatalf("expected first observation to report not-seen")
	}
	if !s.SeenTx(id) {
		t.Fatalf("expected second observation of the same id to report seen")
	}
}

func TestSeenBlockDedup(t *testing.T) {
	s := NewSeenStore(16)
	hash := core.Hash{2}

	if s.SeenBlock(hash) {
		t.Fatalf("expected first observation to report not-seen")
	}
	if !s.SeenBlock(hash) {
		t.Fatalf("expected second observation of the same hash to report seen")
	}
}

func TestSeenStoreTxAndBlockAreIndependent(t *testing.T) {
	s := NewSeenStore(16)
	h := core.Hash{3}

	if s.SeenTx(h) {
		t.Fatalf("expected fresh tx hash to report not-seen")
	}
	if s.SeenBlock(h) {
		t.Fatalf("expected the same hash in the block set to report not-seen independently")
	}
}

func TestSeenStoreEvictsBeyondCapacity(t *testing.T) {
	s := NewSeenStore(2)
	a, b, c := core.Hash{1}, core.Hash{2}, core.Hash{3}

	s.SeenTx(a)
	s.SeenTx(b)
	s.SeenTx(c) // evicts a, the least recently used entry

	if s.SeenTx(a) {
		t.Fatalf("expected a to have been evicted and treated as not-seen again")
	}
}
