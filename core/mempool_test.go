package core

import (
	"testing"
	"time"
)

func mustTx(t *testing.T, sender Address, amount, fee uint64) *Transaction {
	t.Helper()
	tx := NewTransaction(Standard, sender, Address{9}, amount, fee, nil)
	tx.Finalize()
	return tx
}

func TestMempoolAddIsIdempotent(t *testing.T) {
	m := NewMempool(10)
	tx := mustTx(t, Address{1}, 10, 1)
	if !m.Add(tx) {
		t.Fatalf("expected first add to succeed")
	}
	if !m.Add(tx) {
		t.Fatalf("expected duplicate add to report success (idempotent)")
	}
	if m.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", m.Len())
	}
}

func TestMempoolCapacityEvictsLowestFee(t *testing.T) {
	m := NewMempool(2)
	low := mustTx(t, Address{1}, 10, 1)
	mid := mustTx(t, Address{2}, 10, 2)
	high := mustTx(t, Address{3}, 10, 5)

	if !m.Add(low) || !m.Add(mid) {
		t.Fatalf("expected initial fills to succeed")
	}
	if !m.Add(high) {
		t.Fatalf("expected high-fee tx to evict the lowest-fee entry")
	}
	if m.Has(low.ID) {
		t.Fatalf("expected lowest-fee entry to be evicted")
	}
	if !m.Has(mid.ID) || !m.Has(high.ID) {
		t.Fatalf("expected surviving entries to remain admitted")
	}
}

func TestMempoolCapacityRejectsWhenNotBetter(t *testing.T) {
	m := NewMempool(1)
	high := mustTx(t, Address{1}, 10, 5)
	low := mustTx(t, Address{2}, 10, 1)
	if !m.Add(high) {
		t.Fatalf("expected initial add to succeed")
	}
	if m.Add(low) {
		t.Fatalf("expected lower-fee tx to be rejected at capacity")
	}
	if !m.Has(high.ID) {
		t.Fatalf("expected original high-fee entry to remain")
	}
}

func TestMempoolAssembleOrdersByFeeThenAdmission(t *testing.T) {
	m := NewMempool(10)
	a := mustTx(t, Address{1}, 10, 3)
	b := mustTx(t, Address{2}, 10, 5)
	c := mustTx(t, Address{3}, 10, 5)
	m.Add(a)
	m.Add(b)
	m.Add(c)

	out := m.Assemble(0, time.Now())
	if len(out) != 3 {
		t.Fatalf("expected 3 eligible transactions, got %d", len(out))
	}
	if out[0].ID != b.ID || out[1].ID != c.ID {
		t.Fatalf("expected fee-tied entries ordered by admission time (b before c)")
	}
	if out[2].ID != a.ID {
		t.Fatalf("expected lowest-fee entry last")
	}
}

func TestMempoolAssembleExcludesIneligible(t *testing.T) {
	m := NewMempool(10)
	now := time.Unix(1_700_000_000, 0)
	locked := &Transaction{Variant: TimeLocked, Sender: Address{1}, UnlockTime: now.Add(time.Hour).Unix()}
	locked.Finalize()
	m.Add(locked)

	out := m.Assemble(0, now)
	if len(out) != 0 {
		t.Fatalf("expected time-locked tx before unlock to be excluded, got %d", len(out))
	}
}

func TestMempoolUpdateMultiSigAppendsAndCaps(t *testing.T) {
	m := NewMempool(10)
	tx := &Transaction{Variant: MultiSig, Sender: Address{1}, Signers: []Address{{1}, {2}}, RequiredSignatures: 2}
	tx.Finalize()
	m.Add(tx)

	if !m.UpdateMultiSig(tx.ID, []byte{0x01}) {
		t.Fatalf("expected first signature to be accepted")
	}
	got, _ := m.Get(tx.ID)
	if len(got.CollectedSignatures) != 1 {
		t.Fatalf("expected 1 collected signature, got %d", len(got.CollectedSignatures))
	}

	m.UpdateMultiSig(tx.ID, []byte{0x02})
	m.UpdateMultiSig(tx.ID, []byte{0x03}) // beyond threshold, must not grow further
	got, _ = m.Get(tx.ID)
	if len(got.CollectedSignatures) != 2 {
		t.Fatalf("expected collected signatures capped at required_signatures, got %d", len(got.CollectedSignatures))
	}
}

func TestMempoolRemove(t *testing.T) {
	m := NewMempool(10)
	tx := mustTx(t, Address{1}, 10, 1)
	m.Add(tx)
	m.Remove(tx.ID)
	if m.Has(tx.ID) {
		t.Fatalf("expected tx to be removed")
	}
}
