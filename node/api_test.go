package node

import (
	"testing"

	"hybridchain/core"
)

func newAPITestLedger(t *testing.T) *core.Ledger {
	t.Helper()
	cfg := core.DefaultLedgerConfig()
	cfg.Genesis = core.NewGenesisBlock(1000, 0)
	ledger, err := core.NewLedger(cfg, core.NewNoopVerifier(), nil)
	if err != nil {
		t.Fatalf("unexpected error building ledger: %v", err)
	}
	return ledger
}

func TestLedgerAPISubmitTransactionAdmitsToMempool(t *testing.T) {
	ledger := newAPITestLedger(t)
	api := NewLedgerAPI(ledger)

	tx := core.NewTransaction(core.DataStorage, core.Address{1}, core.Address{2}, 0, 0, []byte("note"))
	tx.Data = []byte("note")
	tx.Finalize()

	if err := api.SubmitTransaction(tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.MempoolSnapshot()) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(api.MempoolSnapshot()))
	}
}

func TestLedgerAPIHeadAndBlockAt(t *testing.T) {
	ledger := newAPITestLedger(t)
	api := NewLedgerAPI(ledger)

	head := api.Head()
	if head.Index != 0 {
		t.Fatalf("expected genesis head, got index %d", head.Index)
	}
	got, ok := api.BlockAt(0)
	if !ok || got.Hash != head.Hash {
		t.Fatalf("expected BlockAt(0) to return genesis")
	}
	if _, ok := api.BlockAt(99); ok {
		t.Fatalf("expected BlockAt(99) to report not found")
	}
}

func TestLedgerAPIBalanceDefaultsToZero(t *testing.T) {
	ledger := newAPITestLedger(t)
	api := NewLedgerAPI(ledger)
	if got := api.Balance(core.Address{1}); got != 0 {
		t.Fatalf("expected zero balance for an untouched address, got %d", got)
	}
}

func TestLedgerAPIPeersIsAlwaysEmpty(t *testing.T) {
	ledger := newAPITestLedger(t)
	api := NewLedgerAPI(ledger)
	if peers := api.Peers(); peers != nil {
		t.Fatalf("expected nil peers for a standalone ledger API, got %v", peers)
	}
}

func TestLedgerAPIStatusReflectsHead(t *testing.T) {
	ledger := newAPITestLedger(t)
	api := NewLedgerAPI(ledger)

	status := api.Status()
	if status.HeadIndex != 0 {
		t.Fatalf("expected head index 0, got %d", status.HeadIndex)
	}
	if status.PeerCount != 0 {
		t.Fatalf("expected peer count 0 for a standalone ledger API, got %d", status.PeerCount)
	}
}
