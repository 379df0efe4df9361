package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.snap")
	store := NewFileSnapshotStore(path)

	genesis := NewGenesisBlock(1000, 1)
	tx := NewTransaction(Standard, Address{1}, Address{2}, 5, 1, nil)
	tx.Finalize()
	block1 := &Block{
		Index:        1,
		PreviousHash: genesis.Hash,
		Transactions: []*Transaction{tx},
		MerkleRoot:   MerkleRootOf([]*Transaction{tx}),
		Proposer:     Address{1},
	}
	block1.Hash = ComputeHash(block1)

	chain := []*Block{genesis, block1}
	if err := store.Save(chain); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(loaded))
	}
	if loaded[1].Hash != block1.Hash {
		t.Fatalf("expected round-tripped block hash to match")
	}
	if len(loaded[1].Transactions) != 1 || loaded[1].Transactions[0].ID != tx.ID {
		t.Fatalf("expected round-tripped transaction to match")
	}
}

func TestFileSnapshotStoreLoadMissingFile(t *testing.T) {
	store := NewFileSnapshotStore(filepath.Join(t.TempDir(), "missing.snap"))
	if _, err := store.Load(); err == nil {
		t.Fatalf("expected error loading a nonexistent snapshot file")
	}
}

func TestFileSnapshotStoreSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.snap")
	store := NewFileSnapshotStore(path)
	if err := store.Save([]*Block{NewGenesisBlock(1, 1)}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away after a successful save")
	}
}
