package core

import "testing"

func TestNewGenesisBlockIsSelfConsistent(t *testing.T) {
	g := NewGenesisBlock(1000, 2)
	if g.Index != 0 {
		t.Fatalf("expected genesis index 0, got %d", g.Index)
	}
	if g.PreviousHash != (Hash{}) {
		t.Fatalf("expected zero previous_hash for genesis")
	}
	if ComputeHash(g) != g.Hash {
		t.Fatalf("genesis hash does not match its own header encoding")
	}
}

func TestComputeHashChangesWithNonce(t *testing.T) {
	b := &Block{Index: 1, PreviousHash: Hash{1}, MerkleRoot: Hash{2}, Proposer: Address{3}}
	h1 := ComputeHash(b)
	b.Nonce = 1
	h2 := ComputeHash(b)
	if h1 == h2 {
		t.Fatalf("expected hash to change when nonce changes")
	}
}

func TestLeadingZeroNibbles(t *testing.T) {
	cases := []struct {
		h    Hash
		want int
	}{
		{Hash{0x00, 0x00, 0xff}, 4},
		{Hash{0x0f}, 1},
		{Hash{0xf0}, 0},
		{Hash{}, 64},
	}
	for _, c := range cases {
		if got := leadingZeroNibbles(c.h); got != c.want {
			t.Fatalf("leadingZeroNibbles(%x) = %d, want %d", c.h, got, c.want)
		}
	}
}
