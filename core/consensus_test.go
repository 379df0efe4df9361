package core

import (
	"context"
	"testing"
	"time"
)

func unsealedBlock(difficulty uint8, proposer Address) *Block {
	return &Block{
		Index:        1,
		Timestamp:    time.Now().Unix(),
		PreviousHash: Hash{0x01},
		Difficulty:   difficulty,
		Proposer:     proposer,
		MerkleRoot:   MerkleRootOf(nil),
	}
}

func TestPoWEngineSealMeetsDifficulty(t *testing.T) {
	b := unsealedBlock(1, Address{1})
	sealed, err := PoWEngine{}.Seal(context.Background(), b, NewValidatorRegistry(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if leadingZeroNibbles(sealed.Hash) < int(sealed.Difficulty) {
		t.Fatalf("sealed hash does not meet declared difficulty")
	}
	if sealed.ConsensusTag != ConsensusPoW {
		t.Fatalf("expected ConsensusPoW tag, got %v", sealed.ConsensusTag)
	}
	if err := verifyPoW(sealed); err != nil {
		t.Fatalf("verifyPoW rejected a freshly sealed block: %v", err)
	}
}

func TestPoWEngineSealRespectsCancellation(t *testing.T) {
	b := unsealedBlock(255, Address{1}) // unreachable difficulty forces the loop to run
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PoWEngine{}).Seal(ctx, b, NewValidatorRegistry(1)); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPoSEngineSealRequiresActiveProposer(t *testing.T) {
	validators := NewValidatorRegistry(10)
	b := unsealedBlock(1, Address{1})
	if _, err := (PoSEngine{}).Seal(context.Background(), b, validators); err == nil {
		t.Fatalf("expected error for an inactive proposer")
	}

	validators.AdjustStake(Address{1}, 50)
	b2 := unsealedBlock(1, Address{1})
	sealed, err := PoSEngine{}.Seal(context.Background(), b2, validators)
	if err != nil {
		t.Fatalf("unexpected error sealing with an active proposer: %v", err)
	}
	if sealed.ConsensusTag != ConsensusPoS {
		t.Fatalf("expected ConsensusPoS tag, got %v", sealed.ConsensusTag)
	}
	if err := verifyPoS(sealed, validators); err != nil {
		t.Fatalf("verifyPoS rejected a freshly sealed block: %v", err)
	}
}

func TestHybridEngineProducesVerifiableSeal(t *testing.T) {
	validators := NewValidatorRegistry(10)
	validators.AdjustStake(Address{1}, 50)
	h := NewHybridEngine(0.3, 0.7)

	for i := 0; i < 10; i++ {
		b := unsealedBlock(1, Address{1})
		sealed, err := h.Seal(context.Background(), b, validators)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := verifySeal(sealed, validators); err != nil {
			t.Fatalf("hybrid-sealed block failed verification: %v", err)
		}
	}
}

func TestEngineForDispatch(t *testing.T) {
	if e, err := EngineFor("pow", 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := e.(PoWEngine); !ok {
		t.Fatalf("expected PoWEngine for mode=pow")
	}
	if e, err := EngineFor("pos", 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := e.(PoSEngine); !ok {
		t.Fatalf("expected PoSEngine for mode=pos")
	}
	if _, err := EngineFor("bogus", 0, 0); err == nil {
		t.Fatalf("expected error for unknown consensus mode")
	}
}

func TestVerifySealRejectsTamperedHash(t *testing.T) {
	b := unsealedBlock(1, Address{1})
	sealed, err := PoWEngine{}.Seal(context.Background(), b, NewValidatorRegistry(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sealed.Nonce++ // invalidates the recorded hash without recomputing it
	if err := verifySeal(sealed, NewValidatorRegistry(1)); err == nil {
		t.Fatalf("expected verification to detect the tampered nonce")
	}
}
