package core

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"
)

// Engine produces a sealed block from an assembled (unsealed) one and
// verifies the seal on incoming blocks, per COMPONENT DESIGN §4.3.
type Engine interface {
	// Seal mutates and returns block with Nonce/Hash/ConsensusTag set to a
	// valid seal, or returns ctx.Err() if cancelled mid-attempt.
	Seal(ctx context.Context, block *Block, validators *ValidatorRegistry) (*Block, error)
}

// verifySeal dispatches seal verification by the block's declared
// consensus_tag, matching "Verify dispatches by consensus_tag" (§4.3).
func verifySeal(block *Block, validators *ValidatorRegistry) error {
	switch block.ConsensusTag {
	case ConsensusPoW:
		return verifyPoW(block)
	case ConsensusPoS:
		return verifyPoS(block, validators)
	default:
		return fmt.Errorf("unknown consensus_tag %d", block.ConsensusTag)
	}
}

func verifyPoW(block *Block) error {
	h := ComputeHash(block)
	if h != block.Hash {
		return fmt.Errorf("pow: recomputed hash does not match block.Hash")
	}
	if leadingZeroNibbles(h) < int(block.Difficulty) {
		return fmt.Errorf("pow: hash has insufficient leading zero nibbles for difficulty %d", block.Difficulty)
	}
	return nil
}

func verifyPoS(block *Block, validators *ValidatorRegistry) error {
	if ComputeHash(block) != block.Hash {
		return fmt.Errorf("pos: recomputed hash does not match block.Hash")
	}
	if !validators.IsActive(block.Proposer) {
		return fmt.Errorf("pos: proposer %s is not an active validator", block.Proposer)
	}
	return nil
}

// powCheckInterval is how often the nonce-grinding loop checks for
// cancellation, matching the teacher's cooperative-cancellation style
// rather than hard preemption.
const powCheckInterval = 4096

// PoWEngine seals by incrementing Nonce until ComputeHash(block) has at
// least Difficulty leading zero nibbles.
type PoWEngine struct{}

func (PoWEngine) Seal(ctx context.Context, block *Block, _ *ValidatorRegistry) (*Block, error) {
	block.ConsensusTag = ConsensusPoW
	for nonce := uint64(0); ; nonce++ {
		if nonce%powCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		block.Nonce = nonce
		h := ComputeHash(block)
		if leadingZeroNibbles(h) >= int(block.Difficulty) {
			block.Hash = h
			return block, nil
		}
	}
}

// PoSEngine seals by recording the proposer as an active validator; the
// proposer must already be active (checked by the caller via SelectProposer
// / IsActive before invoking Seal, and re-checked here defensively).
type PoSEngine struct{}

func (PoSEngine) Seal(ctx context.Context, block *Block, validators *ValidatorRegistry) (*Block, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !validators.IsActive(block.Proposer) {
		return nil, fmt.Errorf("pos: proposer %s is not an active validator", block.Proposer)
	}
	block.ConsensusTag = ConsensusPoS
	block.Nonce = 0
	block.Hash = ComputeHash(block)
	return block, nil
}

// HybridEngine picks PoW or PoS per sealing attempt with probability
// proportional to PoWWeight/PoSWeight (default 0.3/0.7). The weights need
// not be normalized by the caller; Seal normalizes them.
type HybridEngine struct {
	PoWWeight float64
	PoSWeight float64
	pow       PoWEngine
	pos       PoSEngine
}

// NewHybridEngine builds a HybridEngine with the given bias; a zero sum
// falls back to the spec's stated default (0.3 pow / 0.7 pos).
func NewHybridEngine(powWeight, posWeight float64) *HybridEngine {
	if powWeight+posWeight <= 0 {
		powWeight, posWeight = 0.3, 0.7
	}
	return &HybridEngine{PoWWeight: powWeight, PoSWeight: posWeight}
}

func (h *HybridEngine) Seal(ctx context.Context, block *Block, validators *ValidatorRegistry) (*Block, error) {
	total := h.PoWWeight + h.PoSWeight
	draw, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return nil, err
	}
	threshold := uint64(float64(uint64(1)<<32) * (h.PoWWeight / total))
	if draw.Uint64() < threshold {
		logrus.WithField("engine", "hybrid").Debug("sealing attempt routed to pow")
		return h.pow.Seal(ctx, block, validators)
	}
	logrus.WithField("engine", "hybrid").Debug("sealing attempt routed to pos")
	return h.pos.Seal(ctx, block, validators)
}

// EngineFor resolves the configured consensus_mode to an Engine, bypassing
// the hybrid selector for a node configured purely with pow or pos.
func EngineFor(mode string, powWeight, posWeight float64) (Engine, error) {
	switch mode {
	case "pow":
		return PoWEngine{}, nil
	case "pos":
		return PoSEngine{}, nil
	case "hybrid", "":
		return NewHybridEngine(powWeight, posWeight), nil
	default:
		return nil, fmt.Errorf("unknown consensus_mode %q", mode)
	}
}
