package node

import (
	"encoding/hex"
	"testing"

	"hybridchain/pkg/config"
)

func TestParseAddressAcceptsHexWith0xPrefix(t *testing.T) {
	addr := parseAddress("0x0102030400000000000000000000000000000000")
	want := "0102030400000000000000000000000000000000"
	if hex.EncodeToString(addr[:]) != want {
		t.Fatalf("got %x, want %s", addr, want)
	}
}

func TestParseAddressAcceptsHexWithoutPrefix(t *testing.T) {
	addr := parseAddress("aabbccdd00000000000000000000000000000000")
	want := "aabbccdd00000000000000000000000000000000"
	if hex.EncodeToString(addr[:]) != want {
		t.Fatalf("got %x, want %s", addr, want)
	}
}

func TestParseAddressFallsBackToZeroOnMalformedInput(t *testing.T) {
	addr := parseAddress("not-hex")
	for _, b := range addr {
		if b != 0 {
			t.Fatalf("expected a zero address for malformed input, got %x", addr)
		}
	}
}

func TestOpenLedgerOnlyBuildsGenesisLedgerWithoutTransport(t *testing.T) {
	cfg := &config.Config{}
	cfg.Consensus.InitialDifficulty = 1
	cfg.Consensus.TargetBlockInterval = 0
	cfg.Consensus.DifficultyWindow = 100
	cfg.Consensus.MaxBlockTransactions = 500
	cfg.Mempool.Capacity = 100
	cfg.Consensus.MinValidatorStake = 1
	cfg.Storage.SnapshotEnabled = false
	cfg.Security.SigningEnabled = false

	ledger, err := OpenLedgerOnly(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger.Head().Index != 0 {
		t.Fatalf("expected a fresh genesis-only ledger, got head index %d", ledger.Head().Index)
	}
}

func TestOpenLedgerSeedsInitialValidatorsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Consensus.InitialDifficulty = 1
	cfg.Consensus.DifficultyWindow = 100
	cfg.Consensus.MaxBlockTransactions = 500
	cfg.Mempool.Capacity = 100
	cfg.Consensus.MinValidatorStake = 10
	cfg.Consensus.InitialValidators = []config.ValidatorSeed{
		{Address: "0x0100000000000000000000000000000000000000", Stake: 100},
		{Address: "0200000000000000000000000000000000000000", Stake: 5}, // below MinValidatorStake
	}

	ledger, err := OpenLedgerOnly(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := ledger.Validators().ActiveSnapshot()
	if len(active) != 1 {
		t.Fatalf("expected exactly 1 active validator (the other below min stake), got %d: %+v", len(active), active)
	}
	if got := ledger.Validators().StakeOf(parseAddress("0x0100000000000000000000000000000000000000")); got != 100 {
		t.Fatalf("expected seeded stake of 100, got %d", got)
	}
}
