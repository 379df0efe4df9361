package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Load reads from the process working directory ("config" and "."), so
// these tests run from a temp directory to avoid picking up any repo-level
// config files left on disk.
func withTempWorkdir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("unexpected error getting cwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("unexpected error changing dir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	withTempWorkdir(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Network.ListenPort != 30303 {
		t.Fatalf("expected default listen port 30303, got %d", cfg.Network.ListenPort)
	}
	if cfg.Consensus.Mode != "hybrid" {
		t.Fatalf("expected default consensus mode hybrid, got %q", cfg.Consensus.Mode)
	}
	if cfg.Mempool.Capacity != 5000 {
		t.Fatalf("expected default mempool capacity 5000, got %d", cfg.Mempool.Capacity)
	}
	if cfg.Consensus.PoWWeight != 0.3 || cfg.Consensus.PoSWeight != 0.7 {
		t.Fatalf("unexpected default consensus weights: %+v", cfg.Consensus)
	}
}

func TestLoadMergesEnvSpecificOverrides(t *testing.T) {
	withTempWorkdir(t)

	yaml := []byte("network:\n  listen_port: 40000\nconsensus:\n  consensus_mode: pow\n")
	if err := os.WriteFile(filepath.Join(".", "staging.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("unexpected error writing env config: %v", err)
	}

	cfg, err := Load("staging")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Network.ListenPort != 40000 {
		t.Fatalf("expected env override listen port 40000, got %d", cfg.Network.ListenPort)
	}
	if cfg.Consensus.Mode != "pow" {
		t.Fatalf("expected env override consensus mode pow, got %q", cfg.Consensus.Mode)
	}
}

func TestLoadParsesInitialValidators(t *testing.T) {
	withTempWorkdir(t)

	yaml := []byte("consensus:\n  initial_validators:\n    - address: \"0x01\"\n      stake: 100\n    - address: \"02\"\n      stake: 50\n")
	if err := os.WriteFile(filepath.Join(".", "default.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("unexpected error writing config: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Consensus.InitialValidators) != 2 {
		t.Fatalf("expected 2 initial validators, got %d", len(cfg.Consensus.InitialValidators))
	}
	if cfg.Consensus.InitialValidators[0].Address != "0x01" || cfg.Consensus.InitialValidators[0].Stake != 100 {
		t.Fatalf("unexpected first validator seed: %+v", cfg.Consensus.InitialValidators[0])
	}
}

func TestLoadFromEnvDefaultsToEmptyEnv(t *testing.T) {
	withTempWorkdir(t)
	os.Unsetenv("HYBRIDCHAIN_ENV")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}
