package config

// Package config provides a reusable loader for hybridchain configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hybridchain/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// ValidatorSeed bonds an initial stake to an address at genesis, letting an
// operator bootstrap PoS/hybrid consensus without waiting on a
// StakeAdjustment transaction to land on-chain first.
type ValidatorSeed struct {
	Address string `mapstructure:"address" json:"address"`
	Stake   uint64 `mapstructure:"stake" json:"stake"`
}

// Config is the unified node configuration, mirroring the Configuration
// table of the external interfaces section.
type Config struct {
	Node struct {
		ID string `mapstructure:"node_id" json:"node_id"`
	} `mapstructure:"node" json:"node"`

	Network struct {
		ListenAddress string   `mapstructure:"listen_address" json:"listen_address"`
		ListenPort    int      `mapstructure:"listen_port" json:"listen_port"`
		SeedPeers     []string `mapstructure:"seed_peers" json:"seed_peers"`
		DiscoveryTag  string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		APIBind       string   `mapstructure:"api_bind" json:"api_bind"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		Mode                 string           `mapstructure:"consensus_mode" json:"consensus_mode"`
		TargetBlockInterval  time.Duration    `mapstructure:"target_block_interval" json:"target_block_interval"`
		InitialDifficulty    uint8            `mapstructure:"initial_difficulty" json:"initial_difficulty"`
		DifficultyWindow     uint64           `mapstructure:"difficulty_window" json:"difficulty_window"`
		MaxBlockTransactions int              `mapstructure:"max_block_transactions" json:"max_block_transactions"`
		PoWWeight            float64          `mapstructure:"pow_weight" json:"pow_weight"`
		PoSWeight            float64          `mapstructure:"pos_weight" json:"pos_weight"`
		MinValidatorStake    uint64           `mapstructure:"min_validator_stake" json:"min_validator_stake"`
		MiningEnabled        bool             `mapstructure:"mining_enabled" json:"mining_enabled"`
		MinerAddress         string           `mapstructure:"miner_address" json:"miner_address"`
		InitialValidators    []ValidatorSeed  `mapstructure:"initial_validators" json:"initial_validators"`
	} `mapstructure:"consensus" json:"consensus"`

	Mempool struct {
		Capacity int `mapstructure:"mempool_capacity" json:"mempool_capacity"`
	} `mapstructure:"mempool" json:"mempool"`

	Storage struct {
		SnapshotPath     string `mapstructure:"snapshot_path" json:"snapshot_path"`
		SnapshotEnabled  bool   `mapstructure:"snapshot_enabled" json:"snapshot_enabled"`
	} `mapstructure:"storage" json:"storage"`

	Security struct {
		SigningEnabled bool `mapstructure:"signing_enabled" json:"signing_enabled"`
	} `mapstructure:"security" json:"security"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

func setDefaults() {
	viper.SetDefault("network.listen_address", "0.0.0.0")
	viper.SetDefault("network.listen_port", 30303)
	viper.SetDefault("network.discovery_tag", "hybridchain")
	viper.SetDefault("network.api_bind", "127.0.0.1:8645")
	viper.SetDefault("consensus.consensus_mode", "hybrid")
	viper.SetDefault("consensus.target_block_interval", "30s")
	viper.SetDefault("consensus.initial_difficulty", 1)
	viper.SetDefault("consensus.difficulty_window", 100)
	viper.SetDefault("consensus.max_block_transactions", 500)
	viper.SetDefault("consensus.pow_weight", 0.3)
	viper.SetDefault("consensus.pos_weight", 0.7)
	viper.SetDefault("consensus.min_validator_stake", 1)
	viper.SetDefault("consensus.mining_enabled", true)
	viper.SetDefault("mempool.mempool_capacity", 5000)
	viper.SetDefault("security.signing_enabled", false)
	viper.SetDefault("logging.level", "info")
}

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	setDefaults()
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("HYBRIDCHAIN")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the HYBRIDCHAIN_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("HYBRIDCHAIN_ENV", ""))
}
