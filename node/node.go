// Package node glues the Ledger, Consensus Engine, and Peer Layer into a
// single running process per the SYSTEM OVERVIEW task model: an API
// servicer, a Miner, Peer I/O, a Peer dispatcher, and a Liveness ticker —
// all driven off the one logical Ledger writer.
package node

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hybridchain/core"
	"hybridchain/network"
	"hybridchain/pkg/config"
)

// Node is one running hybridchain process: ledger, consensus engine, peer
// layer, and (if mining_enabled) a miner goroutine.
type Node struct {
	cfg       *config.Config
	ledger    *core.Ledger
	engine    core.Engine
	transport *network.Transport
	peers     *network.PeerLayer
	miner     *Miner

	stop chan struct{}
	done chan struct{}
}

// New constructs a Node from a loaded configuration, wiring the Ledger's
// snapshot store, validator registry, consensus engine, and transport
// exactly as the Configuration table describes.
func New(cfg *config.Config) (*Node, error) {
	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, fmt.Errorf("node: init ledger: %w", err)
	}

	engine, err := core.EngineFor(cfg.Consensus.Mode, cfg.Consensus.PoWWeight, cfg.Consensus.PoSWeight)
	if err != nil {
		return nil, fmt.Errorf("node: init consensus engine: %w", err)
	}

	transport, err := network.NewTransport(network.TransportConfig{
		ListenAddress: cfg.Network.ListenAddress,
		ListenPort:    cfg.Network.ListenPort,
		DiscoveryTag:  cfg.Network.DiscoveryTag,
		SeedPeers:     cfg.Network.SeedPeers,
	})
	if err != nil {
		return nil, fmt.Errorf("node: init transport: %w", err)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = transport.ID()
	}
	peers := network.NewPeerLayer(transport, ledger, nodeID)

	n := &Node{
		cfg:       cfg,
		ledger:    ledger,
		engine:    engine,
		transport: transport,
		peers:     peers,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.Consensus.MiningEnabled {
		var proposer core.Address
		if cfg.Consensus.MinerAddress != "" {
			proposer = parseAddress(cfg.Consensus.MinerAddress)
		}
		n.miner = NewMiner(ledger, engine, peers, proposer)
	}
	return n, nil
}

// openLedger builds just the Ledger portion of a Node's configuration,
// shared by New and OpenLedgerOnly.
func openLedger(cfg *config.Config) (*core.Ledger, error) {
	var store core.SnapshotStore
	if cfg.Storage.SnapshotEnabled {
		store = core.NewFileSnapshotStore(cfg.Storage.SnapshotPath)
	}

	var sigVerify core.SignatureVerifier
	if cfg.Security.SigningEnabled {
		sigVerify = core.NewECDSAVerifier()
	} else {
		sigVerify = core.NewNoopVerifier()
	}

	lcfg := core.DefaultLedgerConfig()
	lcfg.TargetBlockInterval = cfg.Consensus.TargetBlockInterval
	lcfg.DifficultyWindow = cfg.Consensus.DifficultyWindow
	lcfg.MaxBlockTransactions = cfg.Consensus.MaxBlockTransactions
	lcfg.MempoolCapacity = cfg.Mempool.Capacity
	lcfg.MinValidatorStake = cfg.Consensus.MinValidatorStake
	lcfg.InitialDifficulty = cfg.Consensus.InitialDifficulty

	ledger, err := core.NewLedger(lcfg, sigVerify, store)
	if err != nil {
		return nil, err
	}

	for _, seed := range cfg.Consensus.InitialValidators {
		if seed.Stake == 0 {
			continue
		}
		ledger.Validators().AdjustStake(parseAddress(seed.Address), int64(seed.Stake))
	}
	return ledger, nil
}

// OpenLedgerOnly replays a node's persisted snapshot into a standalone
// Ledger without standing up a transport or peer layer, for one-shot CLI
// queries that have no need to join the network.
func OpenLedgerOnly(cfg *config.Config) (*core.Ledger, error) {
	return openLedger(cfg)
}

// Run starts the node's goroutines (peer I/O/dispatch, liveness ticker, and
// the miner if enabled) and blocks until Stop is called.
func (n *Node) Run() {
	defer close(n.done)

	go n.peers.Run(n.stop)
	if n.miner != nil {
		go n.miner.Run(n.stop)
	}

	logrus.WithFields(logrus.Fields{
		"node_id": n.transport.ID(),
		"head":    n.ledger.Head().Index,
		"mode":    n.cfg.Consensus.Mode,
	}).Info("node started")

	<-n.stop
}

// Stop signals all goroutines to exit and waits for Run to return.
func (n *Node) Stop() {
	close(n.stop)
	<-n.done
	_ = n.transport.Close()
}

// Ledger exposes the underlying ledger to the API adapter.
func (n *Node) Ledger() *core.Ledger { return n.ledger }

// Peers exposes the peer layer to the API adapter.
func (n *Node) Peers() *network.PeerLayer { return n.peers }

func parseAddress(s string) core.Address {
	var addr core.Address
	s = strings.TrimPrefix(s, "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		logrus.WithField("miner_address", s).Warn("malformed miner address, using zero address")
		return addr
	}
	copy(addr[:], decoded)
	return addr
}

// waitForNonEmptyMempool blocks until the mempool has at least one eligible
// transaction or the timer fires, whichever comes first, matching the
// miner's wait/assemble loop described in the concurrency model.
func waitForNonEmptyMempool(ledger *core.Ledger, stop <-chan struct{}, interval time.Duration) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(interval)
	defer deadline.Stop()
	for {
		select {
		case <-stop:
			return false
		case <-deadline.C:
			return true
		case <-ticker.C:
			now := time.Now()
			for _, tx := range ledger.MempoolSnapshot() {
				if core.IsEligibleForInclusion(tx, now) {
					return true
				}
			}
		}
	}
}
