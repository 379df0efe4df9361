package node

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hybridchain/core"
	"hybridchain/network"
)

// mempoolWaitInterval bounds how long the miner waits for a non-empty
// eligible mempool before assembling an (possibly empty) block anyway, so
// the chain keeps advancing even under no load.
const mempoolWaitInterval = 5 * time.Second

// Miner runs the assemble/seal/append loop: wait for mempool activity,
// assemble a candidate block, seal it under a cancellable context, and on
// success append it locally and gossip it onward. Sealing is cancelled as
// soon as a peer-supplied block advances the head first, per the ordering
// guarantee that a locally mined block loses a race to an externally
// accepted one.
type Miner struct {
	ledger   *core.Ledger
	engine   core.Engine
	peers    *network.PeerLayer
	proposer core.Address
}

// NewMiner builds a Miner sealing blocks proposed as proposer.
func NewMiner(ledger *core.Ledger, engine core.Engine, peers *network.PeerLayer, proposer core.Address) *Miner {
	return &Miner{ledger: ledger, engine: engine, peers: peers, proposer: proposer}
}

// Run drives the mining loop until stop is closed.
func (m *Miner) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if !waitForNonEmptyMempool(m.ledger, stop, mempoolWaitInterval) {
			return
		}

		startHead := m.ledger.Head()
		candidate := m.ledger.AssembleBlock(m.selectProposer())

		ctx, cancel := context.WithCancel(context.Background())
		headChanged := m.watchHeadAdvance(stop, startHead.Hash, cancel)

		sealed, err := m.engine.Seal(ctx, candidate, m.ledger.Validators())
		close(headChanged)
		cancel()

		if err != nil {
			if err == context.Canceled {
				logrus.Debug("mining attempt cancelled: head advanced")
			} else {
				logrus.WithError(err).Warn("seal failed")
			}
			continue
		}

		if err := m.ledger.AppendBlock(sealed); err != nil {
			logrus.WithError(err).Debug("locally sealed block rejected on append")
			continue
		}
		logrus.WithField("index", sealed.Index).Info("sealed and appended block")
		if err := m.peers.BroadcastBlock(sealed); err != nil {
			logrus.WithError(err).Warn("broadcast sealed block failed")
		}
	}
}

// selectProposer returns m.proposer if it is already an active validator
// (so a configured PoW-only miner keeps proposing as itself), otherwise
// draws a replacement from the active validator set so PoS/hybrid sealing
// has a real chance of succeeding instead of always failing
// IsActive(block.Proposer). Falls back to m.proposer with no active
// validators at all; PoWEngine.Seal does not look at proposer validity.
func (m *Miner) selectProposer() core.Address {
	validators := m.ledger.Validators()
	if validators.IsActive(m.proposer) {
		return m.proposer
	}
	if selected, ok := core.SelectProposer(validators.ActiveSnapshot()); ok {
		return selected
	}
	return m.proposer
}

// watchHeadAdvance polls for the chain head moving past startHash while
// sealing is in progress, cancelling the sealing context the moment a
// peer-accepted block wins the race. The returned channel should be closed
// by the caller once sealing finishes to stop the poller.
func (m *Miner) watchHeadAdvance(stop <-chan struct{}, startHash core.Hash, cancel context.CancelFunc) chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-stop:
				cancel()
				return
			case <-ticker.C:
				if m.ledger.Head().Hash != startHash {
					cancel()
					return
				}
			}
		}
	}()
	return done
}
