package node

import (
	"hybridchain/core"
	"hybridchain/network"
)

// API is the in-process Client API collaborator of EXTERNAL INTERFACES §6:
// a plain Go interface over Ledger/Peer Layer state, with no HTTP transport
// of its own — callers (cmd/hybridchain, or an embedding process) wrap it
// in whatever transport they need.
type API interface {
	SubmitTransaction(tx *core.Transaction) error
	Head() *core.Block
	BlockAt(index uint64) (*core.Block, bool)
	Balance(addr core.Address) uint64
	MempoolSnapshot() []*core.Transaction
	Peers() []network.PeerState
	Status() Status
}

// Status summarizes a node for the status query.
type Status struct {
	HeadIndex  uint64 `json:"head_index"`
	HeadHash   string `json:"head_hash"`
	Difficulty uint8  `json:"difficulty"`
	PeerCount  int    `json:"peer_count"`
	MempoolLen int    `json:"mempool_len"`
}

// nodeAPI implements API directly against a running Node's ledger and peer
// layer, matching the teacher's pattern of a thin struct wrapping the core
// services rather than a generated RPC stub.
type nodeAPI struct {
	n *Node
}

// NewAPI adapts a Node into its Client API surface.
func NewAPI(n *Node) API { return &nodeAPI{n: n} }

func (a *nodeAPI) SubmitTransaction(tx *core.Transaction) error {
	if err := a.n.ledger.SubmitTransaction(tx); err != nil {
		return err
	}
	_ = a.n.peers.BroadcastTx(tx) // admission already succeeded; gossip is best-effort
	return nil
}

func (a *nodeAPI) Head() *core.Block { return a.n.ledger.Head() }

func (a *nodeAPI) BlockAt(index uint64) (*core.Block, bool) { return a.n.ledger.BlockAt(index) }

func (a *nodeAPI) Balance(addr core.Address) uint64 { return a.n.ledger.Balance(addr) }

func (a *nodeAPI) MempoolSnapshot() []*core.Transaction { return a.n.ledger.MempoolSnapshot() }

func (a *nodeAPI) Peers() []network.PeerState { return a.n.peers.Registry().List() }

func (a *nodeAPI) Status() Status {
	head := a.n.ledger.Head()
	return Status{
		HeadIndex:  head.Index,
		HeadHash:   head.Hash.String(),
		Difficulty: a.n.ledger.Difficulty(),
		PeerCount:  len(a.n.peers.Registry().Ready()),
		MempoolLen: len(a.n.ledger.MempoolSnapshot()),
	}
}

// ledgerAPI implements API against a standalone Ledger with no peer layer,
// for CLI queries that only need the locally persisted chain state.
// SubmitTransaction admits into the local mempool but cannot gossip it;
// Peers always reports empty.
type ledgerAPI struct {
	ledger *core.Ledger
}

// NewLedgerAPI adapts a standalone Ledger (see OpenLedgerOnly) into the
// Client API surface, for invocations with no running peer layer.
func NewLedgerAPI(ledger *core.Ledger) API { return &ledgerAPI{ledger: ledger} }

func (a *ledgerAPI) SubmitTransaction(tx *core.Transaction) error {
	return a.ledger.SubmitTransaction(tx)
}

func (a *ledgerAPI) Head() *core.Block { return a.ledger.Head() }

func (a *ledgerAPI) BlockAt(index uint64) (*core.Block, bool) { return a.ledger.BlockAt(index) }

func (a *ledgerAPI) Balance(addr core.Address) uint64 { return a.ledger.Balance(addr) }

func (a *ledgerAPI) MempoolSnapshot() []*core.Transaction { return a.ledger.MempoolSnapshot() }

func (a *ledgerAPI) Peers() []network.PeerState { return nil }

func (a *ledgerAPI) Status() Status {
	head := a.ledger.Head()
	return Status{
		HeadIndex:  head.Index,
		HeadHash:   head.Hash.String(),
		Difficulty: a.ledger.Difficulty(),
		MempoolLen: len(a.ledger.MempoolSnapshot()),
	}
}
