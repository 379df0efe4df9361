// Package network implements the Peer Layer: peer discovery and liveness,
// message framing, gossip of transactions and blocks, and chain
// synchronization, per COMPONENT DESIGN §4.4.
package network

import (
	"time"

	"hybridchain/core"
)

// Tag identifies a wire message's payload shape.
type Tag byte

const (
	TagHello Tag = iota + 1
	TagHelloAck
	TagPing
	TagPong
	TagGetPeers
	TagPeers
	TagGetChain
	TagChain
	TagNewTx
	TagNewBlock
	TagGetMempool
	TagMempool
)

func (t Tag) String() string {
	switch t {
	case TagHello:
		return "HELLO"
	case TagHelloAck:
		return "HELLO_ACK"
	case TagPing:
		return "PING"
	case TagPong:
		return "PONG"
	case TagGetPeers:
		return "GET_PEERS"
	case TagPeers:
		return "PEERS"
	case TagGetChain:
		return "GET_CHAIN"
	case TagChain:
		return "CHAIN"
	case TagNewTx:
		return "NEW_TX"
	case TagNewBlock:
		return "NEW_BLOCK"
	case TagGetMempool:
		return "GET_MEMPOOL"
	case TagMempool:
		return "MEMPOOL"
	default:
		return "UNKNOWN"
	}
}

// ProtocolVersion is compared during handshake; an incompatible peer is
// dropped.
const ProtocolVersion = 1

// HelloPayload is HELLO/HELLO_ACK's shared shape.
type HelloPayload struct {
	NodeID    string `json:"node_id"`
	Version   uint32 `json:"version"`
	HeadIndex uint64 `json:"head_index"`
	HeadHash  string `json:"head_hash"`
}

// PingPayload is PING/PONG's shape.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PeerDescriptor is one entry in a PEERS response, matching DATA MODEL's
// peer registry descriptor shape.
type PeerDescriptor struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	NodeID   string `json:"node_id"`
	Version  uint32 `json:"version"`
	LastSeen int64  `json:"last_seen"`
}

// PeersPayload answers GET_PEERS.
type PeersPayload struct {
	Peers []PeerDescriptor `json:"peers"`
}

// GetChainPayload requests a block range.
type GetChainPayload struct {
	FromIndex uint64 `json:"from_index"`
	Limit     uint32 `json:"limit"`
}

// ChainPayload answers GET_CHAIN.
type ChainPayload struct {
	Blocks []*core.Block `json:"blocks"`
}

// NewTxPayload carries a gossiped transaction.
type NewTxPayload struct {
	Tx *core.Transaction `json:"tx"`
}

// NewBlockPayload carries a gossiped block.
type NewBlockPayload struct {
	Block *core.Block `json:"block"`
}

// MempoolPayload answers GET_MEMPOOL.
type MempoolPayload struct {
	Txs []*core.Transaction `json:"txs"`
}

// LivenessState is a peer's position in the liveness state machine.
type LivenessState uint8

const (
	Connecting LivenessState = iota
	Ready
	Stale
	Dropped
)

func (s LivenessState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// PeerState is the in-registry record for one peer.
type PeerState struct {
	NodeID        string
	Address       string
	Port          int
	Version       uint32
	LastSeen      time.Time
	LastPing      time.Time
	State         LivenessState
	ConsecStale   int
	ParseFailures int
}
