package network

import (
	"bufio"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hybridchain/core"
)

// backtrackWindow is K from §4.4's chain-reconciliation rule: the initial
// GET_CHAIN probe reaches back this many blocks from local head.
const backtrackWindow = 32

// maxBacktrack bounds how far reconciliation will keep widening its probe
// before giving up on a peer's claim.
const maxBacktrack = 4096

// livenessInterval is T: PING cadence per peer.
const livenessInterval = 15 * time.Second

// PeerLayer is the Peer Layer orchestrator: it owns the transport, peer
// registry, and gossip dedup store, and drives handshake, liveness, gossip
// forwarding, and chain reconciliation against a Ledger.
type PeerLayer struct {
	transport *Transport
	registry  *Registry
	seen      *SeenStore
	ledger    *core.Ledger

	nodeID  string
	version uint32
}

// NewPeerLayer wires a Transport to a Ledger.
func NewPeerLayer(t *Transport, ledger *core.Ledger, nodeID string) *PeerLayer {
	pl := &PeerLayer{
		transport: t,
		registry:  NewRegistry(3),
		seen:      NewSeenStore(8192),
		ledger:    ledger,
		nodeID:    nodeID,
		version:   ProtocolVersion,
	}
	t.SetStreamHandler(pl.handleStream)
	t.SetPeerConnectHandler(pl.onPeerConnected)
	return pl
}

// onPeerConnected runs the HELLO handshake against a newly connected peer,
// whether it was seed-dialed, mDNS-discovered, or inbound. It is the sole
// production caller of Handshake. Self-connections and peers already past
// Connecting are skipped.
func (pl *PeerLayer) onPeerConnected(peerID string) {
	if peerID == pl.transport.ID() {
		return
	}
	if p, ok := pl.registry.Get(peerID); ok && p.State != Connecting {
		return
	}
	pl.registry.Upsert(peerID, "", 0, 0)
	go func() {
		if err := pl.Handshake(peerID); err != nil {
			logrus.WithError(err).WithField("peer", peerID).Debug("handshake failed")
		}
	}()
}

// Run starts the gossip-consumption and liveness-ticker loops; it blocks
// until stop is closed.
func (pl *PeerLayer) Run(stop <-chan struct{}) {
	blockCh, err := pl.transport.SubscribeBlocks()
	if err != nil {
		logrus.WithError(err).Error("subscribe blocks failed")
	}
	txCh, err := pl.transport.SubscribeTxs()
	if err != nil {
		logrus.WithError(err).Error("subscribe txs failed")
	}
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case msg := <-blockCh:
			pl.handleGossipBlock(msg)
		case msg := <-txCh:
			pl.handleGossipTx(msg)
		case <-ticker.C:
			pl.registry.AgeLiveness(livenessInterval)
			go pl.pingRound()
		}
	}
}

// pingRound sends a PING to every Ready peer, once per liveness tick, so
// RecordPong/AgeLiveness actually has pongs to react to instead of only
// ever aging peers toward Stale/Dropped.
func (pl *PeerLayer) pingRound() {
	for _, peerID := range pl.registry.Ready() {
		pl.pingPeer(peerID)
	}
}

func (pl *PeerLayer) pingPeer(peerID string) {
	r, w, closeFn, err := pl.transport.OpenStream(peerID)
	if err != nil {
		pl.registry.RecordFault(peerID)
		return
	}
	defer closeFn()

	req, err := Encode(TagPing, PingPayload{Timestamp: time.Now().Unix()})
	if err != nil {
		return
	}
	if err := WriteMessage(w, req); err != nil {
		pl.registry.RecordFault(peerID)
		return
	}
	if err := w.Flush(); err != nil {
		pl.registry.RecordFault(peerID)
		return
	}
	resp, err := ReadMessage(r)
	if err != nil {
		pl.registry.RecordFault(peerID)
		return
	}
	if resp.Tag != TagPong {
		pl.registry.RecordFault(peerID)
		return
	}
	pl.registry.RecordPong(peerID)
}

// BroadcastBlock gossips a locally-accepted block, called only after
// successful local acceptance per ordering guarantee 4.
func (pl *PeerLayer) BroadcastBlock(b *core.Block) error {
	msg, err := Encode(TagNewBlock, NewBlockPayload{Block: b})
	if err != nil {
		return err
	}
	pl.seen.SeenBlock(b.Hash)
	return pl.transport.PublishBlock(msg)
}

// BroadcastTx gossips a newly-admitted transaction.
func (pl *PeerLayer) BroadcastTx(tx *core.Transaction) error {
	msg, err := Encode(TagNewTx, NewTxPayload{Tx: tx})
	if err != nil {
		return err
	}
	pl.seen.SeenTx(tx.ID)
	return pl.transport.PublishTx(msg)
}

func (pl *PeerLayer) handleGossipBlock(msg *Message) {
	var payload NewBlockPayload
	if err := Decode(msg, &payload); err != nil {
		logrus.WithError(err).Debug("malformed gossip block dropped")
		return
	}
	if pl.seen.SeenBlock(payload.Block.Hash) {
		return // accepted-but-not-forwarded: already forwarded on first sight
	}
	pl.ingestBlock(msg.From, payload.Block)
}

func (pl *PeerLayer) handleGossipTx(msg *Message) {
	var payload NewTxPayload
	if err := Decode(msg, &payload); err != nil {
		logrus.WithError(err).Debug("malformed gossip tx dropped")
		return
	}
	if pl.seen.SeenTx(payload.Tx.ID) {
		return
	}
	if err := pl.ledger.SubmitTransaction(payload.Tx); err != nil {
		logrus.WithError(err).WithField("tx", payload.Tx.ID).Debug("gossiped tx rejected")
	}
}

// ingestBlock implements chain reconciliation: a block whose previous_hash
// matches local head is appended directly; one that extends past head with
// an unknown previous_hash triggers a GET_CHAIN-and-try_reorg probe with a
// widening backtrack window.
func (pl *PeerLayer) ingestBlock(fromPeer string, block *core.Block) {
	head := pl.ledger.Head()
	if block.PreviousHash == head.Hash {
		if err := pl.ledger.AppendBlock(block); err != nil {
			logrus.WithError(err).WithField("block", block.Index).Debug("append_block rejected")
			return
		}
		_ = pl.BroadcastBlock(block)
		return
	}
	if block.Index <= head.Index {
		return // not an extension; ignore
	}
	if fromPeer == "" {
		return // gossip-sourced unknown-ancestor block: wait for a sourced claim
	}
	pl.reconcile(fromPeer, head.Index)
}

// reconcile fetches a widening candidate fragment from peerID and feeds it
// to try_reorg, per the backtrack-and-widen rule.
func (pl *PeerLayer) reconcile(peerID string, headIndex uint64) {
	for window := uint64(backtrackWindow); window <= maxBacktrack; window *= 2 {
		from := uint64(0)
		if headIndex > window {
			from = headIndex - window
		}
		chain, err := pl.requestChain(peerID, from, uint32(window*2))
		if err != nil {
			logrus.WithError(err).WithField("peer", peerID).Debug("GET_CHAIN failed")
			return
		}
		if len(chain) == 0 {
			continue
		}
		if err := pl.ledger.TryReorg(chain); err == nil {
			return
		}
	}
	logrus.WithField("peer", peerID).Info("reconciliation bound exceeded, dropping peer claim")
}

func (pl *PeerLayer) requestChain(peerID string, from uint64, limit uint32) ([]*core.Block, error) {
	r, w, closeFn, err := pl.transport.OpenStream(peerID)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	req, err := Encode(TagGetChain, GetChainPayload{FromIndex: from, Limit: limit})
	if err != nil {
		return nil, err
	}
	if err := WriteMessage(w, req); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	resp, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	if resp.Tag != TagChain {
		return nil, fmt.Errorf("expected CHAIN, got %s", resp.Tag)
	}
	var payload ChainPayload
	if err := Decode(resp, &payload); err != nil {
		return nil, err
	}
	return payload.Blocks, nil
}

// handleStream services one inbound request/response stream: it reads a
// single framed request and writes a single framed response, matching the
// req/resp message types of §4.4.
func (pl *PeerLayer) handleStream(peerID string, r *bufio.Reader, w *bufio.Writer) {
	msg, err := ReadMessage(r)
	if err != nil {
		return
	}
	var resp *Message
	switch msg.Tag {
	case TagHello:
		resp = pl.handleHello(peerID, msg)
	case TagGetPeers:
		descs := ToDescriptors(pl.registry.List())
		resp, _ = Encode(TagPeers, PeersPayload{Peers: descs})
	case TagGetChain:
		resp = pl.handleGetChain(msg)
	case TagGetMempool:
		resp, _ = Encode(TagMempool, MempoolPayload{Txs: pl.ledger.MempoolSnapshot()})
	case TagPing:
		var p PingPayload
		_ = Decode(msg, &p)
		pl.registry.RecordPong(peerID)
		resp, _ = Encode(TagPong, PingPayload{Timestamp: time.Now().Unix()})
	default:
		if pl.registry.RecordFault(peerID) {
			return
		}
		return
	}
	if resp == nil {
		return
	}
	if err := WriteMessage(w, resp); err != nil {
		return
	}
	_ = w.Flush()
}

func (pl *PeerLayer) handleHello(peerID string, msg *Message) *Message {
	var hello HelloPayload
	if err := Decode(msg, &hello); err != nil {
		pl.registry.RecordFault(peerID)
		return nil
	}
	if hello.Version != pl.version {
		logrus.WithField("peer", peerID).Warn("incompatible peer version, dropping")
		pl.registry.Remove(peerID)
		return nil
	}
	pl.registry.Upsert(peerID, "", 0, hello.Version)
	pl.registry.MarkReady(peerID)

	head := pl.ledger.Head()
	resp, _ := Encode(TagHelloAck, HelloPayload{
		NodeID:    pl.nodeID,
		Version:   pl.version,
		HeadIndex: head.Index,
		HeadHash:  head.Hash.String(),
	})
	return resp
}

func (pl *PeerLayer) handleGetChain(msg *Message) *Message {
	var req GetChainPayload
	if err := Decode(msg, &req); err != nil {
		return nil
	}
	limit := req.Limit
	if limit == 0 || limit > 1024 {
		limit = 1024
	}
	var blocks []*core.Block
	for i := req.FromIndex; i < req.FromIndex+uint64(limit); i++ {
		b, ok := pl.ledger.BlockAt(i)
		if !ok {
			break
		}
		blocks = append(blocks, b)
	}
	resp, _ := Encode(TagChain, ChainPayload{Blocks: blocks})
	return resp
}

// Handshake performs the HELLO/HELLO_ACK exchange with a freshly dialed
// peer and, on success, marks it ready. It does not itself issue
// GET_CHAIN or GET_MEMPOOL.
func (pl *PeerLayer) Handshake(peerID string) error {
	r, w, closeFn, err := pl.transport.OpenStream(peerID)
	if err != nil {
		return err
	}
	defer closeFn()

	head := pl.ledger.Head()
	req, err := Encode(TagHello, HelloPayload{
		NodeID:    pl.nodeID,
		Version:   pl.version,
		HeadIndex: head.Index,
		HeadHash:  head.Hash.String(),
	})
	if err != nil {
		return err
	}
	if err := WriteMessage(w, req); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	resp, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if resp.Tag != TagHelloAck {
		return fmt.Errorf("expected HELLO_ACK, got %s", resp.Tag)
	}
	var ack HelloPayload
	if err := Decode(resp, &ack); err != nil {
		return err
	}
	if ack.Version != pl.version {
		pl.registry.Remove(peerID)
		return fmt.Errorf("incompatible peer version %d", ack.Version)
	}
	pl.registry.Upsert(peerID, "", 0, ack.Version)
	pl.registry.MarkReady(peerID)
	return nil
}

// Registry exposes the peer registry for the API adapter's peer list
// query.
func (pl *PeerLayer) Registry() *Registry { return pl.registry }
