package network

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"hybridchain/core"
)

// SeenStore is the short-horizon dedup set for gossiped transaction ids and
// block hashes: a bounded LRU cache per message kind, replacing the
// teacher's unbounded replicatedMessages map (network.go) so memory stays
// bounded under sustained gossip.
type SeenStore struct {
	txs    *lru.Cache[core.Hash, struct{}]
	blocks *lru.Cache[core.Hash, struct{}]
}

// NewSeenStore builds a SeenStore with capacity entries per kind.
func NewSeenStore(capacity int) *SeenStore {
	if capacity <= 0 {
		capacity = 4096
	}
	txs, _ := lru.New[core.Hash, struct{}](capacity)
	blocks, _ := lru.New[core.Hash, struct{}](capacity)
	return &SeenStore{txs: txs, blocks: blocks}
}

// SeenTx reports whether id was already observed, marking it seen as a
// side-effect (accepted-but-not-forwarded on a duplicate receipt).
func (s *SeenStore) SeenTx(id core.Hash) bool {
	if _, ok := s.txs.Get(id); ok {
		return true
	}
	s.txs.Add(id, struct{}{})
	return false
}

// SeenBlock reports whether hash was already observed, marking it seen.
func (s *SeenStore) SeenBlock(hash core.Hash) bool {
	if _, ok := s.blocks.Get(hash); ok {
		return true
	}
	s.blocks.Add(hash, struct{}{})
	return false
}
