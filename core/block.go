package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

// ConsensusTag marks which sub-engine sealed a block.
type ConsensusTag uint8

const (
	ConsensusPoW ConsensusTag = iota + 1
	ConsensusPoS
	ConsensusHybrid
)

func (c ConsensusTag) String() string {
	switch c {
	case ConsensusPoW:
		return "pow"
	case ConsensusPoS:
		return "pos"
	case ConsensusHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Block is the sealed, immutable unit of chain extension.
type Block struct {
	Index        uint64
	Timestamp    int64
	PreviousHash Hash
	Transactions []*Transaction
	Nonce        uint64
	Difficulty   uint8
	MerkleRoot   Hash
	Proposer     Address
	ConsensusTag ConsensusTag
	Hash         Hash
}

// canonicalizeHeader renders the fields that participate in block hashing,
// in fixed order, excluding Hash itself.
func canonicalizeHeader(b *Block) []byte {
	var buf bytes.Buffer
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], b.Index)
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(b.Timestamp))
	buf.Write(u64[:])
	buf.Write(b.PreviousHash[:])
	buf.Write(b.MerkleRoot[:])
	binary.BigEndian.PutUint64(u64[:], b.Nonce)
	buf.Write(u64[:])
	buf.WriteByte(b.Difficulty)
	buf.Write(b.Proposer[:])
	buf.WriteByte(byte(b.ConsensusTag))
	return buf.Bytes()
}

// ComputeHash computes the deterministic block hash over every field but
// Hash itself.
func ComputeHash(b *Block) Hash {
	return sha256.Sum256(canonicalizeHeader(b))
}

// MerkleRootOf computes the Merkle root over a block's transaction ids.
func MerkleRootOf(txs []*Transaction) Hash {
	ids := make([]Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return MerkleRoot(ids)
}

// leadingZeroNibbles counts the number of leading zero hex nibbles in h.
func leadingZeroNibbles(h Hash) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 2
			continue
		}
		if b&0xF0 == 0 {
			count++
		}
		break
	}
	return count
}

// NewGenesisBlock builds the designated genesis block: index 0, zero
// previous_hash, no transactions, consensus_tag=pow and the given initial
// difficulty. Its hash is computed once with nonce 0; no nonce is searched,
// so the hash need not meet that difficulty.
func NewGenesisBlock(timestamp int64, difficulty uint8) *Block {
	b := &Block{
		Index:        0,
		Timestamp:    timestamp,
		PreviousHash: Hash{},
		Transactions: nil,
		Difficulty:   difficulty,
		MerkleRoot:   MerkleRoot(nil),
		ConsensusTag: ConsensusPoW,
	}
	b.Hash = ComputeHash(b)
	return b
}
