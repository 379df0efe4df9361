package core

import (
	"crypto/rand"
	"math/big"
	"sort"
	"sync"
)

// ValidatorInfo is an entry in the validator registry: address → stake,
// plus optional reputation and activity bookkeeping.
type ValidatorInfo struct {
	Address Address
	Stake   uint64
	Active  bool
}

// ValidatorRegistry tracks stake-bearing addresses. Entries below
// MinStake are inactive (DATA MODEL's Validator registry invariant).
// Stake changes recorded via a stake-adjustment transaction take effect at
// the start of the next assembled block (§4.3.2 of the implementation
// notes): callers mutate the registry during append_block, and
// ActiveSnapshot is taken once per sealing attempt, not re-read mid-seal.
type ValidatorRegistry struct {
	mu       sync.RWMutex
	minStake uint64
	stake    map[Address]uint64
}

// NewValidatorRegistry builds an empty registry with the given minimum
// eligibility stake.
func NewValidatorRegistry(minStake uint64) *ValidatorRegistry {
	return &ValidatorRegistry{minStake: minStake, stake: make(map[Address]uint64)}
}

// AdjustStake applies delta to addr's stake. A resulting stake of zero or
// below removes the entry (DATA MODEL: "removed when stake falls below the
// minimum").
func (r *ValidatorRegistry) AdjustStake(addr Address, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := int64(r.stake[addr]) + delta
	if cur <= 0 {
		delete(r.stake, addr)
		return
	}
	r.stake[addr] = uint64(cur)
}

// StakeOf returns addr's current stake, 0 if unregistered.
func (r *ValidatorRegistry) StakeOf(addr Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stake[addr]
}

// IsActive reports whether addr is registered with at least MinStake.
func (r *ValidatorRegistry) IsActive(addr Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stake := r.stake[addr]
	return stake > 0 && stake >= r.minStake
}

// ActiveSnapshot returns every currently active validator, sorted by
// address, taken once per sealing attempt per the effective-time decision.
func (r *ValidatorRegistry) ActiveSnapshot() []ValidatorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ValidatorInfo, 0, len(r.stake))
	for addr, stake := range r.stake {
		if stake >= r.minStake {
			out = append(out, ValidatorInfo{Address: addr, Stake: stake, Active: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

// SelectProposer performs a weighted random draw over the active
// validator set, weight = stake, seeded from crypto/rand. Ties (equal
// cumulative position, which cannot arise from a proper draw but can from
// an all-zero-stake edge case) resolve to the lexicographically first
// address. Returns false if there are no active validators.
func SelectProposer(validators []ValidatorInfo) (Address, bool) {
	if len(validators) == 0 {
		return Address{}, false
	}
	sorted := make([]ValidatorInfo, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address.Less(sorted[j].Address) })

	var total uint64
	for _, v := range sorted {
		total += v.Stake
	}
	if total == 0 {
		return sorted[0].Address, true
	}

	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(total))
	if err != nil {
		return sorted[0].Address, true
	}
	draw := n.Uint64()

	var cum uint64
	for _, v := range sorted {
		cum += v.Stake
		if draw < cum {
			return v.Address, true
		}
	}
	return sorted[len(sorted)-1].Address, true
}
