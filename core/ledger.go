package core

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hybridchain/pkg/errs"
)

// LedgerConfig carries the options from the Configuration table (§6) that
// shape chain assembly and difficulty retargeting.
type LedgerConfig struct {
	Genesis              *Block
	TargetBlockInterval  time.Duration
	DifficultyWindow     uint64
	MaxBlockTransactions int
	MempoolCapacity      int
	MinValidatorStake    uint64
	InitialDifficulty    uint8
}

// DefaultLedgerConfig mirrors the Configuration table's stated defaults.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		TargetBlockInterval:  30 * time.Second,
		DifficultyWindow:     100,
		MaxBlockTransactions: 500,
		MempoolCapacity:      5000,
		MinValidatorStake:    1,
		InitialDifficulty:    1,
	}
}

// Ledger owns the chain, mempool, validator registry, and balance
// projection, per COMPONENT DESIGN §4.1. All mutation methods are
// serialized behind mu (the single logical writer); read queries take a
// read lock so they may run concurrently with one another but never
// during a mutation.
type Ledger struct {
	mu sync.RWMutex

	cfg       LedgerConfig
	sigVerify SignatureVerifier
	store     SnapshotStore
	logger    *logrus.Entry

	blocks     []*Block
	byHash     map[Hash]*Block
	included   map[Hash]uint64 // tx id -> block index it was included in
	balances   map[Address]uint64
	difficulty uint8

	mempool    *Mempool
	validators *ValidatorRegistry
}

// NewLedger constructs a Ledger seeded with cfg.Genesis (or a fresh genesis
// block if nil), grounded on the teacher's NewLedger/OpenLedger pattern of
// applying genesis then optionally replaying persisted state.
func NewLedger(cfg LedgerConfig, sv SignatureVerifier, store SnapshotStore) (*Ledger, error) {
	genesis := cfg.Genesis
	if genesis == nil {
		genesis = NewGenesisBlock(time.Now().Unix(), cfg.InitialDifficulty)
	}
	l := &Ledger{
		cfg:        cfg,
		sigVerify:  sv,
		store:      store,
		logger:     logrus.WithField("component", "ledger"),
		blocks:     []*Block{genesis},
		byHash:     map[Hash]*Block{genesis.Hash: genesis},
		included:   make(map[Hash]uint64),
		balances:   make(map[Address]uint64),
		difficulty: genesis.Difficulty,
		mempool:    NewMempool(cfg.MempoolCapacity),
		validators: NewValidatorRegistry(cfg.MinValidatorStake),
	}

	if store != nil {
		if chain, err := store.Load(); err == nil && len(chain) > 1 {
			l.logger.WithField("blocks", len(chain)).Info("restoring chain from snapshot")
			for _, b := range chain[1:] {
				if err := l.applyBlock(b); err != nil {
					return nil, errs.Internal("restore snapshot", err)
				}
			}
		}
	}
	return l, nil
}

// SetValidatorRegistry replaces the registry, used by callers that seed
// initial stake from genesis configuration rather than on-chain
// transactions.
func (l *Ledger) SetValidatorRegistry(r *ValidatorRegistry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.validators = r
}

// Validators exposes the registry for the consensus engine's proposer
// selection and seal verification.
func (l *Ledger) Validators() *ValidatorRegistry {
	return l.validators
}

// Head returns the current chain tip.
func (l *Ledger) Head() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1]
}

// BlockAt returns the block at index, if present.
func (l *Ledger) BlockAt(index uint64) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.blocks)) {
		return nil, false
	}
	return l.blocks[index], true
}

// BlockByHash looks up a block by its hash, used by the peer layer's
// GET_CHAIN servicing and reorg ancestor search.
func (l *Ledger) BlockByHash(h Hash) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.byHash[h]
	return b, ok
}

// Balance returns address's projected balance.
func (l *Ledger) Balance(addr Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[addr]
}

// Difficulty returns the current PoW target.
func (l *Ledger) Difficulty() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.difficulty
}

// MempoolSnapshot returns every currently admitted transaction.
func (l *Ledger) MempoolSnapshot() []*Transaction {
	return l.mempool.Snapshot()
}

// SubmitTransaction validates and admits tx. It returns nil on Admitted,
// or a *errs.Error wrapping the rejection reason.
func (l *Ledger) SubmitTransaction(tx *Transaction) error {
	const op = "submit_transaction"

	if err := VerifyStructure(tx, l.sigVerify); err != nil {
		return errs.Validation(op, err)
	}
	if tx.Amount > 0 && tx.Recipient == AddressZero && tx.Variant == Standard {
		return errs.Validation(op, fmt.Errorf("standard transfer to zero address"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, inChain := l.included[tx.ID]
	if inChain {
		return errs.Validation(op, fmt.Errorf("duplicate id: already in chain"))
	}
	if l.mempool.Has(tx.ID) {
		return nil // idempotent: invariant 8
	}

	if requiresBalance(tx.Variant) {
		projected := l.balances[tx.Sender]
		pending := l.pendingObligation(tx.Sender, tx.ID)
		need := tx.DebitAmount()
		if projected < pending+need {
			return errs.Validation(op, fmt.Errorf("insufficient balance: have %d, need %d (pending %d)", projected, need, pending))
		}
	}

	if !l.mempool.Add(tx) {
		return errs.Resource(op, fmt.Errorf("mempool full"))
	}
	return nil
}

func requiresBalance(v Variant) bool {
	switch v {
	case Standard, DataStorage, SmartContract, MultiSig, StakeAdjustment:
		return true
	default:
		return false
	}
}

// pendingObligation sums the debit amounts of sender's already-admitted
// mempool transactions other than excludeID, so admission checks account
// for obligations not yet in a block.
func (l *Ledger) pendingObligation(sender Address, excludeID Hash) uint64 {
	var total uint64
	for _, tx := range l.mempool.Snapshot() {
		if tx.ID == excludeID || tx.Sender != sender {
			continue
		}
		total += tx.DebitAmount()
	}
	return total
}

// AssembleBlock drains eligible mempool entries into an unsealed block
// per assemble_block.
func (l *Ledger) AssembleBlock(proposer Address) *Block {
	l.mu.RLock()
	head := l.blocks[len(l.blocks)-1]
	difficulty := l.difficulty
	l.mu.RUnlock()

	txs := l.mempool.Assemble(l.cfg.MaxBlockTransactions, time.Now())
	b := &Block{
		Index:        head.Index + 1,
		Timestamp:    time.Now().Unix(),
		PreviousHash: head.Hash,
		Transactions: txs,
		Difficulty:   difficulty,
		MerkleRoot:   MerkleRootOf(txs),
		Proposer:     proposer,
	}
	return b
}

// AppendBlock validates block in full and, on success, applies it: removes
// included transactions from the mempool, updates the balance projection,
// and advances head.
func (l *Ledger) AppendBlock(block *Block) error {
	const op = "append_block"
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateBlockLocked(block); err != nil {
		return err
	}

	if err := l.applyBlockLocked(block); err != nil {
		return errs.Internal(op, err)
	}

	if l.store != nil && uint64(len(l.blocks))%snapshotInterval == 0 {
		if err := l.store.Save(l.blocks); err != nil {
			l.logger.WithError(err).Warn("snapshot save failed")
		}
	}
	return nil
}

const snapshotInterval = 50

// validateBlockLocked performs the full structural + consensus validation
// of append_block. Caller holds l.mu.
func (l *Ledger) validateBlockLocked(block *Block) error {
	const op = "append_block"
	head := l.blocks[len(l.blocks)-1]

	if _, dup := l.byHash[block.Hash]; dup {
		return errs.Validation(op, fmt.Errorf("already present"))
	}
	if block.Index != head.Index+1 {
		return errs.Validation(op, fmt.Errorf("index %d does not extend head %d", block.Index, head.Index))
	}
	if block.PreviousHash != head.Hash {
		return errs.Validation(op, fmt.Errorf("previous_hash does not match head"))
	}
	if MerkleRootOf(block.Transactions) != block.MerkleRoot {
		return errs.Validation(op, fmt.Errorf("merkle_root mismatch"))
	}
	if ComputeHash(block) != block.Hash {
		return errs.Validation(op, fmt.Errorf("hash mismatch"))
	}

	debits := make(map[Address]uint64)
	for _, tx := range block.Transactions {
		if err := VerifyStructure(tx, l.sigVerify); err != nil {
			return errs.Validation(op, fmt.Errorf("tx %s: %w", tx.ID, err))
		}
		if !IsEligibleForInclusion(tx, time.Unix(block.Timestamp, 0)) {
			return errs.Validation(op, fmt.Errorf("tx %s not eligible for inclusion", tx.ID))
		}
		if requiresBalance(tx.Variant) {
			debits[tx.Sender] += tx.DebitAmount()
		}
	}
	for addr, total := range debits {
		if l.balances[addr] < total {
			return errs.Validation(op, fmt.Errorf("block double-spend: %s debits %d, has %d", addr, total, l.balances[addr]))
		}
	}

	if err := verifySeal(block, l.validators); err != nil {
		return errs.ConsensusErr(op, err)
	}
	return nil
}

// applyBlockLocked appends block to the chain and folds its effects into
// the balance projection, mempool, and validator registry. Caller holds
// l.mu.
func (l *Ledger) applyBlockLocked(block *Block) error {
	for _, tx := range block.Transactions {
		l.applyTransactionEffects(tx)
		l.included[tx.ID] = block.Index
		l.mempool.Remove(tx.ID)
	}
	reward := baseReward(block, l.validators)
	l.balances[block.Proposer] += reward

	l.blocks = append(l.blocks, block)
	l.byHash[block.Hash] = block
	l.maybeRetargetDifficulty()
	return nil
}

// applyTransactionEffects applies a single transaction's variant-specific
// side-effect on the balance projection.
func (l *Ledger) applyTransactionEffects(tx *Transaction) {
	switch tx.Variant {
	case Standard, MultiSig:
		l.balances[tx.Sender] -= tx.Amount + tx.Fee
		l.balances[tx.Recipient] += tx.Amount
	case DataStorage:
		l.balances[tx.Sender] -= tx.Fee
	case StakeAdjustment:
		l.balances[tx.Sender] -= tx.Amount + tx.Fee
		l.validators.AdjustStake(tx.Sender, int64(tx.Amount))
	case SmartContract:
		l.balances[tx.Sender] -= tx.Fee
		eval := SelectEvaluator(tx.CodeRef)
		result, err := eval.Execute(tx.CodeRef, tx.Args, 1_000_000)
		if err != nil {
			l.logger.WithError(err).WithField("tx", tx.ID).Warn("smart contract evaluation failed")
			return
		}
		for _, e := range result.Effects {
			if e.Debit != (Address{}) {
				if l.balances[e.Debit] < e.Amount {
					l.logger.WithField("tx", tx.ID).Warn("smart contract debit exceeds balance, effect dropped")
					continue
				}
				l.balances[e.Debit] -= e.Amount
			}
			if e.Credit != (Address{}) {
				l.balances[e.Credit] += e.Amount
			}
		}
	}
}

// applyBlock is the restore-from-snapshot path: it trusts the stored block
// as already-valid and applies it without re-running full validation,
// matching the teacher's WAL-replay convention.
func (l *Ledger) applyBlock(block *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyBlockLocked(block)
}

func baseReward(block *Block, validators *ValidatorRegistry) uint64 {
	const base = 50
	var txFees uint64
	for _, tx := range block.Transactions {
		txFees += tx.Fee
	}
	switch block.ConsensusTag {
	case ConsensusPoS:
		stake := validators.StakeOf(block.Proposer)
		if stake == 0 {
			return txFees
		}
		return txFees + base*stake/(stake+1) + 1
	default:
		return txFees + base
	}
}

// maybeRetargetDifficulty adjusts difficulty every DifficultyWindow blocks
// based on the measured interval against TargetBlockInterval, clamped to
// [1, 10]. Caller holds l.mu.
func (l *Ledger) maybeRetargetDifficulty() {
	window := l.cfg.DifficultyWindow
	if window == 0 {
		window = 100
	}
	n := uint64(len(l.blocks))
	if n <= window || (n-1)%window != 0 {
		return
	}
	first := l.blocks[n-window]
	last := l.blocks[n-1]
	elapsed := last.Timestamp - first.Timestamp
	if elapsed <= 0 {
		elapsed = 1
	}
	targetElapsed := int64(window-1) * int64(l.cfg.TargetBlockInterval/time.Second)
	if targetElapsed <= 0 {
		targetElapsed = 1
	}

	// Difficulty here counts leading zero hex nibbles, so one unit of
	// difficulty is a 16x change in expected work: retarget by scaling the
	// implied work multiplicatively by targetElapsed/elapsed (clamped to
	// [1/4, 4] per retarget, matching the conventional anti-oscillation
	// bound) and solving back for the nearest nibble count.
	ratio := float64(targetElapsed) / float64(elapsed)
	if ratio > 4 {
		ratio = 4
	}
	if ratio < 0.25 {
		ratio = 0.25
	}
	work := math.Pow(16, float64(l.difficulty)) * ratio
	l.difficulty = clampDifficulty(uint8(math.Round(math.Log(work) / math.Log(16))))
}

func clampDifficulty(d uint8) uint8 {
	if d < 1 {
		return 1
	}
	if d > 10 {
		return 10
	}
	return d
}

// TryReorg validates candidate end to end from its declared fork point and
// adopts it if it is longer than the local chain from that point, or of
// equal length with a head hash lower than the local head's.
// On adoption, local blocks after the fork point are rolled back and their
// non-duplicate, still-eligible transactions are returned to the mempool.
func (l *Ledger) TryReorg(candidate []*Block) error {
	const op = "try_reorg"
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(candidate) == 0 {
		return errs.Validation(op, fmt.Errorf("empty candidate"))
	}
	forkParent := candidate[0].PreviousHash
	forkIdx := -1
	for i, b := range l.blocks {
		if b.Hash == forkParent {
			forkIdx = i
			break
		}
	}
	if forkIdx < 0 {
		return errs.Validation(op, fmt.Errorf("no common ancestor for candidate fragment"))
	}

	localExtra := len(l.blocks) - 1 - forkIdx
	candidateLen := len(candidate)

	if candidateLen < localExtra {
		return errs.Validation(op, fmt.Errorf("candidate shorter than local chain"))
	}
	if candidateLen == localExtra {
		localHead := l.blocks[len(l.blocks)-1]
		candidateHead := candidate[candidateLen-1]
		if !candidateHead.Hash.Less(localHead.Hash) {
			return errs.Validation(op, fmt.Errorf("equal length, local head not superseded"))
		}
	}

	// Validate the fragment against a scratch ledger seeded at the fork
	// point so a failed reorg leaves local state untouched.
	scratch := l.forkScratchLocked(forkIdx)
	for _, b := range candidate {
		if err := scratch.validateBlockLocked(b); err != nil {
			return errs.Validation(op, fmt.Errorf("candidate block %d: %w", b.Index, err))
		}
		if err := scratch.applyBlockLocked(b); err != nil {
			return errs.Internal(op, err)
		}
	}

	displaced := l.blocks[forkIdx+1:]
	l.blocks = scratch.blocks
	l.byHash = scratch.byHash
	l.balances = scratch.balances
	l.included = scratch.included
	l.difficulty = scratch.difficulty

	newIDs := make(map[Hash]bool)
	for _, b := range candidate {
		for _, tx := range b.Transactions {
			newIDs[tx.ID] = true
		}
	}
	for _, b := range displaced {
		for _, tx := range b.Transactions {
			if newIDs[tx.ID] {
				continue
			}
			if IsEligibleForInclusion(tx, time.Now()) {
				l.mempool.ReturnToPool(tx)
			}
		}
	}
	return nil
}

// forkScratchLocked builds a disposable Ledger copy truncated to forkIdx,
// used to validate a candidate fragment without mutating live state until
// the whole fragment is known-good.
func (l *Ledger) forkScratchLocked(forkIdx int) *Ledger {
	scratch := &Ledger{
		cfg:        l.cfg,
		sigVerify:  l.sigVerify,
		logger:     l.logger,
		blocks:     append([]*Block(nil), l.blocks[:forkIdx+1]...),
		byHash:     make(map[Hash]*Block, forkIdx+1),
		included:   make(map[Hash]uint64),
		balances:   make(map[Address]uint64),
		difficulty: l.difficulty,
		mempool:    NewMempool(0),
		validators: l.validators,
	}
	for _, b := range scratch.blocks {
		scratch.byHash[b.Hash] = b
	}
	// Replay balances/included from genesis through forkIdx so the scratch
	// ledger's projection matches reality at the fork point.
	for _, b := range scratch.blocks[1:] {
		for _, tx := range b.Transactions {
			scratch.applyTransactionEffects(tx)
			scratch.included[tx.ID] = b.Index
		}
		scratch.balances[b.Proposer] += baseReward(b, scratch.validators)
	}
	return scratch
}
