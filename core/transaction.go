package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Variant tags the behavioral shape of a Transaction.
type Variant uint8

const (
	// Standard debits the sender by amount+fee and credits the recipient
	// by amount.
	Standard Variant = iota + 1
	// MultiSig pools a transfer behind a threshold of signers; it behaves
	// as Standard once collected_signatures reaches required_signatures.
	MultiSig
	// TimeLocked is ineligible for block inclusion until the wall clock
	// reaches unlock_time.
	TimeLocked
	// DataStorage carries an opaque blob, pays only the fee, and has no
	// transfer side-effect.
	DataStorage
	// SmartContract is evaluated by the sandboxed evaluator (core/vm.go);
	// its side-effects are the debit/credit tuples the evaluator returns.
	SmartContract
	// StakeAdjustment bonds Amount out of the sender's spendable balance
	// into the validator registry as stake, registering the sender as a
	// validator (or increasing its existing stake). Validator registration
	// is on-chain state derived from these transactions, not per-node
	// ephemeral (spec §9).
	StakeAdjustment
)

func (v Variant) String() string {
	switch v {
	case Standard:
		return "standard"
	case MultiSig:
		return "multisig"
	case TimeLocked:
		return "timelocked"
	case DataStorage:
		return "datastorage"
	case SmartContract:
		return "smartcontract"
	case StakeAdjustment:
		return "stakeadjustment"
	default:
		return "unknown"
	}
}

// MaxMetadataBytes bounds Metadata and Data: the spec's "≤ 1 KiB" budget.
const MaxMetadataBytes = 1024

// Transaction is the tagged-variant record specified in DATA MODEL. Field
// order here is also canonicalize's wire order — do not reorder without
// updating canonicalize.
type Transaction struct {
	ID        Hash
	Variant   Variant
	Sender    Address
	Recipient Address
	Amount    uint64
	Fee       uint64
	Timestamp int64
	Metadata  []byte

	// MultiSig
	Signers             []Address
	RequiredSignatures  int
	CollectedSignatures [][]byte

	// TimeLocked
	UnlockTime int64

	// DataStorage
	Data []byte

	// SmartContract
	CodeRef []byte
	Args    []byte

	Signature []byte
}

// canonicalize renders the deterministic, signature-excluding encoding used
// for fingerprinting. It is not the on-wire form: peer messages carry
// transactions JSON-encoded (see network/codec.go). Every
// variable-length field is length-prefixed with a big-endian uint32; every
// numeric field is fixed-width big-endian.
func canonicalize(tx *Transaction) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.Variant))
	buf.Write(tx.Sender[:])
	buf.Write(tx.Recipient[:])
	writeUint64(&buf, tx.Amount)
	writeUint64(&buf, tx.Fee)
	writeInt64(&buf, tx.Timestamp)
	writeBytes(&buf, tx.Metadata)

	switch tx.Variant {
	case MultiSig:
		writeUint32(&buf, uint32(len(tx.Signers)))
		for _, s := range tx.Signers {
			buf.Write(s[:])
		}
		writeUint32(&buf, uint32(tx.RequiredSignatures))
		// collected_signatures is intentionally excluded: it is the one
		// field allowed to mutate after admission (append-only).
	case TimeLocked:
		writeInt64(&buf, tx.UnlockTime)
	case DataStorage:
		writeBytes(&buf, tx.Data)
	case SmartContract:
		writeBytes(&buf, tx.CodeRef)
		writeBytes(&buf, tx.Args)
	case StakeAdjustment:
		// no extra fields: Amount (the stake to bond) and Fee are already
		// part of the common header.
	}
	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) { writeUint64(buf, uint64(v)) }

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

// fingerprint computes the content-addressed id: the SHA-256 digest of
// canonicalize(tx).
func fingerprint(tx *Transaction) Hash {
	return sha256.Sum256(canonicalize(tx))
}

// Fingerprint is the exported form of fingerprint, for callers outside
// package core that need to recompute an id without depending on
// unexported helpers.
func Fingerprint(tx *Transaction) Hash { return fingerprint(tx) }

// NewTransaction builds a Transaction with a defaulted Timestamp; ID stays
// zero until Finalize. The caller fills variant-specific fields on the
// returned value before calling Finalize.
func NewTransaction(variant Variant, sender, recipient Address, amount, fee uint64, metadata []byte) *Transaction {
	return &Transaction{
		Variant:   variant,
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Timestamp: time.Now().Unix(),
		Metadata:  metadata,
	}
}

// Finalize stamps ID from the transaction's current content. Callers MUST
// call Finalize after setting all variant-specific fields and before
// treating the transaction as immutable content (submission, signing).
func (tx *Transaction) Finalize() *Transaction {
	tx.ID = fingerprint(tx)
	return tx
}

// VerifyStructure checks field ranges, metadata size, variant-specific
// required fields, fingerprint equality, and invokes sv.Verify as the
// signature boundary. It never skips the signature hook silently: sv must
// be non-nil (NoopVerifier is a valid, explicit choice).
func VerifyStructure(tx *Transaction, sv SignatureVerifier) error {
	if tx.Amount > 0 && int64(tx.Amount) < 0 {
		return fmt.Errorf("amount overflow")
	}
	if tx.Fee > (1<<63)-1 {
		return fmt.Errorf("fee overflow")
	}
	if len(tx.Metadata) > MaxMetadataBytes {
		return fmt.Errorf("metadata exceeds %d bytes", MaxMetadataBytes)
	}

	switch tx.Variant {
	case Standard:
		// no extra fields
	case MultiSig:
		if len(tx.Signers) == 0 {
			return fmt.Errorf("multisig: no signers")
		}
		if tx.RequiredSignatures <= 0 || tx.RequiredSignatures > len(tx.Signers) {
			return fmt.Errorf("multisig: invalid required_signatures %d for %d signers", tx.RequiredSignatures, len(tx.Signers))
		}
		if len(tx.CollectedSignatures) > len(tx.Signers) {
			return fmt.Errorf("multisig: collected_signatures exceeds signers")
		}
	case TimeLocked:
		if tx.UnlockTime <= 0 {
			return fmt.Errorf("timelocked: missing unlock_time")
		}
	case DataStorage:
		if len(tx.Data) == 0 {
			return fmt.Errorf("datastorage: empty data")
		}
		if len(tx.Data) > MaxMetadataBytes {
			return fmt.Errorf("datastorage: data exceeds %d bytes", MaxMetadataBytes)
		}
	case SmartContract:
		if len(tx.CodeRef) == 0 {
			return fmt.Errorf("smartcontract: missing code_ref")
		}
	case StakeAdjustment:
		if tx.Amount == 0 {
			return fmt.Errorf("stakeadjustment: amount must be positive")
		}
	default:
		return fmt.Errorf("unknown variant %d", tx.Variant)
	}

	if fingerprint(tx) != tx.ID {
		return fmt.Errorf("fingerprint mismatch: id does not match canonical content")
	}
	if sv == nil {
		return fmt.Errorf("no signature verifier configured")
	}
	return sv.Verify(tx)
}

// IsEligibleForInclusion reports whether tx may be drained from the
// mempool into a block being assembled at time now.
func IsEligibleForInclusion(tx *Transaction, now time.Time) bool {
	switch tx.Variant {
	case MultiSig:
		return len(tx.CollectedSignatures) >= tx.RequiredSignatures
	case TimeLocked:
		return tx.UnlockTime <= now.Unix()
	case SmartContract:
		return len(tx.CodeRef) > 0
	default:
		return true
	}
}

// DebitAmount returns the total the sender must cover: amount+fee for
// every variant except DataStorage, fee alone for DataStorage. For
// SmartContract this is amount+fee as well; effects the evaluator produces
// are not part of this figure.
func (tx *Transaction) DebitAmount() uint64 {
	switch tx.Variant {
	case DataStorage:
		return tx.Fee
	default:
		return tx.Amount + tx.Fee
	}
}
