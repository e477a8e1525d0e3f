package domain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisPrevHash is the prev_hash of the first entry in any chain.
const GenesisPrevHash = "GENESIS"

// SignatureAlgorithmEd25519 is the only supported signing scheme.
const SignatureAlgorithmEd25519 = "ed25519"

// EntrySignature is a detached signature over an entry hash.
type EntrySignature struct {
	SignerID  string    `json:"signer_id"`
	Algorithm string    `json:"algorithm"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

// Verify checks the signature against payload.
func (s *EntrySignature) Verify(payload []byte) error {
	if s.Algorithm != SignatureAlgorithmEd25519 {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidSignature, s.Algorithm)
	}
	return VerifyEd25519(s.PublicKey, s.Signature, payload)
}

// VerifyEd25519 verifies a hex encoded ed25519 signature.
func VerifyEd25519(publicKeyHex, signatureHex string, payload []byte) error {
	pk, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed public key", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pk), payload, sig) {
		return fmt.Errorf("%w: verification failed", ErrInvalidSignature)
	}
	return nil
}

// JournalEntry is a committed, hash-chained transaction.
type JournalEntry struct {
	Sequence      uint64            `json:"sequence"`
	PrevHash      string            `json:"prev_hash"`
	Hash          string            `json:"hash"`
	Intent        IntentType        `json:"intent"`
	CorrelationID string            `json:"correlation_id"`
	CausalityID   string            `json:"causality_id,omitempty"`
	Postings      []Posting         `json:"postings"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Signature     *EntrySignature   `json:"signature,omitempty"`
}

// NewJournalEntry builds an unhashed entry from a validated intent.
func NewJournalEntry(intent *TransactionIntent, sequence uint64, prevHash string, at time.Time) *JournalEntry {
	return &JournalEntry{
		Sequence:      sequence,
		PrevHash:      prevHash,
		Intent:        intent.Intent,
		CorrelationID: intent.CorrelationID,
		CausalityID:   intent.CausalityID,
		Postings:      append([]Posting(nil), intent.Postings...),
		Metadata:      intent.Metadata,
		Timestamp:     at.UTC(),
	}
}

// ComputeHash returns the hex SHA-256 over every field except Hash and Signature.
// Fields are length-prefixed so no two distinct entries share an encoding.
func (e *JournalEntry) ComputeHash() string {
	w := newCanonicalWriter(sha256.New())

	w.uint64(e.Sequence)
	w.str(e.PrevHash)
	w.str(e.Timestamp.UTC().Format(time.RFC3339Nano))
	w.str(string(e.Intent))
	w.str(e.CorrelationID)
	w.str(e.CausalityID)

	w.uvarint(uint64(len(e.Postings)))
	for _, p := range e.Postings {
		w.str(p.Account.String())
		w.str(p.Asset)
		w.str(p.Amount.String())
		w.str(string(p.Side))
	}

	w.stringMap(e.Metadata)
	return w.sum()
}

// VerifyChain walks entries in order and returns the first integrity violation.
func VerifyChain(entries []*JournalEntry) error {
	prevHash := GenesisPrevHash
	var prevSeq uint64

	for i, e := range entries {
		if i == 0 {
			if e.Sequence != 1 {
				return &ChainError{Kind: ErrInvalidGenesisSequence, Sequence: e.Sequence, Expected: "1", Actual: fmt.Sprint(e.Sequence)}
			}
			if e.PrevHash != GenesisPrevHash {
				return &ChainError{Kind: ErrInvalidGenesisPrevHash, Sequence: e.Sequence, Expected: GenesisPrevHash, Actual: e.PrevHash}
			}
		} else if e.Sequence != prevSeq+1 {
			return &ChainError{Kind: ErrInvalidSequence, Sequence: e.Sequence, Expected: fmt.Sprint(prevSeq + 1), Actual: fmt.Sprint(e.Sequence)}
		}

		if e.PrevHash != prevHash {
			return &ChainError{Kind: ErrBrokenHashChain, Sequence: e.Sequence, Expected: prevHash, Actual: e.PrevHash}
		}

		computed := e.ComputeHash()
		if e.Hash != computed {
			return &ChainError{Kind: ErrBrokenHashChain, Sequence: e.Sequence, Expected: computed, Actual: e.Hash}
		}

		if e.Signature != nil {
			if err := e.Signature.Verify([]byte(e.Hash)); err != nil {
				return &ChainError{Kind: ErrInvalidSignature, Sequence: e.Sequence, Expected: e.Signature.SignerID, Actual: err.Error()}
			}
		}

		prevHash = e.Hash
		prevSeq = e.Sequence
	}

	return nil
}
