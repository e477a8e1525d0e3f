package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func buildChain(t *testing.T, n int) []*JournalEntry {
	t.Helper()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := GenesisPrevHash
	entries := make([]*JournalEntry, 0, n)
	for i := 1; i <= n; i++ {
		intent := NewTransfer(fmt.Sprintf("tx-%d", i), "alice", "bob", "USDT", d(int64(i*10)))
		e := NewJournalEntry(intent, uint64(i), prev, base.Add(time.Duration(i)*time.Second))
		e.Hash = e.ComputeHash()
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestComputeHash_Deterministic(t *testing.T) {
	entries := buildChain(t, 1)
	e := entries[0]

	if e.ComputeHash() != e.Hash {
		t.Fatal("hash should be a pure function of entry content")
	}
	if len(e.Hash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(e.Hash))
	}

	e.Metadata = map[string]string{"b": "2", "a": "1"}
	h1 := e.ComputeHash()
	e.Metadata = map[string]string{"a": "1", "b": "2"}
	if h1 != e.ComputeHash() {
		t.Fatal("metadata order must not affect hash")
	}
}

func TestVerifyChain(t *testing.T) {
	t.Run("valid chain", func(t *testing.T) {
		if err := VerifyChain(buildChain(t, 5)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		if err := VerifyChain(nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	for target := 1; target <= 5; target++ {
		t.Run(fmt.Sprintf("tampered posting at %d", target), func(t *testing.T) {
			entries := buildChain(t, 5)
			entries[target-1].Postings[0].Amount = entries[target-1].Postings[0].Amount.Add(d(1))

			err := VerifyChain(entries)
			var ce *ChainError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ChainError, got %v", err)
			}
			if ce.Sequence != uint64(target) {
				t.Fatalf("expected break at %d, got %d", target, ce.Sequence)
			}
			if !errors.Is(err, ErrBrokenHashChain) {
				t.Fatalf("expected ErrBrokenHashChain, got %v", err)
			}
		})
	}

	t.Run("bad genesis sequence", func(t *testing.T) {
		entries := buildChain(t, 2)
		if err := VerifyChain(entries[1:]); !errors.Is(err, ErrInvalidGenesisSequence) {
			t.Fatalf("expected ErrInvalidGenesisSequence, got %v", err)
		}
	})

	t.Run("bad genesis prev hash", func(t *testing.T) {
		entries := buildChain(t, 1)
		entries[0].PrevHash = "nope"
		if err := VerifyChain(entries); !errors.Is(err, ErrInvalidGenesisPrevHash) {
			t.Fatalf("expected ErrInvalidGenesisPrevHash, got %v", err)
		}
	})

	t.Run("sequence gap", func(t *testing.T) {
		entries := buildChain(t, 3)
		if err := VerifyChain([]*JournalEntry{entries[0], entries[2]}); !errors.Is(err, ErrInvalidSequence) {
			t.Fatalf("expected ErrInvalidSequence, got %v", err)
		}
	})
}

func TestVerifyChain_Signature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	entries := buildChain(t, 2)
	for _, e := range entries {
		e.Signature = &EntrySignature{
			SignerID:  "SYSTEM",
			Algorithm: SignatureAlgorithmEd25519,
			PublicKey: hex.EncodeToString(pub),
			Signature: hex.EncodeToString(ed25519.Sign(priv, []byte(e.Hash))),
		}
	}
	if err := VerifyChain(entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries[1].Signature.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte("other")))
	err = VerifyChain(entries)
	var ce *ChainError
	if !errors.As(err, &ce) || ce.Sequence != 2 || !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected signature failure at 2, got %v", err)
	}
}
