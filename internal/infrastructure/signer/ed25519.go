// Package signer holds ed25519 keys for the system entry signer and approval signers.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// ErrInvalidSeed is returned for seeds that are not 32 hex-encoded bytes.
var ErrInvalidSeed = errors.New("signer seed must be 32 hex-encoded bytes")

// Ed25519Signer signs entry hashes and approval operation hashes.
type Ed25519Signer struct {
	id   string
	priv ed25519.PrivateKey
	now  func() time.Time
}

// NewFromSeedHex derives a signer from a hex-encoded 32-byte seed.
func NewFromSeedHex(id, seedHex string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}
	return &Ed25519Signer{id: id, priv: ed25519.NewKeyFromSeed(seed), now: time.Now}, nil
}

// Generate creates a signer with a fresh random key.
func Generate(id string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Ed25519Signer{id: id, priv: priv, now: time.Now}, nil
}

// ID is the signer identifier recorded with each signature.
func (s *Ed25519Signer) ID() string { return s.id }

// PublicKeyHex returns the hex-encoded public key.
func (s *Ed25519Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.priv.Public().(ed25519.PublicKey))
}

// SeedHex returns the hex-encoded private seed.
func (s *Ed25519Signer) SeedHex() string {
	return hex.EncodeToString(s.priv.Seed())
}

// SignHex signs the bytes of message and returns the hex signature.
func (s *Ed25519Signer) SignHex(message string) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(message)))
}

// Sign implements usecase.EntrySigner.
func (s *Ed25519Signer) Sign(hash string) (*domain.EntrySignature, error) {
	if hash == "" {
		return nil, errors.New("cannot sign empty hash")
	}
	return &domain.EntrySignature{
		SignerID:  s.id,
		Algorithm: domain.SignatureAlgorithmEd25519,
		PublicKey: s.PublicKeyHex(),
		Signature: s.SignHex(hash),
		SignedAt:  s.now().UTC(),
	}, nil
}
