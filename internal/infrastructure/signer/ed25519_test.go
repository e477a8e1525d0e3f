package signer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
)

func TestNewFromSeedHex(t *testing.T) {
	tests := []struct {
		name    string
		seed    string
		wantErr bool
	}{
		{"valid", strings.Repeat("01", 32), false},
		{"too short", "0102", true},
		{"not hex", strings.Repeat("zz", 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFromSeedHex("system", tt.seed)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSeed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.seed, s.SeedHex())
		})
	}
}

func TestSignVerifies(t *testing.T) {
	s, err := Generate("system")
	require.NoError(t, err)

	hash := strings.Repeat("ab", 32)
	sig, err := s.Sign(hash)
	require.NoError(t, err)

	assert.Equal(t, "system", sig.SignerID)
	assert.Equal(t, domain.SignatureAlgorithmEd25519, sig.Algorithm)
	assert.NoError(t, sig.Verify([]byte(hash)))
	assert.ErrorIs(t, sig.Verify([]byte("other")), domain.ErrInvalidSignature)
}

func TestSignHexMatchesApprovalVerification(t *testing.T) {
	s, err := NewFromSeedHex("alice-ops", strings.Repeat("02", 32))
	require.NoError(t, err)

	opHash := "deadbeef"
	assert.NoError(t, domain.VerifyEd25519(s.PublicKeyHex(), s.SignHex(opHash), []byte(opHash)))
}

func TestSignRejectsEmptyHash(t *testing.T) {
	s, err := Generate("system")
	require.NoError(t, err)

	_, err = s.Sign("")
	assert.Error(t, err)
}
