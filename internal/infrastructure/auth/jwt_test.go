package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/auth"
)

func TestJWTManagerGenerateAndVerify(t *testing.T) {
	t.Parallel()

	manager := auth.NewJWTManager("super-secret", time.Minute)
	op := domain.Operator{ID: "alice-ops", Role: domain.RoleSigner}

	token, err := manager.Generate(op)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	got, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}

	if got != op {
		t.Fatalf("expected %+v, got %+v", op, got)
	}
}

func TestJWTManagerGenerateRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	manager := auth.NewJWTManager("secret", time.Minute)
	if _, err := manager.Generate(domain.Operator{ID: "x", Role: "root"}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestJWTManagerVerifyErrors(t *testing.T) {
	t.Parallel()

	manager := auth.NewJWTManager("secret", time.Minute)

	sign := func(secret string, method jwt.SigningMethod, claims auth.Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}

	valid := func() auth.Claims {
		return auth.Claims{
			Role: domain.RoleOperator,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "ops-1",
				Issuer:    "bibank",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"

	noSubject := valid()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", sign("secret", jwt.SigningMethodHS256, expired), domain.ErrExpiredToken},
		{"wrong secret", sign("other", jwt.SigningMethodHS256, valid()), domain.ErrInvalidToken},
		{"wrong issuer", sign("secret", jwt.SigningMethodHS256, wrongIssuer), domain.ErrInvalidToken},
		{"missing subject", sign("secret", jwt.SigningMethodHS256, noSubject), domain.ErrInvalidToken},
		{"garbage", "not-a-token", domain.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
