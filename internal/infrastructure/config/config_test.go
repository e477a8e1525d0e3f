package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL == "" {
		t.Fatalf("expected default database URL to be set")
	}

	if cfg.JWTSecret != "" {
		t.Fatalf("expected JWT secret default to be empty, got %q", cfg.JWTSecret)
	}

	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_TIMEOUT", "45s")
	t.Setenv("JWT_SECRET", "top-secret")
	t.Setenv("AUTH_ENABLED", "true")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected custom database URL, got %s", cfg.DatabaseURL)
	}

	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}

	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected HTTP port override, got %s", cfg.HTTPPort)
	}

	if cfg.DatabaseTimeout != 45*time.Second {
		t.Fatalf("expected database timeout override, got %s", cfg.DatabaseTimeout)
	}

	if cfg.JWTSecret != "top-secret" || !cfg.AuthEnabled {
		t.Fatalf("expected auth settings to be set, got secret=%s enabled=%v", cfg.JWTSecret, cfg.AuthEnabled)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	original := os.Getenv("HTTP_READ_TIMEOUT")
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")
	t.Cleanup(func() {
		t.Setenv("HTTP_READ_TIMEOUT", original)
	})

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoadInvalidFailPolicy(t *testing.T) {
	t.Setenv("AML_FAIL_POLICY", "sometimes")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for unknown fail policy")
	}
}

func TestApprovalPolicy(t *testing.T) {
	t.Setenv("APPROVAL_REQUIRED", "2")
	t.Setenv("APPROVAL_SIGNERS", "alice-ops=AABB,bob-ops=ccdd,carol-ops=eeff")
	t.Setenv("WITHDRAWAL_THRESHOLD", "250000")
	t.Setenv("APPROVAL_TTL", "12h")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	policy, err := cfg.ApprovalPolicy()
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}

	if policy.Required != 2 || len(policy.Signers) != 3 {
		t.Fatalf("expected 2-of-3, got %d-of-%d", policy.Required, len(policy.Signers))
	}
	if policy.Signers["alice-ops"] != "aabb" {
		t.Fatalf("expected lower-cased key, got %q", policy.Signers["alice-ops"])
	}
	if !policy.WithdrawalThreshold.Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("expected threshold 250000, got %s", policy.WithdrawalThreshold)
	}
	if policy.TTL != 12*time.Hour {
		t.Fatalf("expected ttl 12h, got %s", policy.TTL)
	}
}

func TestApprovalPolicyUnreachableQuorum(t *testing.T) {
	t.Setenv("APPROVAL_REQUIRED", "3")
	t.Setenv("APPROVAL_SIGNERS", "alice-ops=aabb")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if _, err := cfg.ApprovalPolicy(); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}

func TestComplianceConfig(t *testing.T) {
	t.Setenv("AML_LARGE_TX_THRESHOLD", "5000")
	t.Setenv("AML_FAIL_POLICY", "fail_open")
	t.Setenv("AML_VELOCITY_WINDOW", "30m")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	cc, err := cfg.ComplianceConfig()
	if err != nil {
		t.Fatalf("unexpected compliance config error: %v", err)
	}

	if !cc.LargeTxThreshold.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected large tx 5000, got %s", cc.LargeTxThreshold)
	}
	if !cc.CTRThreshold.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected default ctr 10000, got %s", cc.CTRThreshold)
	}
	if cc.FailPolicy != domain.FailOpen {
		t.Fatalf("expected fail_open, got %s", cc.FailPolicy)
	}
	if cc.VelocityWindow != 30*time.Minute {
		t.Fatalf("expected 30m window, got %s", cc.VelocityWindow)
	}
	if cc.ApprovalThreshold != domain.DecisionReview {
		t.Fatalf("expected review threshold, got %v", cc.ApprovalThreshold)
	}
}

func TestComplianceConfigInvalidAmount(t *testing.T) {
	t.Setenv("AML_CTR_THRESHOLD", "lots")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if _, err := cfg.ComplianceConfig(); err == nil {
		t.Fatalf("expected error for invalid amount")
	}
}
