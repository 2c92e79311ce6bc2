package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PAYMENT_EXPIRY_MINUTES", "ENTRY_FEE_PAISE", "ENTRY_FEE_RUPEES",
		"WELFARE_FUND_PAISE", "BUILDING_FUND_PAISE", "SHARE_PRICE_PAISE",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentExpiryMinutes != 30 {
		t.Fatalf("expected default expiry of 30 minutes, got %d", cfg.PaymentExpiryMinutes)
	}
	if cfg.EntryFeePaise != 20000 || cfg.WelfareFundPaise != 40000 || cfg.BuildingFundPaise != 240000 {
		t.Fatalf("unexpected default fee thresholds: %d/%d/%d", cfg.EntryFeePaise, cfg.WelfareFundPaise, cfg.BuildingFundPaise)
	}
	if cfg.SharePricePaise != 10000 {
		t.Fatalf("expected default share price of 10000 paise, got %d", cfg.SharePricePaise)
	}
	if cfg.ExpirySweepSchedule != "* * * * *" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.ExpirySweepSchedule)
	}
}

func TestLoadConfig_RupeeAliasConvertsToPaise(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "ENTRY_FEE_PAISE")
	setEnvWithCleanup(t, "ENTRY_FEE_RUPEES", "250")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EntryFeePaise != 25000 {
		t.Fatalf("expected entry fee of 25000 paise from rupee alias, got %d", cfg.EntryFeePaise)
	}
}

func TestLoadConfig_CoercesNonPositiveExpiry(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYMENT_EXPIRY_MINUTES", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentExpiryMinutes != 30 {
		t.Fatalf("expected non-positive expiry coerced to 30, got %d", cfg.PaymentExpiryMinutes)
	}
}

func TestLoadConfig_AuthClaimExpectations(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "AUTH_AUDIENCE", "sahyog-members")
	setEnvWithCleanup(t, "AUTH_ISSUER", "https://id.sahyog.example")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AuthAudience != "sahyog-members" {
		t.Fatalf("expected audience from env, got %q", cfg.AuthAudience)
	}
	if cfg.AuthIssuer != "https://id.sahyog.example" {
		t.Fatalf("expected issuer from env, got %q", cfg.AuthIssuer)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
