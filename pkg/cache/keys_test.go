package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "withdrawals:user:123", false},
		{"valid with dots", "balance:treasury:0.0.1234", false},
		{"empty key", "", true},
		{"too long", strings.Repeat("a", 300), true},
		{"control char null", "key\x00value", true},
		{"control char newline", "key\nvalue", true},
		{"leading space", " key", true},
		{"trailing space", "key ", true},
		{"unicode control", "key\x7fvalue", true},
		{"exactly 250 chars", strings.Repeat("a", 250), false},
		{"251 chars", strings.Repeat("a", 251), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestKeyPattern_Build(t *testing.T) {
	kp := NewKeyPattern("withdrawals", "")

	if got := kp.Build(); got != "withdrawals" {
		t.Errorf("Expected bare prefix, got %q", got)
	}
	if got := kp.Build("user", "42"); got != "withdrawals:user:42" {
		t.Errorf("Unexpected key %q", got)
	}
}

func TestDomainKeys(t *testing.T) {
	if got := WithdrawalListKey("u-1"); got != "withdrawals:user:u-1" {
		t.Errorf("Unexpected withdrawal list key %q", got)
	}
	if got := TreasuryBalanceKey("0.0.5005"); got != "balance:treasury:0.0.5005" {
		t.Errorf("Unexpected balance key %q", got)
	}
	if WithdrawalListKey("") != "" || TreasuryBalanceKey("") != "" {
		t.Error("Expected empty keys for empty identifiers")
	}
}
