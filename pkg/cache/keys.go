package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key any layer accepts.
const MaxKeyLength = 250

// ValidateKey checks if a cache key is valid.
//
// Rules:
// - Non-empty string
// - At most MaxKeyLength bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// KeyPattern builds keys of the form prefix<sep>part<sep>part.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    prefix,
		separator: separator,
	}
}

// Build creates a cache key from the pattern and provided parts.
// Example: pattern.Build("user", "123") -> "withdrawals:user:123"
func (kp *KeyPattern) Build(parts ...string) string {
	var b strings.Builder
	b.WriteString(kp.prefix)
	for _, part := range parts {
		b.WriteString(kp.separator)
		b.WriteString(part)
	}
	return b.String()
}

var (
	withdrawalKeys = NewKeyPattern("withdrawals", ":")
	balanceKeys    = NewKeyPattern("balance", ":")
)

// WithdrawalListKey is the key of a user's withdrawal list view.
// Returns "" for an empty user id.
func WithdrawalListKey(userID string) string {
	if userID == "" {
		return ""
	}
	return withdrawalKeys.Build("user", userID)
}

// TreasuryBalanceKey is the key of the balance snapshot of a treasury address.
// Returns "" for an empty address.
func TreasuryBalanceKey(address string) string {
	if address == "" {
		return ""
	}
	return balanceKeys.Build("treasury", address)
}
