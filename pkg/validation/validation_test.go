package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Amount   decimal.Decimal `json:"amount_ngn" validate:"amount"`
	BankCode string          `json:"bank_code" validate:"required"`
}

func TestAmountTag(t *testing.T) {
	v := New()

	tests := []struct {
		amount string
		valid  bool
	}{
		{"50000", true},
		{"0.01", true},
		{"1250.50", true},
		{"0", false},
		{"-10", false},
		{"10.001", false},
	}

	for _, tt := range tests {
		err := v.Struct(payload{Amount: decimal.RequireFromString(tt.amount), BankCode: "044"})
		if tt.valid {
			assert.NoError(t, err, "amount %s", tt.amount)
		} else {
			assert.Error(t, err, "amount %s", tt.amount)
		}
	}
}

func TestDescribe(t *testing.T) {
	v := New()

	err := v.Struct(payload{})
	require.Error(t, err)

	msg := Describe(err)
	assert.Contains(t, msg, "amount_ngn must be a positive amount")
	assert.Contains(t, msg, "bank_code is required")
	assert.ElementsMatch(t, []string{"amount_ngn", "bank_code"}, Fields(err))
}
