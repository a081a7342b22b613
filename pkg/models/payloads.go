package models

import "github.com/shopspring/decimal"

// Amounts travel as JSON numbers ({"amount_ngn": 50000}). Decoding still
// accepts the quoted form.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Server function names.
const (
	FunctionWithdrawToBank   = "withdraw-to-bank"
	FunctionCancelWithdrawal = "cancel-withdrawal"
	FunctionSettleWithdrawal = "settle-withdrawal"
	FunctionCreditBalance    = "credit-balance"
)

// TableWithdrawals is the row collection holding withdrawal requests.
const TableWithdrawals = "withdrawal_requests"

// WithdrawToBankPayload is the body of the withdraw-to-bank function.
type WithdrawToBankPayload struct {
	Amount        decimal.Decimal `json:"amount_ngn" validate:"amount"`
	BankAccount   string          `json:"bank_account" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required"`
	BankCode      string          `json:"bank_code" validate:"required"`
}

// CancelWithdrawalPayload is the body of the cancel-withdrawal function.
type CancelWithdrawalPayload struct {
	WithdrawalID string `json:"withdrawal_id" validate:"required"`
}

// SettleWithdrawalPayload is the body of the settle-withdrawal function.
type SettleWithdrawalPayload struct {
	WithdrawalID string           `json:"withdrawal_id" validate:"required"`
	Status       WithdrawalStatus `json:"status" validate:"required,oneof=processing completed failed"`
}

// CreditBalancePayload is the body of the credit-balance function.
type CreditBalancePayload struct {
	UserID string          `json:"user_id" validate:"required"`
	Amount decimal.Decimal `json:"amount_ngn" validate:"amount"`
}

// BalanceResult is returned by credit-balance.
type BalanceResult struct {
	UserID    string          `json:"user_id"`
	Available decimal.Decimal `json:"available_ngn"`
}
