package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is the treasury balance as last read from the mirror node.
// A snapshot is never modified after construction; refreshes build a new one.
type BalanceSnapshot struct {
	TreasuryAddress string          `json:"treasury_address"`
	BalanceHBAR     decimal.Decimal `json:"balance_hbar"`
	BalanceUSDC     decimal.Decimal `json:"balance_usdc"`
	LastSynced      time.Time       `json:"last_synced"`
}
