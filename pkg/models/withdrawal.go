package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	StatusPending    WithdrawalStatus = "pending"
	StatusProcessing WithdrawalStatus = "processing"
	StatusCompleted  WithdrawalStatus = "completed"
	StatusCancelled  WithdrawalStatus = "cancelled"
	StatusFailed     WithdrawalStatus = "failed"
)

var transitions = map[WithdrawalStatus][]WithdrawalStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is one of the known statuses.
func (s WithdrawalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s WithdrawalStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Refunds reports whether entering s returns the reserved amount to the user.
func (s WithdrawalStatus) Refunds() bool {
	return s == StatusCancelled || s == StatusFailed
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to WithdrawalStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WithdrawalRequest is a user's request to move NGN to a bank account.
type WithdrawalRequest struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Amount        decimal.Decimal  `json:"amount_ngn"`
	BankAccount   string           `json:"bank_account"`
	AccountNumber string           `json:"account_number"`
	BankCode      string           `json:"bank_code"`
	Status        WithdrawalStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// SortNewestFirst orders requests by creation time descending. Requests created
// at the same instant are ordered by id descending so the result is stable
// across calls.
func SortNewestFirst(requests []WithdrawalRequest) {
	sort.SliceStable(requests, func(i, j int) bool {
		a, b := requests[i], requests[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
