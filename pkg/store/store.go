// Package store persists withdrawal requests and the NGN balances they draw
// from. Every implementation enforces models.CanTransition and moves money in
// the same unit of work as the status change that causes it.
package store

import (
	"context"
	"errors"
	"fmt"

	"propchain/pkg/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("withdrawal not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDuplicateID         = errors.New("duplicate withdrawal id")
)

type Store interface {
	// CreateWithdrawal inserts w and debits its amount from the owner's
	// available balance.
	CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	// ListWithdrawals returns the user's requests newest first.
	ListWithdrawals(ctx context.Context, userID string) ([]models.WithdrawalRequest, error)
	// TransitionWithdrawal moves a request to status to and returns the
	// updated row. Entering cancelled or failed refunds the amount.
	TransitionWithdrawal(ctx context.Context, id string, to models.WithdrawalStatus) (*models.WithdrawalRequest, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Credit adds amount to the user's available balance and returns the
	// new balance.
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Close() error
}

func transitionError(from, to models.WithdrawalStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
