package store

import (
	"context"
	"sync"
	"time"

	"propchain/pkg/models"

	"github.com/shopspring/decimal"
)

// Memory is a Store backed by maps. It is used by tests and by single process
// runs without a database.
type Memory struct {
	mu          sync.Mutex
	withdrawals map[string]models.WithdrawalRequest
	balances    map[string]decimal.Decimal
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		withdrawals: make(map[string]models.WithdrawalRequest),
		balances:    make(map[string]decimal.Decimal),
		now:         time.Now,
	}
}

func (m *Memory) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.withdrawals[w.ID]; ok {
		return ErrDuplicateID
	}

	available := m.balances[w.UserID]
	if available.LessThan(w.Amount) {
		return ErrInsufficientBalance
	}

	m.balances[w.UserID] = available.Sub(w.Amount)
	m.withdrawals[w.ID] = *w
	return nil
}

func (m *Memory) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (m *Memory) ListWithdrawals(ctx context.Context, userID string) ([]models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.WithdrawalRequest, 0)
	for _, w := range m.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	models.SortNewestFirst(out)
	return out, nil
}

func (m *Memory) TransitionWithdrawal(ctx context.Context, id string, to models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !models.CanTransition(w.Status, to) {
		return nil, transitionError(w.Status, to)
	}

	w.Status = to
	w.UpdatedAt = m.now().UTC()
	m.withdrawals[id] = w

	if to.Refunds() {
		m.balances[w.UserID] = m.balances[w.UserID].Add(w.Amount)
	}
	return &w, nil
}

func (m *Memory) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[userID].Add(amount)
	m.balances[userID] = balance
	return balance, nil
}

func (m *Memory) Close() error {
	return nil
}
