package cache

import (
	"fmt"
	"sort"
	"sync"
)

// Operation names a write whose success makes some cached views stale.
type Operation string

const (
	OpWithdrawalInitiate Operation = "withdrawal.initiate"
	OpWithdrawalCancel   Operation = "withdrawal.cancel"
)

// Scope carries the identifiers key functions need to name concrete keys.
type Scope struct {
	UserID          string
	TreasuryAddress string
}

// KeyFunc derives one read key from a scope. An empty result means the key
// does not apply to this scope and is skipped.
type KeyFunc func(Scope) string

// UserWithdrawals invalidates the withdrawal list of the scope's user.
func UserWithdrawals(s Scope) string { return WithdrawalListKey(s.UserID) }

// TreasuryBalance invalidates the balance snapshot of the scope's treasury.
func TreasuryBalance(s Scope) string { return TreasuryBalanceKey(s.TreasuryAddress) }

// Registry maps each write operation to the read keys it invalidates.
type Registry struct {
	mu   sync.RWMutex
	keys map[Operation][]KeyFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[Operation][]KeyFunc)}
}

// DefaultRegistry declares the withdrawal operations: creating a request makes
// the user's list and the treasury balance stale, cancelling one only the list.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Declare(OpWithdrawalInitiate, UserWithdrawals, TreasuryBalance)
	r.Declare(OpWithdrawalCancel, UserWithdrawals)
	return r
}

// Declare adds key functions to op. Declaring the same operation twice
// appends to its set.
func (r *Registry) Declare(op Operation, fns ...KeyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[op] = append(r.keys[op], fns...)
}

// Declared reports whether op has been declared.
func (r *Registry) Declared(op Operation) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[op]
	return ok
}

// Keys returns the sorted, de-duplicated keys op invalidates for scope.
func (r *Registry) Keys(op Operation, scope Scope) ([]string, error) {
	r.mu.RLock()
	fns, ok := r.keys[op]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}

	seen := make(map[string]struct{}, len(fns))
	keys := make([]string, 0, len(fns))
	for _, fn := range fns {
		key := fn(scope)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
