// Package functions implements the backend's server functions and row access
// on top of a store. The HTTP handler and the in-process gateway both call
// into Service, so the two share one set of rules.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"propchain/pkg/logging"
	"propchain/pkg/metrics"
	"propchain/pkg/models"
	"propchain/pkg/session"
	"propchain/pkg/store"
	"propchain/pkg/validation"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Caller identifies who invokes a function. Service callers bypass row
// ownership and may run the settlement functions.
type Caller struct {
	Session models.Session
	Service bool
}

// RowQuery selects rows of a table. Filter values are matched for equality.
type RowQuery struct {
	Filter     map[string]string
	Order      string
	Descending bool
}

type Service struct {
	store      store.Store
	verifier   *session.Verifier
	serviceKey string
	validate   *validator.Validate
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Service)

// WithVerifier sets the token verifier used to resolve callers.
func WithVerifier(v *session.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithServiceKey sets the key that identifies backend callers.
func WithServiceKey(key string) Option {
	return func(s *Service) { s.serviceKey = key }
}

func WithMetrics(c metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = metrics.OrNoOp(c) }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrGlobal(l).Named("functions") }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		validate: validation.New(),
		metrics:  metrics.NoOpCollector{},
		logger:   logging.Global().Named("functions"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Caller resolves a bearer token. The service key yields a service caller;
// anything else goes through the verifier.
func (s *Service) Caller(token string) Caller {
	if s.serviceKey != "" && token == s.serviceKey {
		return Caller{Session: models.Anonymous(), Service: true}
	}
	return Caller{Session: s.Session(token)}
}

// Session resolves an access token into a session.
func (s *Service) Session(token string) models.Session {
	if s.verifier == nil {
		return models.Anonymous()
	}
	return s.verifier.Resolve(token)
}

// Invoke runs the server function name with a JSON body and returns its
// result.
func (s *Service) Invoke(ctx context.Context, caller Caller, name string, body json.RawMessage) (interface{}, error) {
	switch name {
	case models.FunctionWithdrawToBank:
		var p models.WithdrawToBankPayload
		if err := decodeBody(body, &p); err != nil {
			return nil, err
		}
		return s.WithdrawToBank(ctx, caller.Session, p)

	case models.FunctionCancelWithdrawal:
		var p models.CancelWithdrawalPayload
		if err := decodeBody(body, &p); err != nil {
			return nil, err
		}
		return s.CancelWithdrawal(ctx, caller.Session, p.WithdrawalID)

	case models.FunctionSettleWithdrawal:
		if !caller.Service {
			return nil, errServiceOnly
		}
		var p models.SettleWithdrawalPayload
		if err := decodeBody(body, &p); err != nil {
			return nil, err
		}
		return s.SettleWithdrawal(ctx, p)

	case models.FunctionCreditBalance:
		if !caller.Service {
			return nil, errServiceOnly
		}
		var p models.CreditBalancePayload
		if err := decodeBody(body, &p); err != nil {
			return nil, err
		}
		return s.CreditBalance(ctx, p)
	}

	return nil, reject(http.StatusNotFound, MsgFunctionNotFound)
}

func decodeBody(body json.RawMessage, v interface{}) error {
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return reject(http.StatusBadRequest, MsgInvalidBody)
	}
	return nil
}

func (s *Service) invalid(err error) error {
	return reject(http.StatusBadRequest, validation.Describe(err))
}

// WithdrawToBank creates a pending withdrawal for the session's user and
// reserves its amount.
func (s *Service) WithdrawToBank(ctx context.Context, sess models.Session, p models.WithdrawToBankPayload) (*models.WithdrawalRequest, error) {
	if !sess.Authenticated() {
		return nil, errUnauthenticated
	}

	p.BankAccount = strings.TrimSpace(p.BankAccount)
	p.AccountNumber = strings.TrimSpace(p.AccountNumber)
	p.BankCode = strings.TrimSpace(p.BankCode)
	if err := s.validate.Struct(p); err != nil {
		return nil, s.invalid(err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	w := &models.WithdrawalRequest{
		ID:            s.newID(),
		UserID:        sess.UserID,
		Amount:        p.Amount,
		BankAccount:   p.BankAccount,
		AccountNumber: p.AccountNumber,
		BankCode:      p.BankCode,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return nil, reject(http.StatusUnprocessableEntity, MsgInsufficientBalance)
		}
		return nil, err
	}

	s.metrics.RecordTransition("new", string(models.StatusPending))
	s.logger.Info("withdrawal created",
		logging.UserID(w.UserID),
		logging.WithdrawalID(w.ID),
		zap.String("amount_ngn", w.Amount.String()),
	)
	return w, nil
}

// CancelWithdrawal cancels one of the session user's pending withdrawals.
func (s *Service) CancelWithdrawal(ctx context.Context, sess models.Session, id string) (*models.WithdrawalRequest, error) {
	if !sess.Authenticated() {
		return nil, errUnauthenticated
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, reject(http.StatusBadRequest, "withdrawal_id is required")
	}

	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}
	if w.UserID != sess.UserID {
		return nil, errNotFound
	}
	if w.Status != models.StatusPending {
		return nil, errNotCancellable
	}

	updated, err := s.store.TransitionWithdrawal(ctx, id, models.StatusCancelled)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidTransition):
			return nil, errNotCancellable
		case errors.Is(err, store.ErrNotFound):
			return nil, errNotFound
		}
		return nil, err
	}

	s.metrics.RecordTransition(string(models.StatusPending), string(models.StatusCancelled))
	s.logger.Info("withdrawal cancelled",
		logging.UserID(sess.UserID),
		logging.WithdrawalID(id),
	)
	return updated, nil
}

// SettleWithdrawal moves a withdrawal along the payout path. Only service
// callers reach it.
func (s *Service) SettleWithdrawal(ctx context.Context, p models.SettleWithdrawalPayload) (*models.WithdrawalRequest, error) {
	p.WithdrawalID = strings.TrimSpace(p.WithdrawalID)
	if err := s.validate.Struct(p); err != nil {
		return nil, s.invalid(err)
	}

	before, err := s.store.GetWithdrawal(ctx, p.WithdrawalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}

	updated, err := s.store.TransitionWithdrawal(ctx, p.WithdrawalID, p.Status)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidTransition):
			return nil, reject(http.StatusConflict, MsgInvalidTransition)
		case errors.Is(err, store.ErrNotFound):
			return nil, errNotFound
		}
		return nil, err
	}

	s.metrics.RecordTransition(string(before.Status), string(p.Status))
	s.logger.Info("withdrawal settled",
		logging.WithdrawalID(p.WithdrawalID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(p.Status)),
	)
	return updated, nil
}

// CreditBalance adds funds to a user's available balance.
func (s *Service) CreditBalance(ctx context.Context, p models.CreditBalancePayload) (*models.BalanceResult, error) {
	p.UserID = strings.TrimSpace(p.UserID)
	if err := s.validate.Struct(p); err != nil {
		return nil, s.invalid(err)
	}

	balance, err := s.store.Credit(ctx, p.UserID, p.Amount)
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance credited",
		logging.UserID(p.UserID),
		zap.String("amount_ngn", p.Amount.String()),
	)
	return &models.BalanceResult{UserID: p.UserID, Available: balance}, nil
}

// QueryRows reads a row collection. Non-service callers only see their own
// rows; an unauthenticated caller sees none.
func (s *Service) QueryRows(ctx context.Context, caller Caller, table string, q RowQuery) ([]models.WithdrawalRequest, error) {
	if table != models.TableWithdrawals {
		return nil, reject(http.StatusNotFound, MsgTableNotFound)
	}

	for column := range q.Filter {
		if !filterable[column] {
			return nil, reject(http.StatusBadRequest, "cannot filter on column "+column)
		}
	}
	if q.Order != "" && q.Order != "created_at" && q.Order != "updated_at" {
		return nil, reject(http.StatusBadRequest, "cannot order by column "+q.Order)
	}

	userID := q.Filter["user_id"]
	if !caller.Service {
		if !caller.Session.Authenticated() {
			return []models.WithdrawalRequest{}, nil
		}
		if userID != "" && userID != caller.Session.UserID {
			return []models.WithdrawalRequest{}, nil
		}
		userID = caller.Session.UserID
	}
	if userID == "" {
		return nil, reject(http.StatusBadRequest, "user_id filter is required")
	}

	rows, err := s.store.ListWithdrawals(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, w := range rows {
		if v, ok := q.Filter["status"]; ok && string(w.Status) != v {
			continue
		}
		if v, ok := q.Filter["id"]; ok && w.ID != v {
			continue
		}
		out = append(out, w)
	}

	orderRows(out, q)
	return out, nil
}

var filterable = map[string]bool{
	"user_id": true,
	"status":  true,
	"id":      true,
}
