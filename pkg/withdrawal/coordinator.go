// Package withdrawal drives the user's withdrawal operations. Every
// operation makes at most one backend call, invalidates the cached views the
// write made stale and reports its outcome once. Nothing is retried.
package withdrawal

import (
	"bytes"
	"context"
	"strings"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/cache/manager"
	"propchain/pkg/gateway"
	"propchain/pkg/logging"
	"propchain/pkg/models"
	"propchain/pkg/notify"
	"propchain/pkg/validation"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Input is what a user submits to withdraw NGN to a bank account.
type Input struct {
	Amount        decimal.Decimal `json:"amount_ngn" validate:"amount"`
	BankAccount   string          `json:"bank_account" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required"`
	BankCode      string          `json:"bank_code" validate:"required"`
}

func (in Input) normalized() Input {
	in.BankAccount = strings.TrimSpace(in.BankAccount)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.BankCode = strings.TrimSpace(in.BankCode)
	return in
}

type Coordinator struct {
	gateway  gateway.Gateway
	cache    *manager.Manager
	sink     notify.Sink
	treasury string
	validate *validator.Validate
	logger   *logging.Logger
}

type Option func(*Coordinator)

// WithCache reads lists through m and invalidates through it after writes.
func WithCache(m *manager.Manager) Option {
	return func(c *Coordinator) { c.cache = m }
}

func WithSink(s notify.Sink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithTreasuryAddress names the treasury whose balance view a new withdrawal
// makes stale.
func WithTreasuryAddress(addr string) Option {
	return func(c *Coordinator) { c.treasury = strings.TrimSpace(addr) }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrGlobal(l).Named("coordinator") }
}

func New(gw gateway.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		gateway:  gw,
		validate: validation.New(),
		logger:   logging.Global().Named("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = notify.NewLogSink(c.logger)
	}
	return c
}

// InitiateWithdrawal asks the backend to create a pending withdrawal for the
// session's user.
func (c *Coordinator) InitiateWithdrawal(ctx context.Context, sess models.Session, in Input) (*models.WithdrawalRequest, error) {
	const title = "Withdrawal failed"
	op := models.FunctionWithdrawToBank

	if !sess.Authenticated() {
		return nil, c.fail(ctx, sess, op, title, ErrUnauthenticated)
	}

	in = in.normalized()
	if err := c.validate.Struct(in); err != nil {
		return nil, c.fail(ctx, sess, op, title, newValidationError(err))
	}

	start := time.Now()
	raw, err := c.gateway.InvokeServerFunction(ctx, sess, op, models.WithdrawToBankPayload{
		Amount:        in.Amount,
		BankAccount:   in.BankAccount,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
	})
	if err != nil {
		return nil, c.fail(ctx, sess, op, title, err)
	}

	w, err := gateway.Decode[models.WithdrawalRequest](op, raw)
	if err != nil {
		return nil, c.fail(ctx, sess, op, title, err)
	}

	c.invalidate(ctx, cache.OpWithdrawalInitiate, sess.UserID)

	c.logger.Info("withdrawal initiated",
		logging.UserID(sess.UserID),
		logging.WithdrawalID(w.ID),
		zap.String("amount_ngn", w.Amount.String()),
		zap.Duration("took", time.Since(start)),
	)
	c.notify(ctx, sess, notify.Success(op, "Withdrawal requested",
		"Your withdrawal of NGN "+w.Amount.StringFixed(2)+" is pending."))
	return &w, nil
}

// CancelWithdrawal asks the backend to cancel a withdrawal. Only pending
// requests can be cancelled; the backend decides and its refusal is returned
// unchanged.
func (c *Coordinator) CancelWithdrawal(ctx context.Context, sess models.Session, id string) (*models.WithdrawalRequest, error) {
	const title = "Cancellation failed"
	op := models.FunctionCancelWithdrawal

	if !sess.Authenticated() {
		return nil, c.fail(ctx, sess, op, title, ErrUnauthenticated)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, c.fail(ctx, sess, op, title, &ValidationError{
			Fields:  []string{"withdrawal_id"},
			Message: "withdrawal_id is required",
		})
	}

	raw, err := c.gateway.InvokeServerFunction(ctx, sess, op, models.CancelWithdrawalPayload{WithdrawalID: id})
	if err != nil {
		return nil, c.fail(ctx, sess, op, title, err)
	}

	// A backend that answers without a body still cancelled the request.
	w := models.WithdrawalRequest{ID: id, UserID: sess.UserID, Status: models.StatusCancelled}
	if body := bytes.TrimSpace(raw); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		if w, err = gateway.Decode[models.WithdrawalRequest](op, raw); err != nil {
			return nil, c.fail(ctx, sess, op, title, err)
		}
	}

	c.invalidate(ctx, cache.OpWithdrawalCancel, sess.UserID)

	c.logger.Info("withdrawal cancelled", logging.UserID(sess.UserID), logging.WithdrawalID(id))
	c.notify(ctx, sess, notify.Success(op, "Withdrawal cancelled", "Your withdrawal has been cancelled."))
	return &w, nil
}

// ListWithdrawals returns the user's requests, newest first. It is empty,
// without a backend call, for an anonymous session, an empty user id or a user
// id other than the session's own. The cached list is keyed by user, so it is
// only ever read or filled on behalf of its owner.
func (c *Coordinator) ListWithdrawals(ctx context.Context, sess models.Session, userID string) ([]models.WithdrawalRequest, error) {
	userID = strings.TrimSpace(userID)
	if !sess.Authenticated() || userID == "" || userID != sess.UserID {
		return []models.WithdrawalRequest{}, nil
	}

	fetch := func(ctx context.Context) ([]models.WithdrawalRequest, error) {
		return c.fetchWithdrawals(ctx, sess, userID)
	}

	var (
		list []models.WithdrawalRequest
		err  error
	)
	if c.cache != nil {
		list, err = manager.Load(ctx, c.cache, cache.WithdrawalListKey(userID), fetch)
	} else {
		list, err = fetch(ctx)
	}
	if err != nil {
		c.logger.Warn("withdrawal list unavailable", logging.UserID(userID), zap.Error(err))
		return nil, err
	}

	out := make([]models.WithdrawalRequest, len(list))
	copy(out, list)
	models.SortNewestFirst(out)
	return out, nil
}

func (c *Coordinator) fetchWithdrawals(ctx context.Context, sess models.Session, userID string) ([]models.WithdrawalRequest, error) {
	rows, err := c.gateway.QueryRows(ctx, sess, models.TableWithdrawals, gateway.Query{
		Filter: map[string]string{"user_id": userID},
		Order:  &gateway.Order{Column: "created_at", Descending: true},
	})
	if err != nil {
		return nil, err
	}

	list, err := gateway.DecodeRows[models.WithdrawalRequest](models.TableWithdrawals, rows)
	if err != nil {
		return nil, err
	}
	models.SortNewestFirst(list)
	return list, nil
}

// invalidate drops the views op made stale. The write already succeeded, so
// failures are only logged.
func (c *Coordinator) invalidate(ctx context.Context, op cache.Operation, userID string) {
	if c.cache == nil {
		return
	}
	scope := cache.Scope{UserID: userID, TreasuryAddress: c.treasury}
	if err := c.cache.Invalidate(ctx, op, scope); err != nil {
		c.logger.Warn("cache invalidation incomplete",
			logging.Operation(string(op)),
			logging.UserID(userID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) fail(ctx context.Context, sess models.Session, op, title string, err error) error {
	fields := []zap.Field{logging.Operation(op), logging.UserID(sess.UserID), zap.Error(err)}
	switch {
	case gateway.IsRejected(err):
		c.logger.Info("operation rejected", fields...)
	case gateway.IsTransport(err):
		c.logger.Warn("operation failed", fields...)
	default:
		c.logger.Debug("operation refused locally", fields...)
	}

	c.notify(ctx, sess, notify.ForError(op, title, err))
	return err
}

func (c *Coordinator) notify(ctx context.Context, sess models.Session, n notify.Notification) {
	n.UserID = sess.UserID
	c.sink.Notify(ctx, n)
}
