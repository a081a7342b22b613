package withdrawal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"propchain/pkg/cache"
	"propchain/pkg/cache/manager"
	"propchain/pkg/cache/memory"
	"propchain/pkg/functions"
	"propchain/pkg/gateway"
	"propchain/pkg/logging"
	"propchain/pkg/models"
	"propchain/pkg/notify"
	"propchain/pkg/session"
	"propchain/pkg/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const treasury = "0.0.5005"

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) QueryRows(ctx context.Context, sess models.Session, table string, q gateway.Query) ([]gateway.Row, error) {
	args := m.Called(ctx, sess, table, q)
	rows, _ := args.Get(0).([]gateway.Row)
	return rows, args.Error(1)
}

func (m *mockGateway) InvokeServerFunction(ctx context.Context, sess models.Session, name string, payload interface{}) (json.RawMessage, error) {
	args := m.Called(ctx, sess, name, payload)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockGateway) GetSession(ctx context.Context, accessToken string) (models.Session, error) {
	args := m.Called(ctx, accessToken)
	return args.Get(0).(models.Session), args.Error(1)
}

type fixture struct {
	gw       *mockGateway
	store    *memory.MemoryCache
	cache    *manager.Manager
	recorder *notify.Recorder
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:       &mockGateway{},
		store:    memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "test", DefaultTTL: time.Minute}),
		recorder: notify.NewRecorder(),
	}
	t.Cleanup(func() { f.store.Close() })

	f.cache = manager.New(f.store, nil, manager.WithLogger(logging.NewNoOpLogger()))
	f.coord = New(f.gw,
		WithCache(f.cache),
		WithSink(f.recorder),
		WithTreasuryAddress(treasury),
		WithLogger(logging.NewNoOpLogger()),
	)
	return f
}

func signedIn(userID string) models.Session {
	return models.Session{State: models.SessionAuthenticated, UserID: userID, AccessToken: "token-" + userID}
}

func validInput() Input {
	return Input{
		Amount:        decimal.NewFromInt(50000),
		BankAccount:   "Test Bank",
		AccountNumber: "0123456789",
		BankCode:      "044",
	}
}

func encode(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func request(id, userID string, status models.WithdrawalStatus, created time.Time) models.WithdrawalRequest {
	return models.WithdrawalRequest{
		ID:            id,
		UserID:        userID,
		Amount:        decimal.NewFromInt(1000),
		BankAccount:   "Test Bank",
		AccountNumber: "0123456789",
		BankCode:      "044",
		Status:        status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func rejection(op string, status int, msg string) error {
	return &gateway.Error{Kind: gateway.KindRejected, Op: op, Status: status, Message: msg}
}

func transport(op string) error {
	return &gateway.Error{Kind: gateway.KindTransport, Op: op, Err: errors.New("connection refused")}
}

func TestInitiateWithdrawal_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	created := request("w-1", "user-1", models.StatusPending, time.Now().UTC())
	created.Amount = decimal.NewFromInt(50000)

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionWithdrawToBank,
		models.WithdrawToBankPayload{
			Amount:        decimal.NewFromInt(50000),
			BankAccount:   "Test Bank",
			AccountNumber: "0123456789",
			BankCode:      "044",
		}).Return(encode(t, created), nil).Once()

	// Seed the views the write makes stale.
	require.NoError(t, f.store.Set(ctx, cache.WithdrawalListKey("user-1"), []models.WithdrawalRequest{}, 0))
	require.NoError(t, f.store.Set(ctx, cache.TreasuryBalanceKey(treasury), "snapshot", 0))

	w, err := f.coord.InitiateWithdrawal(ctx, sess, validInput())
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.ID)
	assert.Equal(t, models.StatusPending, w.Status)

	_, err = f.store.Get(ctx, cache.WithdrawalListKey("user-1"))
	assert.True(t, cache.IsNotFound(err), "withdrawal list must be invalidated")
	_, err = f.store.Get(ctx, cache.TreasuryBalanceKey(treasury))
	assert.True(t, cache.IsNotFound(err), "balance view must be invalidated")

	require.Equal(t, 1, f.recorder.Len())
	n, _ := f.recorder.Last()
	assert.Equal(t, notify.KindSuccess, n.Kind)
	assert.Equal(t, "user-1", n.UserID)

	f.gw.AssertExpectations(t)
}

func TestInitiateWithdrawal_TrimsInput(t *testing.T) {
	f := newFixture(t)
	sess := signedIn("user-1")

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionWithdrawToBank,
		mock.MatchedBy(func(p models.WithdrawToBankPayload) bool {
			return p.BankAccount == "Test Bank" && p.AccountNumber == "0123456789" && p.BankCode == "044"
		})).Return(encode(t, request("w-1", "user-1", models.StatusPending, time.Now())), nil).Once()

	in := validInput()
	in.BankAccount = "  Test Bank "
	in.AccountNumber = "0123456789\n"
	in.BankCode = " 044"

	_, err := f.coord.InitiateWithdrawal(context.Background(), sess, in)
	require.NoError(t, err)
	f.gw.AssertExpectations(t)
}

func TestInitiateWithdrawal_InvalidInputMakesNoCall(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Input)
		field string
	}{
		{"zero amount", func(in *Input) { in.Amount = decimal.Zero }, "amount_ngn"},
		{"negative amount", func(in *Input) { in.Amount = decimal.NewFromInt(-5) }, "amount_ngn"},
		{"too many decimals", func(in *Input) { in.Amount = decimal.RequireFromString("10.001") }, "amount_ngn"},
		{"blank bank account", func(in *Input) { in.BankAccount = "   " }, "bank_account"},
		{"missing account number", func(in *Input) { in.AccountNumber = "" }, "account_number"},
		{"missing bank code", func(in *Input) { in.BankCode = "" }, "bank_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tt.edit(&in)

			w, err := f.coord.InitiateWithdrawal(context.Background(), signedIn("user-1"), in)
			assert.Nil(t, w)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)

			require.Equal(t, 1, f.recorder.Len())
			n, _ := f.recorder.Last()
			assert.Equal(t, notify.KindError, n.Kind)
			assert.Equal(t, verr.UserMessage(), n.Message)

			f.gw.AssertNotCalled(t, "InvokeServerFunction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestInitiateWithdrawal_Unauthenticated(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.InitiateWithdrawal(context.Background(), models.Anonymous(), validInput())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	f.gw.AssertNotCalled(t, "InvokeServerFunction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.recorder.Len())
}

func TestInitiateWithdrawal_RejectionIsVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionWithdrawToBank, mock.Anything).
		Return(nil, rejection("invoke:withdraw-to-bank", http.StatusUnprocessableEntity, "Insufficient balance")).Once()

	require.NoError(t, f.store.Set(ctx, cache.WithdrawalListKey("user-1"), []models.WithdrawalRequest{}, 0))

	_, err := f.coord.InitiateWithdrawal(ctx, sess, validInput())
	require.Error(t, err)
	assert.True(t, gateway.IsRejected(err))

	n, ok := f.recorder.Last()
	require.True(t, ok)
	assert.Equal(t, notify.KindError, n.Kind)
	assert.Equal(t, "Insufficient balance", n.Message)
	assert.Equal(t, 1, f.recorder.Len())

	_, err = f.store.Get(ctx, cache.WithdrawalListKey("user-1"))
	assert.NoError(t, err, "a failed write must not invalidate anything")
}

func TestInitiateWithdrawal_TransportFailureIsGeneric(t *testing.T) {
	f := newFixture(t)
	sess := signedIn("user-1")

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionWithdrawToBank, mock.Anything).
		Return(nil, transport("invoke:withdraw-to-bank")).Once()

	_, err := f.coord.InitiateWithdrawal(context.Background(), sess, validInput())
	assert.True(t, gateway.IsTransport(err))

	n, _ := f.recorder.Last()
	assert.Equal(t, notify.GenericFailure, n.Message)
	f.gw.AssertNumberOfCalls(t, "InvokeServerFunction", 1)
}

func TestInitiateWithdrawal_MalformedResponse(t *testing.T) {
	f := newFixture(t)
	sess := signedIn("user-1")

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionWithdrawToBank, mock.Anything).
		Return(json.RawMessage(`{"id":`), nil).Once()

	_, err := f.coord.InitiateWithdrawal(context.Background(), sess, validInput())
	assert.True(t, gateway.IsTransport(err))

	n, _ := f.recorder.Last()
	assert.Equal(t, notify.GenericFailure, n.Message)
}

func TestCancelWithdrawal_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	cancelled := request("w-1", "user-1", models.StatusCancelled, time.Now().UTC())
	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionCancelWithdrawal,
		models.CancelWithdrawalPayload{WithdrawalID: "w-1"}).Return(encode(t, cancelled), nil).Once()

	require.NoError(t, f.store.Set(ctx, cache.WithdrawalListKey("user-1"), []models.WithdrawalRequest{}, 0))
	require.NoError(t, f.store.Set(ctx, cache.TreasuryBalanceKey(treasury), "snapshot", 0))

	w, err := f.coord.CancelWithdrawal(ctx, sess, " w-1 ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, w.Status)

	_, err = f.store.Get(ctx, cache.WithdrawalListKey("user-1"))
	assert.True(t, cache.IsNotFound(err))
	_, err = f.store.Get(ctx, cache.TreasuryBalanceKey(treasury))
	assert.NoError(t, err, "cancel does not touch the balance view")

	n, _ := f.recorder.Last()
	assert.Equal(t, notify.KindSuccess, n.Kind)
}

func TestCancelWithdrawal_EmptyResponse(t *testing.T) {
	f := newFixture(t)
	sess := signedIn("user-1")

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionCancelWithdrawal, mock.Anything).
		Return(json.RawMessage(`null`), nil).Once()

	w, err := f.coord.CancelWithdrawal(context.Background(), sess, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.ID)
	assert.Equal(t, models.StatusCancelled, w.Status)
}

func TestCancelWithdrawal_NotCancellable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	f.gw.On("InvokeServerFunction", mock.Anything, sess, models.FunctionCancelWithdrawal, mock.Anything).
		Return(nil, rejection("invoke:cancel-withdrawal", http.StatusConflict, "Withdrawal is not cancellable")).Once()

	require.NoError(t, f.store.Set(ctx, cache.WithdrawalListKey("user-1"), []models.WithdrawalRequest{}, 0))

	_, err := f.coord.CancelWithdrawal(ctx, sess, "w-1")
	msg, ok := gateway.RejectionMessage(err)
	require.True(t, ok)
	assert.Equal(t, "Withdrawal is not cancellable", msg)

	n, _ := f.recorder.Last()
	assert.Equal(t, "Withdrawal is not cancellable", n.Message)

	_, err = f.store.Get(ctx, cache.WithdrawalListKey("user-1"))
	assert.NoError(t, err)
}

func TestCancelWithdrawal_EmptyID(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.CancelWithdrawal(context.Background(), signedIn("user-1"), "  ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"withdrawal_id"}, verr.Fields)
	f.gw.AssertNotCalled(t, "InvokeServerFunction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListWithdrawals_SortsNewestFirstAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []gateway.Row{
		encode(t, request("w-b", "user-1", models.StatusPending, base.Add(time.Hour))),
		encode(t, request("w-a", "user-1", models.StatusCompleted, base)),
		encode(t, request("w-c", "user-1", models.StatusCancelled, base.Add(2*time.Hour))),
	}

	query := gateway.Query{
		Filter: map[string]string{"user_id": "user-1"},
		Order:  &gateway.Order{Column: "created_at", Descending: true},
	}
	f.gw.On("QueryRows", mock.Anything, sess, models.TableWithdrawals, query).Return(rows, nil).Once()

	list, err := f.coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "w-c", list[0].ID)
	assert.Equal(t, "w-b", list[1].ID)
	assert.Equal(t, "w-a", list[2].ID)

	again, err := f.coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	assert.Equal(t, list, again)

	f.gw.AssertNumberOfCalls(t, "QueryRows", 1)
}

func TestListWithdrawals_RefetchesAfterInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	f.gw.On("QueryRows", mock.Anything, sess, models.TableWithdrawals, mock.Anything).
		Return([]gateway.Row{}, nil).Twice()

	_, err := f.coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)

	require.NoError(t, f.cache.Invalidate(ctx, cache.OpWithdrawalCancel, cache.Scope{UserID: "user-1"}))

	_, err = f.coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	f.gw.AssertNumberOfCalls(t, "QueryRows", 2)
}

func TestListWithdrawals_EmptyWithoutCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.coord.ListWithdrawals(ctx, models.Anonymous(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.coord.ListWithdrawals(ctx, signedIn("user-1"), "")
	require.NoError(t, err)
	assert.Empty(t, list)

	f.gw.AssertNotCalled(t, "QueryRows", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListWithdrawals_FailureIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := signedIn("user-1")

	f.gw.On("QueryRows", mock.Anything, sess, models.TableWithdrawals, mock.Anything).
		Return(nil, transport("query:withdrawal_requests")).Once()
	f.gw.On("QueryRows", mock.Anything, sess, models.TableWithdrawals, mock.Anything).
		Return([]gateway.Row{encode(t, request("w-1", "user-1", models.StatusPending, time.Now()))}, nil).Once()

	_, err := f.coord.ListWithdrawals(ctx, sess, "user-1")
	assert.True(t, gateway.IsTransport(err))
	assert.Equal(t, 0, f.recorder.Len(), "reads do not notify")

	list, err := f.coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListWithdrawals_OtherUsersListIsNeverShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, eve := signedIn("bob"), signedIn("eve")

	eveCoord := New(f.gw, WithCache(f.cache), WithSink(f.recorder), WithLogger(logging.NewNoOpLogger()))

	// Eve asks first: nothing is fetched or cached under bob's key.
	list, err := eveCoord.ListWithdrawals(ctx, eve, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)

	rows := []gateway.Row{encode(t, request("w-bob", "bob", models.StatusPending, time.Now()))}
	f.gw.On("QueryRows", mock.Anything, bob, models.TableWithdrawals, mock.Anything).Return(rows, nil).Once()

	list, err = f.coord.ListWithdrawals(ctx, bob, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "w-bob", list[0].ID)

	// Bob's list is now cached; eve still gets nothing from it.
	list, err = eveCoord.ListWithdrawals(ctx, eve, " bob ")
	require.NoError(t, err)
	assert.Empty(t, list)

	f.gw.AssertNumberOfCalls(t, "QueryRows", 1)
	f.gw.AssertNotCalled(t, "QueryRows", mock.Anything, eve, mock.Anything, mock.Anything)
}

func TestListWithdrawals_WithoutCache(t *testing.T) {
	gw := &mockGateway{}
	coord := New(gw, WithLogger(logging.NewNoOpLogger()))
	sess := signedIn("user-1")

	gw.On("QueryRows", mock.Anything, sess, models.TableWithdrawals, mock.Anything).Return([]gateway.Row{}, nil).Twice()

	for i := 0; i < 2; i++ {
		_, err := coord.ListWithdrawals(context.Background(), sess, "user-1")
		require.NoError(t, err)
	}
	gw.AssertNumberOfCalls(t, "QueryRows", 2)
}

// The full withdrawal round trip against the in-process backend.
func TestWithdrawalLifecycle_Local(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemory()
	_, err := st.Credit(ctx, "user-1", decimal.NewFromInt(100000))
	require.NoError(t, err)

	verifier, err := session.NewVerifier("test-secret", "propchain")
	require.NoError(t, err)
	svc := functions.NewService(st, functions.WithVerifier(verifier), functions.WithLogger(logging.NewNoOpLogger()))

	token, err := verifier.Issue("user-1", time.Hour)
	require.NoError(t, err)
	gw := gateway.NewLocal(svc, nil)
	sess, err := gw.GetSession(ctx, token)
	require.NoError(t, err)
	sess.AccessToken = token
	require.True(t, sess.Authenticated())

	layer := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1", DefaultTTL: time.Minute})
	defer layer.Close()
	recorder := notify.NewRecorder()
	coord := New(gw,
		WithCache(manager.New(layer, nil, manager.WithLogger(logging.NewNoOpLogger()))),
		WithSink(recorder),
		WithTreasuryAddress(treasury),
		WithLogger(logging.NewNoOpLogger()),
	)

	before, err := coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	assert.Empty(t, before)

	w, err := coord.InitiateWithdrawal(ctx, sess, validInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, w.Status)
	assert.True(t, w.Amount.Equal(decimal.NewFromInt(50000)))

	list, err := coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusPending, list[0].Status)

	cancelled, err := coord.CancelWithdrawal(ctx, sess, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	list, err = coord.ListWithdrawals(ctx, sess, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusCancelled, list[0].Status)

	_, err = coord.CancelWithdrawal(ctx, sess, w.ID)
	msg, ok := gateway.RejectionMessage(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, functions.MsgNotCancellable, msg)

	stored, err := st.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	balance, err := st.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100000)), "cancel refunds the reserved amount")

	kinds := make([]notify.Kind, 0, recorder.Len())
	for _, n := range recorder.Notifications() {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []notify.Kind{notify.KindSuccess, notify.KindSuccess, notify.KindError}, kinds)
}
