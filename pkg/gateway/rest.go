package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"propchain/pkg/logging"
	"propchain/pkg/metrics"
	"propchain/pkg/models"
	"propchain/pkg/resilience"

	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20

// Config configures the REST gateway.
type Config struct {
	// BaseURL is the backend root, e.g. https://project.example.co.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// AnonKey is sent as the apikey header on every request.
	AnonKey    string                     `mapstructure:"anon_key"`
	Resilience resilience.ResilientConfig `mapstructure:"resilience"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8080",
		Resilience: resilience.DefaultResilientConfig(),
	}
}

// REST talks to the backend over HTTP. Calls share one circuit breaker;
// rejections do not count against it.
type REST struct {
	base    *url.URL
	anonKey string
	client  *http.Client
	breaker *resilience.Breaker
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

type Option func(*REST)

func WithHTTPClient(c *http.Client) Option {
	return func(r *REST) { r.client = c }
}

func WithMetrics(c metrics.MetricsCollector) Option {
	return func(r *REST) { r.metrics = metrics.OrNoOp(c) }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *REST) { r.logger = logging.OrGlobal(l).Named("gateway") }
}

func NewREST(cfg Config, opts ...Option) (*REST, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", cfg.BaseURL)
	}

	r := &REST{
		base:    base,
		anonKey: cfg.AnonKey,
		client:  &http.Client{},
		metrics: metrics.NoOpCollector{},
		logger:  logging.Global().Named("gateway"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.breaker = resilience.NewBreaker("gateway", cfg.Resilience,
		resilience.WithMetrics(r.metrics),
		resilience.WithLogger(r.logger),
		resilience.WithSuccessful(IsRejected),
	)

	return r, nil
}

// Breaker exposes the breaker guarding the gateway.
func (r *REST) Breaker() *resilience.Breaker {
	return r.breaker
}

func (r *REST) endpoint(path string, query url.Values) string {
	u := *r.base
	u.Path = r.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (r *REST) QueryRows(ctx context.Context, sess models.Session, table string, q Query) ([]Row, error) {
	op := queryOp(table)

	values := url.Values{}
	values.Set("select", "*")
	columns := make([]string, 0, len(q.Filter))
	for column := range q.Filter {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		values.Set(column, "eq."+q.Filter[column])
	}
	if q.Order != nil {
		dir := "asc"
		if q.Order.Descending {
			dir = "desc"
		}
		values.Set("order", q.Order.Column+"."+dir)
	}

	body, err := r.do(ctx, op, http.MethodGet, r.endpoint("/rest/v1/"+url.PathEscape(table), values), sess.AccessToken, nil)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, transportError(op, http.StatusOK, fmt.Errorf("malformed response: %w", err))
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func (r *REST) InvokeServerFunction(ctx context.Context, sess models.Session, name string, payload interface{}) (json.RawMessage, error) {
	op := invokeOp(name)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: encode payload: %w", op, err)
	}

	body, err := r.do(ctx, op, http.MethodPost, r.endpoint("/functions/v1/"+url.PathEscape(name), nil), sess.AccessToken, data)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, transportError(op, http.StatusOK, errors.New("malformed response"))
	}
	return json.RawMessage(body), nil
}

// GetSession resolves accessToken with the backend. An empty, invalid or
// expired token yields an unauthenticated session, not an error.
func (r *REST) GetSession(ctx context.Context, accessToken string) (models.Session, error) {
	if accessToken == "" {
		return models.Anonymous(), nil
	}

	body, err := r.do(ctx, sessionOp, http.MethodGet, r.endpoint("/auth/v1/user", nil), accessToken, nil)
	if err != nil {
		var gerr *Error
		if errors.As(err, &gerr) && gerr.Kind == KindRejected &&
			(gerr.Status == http.StatusUnauthorized || gerr.Status == http.StatusForbidden) {
			return models.Anonymous(), nil
		}
		return models.Session{State: models.SessionUnknown}, err
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &user); err != nil || user.ID == "" {
		return models.Session{State: models.SessionUnknown},
			transportError(sessionOp, http.StatusOK, errors.New("malformed user response"))
	}

	return models.Session{
		State:       models.SessionAuthenticated,
		UserID:      user.ID,
		AccessToken: accessToken,
	}, nil
}

// do performs one guarded round trip and classifies its outcome.
func (r *REST) do(ctx context.Context, op, method, endpoint, token string, payload []byte) ([]byte, error) {
	start := time.Now()

	result, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return r.roundTrip(ctx, op, method, endpoint, token, payload)
	})

	outcome := metrics.OutcomeSuccess
	if err != nil {
		var gerr *Error
		if !errors.As(err, &gerr) {
			err = transportError(op, 0, err)
		}
		outcome = metrics.OutcomeTransport
		if IsRejected(err) {
			outcome = metrics.OutcomeRejected
		}
	}
	r.metrics.RecordGatewayCall(op, outcome, time.Since(start))

	if err != nil {
		if IsTransport(err) {
			r.logger.Warn("call failed", logging.Operation(op), zap.Error(err))
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (r *REST) roundTrip(ctx context.Context, op, method, endpoint, token string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, transportError(op, 0, err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.anonKey != "" {
		req.Header.Set("apikey", r.anonKey)
	}
	if token == "" {
		token = r.anonKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, transportError(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(op, resp.StatusCode, body)
}

// classify turns a non-2xx response into an Error. Only a 4xx carrying an
// explanation counts as a rejection.
func classify(op string, status int, body []byte) *Error {
	if status < 400 || status >= 500 {
		return transportError(op, status, nil)
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return transportError(op, status, fmt.Errorf("malformed error response: %w", err))
	}

	msg := strings.TrimSpace(payload.Error)
	if msg == "" {
		msg = strings.TrimSpace(payload.Message)
	}
	if msg == "" {
		return transportError(op, status, nil)
	}
	return rejectedError(op, status, msg)
}
