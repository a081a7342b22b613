// Package mirror reads account balances from a Hedera mirror node.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"propchain/pkg/logging"
	"propchain/pkg/models"
	"propchain/pkg/resilience"

	"github.com/shopspring/decimal"
)

const (
	// HBARDecimals is the number of tinybar places in one HBAR.
	HBARDecimals = 8

	TestnetURL = "https://testnet.mirrornode.hedera.com"
	MainnetURL = "https://mainnet.mirrornode.hedera.com"
)

var ErrAccountNotFound = errors.New("mirror: account not found")

type Config struct {
	BaseURL string `mapstructure:"base_url"`
	// USDCTokenID is the token whose balance is reported as USDC.
	USDCTokenID  string                     `mapstructure:"usdc_token_id"`
	USDCDecimals int32                      `mapstructure:"usdc_decimals"`
	Resilience   resilience.ResilientConfig `mapstructure:"resilience"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      TestnetURL,
		USDCTokenID:  "0.0.429274",
		USDCDecimals: 6,
		Resilience:   resilience.DefaultResilientConfig(),
	}
}

// Client reads treasury balances. Reads go through a circuit breaker so a
// down mirror node fails fast.
type Client struct {
	base    string
	config  Config
	http    *http.Client
	breaker *resilience.Breaker
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func NewClient(cfg Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mirror: invalid base url %q", cfg.BaseURL)
	}

	c := &Client{
		base:   base,
		config: cfg,
		http:   &http.Client{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = resilience.NewBreaker("mirror", cfg.Resilience,
		resilience.WithLogger(logger),
		resilience.WithSuccessful(func(err error) bool { return errors.Is(err, ErrAccountNotFound) }),
	)
	return c, nil
}

type accountResponse struct {
	Account string `json:"account"`
	Balance struct {
		Balance   int64  `json:"balance"`
		Timestamp string `json:"timestamp"`
		Tokens    []struct {
			TokenID string `json:"token_id"`
			Balance int64  `json:"balance"`
		} `json:"tokens"`
	} `json:"balance"`
}

// TreasuryBalance reads the HBAR and USDC balances of address and returns
// them as one snapshot.
func (c *Client) TreasuryBalance(ctx context.Context, address string) (*models.BalanceSnapshot, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("mirror: empty address")
	}

	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.fetch(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	account := result.(*accountResponse)

	usdc := decimal.Zero
	for _, token := range account.Balance.Tokens {
		if token.TokenID == c.config.USDCTokenID {
			usdc = decimal.New(token.Balance, -c.config.USDCDecimals)
			break
		}
	}

	synced := parseTimestamp(account.Balance.Timestamp)
	if synced.IsZero() {
		synced = c.now().UTC()
	}

	return &models.BalanceSnapshot{
		TreasuryAddress: address,
		BalanceHBAR:     decimal.New(account.Balance.Balance, -HBARDecimals),
		BalanceUSDC:     usdc,
		LastSynced:      synced,
	}, nil
}

func (c *Client) fetch(ctx context.Context, address string) (*accountResponse, error) {
	endpoint := c.base + "/api/v1/accounts/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrAccountNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("mirror: unexpected status %d", resp.StatusCode)
	}

	var account accountResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&account); err != nil {
		return nil, fmt.Errorf("mirror: decode account: %w", err)
	}
	return &account, nil
}

// parseTimestamp reads a mirror node "seconds.nanoseconds" timestamp.
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}

	secPart, nanoPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}

	var nanos int64
	if nanoPart != "" {
		nanoPart = (nanoPart + "000000000")[:9]
		nanos, err = strconv.ParseInt(nanoPart, 10, 64)
		if err != nil {
			return time.Time{}
		}
	}
	return time.Unix(sec, nanos).UTC()
}
