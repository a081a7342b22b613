package mirror

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"propchain/pkg/logging"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg, logging.NewNoOpLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestTreasuryBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/0.0.4242" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"account": "0.0.4242",
			"balance": {
				"balance": 1234500000000,
				"timestamp": "1700000000.123456789",
				"tokens": [
					{"token_id": "0.0.1", "balance": 99},
					{"token_id": "0.0.429274", "balance": 2500750000}
				]
			}
		}`))
	})

	snap, err := c.TreasuryBalance(context.Background(), "0.0.4242")
	if err != nil {
		t.Fatalf("TreasuryBalance failed: %v", err)
	}

	if !snap.BalanceHBAR.Equal(decimal.RequireFromString("12345")) {
		t.Errorf("Expected 12345 HBAR, got %s", snap.BalanceHBAR)
	}
	if !snap.BalanceUSDC.Equal(decimal.RequireFromString("2500.75")) {
		t.Errorf("Expected 2500.75 USDC, got %s", snap.BalanceUSDC)
	}
	want := time.Unix(1700000000, 123456789).UTC()
	if !snap.LastSynced.Equal(want) {
		t.Errorf("Expected last synced %v, got %v", want, snap.LastSynced)
	}
	if snap.TreasuryAddress != "0.0.4242" {
		t.Errorf("Unexpected address %s", snap.TreasuryAddress)
	}
}

func TestTreasuryBalance_NoUSDC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"account":"0.0.1","balance":{"balance":100000000,"tokens":[]}}`))
	})

	snap, err := c.TreasuryBalance(context.Background(), "0.0.1")
	if err != nil {
		t.Fatalf("TreasuryBalance failed: %v", err)
	}
	if !snap.BalanceUSDC.IsZero() {
		t.Errorf("Expected zero USDC, got %s", snap.BalanceUSDC)
	}
	if snap.LastSynced.IsZero() {
		t.Error("Expected last synced to default to now")
	}
}

func TestTreasuryBalance_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{}`, ErrAccountNotFound},
		{"server error", http.StatusInternalServerError, ``, nil},
		{"malformed", http.StatusOK, `{"balance":`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.TreasuryBalance(context.Background(), "0.0.1")
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTreasuryBalance_EmptyAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if _, err := c.TreasuryBalance(context.Background(), " "); err == nil {
		t.Fatal("Expected error for empty address")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"1700000000.000000001", time.Unix(1700000000, 1).UTC()},
		{"1700000000.5", time.Unix(1700000000, 500000000).UTC()},
		{"1700000000", time.Unix(1700000000, 0).UTC()},
		{"", time.Time{}},
		{"abc", time.Time{}},
	}

	for _, tt := range tests {
		if got := parseTimestamp(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
