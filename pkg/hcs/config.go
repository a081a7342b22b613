package hcs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// FunctionName is the server function name topic creation is served under.
const FunctionName = "create-hcs-topic"

// DefaultMemo is applied when a topic is created without a memo.
const DefaultMemo = "PropChain Property Topic"

// Secret holds a credential. It never prints or serializes its value; use
// Reveal to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reveal returns the secret value.
func (s Secret) Reveal() string {
	return string(s)
}

// Config is the ledger operator configuration, passed explicitly at startup.
type Config struct {
	OperatorAccountID  string        `mapstructure:"operator_account_id" json:"operator_account_id"`
	OperatorPrivateKey Secret        `mapstructure:"operator_private_key" json:"operator_private_key"`
	Network            Network       `mapstructure:"network" json:"network"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Network:        NetworkTestnet,
		RequestTimeout: 30 * time.Second,
	}
}

var ErrNotConfigured = errors.New("hcs: operator credentials are not configured")

// Configured reports whether operator credentials are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.OperatorAccountID) != "" && c.OperatorPrivateKey != ""
}

// Validate checks the configuration without contacting the network.
func (c Config) Validate() error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	switch c.Network {
	case NetworkTestnet, NetworkMainnet:
	default:
		return fmt.Errorf("hcs: unknown network %q (want testnet or mainnet)", c.Network)
	}
	return nil
}
