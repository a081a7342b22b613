// Package config loads the settings of both binaries from an optional YAML
// file and PROPCHAIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"propchain/pkg/api"
	"propchain/pkg/cache/memory"
	"propchain/pkg/cache/redis"
	"propchain/pkg/gateway"
	"propchain/pkg/hcs"
	"propchain/pkg/logging"
	"propchain/pkg/mirror"
	"propchain/pkg/observer"
	"propchain/pkg/resilience"
	"propchain/pkg/store"
	"propchain/pkg/validation"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PROPCHAIN_SERVER_ADDRESS.
const EnvPrefix = "PROPCHAIN"

type Config struct {
	Server   api.ServerConfig `mapstructure:"server"`
	Database DatabaseConfig   `mapstructure:"database"`
	Redis    RedisConfig      `mapstructure:"redis"`
	Auth     AuthConfig       `mapstructure:"auth"`
	Ledger   hcs.Config       `mapstructure:"ledger"`
	Mirror   mirror.Config    `mapstructure:"mirror"`
	Gateway  gateway.Config   `mapstructure:"gateway"`
	Observer observer.Config  `mapstructure:"observer"`
	Logging  logging.Config   `mapstructure:"logging"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Client   ClientConfig     `mapstructure:"client"`
	Cache    CacheConfig      `mapstructure:"cache"`
}

// DatabaseConfig selects the withdrawal store. The memory driver keeps
// nothing across restarts.
type DatabaseConfig struct {
	Driver   string               `mapstructure:"driver" validate:"oneof=memory postgres"`
	Postgres store.PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the shared L2 cache of the client. It is off unless
// Enabled is set.
type RedisConfig struct {
	Enabled bool                   `mapstructure:"enabled"`
	Cache   redis.RedisCacheConfig `mapstructure:"cache"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies user access tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	// ServiceKey identifies backend callers of the settlement functions.
	ServiceKey string `mapstructure:"service_key"`
	// AnonKey is the public key every client sends as apikey.
	AnonKey string `mapstructure:"anon_key"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ClientConfig holds the settings only the client binary reads.
type ClientConfig struct {
	AccessToken     string        `mapstructure:"access_token"`
	SessionInterval time.Duration `mapstructure:"session_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	TTL        time.Duration              `mapstructure:"ttl"`
	Memory     memory.MemoryCacheConfig   `mapstructure:"memory"`
	Resilience resilience.ResilientConfig `mapstructure:"resilience"`
}

func Default() Config {
	return Config{
		Server: api.DefaultServerConfig(),
		Database: DatabaseConfig{
			Driver:   "memory",
			Postgres: store.DefaultPostgresConfig(),
		},
		Redis: RedisConfig{Cache: redis.DefaultRedisCacheConfig()},
		Auth: AuthConfig{
			Issuer: "propchain",
		},
		Ledger:   hcs.DefaultConfig(),
		Mirror:   mirror.DefaultConfig(),
		Gateway:  gateway.DefaultConfig(),
		Observer: observer.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "propchain",
			Path:      "/metrics",
		},
		Client: ClientConfig{
			SessionInterval: time.Minute,
			Timeout:         30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:        15 * time.Second,
			Memory:     memory.DefaultMemoryCacheConfig(),
			Resilience: resilience.DefaultResilientConfig(),
		},
	}
}

// Load reads path, when non-empty, then the environment, over Default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrInvalid wraps every validation failure of Validate.
var ErrInvalid = errors.New("config: invalid configuration")

// Validate checks field constraints. The ledger section is checked only when
// operator credentials are present, since topic creation is optional.
func (c *Config) Validate() error {
	if err := validation.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, validation.Describe(err))
	}
	if c.Ledger.Configured() {
		if err := c.Ledger.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("%w: database.postgres.dsn is required for the postgres driver", ErrInvalid)
	}
	return nil
}

// setDefaults registers every key so environment variables can override keys
// the config file does not mention.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.enable_pprof", d.Server.EnablePprof)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.postgres.dsn", d.Database.Postgres.DSN)
	v.SetDefault("database.postgres.max_open_conns", d.Database.Postgres.MaxOpenConns)
	v.SetDefault("database.postgres.max_idle_conns", d.Database.Postgres.MaxIdleConns)
	v.SetDefault("database.postgres.conn_max_lifetime", d.Database.Postgres.ConnMaxLifetime)
	v.SetDefault("database.postgres.migrate", d.Database.Postgres.Migrate)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.cache.name", d.Redis.Cache.Name)
	v.SetDefault("redis.cache.addr", d.Redis.Cache.Addr)
	v.SetDefault("redis.cache.cluster_addrs", d.Redis.Cache.ClusterAddrs)
	v.SetDefault("redis.cache.username", d.Redis.Cache.Username)
	v.SetDefault("redis.cache.password", d.Redis.Cache.Password)
	v.SetDefault("redis.cache.db", d.Redis.Cache.DB)
	v.SetDefault("redis.cache.key_prefix", d.Redis.Cache.KeyPrefix)
	v.SetDefault("redis.cache.dial_timeout", d.Redis.Cache.DialTimeout)
	v.SetDefault("redis.cache.write_timeout", d.Redis.Cache.WriteTimeout)
	v.SetDefault("redis.cache.sentinel_addrs", d.Redis.Cache.SentinelAddrs)
	v.SetDefault("redis.cache.sentinel_master_set", d.Redis.Cache.SentinelMasterSet)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.service_key", d.Auth.ServiceKey)
	v.SetDefault("auth.anon_key", d.Auth.AnonKey)

	v.SetDefault("ledger.operator_account_id", d.Ledger.OperatorAccountID)
	v.SetDefault("ledger.operator_private_key", d.Ledger.OperatorPrivateKey.Reveal())
	v.SetDefault("ledger.network", string(d.Ledger.Network))
	v.SetDefault("ledger.request_timeout", d.Ledger.RequestTimeout)

	v.SetDefault("mirror.base_url", d.Mirror.BaseURL)
	v.SetDefault("mirror.usdc_token_id", d.Mirror.USDCTokenID)
	v.SetDefault("mirror.usdc_decimals", d.Mirror.USDCDecimals)
	setResilienceDefaults(v, "mirror.resilience", d.Mirror.Resilience)

	v.SetDefault("gateway.base_url", d.Gateway.BaseURL)
	v.SetDefault("gateway.anon_key", d.Gateway.AnonKey)
	setResilienceDefaults(v, "gateway.resilience", d.Gateway.Resilience)

	v.SetDefault("observer.interval", d.Observer.Interval)
	v.SetDefault("observer.treasury_address", d.Observer.TreasuryAddress)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)
	v.SetDefault("logging.error_output_paths", d.Logging.ErrorOutputPaths)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.enable_caller", d.Logging.EnableCaller)
	v.SetDefault("logging.enable_stacktrace", d.Logging.EnableStacktrace)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("client.access_token", d.Client.AccessToken)
	v.SetDefault("client.session_interval", d.Client.SessionInterval)
	v.SetDefault("client.timeout", d.Client.Timeout)

	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.memory.name", d.Cache.Memory.Name)
	v.SetDefault("cache.memory.max_size", d.Cache.Memory.MaxSize)
	v.SetDefault("cache.memory.default_ttl", d.Cache.Memory.DefaultTTL)
	v.SetDefault("cache.memory.cleanup_interval", d.Cache.Memory.CleanupInterval)
	setResilienceDefaults(v, "cache.resilience", d.Cache.Resilience)
}

func setResilienceDefaults(v *viper.Viper, prefix string, d resilience.ResilientConfig) {
	v.SetDefault(prefix+".timeout", d.Timeout)
	v.SetDefault(prefix+".circuit_breaker.max_requests", d.CircuitBreakerConfig.MaxRequests)
	v.SetDefault(prefix+".circuit_breaker.interval", d.CircuitBreakerConfig.Interval)
	v.SetDefault(prefix+".circuit_breaker.timeout", d.CircuitBreakerConfig.Timeout)
}
