package datasource

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/pool"
)

// Config is the full set of options needed to build a DataSource: a driver
// URL/credentials pair plus the pool tuning knobs from pool.Config.
type Config struct {
	Driver   string
	URL      string
	User     string
	Password string

	PoolSize           int
	BorrowTimeout      time.Duration
	KeepAlive          time.Duration
	LockTimeout        int
	StatementCacheSize int
}

// DefaultConfig mirrors the tuning defaults in pool.Config, plus a driver
// name and empty credentials meant to be overridden.
func DefaultConfig() Config {
	return Config{
		Driver:             "mysql",
		PoolSize:           pool.DefaultPoolSize,
		BorrowTimeout:      pool.DefaultBorrowTimeout,
		KeepAlive:          pool.DefaultKeepAlive,
		LockTimeout:        pool.DefaultLockTimeout,
		StatementCacheSize: pool.DefaultStatementCacheSize,
	}
}

// LoadConfig builds a Config from (in ascending priority) the built-in
// defaults, a config file if configPath is non-empty, and DBPOOL_-prefixed
// environment variables (e.g. DBPOOL_URL, DBPOOL_POOL_SIZE). keep-alive and
// borrow-timeout take a bare number of seconds or a Go duration string such
// as "2s".
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("DBPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("driver", cfg.Driver)
	v.SetDefault("pool-size", cfg.PoolSize)
	v.SetDefault("borrow-timeout", cfg.BorrowTimeout)
	v.SetDefault("keep-alive", cfg.KeepAlive)
	v.SetDefault("lock-timeout", cfg.LockTimeout)
	v.SetDefault("stmt-cache-size", cfg.StatementCacheSize)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, dbpool.Wrap(dbpool.KindConfig, "failed to read config file", err)
		}
	}

	seconds := func(key string) time.Duration {
		if n, err := strconv.Atoi(v.GetString(key)); err == nil {
			return time.Duration(n) * time.Second
		}
		return v.GetDuration(key)
	}

	cfg.Driver = v.GetString("driver")
	cfg.URL = v.GetString("url")
	cfg.User = v.GetString("user")
	cfg.Password = v.GetString("password")
	cfg.PoolSize = v.GetInt("pool-size")
	cfg.BorrowTimeout = seconds("borrow-timeout")
	cfg.KeepAlive = seconds("keep-alive")
	cfg.LockTimeout = v.GetInt("lock-timeout")
	cfg.StatementCacheSize = v.GetInt("stmt-cache-size")

	return cfg, nil
}

// poolConfig converts a Config into the pool.Config the pool itself
// understands, folding User/Password into the property bag the Driver
// expects.
func (c Config) poolConfig() pool.Config {
	return pool.Config{
		URL: c.URL,
		Properties: map[string]string{
			"user":     c.User,
			"password": c.Password,
		},
		PoolSize:           c.PoolSize,
		BorrowTimeout:      c.BorrowTimeout,
		KeepAlive:          c.KeepAlive,
		LockTimeout:        c.LockTimeout,
		StatementCacheSize: c.StatementCacheSize,
	}
}
