package pool

import "time"

// Config holds the construction-time parameters for a ConnectionPool. Zero
// values are filled in with the documented defaults by NewConnectionPool.
type Config struct {
	// URL and Properties describe how to reach the database; they are
	// forwarded verbatim to the configured Driver.
	URL        string
	Properties map[string]string

	// PoolSize is the hard upper bound on simultaneously alive
	// connections (idle + pinned). Default 10.
	PoolSize int

	// BorrowTimeout bounds how long Borrow blocks waiting for a
	// connection to become available. Default 3s.
	BorrowTimeout time.Duration

	// KeepAlive is the idle lifespan: a connection unused for longer than
	// this is destroyed by the idle sweep. Default 30m.
	KeepAlive time.Duration

	// LockTimeout, if >= 0, is executed as a "SET LOCK_TIMEOUT" session
	// command on every newly opened connection. -1 ("driver default")
	// skips the session command entirely. Default -1. A value of 0 is
	// treated as unset and replaced by -1, so "SET LOCK_TIMEOUT 0" is never
	// sent.
	LockTimeout int

	// StatementCacheSize bounds the number of prepared statements cached
	// per connection. Default 32.
	StatementCacheSize int
}

const (
	DefaultPoolSize           = 10
	DefaultBorrowTimeout      = 3 * time.Second
	DefaultKeepAlive          = 30 * time.Minute
	DefaultLockTimeout        = -1
	DefaultStatementCacheSize = 32
)

// withDefaults returns a copy of cfg with every zero-valued field replaced
// by its documented default.
func (cfg Config) withDefaults() Config {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.BorrowTimeout <= 0 {
		cfg.BorrowTimeout = DefaultBorrowTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.StatementCacheSize <= 0 {
		cfg.StatementCacheSize = DefaultStatementCacheSize
	}
	return cfg
}
