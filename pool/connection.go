package pool

import (
	"context"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/txn"
)

// PooledConnection is a thin façade over a RawConn (component D). It
// forwards database calls to the underlying connection while open,
// intercepts Close to mean "return to pool" rather than destroy, and tracks
// the bookkeeping the pool needs: last-access time, the pool it belongs to,
// the transaction it is currently pinned to (if any), and a one-way
// invalidate flag.
//
// A PooledConnection is owned by exactly one of: the pool (idle), a
// borrower (borrowed outside a transaction), or a transaction (pinned). It
// is mutated only by its current owner.
type PooledConnection struct {
	ID uuid.UUID

	raw   RawConn
	owner *ConnectionPool

	mutex          sync.Mutex
	lastAccessTime time.Time
	pinnedTx       *txn.Transaction
	invalidate     bool

	stmtCache *StatementCache
}

func newPooledConnection(raw RawConn, owner *ConnectionPool, stmtCacheSize int) *PooledConnection {
	return &PooledConnection{
		ID:             uuid.New(),
		raw:            raw,
		owner:          owner,
		lastAccessTime: time.Now(),
		stmtCache:      NewStatementCache(stmtCacheSize),
	}
}

// LastAccessTime returns the time this connection was last handed out by
// the pool (borrow) or swept (idle sweep comparisons use this).
func (pc *PooledConnection) LastAccessTime() time.Time {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return pc.lastAccessTime
}

func (pc *PooledConnection) touch(now time.Time) {
	pc.mutex.Lock()
	pc.lastAccessTime = now
	pc.mutex.Unlock()
}

// PinnedTransaction returns the transaction this connection is currently
// enlisted with, or nil if it is not pinned.
func (pc *PooledConnection) PinnedTransaction() *txn.Transaction {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return pc.pinnedTx
}

func (pc *PooledConnection) pin(tx *txn.Transaction) {
	pc.mutex.Lock()
	pc.pinnedTx = tx
	pc.mutex.Unlock()
}

func (pc *PooledConnection) unpin() {
	pc.mutex.Lock()
	pc.pinnedTx = nil
	pc.mutex.Unlock()
}

// Invalidate marks the connection as non-reusable: the next Close()
// destroys it instead of returning it to idle. This is set by the façade
// itself when the underlying connection raises a non-recoverable error.
func (pc *PooledConnection) Invalidate() {
	pc.mutex.Lock()
	pc.invalidate = true
	pc.mutex.Unlock()
}

func (pc *PooledConnection) isInvalidated() bool {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return pc.invalidate
}

// ExecContext forwards to the underlying raw connection, marking the
// connection invalid on a driver-level error so the pool destroys it on
// release rather than handing a broken connection to the next borrower.
func (pc *PooledConnection) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := pc.raw.ExecContext(ctx, query, args)
	if err != nil {
		pc.markBrokenIfFatal(err)
	}
	return res, err
}

// QueryContext forwards to the underlying raw connection, with the same
// invalidation behavior as ExecContext.
func (pc *PooledConnection) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := pc.raw.QueryContext(ctx, query, args)
	if err != nil {
		pc.markBrokenIfFatal(err)
	}
	return rows, err
}

// PrepareCached returns a prepared statement for query, reusing the
// connection's StatementCache when possible (component G).
func (pc *PooledConnection) PrepareCached(query string) (driver.Stmt, error) {
	if stmt, ok := pc.stmtCache.Get(query); ok {
		return stmt, nil
	}
	stmt, err := pc.raw.Prepare(query)
	if err != nil {
		pc.markBrokenIfFatal(err)
		return nil, err
	}
	pc.stmtCache.Put(query, stmt)
	return stmt, nil
}

// markBrokenIfFatal flags the connection for destruction. This pool treats
// any driver-level error surfaced through Exec/Query/Prepare as
// non-recoverable for simplicity: the spec's non-goals exclude round-trip
// connection validation, so a broken connection is detected reactively
// rather than proactively probed.
func (pc *PooledConnection) markBrokenIfFatal(err error) {
	if err == nil {
		return
	}
	pc.Invalidate()
}

// SetAutoCommit forwards to the underlying connection. It is rejected while
// the connection is pinned to a transaction: autocommit state is owned by
// the transaction coordinator for the duration of enlistment.
func (pc *PooledConnection) SetAutoCommit(ctx context.Context, autocommit bool) error {
	if pc.PinnedTransaction() != nil {
		return dbpool.New(dbpool.KindTxIllegalState, "cannot change autocommit while enlisted in a transaction")
	}
	return pc.raw.SetAutoCommit(ctx, autocommit)
}

// Close returns the connection to its owning pool rather than destroying
// it; see ConnectionPool.release for the actual release protocol. While the
// connection is pinned to a transaction, Close is a no-op: only
// ResourceAdapter.finish (invoked at commit/rollback) may hand a pinned
// connection back to the pool. Without this check, a caller following the
// ordinary `conn, _ := ds.GetConnection(ctx); defer conn.Close()` pattern
// inside a transaction would return the still-pinned connection to idle
// while the transaction still held it, letting it be lent out a second
// time before the transaction completes.
func (pc *PooledConnection) Close() error {
	if pc.PinnedTransaction() != nil {
		return nil
	}
	pc.owner.release(pc)
	return nil
}

// destroy closes the underlying raw connection. Called by the pool only,
// outside the pool lock, never by application code directly.
func (pc *PooledConnection) destroy() {
	pc.stmtCache.Clear()
	_ = pc.raw.Close()
}
