package pool

import (
	"context"
	"database/sql/driver"
	"sync"
	"sync/atomic"

	"github.com/lordbasex/dbpool"
)

// fakeRawConn is an in-memory RawConn test double. It never touches a real
// database; it just counts calls and optionally fails on demand.
type fakeRawConn struct {
	mutex sync.Mutex

	closed      bool
	commits     int
	rollbacks   int
	autocommits []bool
	execs       []string

	failCommit   bool
	failRollback bool
}

func (c *fakeRawConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mutex.Lock()
	c.execs = append(c.execs, query)
	c.mutex.Unlock()
	return driver.RowsAffected(0), nil
}

func (c *fakeRawConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return nil, dbpool.New(dbpool.KindNotSupported, "fakeRawConn does not support queries")
}

func (c *fakeRawConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{query: query}, nil
}

func (c *fakeRawConn) SetAutoCommit(ctx context.Context, autocommit bool) error {
	c.mutex.Lock()
	c.autocommits = append(c.autocommits, autocommit)
	c.mutex.Unlock()
	return nil
}

func (c *fakeRawConn) Commit(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.commits++
	if c.failCommit {
		return dbpool.New(dbpool.KindResourceXA, "fake commit failure")
	}
	return nil
}

func (c *fakeRawConn) Rollback(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.rollbacks++
	if c.failRollback {
		return dbpool.New(dbpool.KindResourceXA, "fake rollback failure")
	}
	return nil
}

func (c *fakeRawConn) Close() error {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	return nil
}

func (c *fakeRawConn) isClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

type fakeStmt struct {
	query string
}

func (s *fakeStmt) Close() error                                    { return nil }
func (s *fakeStmt) NumInput() int                                   { return -1 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) { return driver.RowsAffected(0), nil }
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, dbpool.New(dbpool.KindNotSupported, "fakeStmt does not support queries")
}

// fakeDriver hands out fakeRawConn instances and counts how many have been
// opened, so tests can assert the pool never opens more than PoolSize.
type fakeDriver struct {
	opened    atomic.Int64
	failOpen  atomic.Bool
	openDelay func()
}

func (d *fakeDriver) Open(ctx context.Context, url string, props map[string]string) (RawConn, error) {
	if d.failOpen.Load() {
		return nil, dbpool.New(dbpool.KindDriver, "fake driver: open failed")
	}
	if d.openDelay != nil {
		d.openDelay()
	}
	d.opened.Add(1)
	return &fakeRawConn{}, nil
}
