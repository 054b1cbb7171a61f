package pool

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log"

	mysql "github.com/go-sql-driver/mysql"

	"github.com/lordbasex/dbpool"
)

// RawConn is the minimal surface a pooled raw database connection must
// expose. It is deliberately narrower than database/sql/driver.Conn: the
// pool only ever needs to execute statements, toggle autocommit, and
// finalize a transaction through commit/rollback.
type RawConn interface {
	ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error)
	QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error)
	Prepare(query string) (driver.Stmt, error)
	SetAutoCommit(ctx context.Context, autocommit bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// Driver is the out-of-scope external collaborator that turns a URL and a
// property bag (carrying at least "user"/"password") into a RawConn. The
// pool never redesigns this contract — it is consumed as-is (section 6).
type Driver interface {
	Open(ctx context.Context, url string, props map[string]string) (RawConn, error)
}

// MySQLDriver is the concrete Driver shipped with this module. It opens raw
// connections through go-sql-driver/mysql's low-level driver.Conn,
// deliberately bypassing database/sql's own pool so this pool is the only
// one in play for a given URL.
type MySQLDriver struct{}

// Open builds a MySQL DSN from url/props and opens a single raw connection.
// props is expected to carry "user" and "password"; url is the
// "tcp(host:port)/dbname"-style address portion of a go-sql-driver DSN.
func (MySQLDriver) Open(ctx context.Context, url string, props map[string]string) (RawConn, error) {
	dsn := buildDSN(url, props)
	conn, err := (mysql.MySQLDriver{}).Open(dsn)
	if err != nil {
		return nil, dbpool.Wrap(dbpool.KindDriver, "failed to open raw mysql connection", err)
	}
	return &mysqlRawConn{conn: conn}, nil
}

func buildDSN(url string, props map[string]string) string {
	user := props["user"]
	password := props["password"]
	if user == "" {
		return url
	}
	if password == "" {
		return fmt.Sprintf("%s@%s", user, url)
	}
	return fmt.Sprintf("%s:%s@%s", user, password, url)
}

// mysqlRawConn adapts a go-sql-driver/mysql driver.Conn to RawConn.
type mysqlRawConn struct {
	conn driver.Conn
}

func (c *mysqlRawConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if execer, ok := c.conn.(driver.ExecerContext); ok {
		return execer.ExecContext(ctx, query, args)
	}
	if execer, ok := c.conn.(driver.Execer); ok { //nolint:staticcheck // legacy fallback
		values := make([]driver.Value, len(args))
		for i, a := range args {
			values[i] = a.Value
		}
		return execer.Exec(query, values) //nolint:staticcheck
	}
	return nil, dbpool.New(dbpool.KindDriver, "underlying connection does not support Exec")
}

func (c *mysqlRawConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if queryer, ok := c.conn.(driver.QueryerContext); ok {
		return queryer.QueryContext(ctx, query, args)
	}
	if queryer, ok := c.conn.(driver.Queryer); ok { //nolint:staticcheck // legacy fallback
		values := make([]driver.Value, len(args))
		for i, a := range args {
			values[i] = a.Value
		}
		return queryer.Query(query, values) //nolint:staticcheck
	}
	return nil, dbpool.New(dbpool.KindDriver, "underlying connection does not support Query")
}

func (c *mysqlRawConn) Prepare(query string) (driver.Stmt, error) {
	return c.conn.Prepare(query)
}

func (c *mysqlRawConn) SetAutoCommit(ctx context.Context, autocommit bool) error {
	stmt := "SET autocommit=0"
	if autocommit {
		stmt = "SET autocommit=1"
	}
	_, err := c.ExecContext(ctx, stmt, nil)
	return err
}

func (c *mysqlRawConn) Commit(ctx context.Context) error {
	_, err := c.ExecContext(ctx, "COMMIT", nil)
	return err
}

func (c *mysqlRawConn) Rollback(ctx context.Context) error {
	_, err := c.ExecContext(ctx, "ROLLBACK", nil)
	return err
}

func (c *mysqlRawConn) Close() error {
	return c.conn.Close()
}

// applyLockTimeout runs the "SET LOCK_TIMEOUT" session command used by the
// pool on every freshly opened connection when cfg.LockTimeout >= 0. A
// failure here is logged and swallowed: the connection is still usable
// (section 7).
func applyLockTimeout(ctx context.Context, conn RawConn, lockTimeout int) {
	if lockTimeout < 0 {
		return
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("SET LOCK_TIMEOUT %d", lockTimeout), nil)
	if err != nil {
		log.Printf("[pool] SET LOCK_TIMEOUT %d failed on new connection, continuing: %v", lockTimeout, err)
	}
}
