// Package datasource is the top-level facade an application actually talks
// to: it pairs a pool.ConnectionPool with the process-wide
// coordinator.Coordinator, and exposes the management readout surface from section 6 as a single
// call.
package datasource

import (
	"context"
	"fmt"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/coordinator"
	"github.com/lordbasex/dbpool/pool"
)

// DataSource pairs a connection pool with the process-wide transaction
// coordinator. Most applications need exactly one of these per configured
// database.
type DataSource struct {
	cfg   Config
	pool  *pool.ConnectionPool
	coord *coordinator.Coordinator
}

// New builds a DataSource for cfg. driver selects the pool.Driver
// implementation; currently only "mysql" is recognized.
func New(cfg Config) (*DataSource, error) {
	var drv pool.Driver
	switch cfg.Driver {
	case "", "mysql":
		drv = pool.MySQLDriver{}
	default:
		return nil, dbpool.New(dbpool.KindConfig, fmt.Sprintf("datasource: unknown driver %q", cfg.Driver))
	}

	return &DataSource{
		cfg:   cfg,
		pool:  pool.NewConnectionPool(drv, cfg.poolConfig()),
		coord: coordinator.Lookup(),
	}, nil
}

// Coordinator returns the transaction coordinator backing this DataSource,
// for callers that need Begin/Commit/Rollback/Suspend/Resume directly.
func (ds *DataSource) Coordinator() *coordinator.Coordinator {
	return ds.coord
}

// GetConnection returns a connection for the calling goroutine: the
// connection already pinned to its bound transaction if one exists, else a
// fresh connection from the pool (section 4.F).
func (ds *DataSource) GetConnection(ctx context.Context) (*pool.PooledConnection, error) {
	return ds.pool.GetConnection(ctx, ds.coord)
}

// Stats returns the management readout (section 6): a snapshot of pool
// occupancy and active-transaction counts.
func (ds *DataSource) Stats() pool.Stats {
	return ds.pool.Stats()
}

// Shutdown drains and closes the underlying pool. Connections pinned to
// in-flight transactions are released once their transaction completes.
func (ds *DataSource) Shutdown() {
	ds.pool.Shutdown()
}
