// Package pool implements the bounded connection pool (component F) and its
// PooledConnection wrapper (component D): borrow/return with idle eviction,
// borrow-wait with timeout, graceful shutdown, and per-transaction
// connection affinity.
package pool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/coordinator"
	"github.com/lordbasex/dbpool/txn"
)

// ConnectionPool is a bounded pool of PooledConnection values, with
// transaction affinity coordinated through a coordinator.Coordinator.
type ConnectionPool struct {
	driver Driver
	cfg    Config

	mutex sync.Mutex
	cond  *sync.Cond

	idle         []*PooledConnection
	inTxMutex    sync.RWMutex
	inTransaction map[*txn.Transaction]*PooledConnection

	createdCount int
	waiting      int
	checkIdleAt  time.Time
	closed       bool

	metrics *Metrics
}

// NewConnectionPool constructs a ConnectionPool. Zero-valued fields of cfg
// are replaced with their documented defaults.
func NewConnectionPool(driver Driver, cfg Config) *ConnectionPool {
	cfg = cfg.withDefaults()
	p := &ConnectionPool{
		driver:        driver,
		cfg:           cfg,
		inTransaction: make(map[*txn.Transaction]*PooledConnection),
		checkIdleAt:   time.Now().Add(cfg.KeepAlive / 10),
		metrics:       newMetrics(cfg.URL),
	}
	p.cond = sync.NewCond(&p.mutex)
	return p
}

// GetConnection implements the transaction-affinity protocol in section
// 4.F: if coord has a bound transaction, the pool returns the connection
// already pinned to it (borrowing and enlisting one the first time), else
// it simply borrows a fresh connection.
func (p *ConnectionPool) GetConnection(ctx context.Context, coord *coordinator.Coordinator) (*PooledConnection, error) {
	tx := coord.GetTransaction()
	if tx == nil {
		return p.Borrow(ctx)
	}

	if conn := p.lookupAffinity(tx); conn != nil {
		log.Printf("[pool] reusing connection %s already pinned to transaction %d", conn.ID, tx.GlobalID())
		return conn, nil
	}

	conn, err := p.Borrow(ctx)
	if err != nil {
		return nil, err
	}

	adapter := NewResourceAdapter(conn)
	if _, err := tx.Enlist(adapter); err != nil {
		p.release(conn)
		return nil, err
	}
	conn.pin(tx)
	p.setAffinity(tx, conn)
	p.metrics.setActiveTransactions(p.affinityCount())
	return conn, nil
}

func (p *ConnectionPool) lookupAffinity(tx *txn.Transaction) *PooledConnection {
	p.inTxMutex.RLock()
	defer p.inTxMutex.RUnlock()
	return p.inTransaction[tx]
}

func (p *ConnectionPool) setAffinity(tx *txn.Transaction, conn *PooledConnection) {
	p.inTxMutex.Lock()
	p.inTransaction[tx] = conn
	p.inTxMutex.Unlock()
}

func (p *ConnectionPool) clearAffinity(tx *txn.Transaction) {
	p.inTxMutex.Lock()
	delete(p.inTransaction, tx)
	p.inTxMutex.Unlock()
}

func (p *ConnectionPool) affinityCount() int {
	p.inTxMutex.RLock()
	defer p.inTxMutex.RUnlock()
	return len(p.inTransaction)
}

// Borrow implements the borrow protocol in section 4.F.
func (p *ConnectionPool) Borrow(ctx context.Context) (*PooledConnection, error) {
	entry := time.Now()

	p.mutex.Lock()
	p.maybeSweepIdleLocked(entry)

	for {
		if p.closed {
			p.mutex.Unlock()
			return nil, dbpool.New(dbpool.KindPoolClosed, "pool closed")
		}

		if n := len(p.idle); n > 0 {
			conn := p.idle[0]
			p.idle = p.idle[1:]
			conn.touch(time.Now())
			idleLeft := len(p.idle)
			p.mutex.Unlock()
			p.metrics.setIdleCount(idleLeft)
			return conn, nil
		}

		if p.createdCount < p.cfg.PoolSize {
			p.createdCount++
			p.mutex.Unlock()
			return p.openNewLocked(ctx)
		}

		waited := time.Since(entry)
		remaining := p.cfg.BorrowTimeout - waited
		if remaining <= 0 {
			p.mutex.Unlock()
			return nil, dbpool.New(dbpool.KindBorrowTimeout, "timed out waiting for a connection")
		}

		if err := p.waitLocked(ctx, remaining); err != nil {
			p.mutex.Unlock()
			return nil, err
		}
		// Loop around: cond.Wait returned either because a connection
		// became available, capacity was relinquished, the pool was
		// closed, or the deadline passed — re-check all of those at
		// the top of the loop rather than trusting which one it was.
	}
}

// waitLocked blocks on the pool condition variable until woken or until
// timeout elapses, whichever comes first. Must be called with p.mutex
// held; it is held again on return. A single background timer per call
// handles the timeout wakeup; cond.Broadcast from Shutdown, the timer or the
// context watcher, and cond.Signal from release or a failed open, are what
// unblock cond.Wait.
func (p *ConnectionPool) waitLocked(ctx context.Context, timeout time.Duration) error {
	p.waiting++
	defer func() { p.waiting-- }()

	stop := make(chan struct{})
	defer close(stop)

	timer := time.AfterFunc(timeout, func() {
		p.mutex.Lock()
		p.cond.Broadcast()
		p.mutex.Unlock()
	})
	defer timer.Stop()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.mutex.Lock()
				p.cond.Broadcast()
				p.mutex.Unlock()
			case <-stop:
			}
		}()
	}

	p.cond.Wait()

	if err := ctx.Err(); err != nil {
		return dbpool.Wrap(dbpool.KindInterrupted, "borrow interrupted", err)
	}
	return nil
}

func (p *ConnectionPool) maybeSweepIdleLocked(now time.Time) {
	if now.Before(p.checkIdleAt) {
		return
	}
	p.checkIdleAt = now.Add(p.cfg.KeepAlive / 10)

	var expired []*PooledConnection
	kept := p.idle[:0]
	for _, c := range p.idle {
		if now.Sub(c.LastAccessTime()) > p.cfg.KeepAlive {
			expired = append(expired, c)
			p.createdCount--
		} else {
			kept = append(kept, c)
		}
	}
	p.idle = kept

	if len(expired) == 0 {
		return
	}
	// destroy outside the lock
	go func() {
		for _, c := range expired {
			c.destroy()
		}
	}()
}

// openNewLocked opens a fresh raw connection outside the pool lock, having
// already reserved capacity for it (createdCount was incremented by the
// caller while holding the lock).
func (p *ConnectionPool) openNewLocked(ctx context.Context) (*PooledConnection, error) {
	raw, err := p.driver.Open(ctx, p.cfg.URL, p.cfg.Properties)
	if err != nil {
		p.mutex.Lock()
		p.createdCount--
		p.cond.Signal()
		p.mutex.Unlock()
		return nil, err
	}

	applyLockTimeout(ctx, raw, p.cfg.LockTimeout)

	conn := newPooledConnection(raw, p, p.cfg.StatementCacheSize)
	p.metrics.setOpenCount(p.openCount())
	return conn, nil
}

func (p *ConnectionPool) openCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.createdCount
}

// release implements the release protocol in section 4.F. It is invoked
// via PooledConnection.Close for connections not pinned to a transaction,
// and via unpinAndRelease for connections whose transaction has completed.
func (p *ConnectionPool) release(conn *PooledConnection) {
	if conn.isInvalidated() {
		p.mutex.Lock()
		p.createdCount--
		p.cond.Signal()
		p.mutex.Unlock()
		conn.destroy()
		p.metrics.setOpenCount(p.openCount())
		return
	}

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		conn.destroy()
		return
	}
	conn.stmtCache.Clear()
	p.idle = append([]*PooledConnection{conn}, p.idle...)
	p.cond.Signal()
	p.mutex.Unlock()
	p.metrics.setIdleCount(len(p.idle))
}

// unpinAndRelease clears the transaction-affinity mapping for conn's (now
// former) transaction and releases it back to the pool. Called by
// ResourceAdapter once a transaction has committed or rolled back.
func (p *ConnectionPool) unpinAndRelease(conn *PooledConnection) {
	p.inTxMutex.Lock()
	for tx, c := range p.inTransaction {
		if c == conn {
			delete(p.inTransaction, tx)
			break
		}
	}
	p.inTxMutex.Unlock()
	p.metrics.setActiveTransactions(p.affinityCount())
	p.release(conn)
}

// Shutdown destroys every idle connection, marks the pool closed, and wakes
// every blocked borrower. Connections currently pinned to transactions
// survive the call; they are released (and then destroyed, since the pool
// is now closed) when their transactions complete.
func (p *ConnectionPool) Shutdown() {
	p.mutex.Lock()
	idle := p.idle
	p.idle = nil
	p.createdCount = 0
	p.closed = true
	p.cond.Broadcast()
	p.mutex.Unlock()

	p.metrics.setOpenCount(0)
	p.metrics.setIdleCount(0)

	for _, c := range idle {
		c.destroy()
	}
}

// Stats is the management readout surface (section 6): plain counters,
// exposed for an external telemetry reader to poll.
type Stats struct {
	URL                string
	OpenCount          int
	IdleCount          int
	ActiveTransactions int
	MaxPoolSize        int
	BorrowTimeout      time.Duration
	LockTimeout        int
}

// Stats returns a snapshot of the pool's current state.
func (p *ConnectionPool) Stats() Stats {
	p.mutex.Lock()
	open := p.createdCount
	idle := len(p.idle)
	p.mutex.Unlock()

	return Stats{
		URL:                p.cfg.URL,
		OpenCount:          open,
		IdleCount:          idle,
		ActiveTransactions: p.affinityCount(),
		MaxPoolSize:        p.cfg.PoolSize,
		BorrowTimeout:      p.cfg.BorrowTimeout,
		LockTimeout:        p.cfg.LockTimeout,
	}
}
