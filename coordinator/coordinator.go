// Package coordinator implements the process-wide TransactionCoordinator:
// goroutine-local transaction association, begin/suspend/resume, and
// delegation of commit/rollback to the bound txn.Transaction.
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/txn"
)

// DefaultTimeout is used for a new transaction when no per-goroutine
// override has been set with SetTransactionTimeout.
const DefaultTimeout = 3600 * time.Second

// Coordinator is a process-wide singleton. It is safe for concurrent use by
// many goroutines; each goroutine's binding is independent of every other's.
type Coordinator struct {
	mutex    sync.Mutex
	bound    map[int64]*txn.Transaction
	timeouts map[int64]time.Duration
	// owned records the global id of every Transaction this Coordinator
	// has ever created via Begin, so Resume can reject a foreign
	// Transaction without relying on an interface type switch (all
	// Transactions share the same concrete type, so type alone cannot
	// distinguish them).
	owned map[uint64]bool
}

// New constructs a standalone Coordinator. Most callers should use the
// process-wide singleton returned by Lookup instead of constructing their
// own, mirroring the framework-style discovery the spec treats as an
// external, not-redesigned collaborator.
func New() *Coordinator {
	return &Coordinator{
		bound:    make(map[int64]*txn.Transaction),
		timeouts: make(map[int64]time.Duration),
		owned:    make(map[uint64]bool),
	}
}

var (
	singleton     *Coordinator
	singletonOnce sync.Once

	// nextGlobalID is shared by every Coordinator, so global transaction
	// ids are unique process-wide.
	nextGlobalID atomic.Uint64
)

// Lookup returns the process-wide Coordinator singleton, constructing it on
// first use. This stands in for the JNDI-style registry lookup the spec
// calls out as external to this core.
func Lookup() *Coordinator {
	singletonOnce.Do(func() { singleton = New() })
	return singleton
}

// Begin creates and binds a new Transaction to the calling goroutine. Fails
// with KindNotSupported if a transaction is already bound (no nesting).
func (c *Coordinator) Begin() (*txn.Transaction, error) {
	gid := goroutineID()

	c.mutex.Lock()
	if _, exists := c.bound[gid]; exists {
		c.mutex.Unlock()
		return nil, dbpool.New(dbpool.KindNotSupported, "nested transactions are not supported")
	}
	timeout, ok := c.timeouts[gid]
	if !ok {
		timeout = DefaultTimeout
	}
	globalID := nextGlobalID.Add(1)
	tx := txn.New(globalID, timeout)
	c.bound[gid] = tx
	c.owned[globalID] = true
	c.mutex.Unlock()

	return tx, nil
}

// GetTransaction returns the Transaction currently bound to the calling
// goroutine, or nil if none is bound.
func (c *Coordinator) GetTransaction() *txn.Transaction {
	gid := goroutineID()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bound[gid]
}

// GetStatus returns the bound transaction's status, or StatusNoTransaction
// if the calling goroutine has no bound transaction.
func (c *Coordinator) GetStatus() txn.Status {
	tx := c.GetTransaction()
	if tx == nil {
		return txn.StatusNoTransaction
	}
	return tx.Status()
}

// Commit delegates to the bound Transaction's Commit. The binding is
// cleared on every exit path, success or failure.
func (c *Coordinator) Commit() error {
	gid := goroutineID()
	tx := c.takeBound(gid)
	if tx == nil {
		return dbpool.New(dbpool.KindTxIllegalState, "no transaction bound to this goroutine")
	}
	return tx.Commit()
}

// Rollback delegates to the bound Transaction's Rollback. The binding is
// cleared on every exit path, success or failure.
func (c *Coordinator) Rollback() error {
	gid := goroutineID()
	tx := c.takeBound(gid)
	if tx == nil {
		return dbpool.New(dbpool.KindTxIllegalState, "no transaction bound to this goroutine")
	}
	return tx.Rollback()
}

func (c *Coordinator) takeBound(gid int64) *txn.Transaction {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	tx := c.bound[gid]
	delete(c.bound, gid)
	return tx
}

// SetRollbackOnly delegates to the bound Transaction. Fails
// KindTxIllegalState if unbound.
func (c *Coordinator) SetRollbackOnly() error {
	tx := c.GetTransaction()
	if tx == nil {
		return dbpool.New(dbpool.KindTxIllegalState, "no transaction bound to this goroutine")
	}
	return tx.SetRollbackOnly()
}

// SetTransactionTimeout sets (d>0), clears (d==0), or rejects (d<0) the
// calling goroutine's timeout override for the next Begin.
func (c *Coordinator) SetTransactionTimeout(d time.Duration) error {
	if d < 0 {
		return dbpool.New(dbpool.KindSystem, "transaction timeout must not be negative")
	}
	gid := goroutineID()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if d == 0 {
		delete(c.timeouts, gid)
		return nil
	}
	c.timeouts[gid] = d
	return nil
}

// Suspend returns the transaction currently bound to the calling goroutine
// (or nil) and clears the binding. If the transaction was already timed
// out, Suspend does not reset its clock — it is handed back exactly as it
// was; see the package's design notes for why this mirrors the preserved
// upstream behavior rather than silently "fixing" it.
func (c *Coordinator) Suspend() *txn.Transaction {
	gid := goroutineID()
	return c.takeBound(gid)
}

// Resume binds tx to the calling goroutine. Requires that the calling
// goroutine currently has no binding and that tx originated from this
// Coordinator (foreign implementations are rejected).
func (c *Coordinator) Resume(tx *txn.Transaction) error {
	if tx == nil {
		return dbpool.New(dbpool.KindSystem, "cannot resume a nil transaction")
	}
	gid := goroutineID()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.bound[gid]; exists {
		return dbpool.New(dbpool.KindNotSupported, "a transaction is already bound to this goroutine")
	}
	if !c.owned[tx.GlobalID()] {
		return dbpool.New(dbpool.KindSystem, "cannot resume a transaction this coordinator did not create")
	}
	c.bound[gid] = tx
	return nil
}
