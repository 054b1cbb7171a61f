// Package txn implements the transaction state machine at the heart of
// this module: resource enlistment with branch identifiers, ordered
// synchronization callbacks, and one-phase-commit-style coordinated
// commit/rollback. See the package's design notes for why prepare is
// never a durable checkpoint here.
package txn

import (
	"log"
	"sync"
	"time"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/xid"
)

// Transaction is a single global transaction: a set of enlisted resources,
// an ordered list of synchronizations, and a status. It is goroutine
// confined — mutated only by whichever goroutine currently owns it (see
// TransactionCoordinator for how ownership is tracked and transferred).
type Transaction struct {
	globalID  uint64
	startTime time.Time
	timeout   time.Duration

	mutex            sync.Mutex
	status           Status
	branchCounter    uint32
	resources        map[Resource]*xid.BranchId
	synchronizations []Synchronization
}

// New creates a Transaction with the given global id and timeout. Callers
// normally obtain a Transaction through TransactionCoordinator.Begin rather
// than calling New directly.
func New(globalID uint64, timeout time.Duration) *Transaction {
	return &Transaction{
		globalID:  globalID,
		startTime: time.Now(),
		timeout:   timeout,
		status:    StatusActive,
		resources: make(map[Resource]*xid.BranchId),
	}
}

// GlobalID returns the transaction's process-wide unique identifier.
func (t *Transaction) GlobalID() uint64 { return t.globalID }

// StartTime returns the wall-clock time the transaction was created.
func (t *Transaction) StartTime() time.Time { return t.startTime }

// Timeout returns the duration after which the transaction is considered
// timed out, measured from StartTime.
func (t *Transaction) Timeout() time.Duration { return t.timeout }

// Status returns the transaction's current lifecycle state.
func (t *Transaction) Status() Status {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.status
}

func (t *Transaction) timedOut() bool {
	return time.Since(t.startTime) > t.timeout
}

// Enlist binds resource to the transaction under a freshly allocated
// BranchId. If resource is already enlisted it returns (false, nil) without
// side effects. Requires the transaction to be ACTIVE and not timed out.
func (t *Transaction) Enlist(resource Resource) (bool, error) {
	t.mutex.Lock()

	if err := t.requireMutableLocked(); err != nil {
		t.mutex.Unlock()
		return false, err
	}

	if _, exists := t.resources[resource]; exists {
		t.mutex.Unlock()
		return false, nil
	}

	t.branchCounter++
	branch := xid.New(t.globalID, t.branchCounter)
	// branchCounter is retained even if Start fails below: branches need
	// only be unique within the transaction, not contiguous.
	t.mutex.Unlock()

	if err := resource.Start(branch, TMNoFlags); err != nil {
		return false, dbpool.Wrap(dbpool.KindSystem, "resource start failed", err)
	}

	t.mutex.Lock()
	t.resources[resource] = branch
	t.mutex.Unlock()
	return true, nil
}

// requireMutableLocked must be called with t.mutex held. It implements the
// ACTIVE/timeout/MARKED_ROLLBACK branching used by Enlist.
func (t *Transaction) requireMutableLocked() error {
	switch {
	case t.status == StatusActive && t.timedOut():
		return dbpool.New(dbpool.KindTxTimeout, "transaction timed out")
	case t.status == StatusMarkedRollback:
		return dbpool.New(dbpool.KindTxMarked, "transaction marked rollback-only")
	case t.status == StatusActive:
		return nil
	default:
		return dbpool.New(dbpool.KindTxIllegalState, "transaction not active")
	}
}

// Delist removes resource from the transaction's resource map (if present)
// and invokes its End callback with flag. Requires ACTIVE or
// MARKED_ROLLBACK. Returns whether a mapping was actually removed.
func (t *Transaction) Delist(resource Resource, flag Flag) (bool, error) {
	t.mutex.Lock()
	if t.status != StatusActive && t.status != StatusMarkedRollback {
		t.mutex.Unlock()
		return false, dbpool.New(dbpool.KindTxIllegalState, "transaction not active")
	}

	branch, found := t.resources[resource]
	delete(t.resources, resource)
	t.mutex.Unlock()

	if !found {
		return false, nil
	}
	if err := resource.End(branch, flag); err != nil {
		return true, dbpool.Wrap(dbpool.KindSystem, "resource end failed", err)
	}
	return true, nil
}

// RegisterSynchronization appends cb to the ordered list of completion
// callbacks. Fails with KindTxMarked if the transaction is
// MARKED_ROLLBACK, KindTxIllegalState if terminal.
func (t *Transaction) RegisterSynchronization(cb Synchronization) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	switch {
	case t.status.Terminal():
		return dbpool.New(dbpool.KindTxIllegalState, "transaction already completed")
	case t.status == StatusMarkedRollback:
		return dbpool.New(dbpool.KindTxMarked, "transaction marked rollback-only")
	}
	t.synchronizations = append(t.synchronizations, cb)
	return nil
}

// SetRollbackOnly transitions ACTIVE -> MARKED_ROLLBACK. It is idempotent
// from MARKED_ROLLBACK and fails KindTxIllegalState from any other state.
func (t *Transaction) SetRollbackOnly() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	switch t.status {
	case StatusActive:
		t.status = StatusMarkedRollback
		return nil
	case StatusMarkedRollback:
		return nil
	default:
		return dbpool.New(dbpool.KindTxIllegalState, "cannot mark rollback-only from this state")
	}
}

// Commit completes the transaction, committing every enlisted resource if
// the transaction is healthy, or rolling everything back and reporting why
// if it was timed out or marked rollback-only.
func (t *Transaction) Commit() error {
	t.mutex.Lock()
	status := t.status
	timedOut := status == StatusActive && t.timedOut()
	t.mutex.Unlock()

	switch {
	case status == StatusActive && !timedOut:
		return t.doCommit()
	case status == StatusActive && timedOut:
		t.doRollback()
		return dbpool.New(dbpool.KindTxTimeout, "commit called after transaction timeout")
	case status == StatusMarkedRollback:
		t.doRollback()
		return dbpool.New(dbpool.KindTxMarked, "commit called on rollback-only transaction")
	default:
		return dbpool.New(dbpool.KindTxIllegalState, "transaction not in a commit-eligible state")
	}
}

// Rollback rolls the transaction back. Idempotent if already
// ROLLED_BACK; fails KindTxIllegalState if already COMMITTED.
func (t *Transaction) Rollback() error {
	t.mutex.Lock()
	status := t.status
	t.mutex.Unlock()

	if status == StatusCommitted {
		return dbpool.New(dbpool.KindTxIllegalState, "cannot roll back a committed transaction")
	}
	return t.doRollback()
}

// doCommit implements section 4.B's doCommit protocol.
func (t *Transaction) doCommit() error {
	t.fireBeforeCompletion()

	t.mutex.Lock()
	t.status = StatusCommitting
	branches := make(map[Resource]*xid.BranchId, len(t.resources))
	for r, b := range t.resources {
		branches[r] = b
	}
	t.mutex.Unlock()

	var firstErr error
	for resource, branch := range branches {
		if branch.Status != xid.StatusActive {
			continue
		}
		if err := resource.Commit(branch, true); err != nil {
			firstErr = err
			log.Printf("[txn] resource commit failed for branch %s: %v", branch, err)
			break
		}
		if err := resource.End(branch, TMSuccess); err != nil {
			log.Printf("[txn] resource end(TMSuccess) failed for branch %s: %v", branch, err)
		}
		branch.Status = xid.StatusCommitted
	}

	if firstErr == nil {
		t.mutex.Lock()
		t.status = StatusCommitted
		t.mutex.Unlock()
		t.fireAfterCompletion(StatusCommitted)
		return nil
	}

	t.doRollback()
	return dbpool.Wrap(dbpool.KindSystem, "commit failed, transaction rolled back", firstErr)
}

// doRollback implements section 4.B's doRollback protocol. It is safe to
// call more than once; subsequent calls are no-ops once terminal.
func (t *Transaction) doRollback() error {
	t.mutex.Lock()
	if t.status == StatusRolledBack {
		t.mutex.Unlock()
		return nil
	}
	t.status = StatusRollingBack
	branches := make(map[Resource]*xid.BranchId, len(t.resources))
	for r, b := range t.resources {
		branches[r] = b
	}
	t.mutex.Unlock()

	var firstErr error
	for resource, branch := range branches {
		if branch.Status != xid.StatusActive {
			continue
		}
		if err := resource.Rollback(branch); err != nil && firstErr == nil {
			firstErr = err
			log.Printf("[txn] resource rollback failed for branch %s: %v", branch, err)
		}
		if err := resource.End(branch, TMFail); err != nil {
			log.Printf("[txn] resource end(TMFail) failed for branch %s: %v", branch, err)
		}
		branch.Status = xid.StatusRolledBack
	}

	t.mutex.Lock()
	t.status = StatusRolledBack
	t.mutex.Unlock()
	t.fireAfterCompletion(StatusRolledBack)

	if firstErr != nil {
		return dbpool.Wrap(dbpool.KindSystem, "rollback observed a resource error", firstErr)
	}
	return nil
}

func (t *Transaction) fireBeforeCompletion() {
	t.mutex.Lock()
	cbs := append([]Synchronization(nil), t.synchronizations...)
	t.mutex.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[txn] synchronization BeforeCompletion panicked for transaction %d: %v", t.globalID, r)
				}
			}()
			cb.BeforeCompletion()
		}()
	}
}

func (t *Transaction) fireAfterCompletion(status Status) {
	t.mutex.Lock()
	cbs := append([]Synchronization(nil), t.synchronizations...)
	t.mutex.Unlock()

	for _, cb := range cbs {
		cb.AfterCompletion(status)
	}
}
