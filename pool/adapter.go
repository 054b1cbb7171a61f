package pool

import (
	"context"
	"log"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/txn"
	"github.com/lordbasex/dbpool/xid"
)

// ResourceAdapter adapts a PooledConnection to the txn.Resource two-phase
// commit contract (component E). Start and End are no-ops: a resource's
// presence in the transaction's resource map is itself the binding. Commit
// and Rollback delegate to the underlying connection; on either outcome the
// adapter restores autocommit and notifies the owning pool to unpin the
// connection and release it (to idle, or destroyed if it was invalidated).
type ResourceAdapter struct {
	conn     *PooledConnection
	finished bool
}

// NewResourceAdapter wraps conn for enlistment with a Transaction.
func NewResourceAdapter(conn *PooledConnection) *ResourceAdapter {
	return &ResourceAdapter{conn: conn}
}

func (a *ResourceAdapter) Start(branch *xid.BranchId, flag txn.Flag) error {
	return nil
}

func (a *ResourceAdapter) End(branch *xid.BranchId, flag txn.Flag) error {
	return nil
}

func (a *ResourceAdapter) Commit(branch *xid.BranchId, onePhase bool) error {
	ctx := context.Background()
	if err := a.conn.raw.Commit(ctx); err != nil {
		a.conn.markBrokenIfFatal(err)
		a.finish(ctx)
		return dbpool.Wrap(dbpool.KindResourceXA, "commit failed on pooled connection", err)
	}
	a.finish(ctx)
	return nil
}

func (a *ResourceAdapter) Rollback(branch *xid.BranchId) error {
	ctx := context.Background()
	err := a.conn.raw.Rollback(ctx)
	if err != nil {
		a.conn.markBrokenIfFatal(err)
		log.Printf("[pool] rollback failed on connection %s: %v", a.conn.ID, err)
	}
	a.finish(ctx)
	if err != nil {
		return dbpool.Wrap(dbpool.KindResourceXA, "rollback failed on pooled connection", err)
	}
	return nil
}

// finish restores autocommit (best-effort) and hands the connection back to
// the pool through unpinAndRelease, which removes it from the
// transaction-affinity map and releases it. Only the first call has any
// effect, so a Rollback that follows a failed Commit does not release the
// connection a second time.
func (a *ResourceAdapter) finish(ctx context.Context) {
	if a.finished {
		return
	}
	a.finished = true
	a.conn.unpin()
	if !a.conn.isInvalidated() {
		if err := a.conn.raw.SetAutoCommit(ctx, true); err != nil {
			log.Printf("[pool] failed to restore autocommit on connection %s: %v", a.conn.ID, err)
		}
	}
	a.conn.owner.unpinAndRelease(a.conn)
}

func (a *ResourceAdapter) Prepare(branch *xid.BranchId) (txn.Vote, error) {
	return txn.VoteReadOnly, nil
}

func (a *ResourceAdapter) IsSameRM(other txn.Resource) bool {
	o, ok := other.(*ResourceAdapter)
	return ok && o.conn == a.conn
}

func (a *ResourceAdapter) Forget(branch *xid.BranchId) error {
	return nil
}

// Connection returns the wrapped PooledConnection.
func (a *ResourceAdapter) Connection() *PooledConnection {
	return a.conn
}
