package txn

import "github.com/lordbasex/dbpool/xid"

// Flag carries the TMSUCCESS/TMFAIL-style hints passed to a resource's End
// call, mirroring the flags of a classic XA resource manager interface.
type Flag int

const (
	TMNoFlags Flag = iota
	TMJoin
	TMSuccess
	TMFail
)

// Vote is the outcome of a resource's Prepare call. This coordinator never
// calls Prepare (see package doc), so a vote has no effect on completion.
// pool.ResourceAdapter votes VoteReadOnly; amqpresource.AMQPResource votes
// VoteOK.
type Vote int

const (
	VoteReadOnly Vote = iota
	VoteOK
)

// Resource is the two-phase-commit contract a caller enlists with a
// Transaction. Implementations are identified by Go pointer identity in the
// Transaction's resource map, not by any value-level equality.
type Resource interface {
	// Start is invoked once, synchronously, during Enlist. flag indicates
	// whether this is a brand-new branch (always TMNoFlags here, never
	// TMJoin: this coordinator never rejoins an existing branch).
	Start(branch *xid.BranchId, flag Flag) error

	// End is invoked once per Delist or as part of commit/rollback
	// completion, with TMSuccess on the happy path and TMFail otherwise.
	End(branch *xid.BranchId, flag Flag) error

	// Commit finalizes the branch. onePhase is always true: this
	// coordinator is a one-phase coordinator (see package doc rationale).
	Commit(branch *xid.BranchId, onePhase bool) error

	// Rollback aborts the branch.
	Rollback(branch *xid.BranchId) error

	// Prepare returns this resource's vote. Transaction never calls it.
	Prepare(branch *xid.BranchId) (Vote, error)

	// IsSameRM reports whether other wraps the same underlying managed
	// resource as this one (identity, not value equality).
	IsSameRM(other Resource) bool

	// Forget releases any in-doubt bookkeeping for branch. This
	// coordinator keeps no in-doubt log (see Non-goals), so
	// implementations are expected to no-op.
	Forget(branch *xid.BranchId) error
}

// Synchronization receives lifecycle callbacks around a transaction's
// completion, registered in order via Transaction.RegisterSynchronization
// and invoked in that same order.
type Synchronization interface {
	// BeforeCompletion runs before any resource is told to commit or
	// roll back. A panic or error here does not prevent completion; the
	// Transaction logs and continues (mirrors typical JTA synchronization
	// semantics: synchronizations observe, they do not veto).
	BeforeCompletion()

	// AfterCompletion runs once the transaction has reached a terminal
	// status (StatusCommitted or StatusRolledBack), which is passed in.
	AfterCompletion(status Status)
}
