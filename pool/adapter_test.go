package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lordbasex/dbpool"
)

func newTestConnection(t *testing.T, p *ConnectionPool) (*PooledConnection, *fakeRawConn) {
	t.Helper()
	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	return conn, conn.raw.(*fakeRawConn)
}

func TestResourceAdapter_CommitRestoresAutocommitAndReleases(t *testing.T) {
	d := &fakeDriver{}
	p := NewConnectionPool(d, testConfig())
	conn, raw := newTestConnection(t, p)
	conn.pin(nil) // pin state is irrelevant to the adapter itself

	adapter := NewResourceAdapter(conn)
	require.NoError(t, adapter.Commit(nil, true))

	require.Equal(t, 1, raw.commits)
	require.Contains(t, raw.autocommits, true)
	require.Nil(t, conn.PinnedTransaction())

	// released back to idle, not destroyed
	require.False(t, raw.isClosed())
	conn2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.Same(t, conn, conn2)
}

func TestResourceAdapter_CommitFailureInvalidatesConnection(t *testing.T) {
	d := &fakeDriver{}
	p := NewConnectionPool(d, testConfig())
	conn, raw := newTestConnection(t, p)
	raw.failCommit = true

	adapter := NewResourceAdapter(conn)
	err := adapter.Commit(nil, true)
	require.Error(t, err)
	require.Equal(t, dbpool.KindResourceXA, dbpool.KindOf(err))

	require.True(t, raw.isClosed(), "a failed commit must invalidate the connection so it is destroyed, not reused")
}

func TestResourceAdapter_RollbackFailureIsReportedButStillReleases(t *testing.T) {
	d := &fakeDriver{}
	p := NewConnectionPool(d, testConfig())
	conn, raw := newTestConnection(t, p)
	raw.failRollback = true

	adapter := NewResourceAdapter(conn)
	err := adapter.Rollback(nil)
	require.Error(t, err)
	require.Equal(t, dbpool.KindResourceXA, dbpool.KindOf(err))
	require.Equal(t, 1, raw.rollbacks)
	require.True(t, raw.isClosed(), "the failed rollback invalidates the connection, so its release destroys it")
}

func TestResourceAdapter_IsSameRMComparesWrappedConnection(t *testing.T) {
	d := &fakeDriver{}
	p := NewConnectionPool(d, testConfig())
	conn, _ := newTestConnection(t, p)
	conn2, _ := newTestConnection(t, p)

	a1 := NewResourceAdapter(conn)
	a1Again := NewResourceAdapter(conn)
	a2 := NewResourceAdapter(conn2)

	require.True(t, a1.IsSameRM(a1Again))
	require.False(t, a1.IsSameRM(a2))
}
