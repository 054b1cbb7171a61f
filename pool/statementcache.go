package pool

import (
	"database/sql/driver"
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru"
)

// cachedStmt pairs a prepared driver.Stmt with the exact query text it was
// prepared from, so a hash collision only ever costs a redundant prepare,
// never a wrong statement being reused.
type cachedStmt struct {
	query string
	stmt  driver.Stmt
}

// StatementCache is a bounded, per-connection cache of prepared statements
// keyed by a hash of normalized SQL text (component G). It exists so a hot
// query on a long-lived pooled connection is not re-prepared on every call.
type StatementCache struct {
	mutex sync.Mutex
	cache *lru.Cache
}

// NewStatementCache builds a StatementCache holding at most size prepared
// statements; evicted entries are closed immediately.
func NewStatementCache(size int) *StatementCache {
	sc := &StatementCache{}
	c, err := lru.NewWithEvict(size, func(key interface{}, value interface{}) {
		if cs, ok := value.(*cachedStmt); ok {
			_ = cs.stmt.Close()
		}
	})
	if err != nil {
		// size is always validated positive by Config.withDefaults before
		// this is called; a negative size here would be a programming
		// error, not a runtime condition to recover from.
		panic(err)
	}
	sc.cache = c
	return sc
}

// normalize collapses the whitespace variance that would otherwise make
// logically-identical queries hash differently.
func normalize(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}

func hashKey(query string) uint64 {
	return xxhash.Sum64String(normalize(query))
}

// Get returns the cached prepared statement for query, if its normalized
// text is still present and matches exactly.
func (sc *StatementCache) Get(query string) (driver.Stmt, bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	key := hashKey(query)
	v, ok := sc.cache.Get(key)
	if !ok {
		return nil, false
	}
	cs := v.(*cachedStmt)
	if normalize(cs.query) != normalize(query) {
		// Hash collision against a different query: treat as a miss
		// rather than risk executing the wrong statement.
		return nil, false
	}
	return cs.stmt, true
}

// Put inserts stmt under query's hash, evicting the least-recently-used
// entry if the cache is full.
func (sc *StatementCache) Put(query string, stmt driver.Stmt) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	key := hashKey(query)
	sc.cache.Add(key, &cachedStmt{query: query, stmt: stmt})
}

// Clear closes every cached prepared statement and empties the cache. It is
// called whenever a connection returns to idle, because a future borrower
// must not inherit statements prepared under a different caller's
// assumptions.
func (sc *StatementCache) Clear() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.cache.Purge()
}

// Len reports the current number of cached statements.
func (sc *StatementCache) Len() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.cache.Len()
}
