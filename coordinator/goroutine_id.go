package coordinator

import (
	"fmt"
	"runtime"
)

// goroutineID recovers the numeric id of the calling goroutine by parsing
// the header line of a runtime.Stack dump ("goroutine <id> [running]: ...").
// This is the same technique this codebase's lineage uses elsewhere to
// recover caller identity without threading it explicitly through every
// call (see dbpool's design notes on goroutine-local transaction binding).
// It is deliberately not exposed outside this package: it exists solely to
// back the coordinator's per-goroutine slots, not as a general-purpose
// goroutine-id API.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}
