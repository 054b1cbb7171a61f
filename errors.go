// Package dbpool is the root package of a pooled database-connection
// provider coupled with a lightweight, single-process transaction
// coordinator. It defines the shared error vocabulary used across the
// txn, coordinator, pool, amqpresource, and datasource packages; the
// provider itself is assembled in package datasource.
package dbpool

import (
	"errors"
	"fmt"
)

// Kind classifies an Error without requiring a distinct Go type per kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindPoolClosed
	KindBorrowTimeout
	KindInterrupted
	KindDriver
	KindConnectionBroken
	KindTxTimeout
	KindTxMarked
	KindTxIllegalState
	KindResourceXA
	KindSystem
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPoolClosed:
		return "pool_closed"
	case KindBorrowTimeout:
		return "borrow_timeout"
	case KindInterrupted:
		return "interrupted"
	case KindDriver:
		return "driver"
	case KindConnectionBroken:
		return "connection_broken"
	case KindTxTimeout:
		return "tx_timeout"
	case KindTxMarked:
		return "tx_marked"
	case KindTxIllegalState:
		return "tx_illegal_state"
	case KindResourceXA:
		return "resource_xa"
	case KindSystem:
		return "system"
	case KindNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Error is the single error value type used throughout this module. Callers
// distinguish failure modes with errors.As and a Kind comparison rather than
// a type switch over one Go type per kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dbpool: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("dbpool: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// `errors.Is(err, dbpool.New(dbpool.KindTxTimeout, ""))` matches any error
// of that kind. KindOf below is the simpler way to read the kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, otherwise
// returns KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
