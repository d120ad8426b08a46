package agentmodel

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the error
// taxonomy: each has a distinct recovery policy enforced by its
// caller, not by the error type itself.
type Kind string

const (
	KindConfig      Kind = "config"       // abort early, clear message
	KindTransient   Kind = "transient"    // retry up to maxRetries
	KindFatal       Kind = "fatal"        // record on AgentResult, continue if continueOnError
	KindPersistence Kind = "persistence"  // log at debug, continue execution
	KindSubprocess  Kind = "subprocess"   // record on ExecutionResult, fail chain at this step
	KindCycle       Kind = "cycle"        // abort before any step runs
	KindCancelled   Kind = "cancelled"    // clean up, surface as aborted
	KindParse       Kind = "parse"        // degrade gracefully
)

// Error is a typed, kind-tagged error so callers can `errors.As` for
// recovery policy instead of matching on message strings.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NewConfigError(msg string, err error) *Error      { return newErr(KindConfig, msg, err) }
func NewTransientError(msg string, err error) *Error   { return newErr(KindTransient, msg, err) }
func NewFatalError(msg string, err error) *Error       { return newErr(KindFatal, msg, err) }
func NewPersistenceError(msg string, err error) *Error { return newErr(KindPersistence, msg, err) }
func NewSubprocessError(msg string, err error) *Error  { return newErr(KindSubprocess, msg, err) }
func NewParseError(msg string, err error) *Error       { return newErr(KindParse, msg, err) }

// CycleError names the nodes left over when a dependency graph fails
// to fully order because of a cycle.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle: %v", e.Remaining)
}

// Cancelled is returned when an operation observes a fired abort
// signal instead of completing normally.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

// IsCancelled reports whether err is (or wraps) a Cancelled error.
func IsCancelled(err error) bool {
	var c *Cancelled
	if errors.As(err, &c) {
		return true
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindCancelled
	}
	return false
}
