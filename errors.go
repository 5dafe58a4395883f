package ctag

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable name for a class of failure, used in results and JSON output.
type ErrorKind string

const (
	KindQuery      ErrorKind = "query"
	KindTransport  ErrorKind = "transport"
	KindPattern    ErrorKind = "pattern"
	KindValidation ErrorKind = "validation"
	KindInternal   ErrorKind = "internal"
)

var (
	ErrQueryRejected   = errors.New("query rejected")
	ErrTransport       = errors.New("transport failure")
	ErrInvalidPattern  = errors.New("invalid pattern")
	ErrInvalidCommand  = errors.New("invalid command")
	ErrMissingSettings = errors.New("missing connection settings")
)

// QueryError reports a query the remote refused, usually a CQL syntax error.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrQueryRejected }

// TransportError reports a network, authentication or server failure from the remote API.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

type PatternCompileError struct {
	Pattern string
	Err     error
}

func (e *PatternCompileError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternCompileError) Unwrap() error { return e.Err }

func (e *PatternCompileError) Is(target error) bool { return target == ErrInvalidPattern }

// ValidationError reports a structurally valid command with unusable content.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidCommand }

// KindOf classifies err into one of the stable error kinds.
func KindOf(err error) ErrorKind {
	var (
		queryErr     *QueryError
		transportErr *TransportError
		patternErr   *PatternCompileError
		validateErr  *ValidationError
	)
	switch {
	case errors.As(err, &queryErr):
		return KindQuery
	case errors.As(err, &patternErr):
		return KindPattern
	case errors.As(err, &validateErr):
		return KindValidation
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindInternal
	}
}

// IsQueryError reports whether err was caused by a rejected query.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrQueryRejected)
}

func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
