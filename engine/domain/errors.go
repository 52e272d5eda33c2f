package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. The typed errors below match these via errors.Is.
var (
	ErrOracle = errors.New("oracle invocation failed")
	ErrIndex  = errors.New("vector index unavailable")
	ErrCorpus = errors.New("corpus access failed")

	ErrEmptyPrayer  = errors.New("empty prayer transcription")
	ErrMissingID    = errors.New("missing id")
	ErrCoverage     = errors.New("passages do not cover chapter")
	ErrInvalidRange = errors.New("invalid verse range")
	ErrInvalidTopK  = errors.New("top-k must be positive")
)

// OracleInvocationError reports a failed continuation-oracle, query-optimizer
// or relevance-judgment call.
type OracleInvocationError struct {
	Op  string
	Err error
}

func (e *OracleInvocationError) Error() string {
	return fmt.Sprintf("oracle: %s: %v", e.Op, e.Err)
}

func (e *OracleInvocationError) Unwrap() []error { return []error{ErrOracle, e.Err} }

// IndexConnectivityError reports a vector index that is unreachable or
// rejected a request.
type IndexConnectivityError struct {
	Op  string
	Err error
}

func (e *IndexConnectivityError) Error() string {
	return fmt.Sprintf("index: %s: %v", e.Op, e.Err)
}

func (e *IndexConnectivityError) Unwrap() []error { return []error{ErrIndex, e.Err} }

// CorpusAccessError reports a verse source that could not be read for a book.
type CorpusAccessError struct {
	Book string
	Err  error
}

func (e *CorpusAccessError) Error() string {
	return fmt.Sprintf("corpus: book %q: %v", e.Book, e.Err)
}

func (e *CorpusAccessError) Unwrap() []error { return []error{ErrCorpus, e.Err} }

// NewOracleError wraps err as an OracleInvocationError. A nil err stays nil.
func NewOracleError(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OracleInvocationError
	if errors.As(err, &oe) {
		return err
	}
	return &OracleInvocationError{Op: op, Err: err}
}

// NewIndexError wraps err as an IndexConnectivityError. A nil err stays nil.
func NewIndexError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *IndexConnectivityError
	if errors.As(err, &ie) {
		return err
	}
	return &IndexConnectivityError{Op: op, Err: err}
}

// NewCorpusError wraps err as a CorpusAccessError. A nil err stays nil.
func NewCorpusError(book string, err error) error {
	if err == nil {
		return nil
	}
	return &CorpusAccessError{Book: book, Err: err}
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
