package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transfer failures into a closed set so callers can
// branch on kind instead of parsing messages.
type ErrorKind int

const (
	// KindInvalidRequest marks malformed input: non-positive amount or
	// identical source and destination accounts.
	KindInvalidRequest ErrorKind = iota + 1
	// KindAccountNotFound marks a missing source or destination account;
	// TransferError.Which says which one.
	KindAccountNotFound
	// KindInsufficientBalance marks a legitimate business rejection.
	KindInsufficientBalance
	// KindContention marks a transient concurrency conflict; the whole
	// transfer is safe to retry from scratch.
	KindContention
	// KindTimeout marks a context deadline or cancellation; also safe to
	// retry since no partial mutation can have occurred.
	KindTimeout
	// KindStoreFailure marks an unavailable store or a failed append.
	KindStoreFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindAccountNotFound:
		return "account_not_found"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindContention:
		return "contention"
	case KindTimeout:
		return "timeout"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failed transfer may be re-issued as-is.
// Only transient concurrency outcomes qualify; business rejections and
// bad input never do.
func (k ErrorKind) Retryable() bool {
	return k == KindContention || k == KindTimeout
}

// TransferError is the structured error returned by the transfer engine.
type TransferError struct {
	Kind    ErrorKind `json:"kind"`
	Which   string    `json:"which,omitempty"` // "source" or "destination" for KindAccountNotFound
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewTransferError(kind ErrorKind, message string, err error) *TransferError {
	return &TransferError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewAccountNotFound builds a not-found error for the given side of a
// transfer ("source" or "destination").
func NewAccountNotFound(which string) *TransferError {
	return &TransferError{
		Kind:    KindAccountNotFound,
		Which:   which,
		Message: fmt.Sprintf("%s account not found", which),
	}
}

// KindOf extracts the ErrorKind from err, or 0 if err is not a
// TransferError.
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}
