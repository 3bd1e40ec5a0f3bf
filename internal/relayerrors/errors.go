// Package relayerrors defines the errors the relay classifies message outcomes by.
package relayerrors

import "fmt"

// NotFoundReason says why a transaction lookup came back empty.
type NotFoundReason string

// Not found reasons; the values appear in logs.
const (
	ReasonMissing   NotFoundReason = "missing"
	ReasonExpired   NotFoundReason = "expired"
	ReasonEmptyHash NotFoundReason = "empty_transfer_hash"
)

// ErrTransactionNotFound matches any *TransactionNotFoundError with errors.Is.
var ErrTransactionNotFound = &TransactionNotFoundError{}

// TransactionNotFoundError is returned when no live transaction exists for a transfer hash:
// it was never written, the store expired it, or the message carried no hash.
type TransactionNotFoundError struct {
	TransferHash string
	Reason       NotFoundReason
}

// NewTransactionNotFoundError creates a not found error for transferHash.
func NewTransactionNotFoundError(transferHash string, reason NotFoundReason) *TransactionNotFoundError {
	return &TransactionNotFoundError{TransferHash: transferHash, Reason: reason}
}

// Error implements the error interface.
func (e *TransactionNotFoundError) Error() string {
	switch {
	case e.Reason == ReasonEmptyHash:
		return "transaction not found: empty transfer hash"
	case e.TransferHash == "":
		return "transaction not found"
	case e.Reason == ReasonExpired:
		return fmt.Sprintf("transaction %s expired", e.TransferHash)
	default:
		return fmt.Sprintf("transaction %s not found", e.TransferHash)
	}
}

// Is reports whether target is a *TransactionNotFoundError.
func (e *TransactionNotFoundError) Is(target error) bool {
	_, ok := target.(*TransactionNotFoundError)

	return ok
}

// ErrMalformedMessage matches any *MalformedMessageError with errors.Is.
var ErrMalformedMessage = &MalformedMessageError{}

// MalformedMessageError is returned for a queue message body that is not a certificate message.
// Deliveries failing with it are rejected, never retried.
type MalformedMessageError struct {
	// Format is the body format label ("raw", "enveloped"); empty when the body was empty.
	Format string
	Reason string
	Err    error
}

// NewMalformedMessageError creates a malformed message error; err may be nil.
func NewMalformedMessageError(format, reason string, err error) *MalformedMessageError {
	return &MalformedMessageError{Format: format, Reason: reason, Err: err}
}

// Error implements the error interface.
func (e *MalformedMessageError) Error() string {
	msg := "malformed certificate message"
	if e.Format != "" {
		msg = "malformed " + e.Format + " certificate message"
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the decoding error, if any.
func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Is reports whether target is a *MalformedMessageError.
func (e *MalformedMessageError) Is(target error) bool {
	_, ok := target.(*MalformedMessageError)

	return ok
}
