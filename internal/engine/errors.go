package engine

import "errors"

// Validation errors returned by Transfer before any transaction row exists.
// Each failure kind is distinct so callers must handle each case.
var (
	// ErrSelfTransfer is returned when sender and receiver are the same account.
	ErrSelfTransfer = errors.New("transfer: cannot transfer to self")

	// ErrUnauthorized is returned when the acting identity is not the sender.
	ErrUnauthorized = errors.New("transfer: actor may only move funds from their own account")

	// ErrNotFound is returned when the sender or receiver account does not exist.
	ErrNotFound = errors.New("transfer: account not found")

	// ErrInvalidAmount is returned when the amount is not strictly positive.
	ErrInvalidAmount = errors.New("transfer: amount must be positive")

	// ErrInsufficientBalance is returned when the sender balance cannot cover
	// the amount at submission time.
	ErrInsufficientBalance = errors.New("transfer: insufficient balance")
)

// IsRejection reports whether err is a synchronous validation rejection,
// meaning no transaction row was persisted.
func IsRejection(err error) bool {
	return errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance)
}
