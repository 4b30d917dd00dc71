package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotFound is returned when a mutation targets an entity absent from the LocalStore.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrOperationNotFound is returned when an explicit action names an unknown operation.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSyncInProgress is returned by Drain when another pass is already running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrRolledBack is returned when retrying an operation whose local effect was reverted.
	ErrRolledBack = errors.New("operation was rolled back")

	// ErrMissingServerID is returned when a create response carries no id.
	ErrMissingServerID = errors.New("server response missing id")

	// ErrInvalidPayload is returned when a payload fails schema validation.
	ErrInvalidPayload = errors.New("invalid payload")
)

// SyncError describes one failed dispatch attempt.
//
// A SyncError is produced for every attempt that does not end in
// reconciliation, whether the remote rejected the call, the network failed,
// or the response could not be reconciled. Message is what lands in the
// syncErrors map.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// OperationID identifies the failed operation.
	OperationID string

	// Message is a human-readable description.
	Message string

	// RetryCount is the operation's retry count after this attempt.
	RetryCount int

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes dispatch failures.
type SyncErrorCode string

const (
	// ErrCodeRemoteFailed indicates the remote call failed or was rejected.
	ErrCodeRemoteFailed SyncErrorCode = "REMOTE_FAILED"

	// ErrCodeReconcileFailed indicates the call succeeded but its response could not be applied.
	ErrCodeReconcileFailed SyncErrorCode = "RECONCILE_FAILED"

	// ErrCodeRetriesExhausted indicates the operation reached its retry limit and is now failed.
	ErrCodeRetriesExhausted SyncErrorCode = "RETRIES_EXHAUSTED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.OperationID != "" {
		return fmt.Sprintf("%s: %s (op=%s, retries=%d)", e.Code, e.Message, e.OperationID, e.RetryCount)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsRetriesExhausted returns true if the error marks a terminal failure.
// Uses errors.As to handle wrapped errors.
func IsRetriesExhausted(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeRetriesExhausted
	}
	return false
}

// IsReconcileError returns true if the remote accepted the call but reconciliation failed.
func IsReconcileError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeReconcileFailed
	}
	return false
}
