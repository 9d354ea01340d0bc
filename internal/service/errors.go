package service

import (
	"errors"
	"fmt"
)

// ErrConflictNotFound is returned by resolution calls for an unknown or
// already-resolved conflict id.
var ErrConflictNotFound = errors.New("conflict not found")

// ValidationError rejects a single malformed push item. It is reported in
// the push result and never aborts the batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DeviceConflictError marks a device id already bound to a different user.
// This is a hard failure on the registration call, not a sync conflict.
type DeviceConflictError struct {
	DeviceID string
}

func (e *DeviceConflictError) Error() string {
	return fmt.Sprintf("device %s is registered to a different user", e.DeviceID)
}

// StorageError wraps a transient storage failure after the inline retry
// was exhausted. The whole push is safe to retry thanks to idempotency.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ResolutionError marks an ambiguous resolution (equal timestamps or a
// delete-involving conflict) that must go to an operator. The system never
// silently chooses a side.
type ResolutionError struct {
	Reason string
}

func (e *ResolutionError) Error() string {
	return "resolution requires manual intervention: " + e.Reason
}
