package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry lookups and uniqueness violations.
// Postgres repositories map driver-level constraint errors onto these,
// memory repositories return them directly, so callers can errors.Is
// without caring which store is behind the interface.
var (
	ErrNotFound        = errors.New("not found")
	ErrNodeExists      = errors.New("node id already exists")
	ErrDeviceExists    = errors.New("device already exists")
	ErrAlreadyAttached = errors.New("device service already attached")
)

// ValidationError rejects malformed input before any store mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransactionError wraps a store failure that aborted a multi-statement
// transaction. The underlying cause is preserved for diagnostics.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ProvisioningError signals schema or series-table creation failure.
// Fatal at startup for core tables, a request-level error for per-group
// tables.
type ProvisioningError struct {
	Table string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s failed: %v", e.Table, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
