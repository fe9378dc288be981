package domain

import "errors"

// Sentinel errors shared across packages. Callers check them with errors.Is.
var (
	// ErrInsufficientData means a computation was skipped because the
	// instrument's history is too short. A skip, not a failure.
	ErrInsufficientData = errors.New("insufficient history")

	// ErrNoData means the data source returned nothing for the instrument.
	// The pipeline skips the instrument for this run; no automatic retry.
	ErrNoData = errors.New("no data available")

	// ErrNotFound is returned by repositories when a requested row does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrTaskNotPending guards the dispatch race: a task can only move to
	// RUNNING from PENDING.
	ErrTaskNotPending = errors.New("task is not pending")

	// ErrTaskTerminal means a cancel targeted a task that already finished.
	ErrTaskTerminal = errors.New("task already in terminal state")
)

// CancelledMessage is the sentinel error text recorded when a user cancels
// a task. Cancellation is logical only; in-flight handler code is never
// physically interrupted.
const CancelledMessage = "cancelled by user"
