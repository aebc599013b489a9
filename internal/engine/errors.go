package engine

import (
	"errors"
	"fmt"
)

// ErrNoRecord is returned by persistence operations invoked before a remote
// record exists (initialization failed or never ran).
var ErrNoRecord = errors.New("no assessment record")

// ErrNotReady is returned when an operation requires a completed Init.
var ErrNotReady = errors.New("engine not initialized")

// InitializationError reports a degraded startup. The engine still reaches
// the ready state so the user is never blocked outright; the caller decides
// how loudly to surface it.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize assessment: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// SubmissionError reports a failed final commit. The session update inside
// submit is retried once before this is returned.
type SubmissionError struct {
	RecordID string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit assessment %s: %v", e.RecordID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
