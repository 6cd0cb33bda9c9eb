package utils

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks recoverable conditions where a computation
// lacks the minimum signal (too few evaluators, too few population
// members, no active cycle). Callers downgrade the result instead of
// failing the run.
var ErrInsufficientData = errors.New("insufficient data")

// ErrConflict signals a concurrent-write race on a keyed record. The
// caller retries once with a fresh read before giving up.
var ErrConflict = errors.New("write conflict")

// InsufficientData wraps ErrInsufficientData with a reason.
func InsufficientData(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInsufficientData}, args...)...)
}

// ComputationError identifies a per-employee scoring failure with enough
// context to reproduce it. It never aborts a batch; the employee is
// excluded from that run's output.
type ComputationError struct {
	EmployeeID string
	CycleID    string
	Stage      string
	Err        error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: employee %s cycle %s: %v", e.Stage, e.EmployeeID, e.CycleID, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// NewComputationError constructs a ComputationError.
func NewComputationError(stage, employeeID, cycleID string, err error) error {
	return &ComputationError{EmployeeID: employeeID, CycleID: cycleID, Stage: stage, Err: err}
}
