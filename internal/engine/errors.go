package engine

import (
	"context"
	"errors"
	"fmt"

	"workgraph/internal/repo"
)

// Validation failures. None of them are retried by the engine.
var (
	ErrCycleDetected      = errors.New("dependency would create a cycle")
	ErrSelfDependency     = errors.New("task cannot depend on itself")
	ErrDuplicateEdge      = errors.New("dependency already exists")
	ErrInvalidParent      = errors.New("parent or dependency belongs to a different project")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNoEligibleTeam     = errors.New("no eligible team")
	ErrAlreadyAssigned    = errors.New("task already assigned")
	ErrDependencyLocked   = errors.New("dependencies are locked once a task leaves pending")
	ErrTaskNotReady       = errors.New("task is not ready")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var known = []error{
	ErrCycleDetected, ErrSelfDependency, ErrDuplicateEdge, ErrInvalidParent, ErrInvalidTransition,
	ErrNoEligibleTeam, ErrAlreadyAssigned, ErrDependencyLocked, ErrTaskNotReady, ErrInvalidInput,
	ErrStorageUnavailable, repo.ErrNotFound, context.Canceled, context.DeadlineExceeded,
}

// classify wraps any unrecognised error as ErrStorageUnavailable.
func classify(errp *error) {
	if errp == nil || *errp == nil {
		return
	}
	for _, k := range known {
		if errors.Is(*errp, k) {
			return
		}
	}
	*errp = fmt.Errorf("%w: %v", ErrStorageUnavailable, *errp)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Outcome names an error class for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, ErrSelfDependency):
		return "self_dependency"
	case errors.Is(err, ErrDuplicateEdge):
		return "duplicate_edge"
	case errors.Is(err, ErrInvalidParent):
		return "invalid_parent"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNoEligibleTeam):
		return "no_eligible_team"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrDependencyLocked):
		return "dependency_locked"
	case errors.Is(err, ErrTaskNotReady):
		return "task_not_ready"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage_unavailable"
	}
}
