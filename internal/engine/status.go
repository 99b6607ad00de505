package engine

import (
	"context"
	"fmt"
	"time"

	"workgraph/internal/audit"
	"workgraph/internal/domain"
)

var taskStatuses = map[string]bool{
	domain.StatusPending: true, domain.StatusReady: true, domain.StatusInProgress: true, domain.StatusBlocked: true,
	domain.StatusReview: true, domain.StatusCompleted: true, domain.StatusCancelled: true,
}

// gated reports whether entering status requires all blocking dependencies met.
func gated(status string) bool {
	switch status {
	case domain.StatusReady, domain.StatusInProgress, domain.StatusReview, domain.StatusCompleted:
		return true
	}
	return false
}

func ensureTaskTransition(t domain.Task, to string) error {
	from := t.Status
	ok := false
	switch from {
	case domain.StatusPending:
		ok = to == domain.StatusReady || to == domain.StatusBlocked || to == domain.StatusCancelled
	case domain.StatusReady:
		ok = to == domain.StatusInProgress || to == domain.StatusBlocked || to == domain.StatusCancelled
	case domain.StatusInProgress:
		ok = to == domain.StatusReview || to == domain.StatusBlocked || to == domain.StatusCancelled
	case domain.StatusReview:
		ok = to == domain.StatusCompleted || to == domain.StatusInProgress || to == domain.StatusBlocked || to == domain.StatusCancelled
	case domain.StatusBlocked:
		ok = to == domain.StatusCancelled || (t.BlockedFrom != nil && to == *t.BlockedFrom)
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TaskStatusOptions are parameters for a status change.
type TaskStatusOptions struct {
	TaskID string
	Status string
	Actor  domain.Actor
	Note   string
}

// UpdateTaskStatus validates and applies one transition. The audit record,
// readiness of direct dependents and the project rollup commit with it.
func (e Engine) UpdateTaskStatus(ctx context.Context, opts TaskStatusOptions) (t domain.Task, err error) {
	defer e.observe(ctx, "update_task_status", time.Now(), &err)
	if err := validActor(opts.Actor); err != nil {
		return t, err
	}
	if !taskStatuses[opts.Status] {
		return t, invalidf("unknown task status %q", opts.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if t, err = e.lockTask(ctx, tx, opts.TaskID); err != nil {
		return t, err
	}
	if err := ensureTaskTransition(t, opts.Status); err != nil {
		return t, err
	}
	now := e.now()
	if gated(opts.Status) {
		deps, err := e.Repo.ListDependencyStates(ctx, tx, t.ID)
		if err != nil {
			return t, err
		}
		if !DependenciesMet(deps, now) {
			return t, fmt.Errorf("%w: %s has unresolved blocking dependencies", ErrInvalidTransition, t.ID)
		}
	}

	from := t.Status
	if from == domain.StatusBlocked {
		t.BlockedFrom = nil
	}
	t.Status = opts.Status
	switch opts.Status {
	case domain.StatusBlocked:
		t.BlockedFrom = &from
	case domain.StatusReady:
		if t.ReadyAt == nil {
			t.ReadyAt = &now
		}
	case domain.StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.StatusCompleted:
		t.CompletedAt = &now
		t.ProgressPercentage = 100
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskState(ctx, tx, t); err != nil {
		return t, fmt.Errorf("update task: %w", err)
	}
	u := audit.StatusChange(t, opts.Actor, from, t.Status, opts.Note)
	if t.Status == domain.StatusCompleted {
		p := t.ProgressPercentage
		u.Progress = &p
	}
	if err := e.appendUpdate(ctx, tx, u); err != nil {
		return t, err
	}

	var promoted []string
	switch t.Status {
	case domain.StatusCompleted:
		if promoted, err = e.propagateCompletion(ctx, tx, t, opts.Actor); err != nil {
			return t, err
		}
	case domain.StatusPending:
		ok, err := e.evaluateReadiness(ctx, tx, t.ID, opts.Actor, "unblocked with dependencies met")
		if err != nil {
			return t, err
		}
		if ok {
			promoted = append(promoted, t.ID)
		}
	}
	if _, err := e.recomputeProgress(ctx, tx, t.ProjectID); err != nil {
		return t, err
	}
	if t, err = e.Repo.GetTask(ctx, tx, t.ID); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.logger().Info("task status changed", "task", t.ID, "project", t.ProjectID, "from", from, "to", opts.Status,
		"team", opts.Actor.TeamID, "promoted", len(promoted))
	return t, nil
}
