package engine

import (
	"context"
	"fmt"
	"time"

	"workgraph/internal/audit"
	"workgraph/internal/domain"
	"workgraph/internal/repo"
	"workgraph/internal/telemetry"
)

// DependenciesMet reports whether every blocking edge points to a completed
// task whose lag has elapsed at now. Non-blocking edges never gate.
func DependenciesMet(deps []domain.DependencyState, now time.Time) bool {
	for _, d := range deps {
		if !d.Blocking {
			continue
		}
		if d.Status != domain.StatusCompleted {
			return false
		}
		ref := referencePoint(d)
		if ref == nil {
			return false
		}
		if now.Before(ref.Add(d.Lag())) {
			return false
		}
	}
	return true
}

// referencePoint is the dependency event the lag is measured from.
func referencePoint(d domain.DependencyState) *time.Time {
	switch d.Type {
	case domain.StartToStart, domain.StartToFinish:
		if d.StartedAt != nil {
			return d.StartedAt
		}
	}
	return d.CompletedAt
}

// evaluateReadiness advances a pending task to ready when its dependencies are
// met. Tasks outside pending are left alone.
func (e Engine) evaluateReadiness(ctx context.Context, q repo.Querier, taskID string, actor domain.Actor, note string) (bool, error) {
	t, err := e.Repo.GetTask(ctx, q, taskID)
	if err != nil {
		return false, err
	}
	if t.Status != domain.StatusPending {
		return false, nil
	}
	deps, err := e.Repo.ListDependencyStates(ctx, q, taskID)
	if err != nil {
		return false, err
	}
	now := e.now()
	if !DependenciesMet(deps, now) {
		return false, nil
	}
	t.Status = domain.StatusReady
	if t.ReadyAt == nil {
		t.ReadyAt = &now
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskState(ctx, q, t); err != nil {
		return false, fmt.Errorf("promote %s: %w", taskID, err)
	}
	u := audit.StatusChange(t, actor, domain.StatusPending, domain.StatusReady, note)
	if err := e.appendUpdate(ctx, q, u); err != nil {
		return false, err
	}
	telemetry.RecordPromotion(ctx)
	return true, nil
}

// propagateCompletion re-evaluates the direct dependents of a completed task.
func (e Engine) propagateCompletion(ctx context.Context, q repo.Querier, completed domain.Task, actor domain.Actor) ([]string, error) {
	dependents, err := e.Repo.ListDependents(ctx, q, completed.ID)
	if err != nil {
		return nil, err
	}
	var promoted []string
	note := fmt.Sprintf("dependency %s completed", completed.ID)
	for _, id := range dependents {
		ok, err := e.evaluateReadiness(ctx, q, id, actor, note)
		if err != nil {
			return nil, err
		}
		if ok {
			promoted = append(promoted, id)
		}
	}
	return promoted, nil
}

// ReevaluatePending re-checks every gated pending task, optionally in one
// project, so lagged dependencies release without waiting for another event.
// Each task is evaluated in its own transaction.
func (e Engine) ReevaluatePending(ctx context.Context, projectID string) (promoted []string, err error) {
	defer e.observe(ctx, "reevaluate_pending", time.Now(), &err)
	ids, err := e.Repo.ListGatedPendingTasks(ctx, e.DB, projectID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return promoted, err
		}
		ok, err := e.reevaluateOne(ctx, id)
		if err != nil {
			return promoted, err
		}
		if ok {
			promoted = append(promoted, id)
		}
	}
	return promoted, nil
}

func (e Engine) reevaluateOne(ctx context.Context, taskID string) (bool, error) {
	deps, err := e.Repo.ListDependencyStates(ctx, e.DB, taskID)
	if err != nil {
		return false, err
	}
	if !DependenciesMet(deps, e.now()) {
		return false, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return false, err
	}
	if err := e.Repo.LockProject(ctx, tx, t.ProjectID); err != nil {
		return false, err
	}
	ok, err := e.evaluateReadiness(ctx, tx, taskID, SystemActor, "dependency lag elapsed")
	if err != nil || !ok {
		return false, err
	}
	if _, err := e.recomputeProgress(ctx, tx, t.ProjectID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
