package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/repo"
)

// AddDependencyOptions add one edge "TaskID depends on DependsOnTaskID".
type AddDependencyOptions struct {
	TaskID string
	DependencySpec
	Actor domain.Actor
}

// AddDependency validates and inserts an edge. A rejected edge leaves the
// graph untouched.
func (e Engine) AddDependency(ctx context.Context, opts AddDependencyOptions) (d domain.Dependency, err error) {
	defer e.observe(ctx, "add_dependency", time.Now(), &err)
	if err := validActor(opts.Actor); err != nil {
		return d, err
	}
	if err := opts.DependencySpec.validate(); err != nil {
		return d, err
	}
	if opts.TaskID == opts.DependsOnTaskID {
		return d, ErrSelfDependency
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTask(ctx, tx, opts.TaskID)
	if err != nil {
		return d, err
	}
	if err := e.Repo.LockProject(ctx, tx, task.ProjectID); err != nil {
		return d, err
	}
	if task, err = e.Repo.GetTask(ctx, tx, opts.TaskID); err != nil {
		return d, err
	}
	target, err := e.Repo.GetTask(ctx, tx, opts.DependsOnTaskID)
	if err != nil {
		return d, fmt.Errorf("dependency %s: %w", opts.DependsOnTaskID, err)
	}
	if target.ProjectID != task.ProjectID {
		return d, fmt.Errorf("%w: %s is in project %s", ErrInvalidParent, target.ID, target.ProjectID)
	}
	exists, err := e.Repo.DependencyExists(ctx, tx, task.ID, target.ID)
	if err != nil {
		return d, err
	}
	if exists {
		return d, fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, task.ID, target.ID)
	}
	if task.Status != domain.StatusPending {
		return d, fmt.Errorf("%w: %s is %s", ErrDependencyLocked, task.ID, task.Status)
	}
	path, err := e.dependencyPath(ctx, tx, target.ID, task.ID)
	if err != nil {
		return d, err
	}
	if path != nil {
		return d, fmt.Errorf("%w: %s -> %s", ErrCycleDetected, task.ID, strings.Join(path, " -> "))
	}
	d = opts.DependencySpec.edge(task.ID, e.now())
	if err := e.Repo.InsertDependency(ctx, tx, d); err != nil {
		return d, fmt.Errorf("insert dependency: %w", err)
	}
	if _, err := e.evaluateReadiness(ctx, tx, task.ID, opts.Actor, "dependencies met"); err != nil {
		return d, err
	}
	if _, err := e.recomputeProgress(ctx, tx, task.ProjectID); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	e.logger().Info("dependency added", "task", d.TaskID, "depends_on", d.DependsOnTaskID, "type", d.Type, "blocking", d.Blocking)
	return d, nil
}

// dependencyPath searches breadth-first from `from` along depends-on edges and
// returns the path to `to`, or nil if `to` is unreachable.
func (e Engine) dependencyPath(ctx context.Context, q repo.Querier, from, to string) ([]string, error) {
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == to {
			var path []string
			for cur := id; cur != ""; cur = parent[cur] {
				path = append([]string{cur}, path...)
			}
			return path, nil
		}
		next, err := e.Repo.ListDependsOn(ctx, q, id)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = id
			queue = append(queue, n)
		}
	}
	return nil, nil
}
