package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/repo"
)

var complexities = map[string]bool{"easy": true, "medium": true, "hard": true, "expert": true}

// TaskCreateOptions are parameters for creating a task. ProjectID may be
// omitted when ParentTaskID is given.
type TaskCreateOptions struct {
	ID             string
	ProjectID      string
	ParentTaskID   string
	Title          string
	Description    string
	Type           string
	Priority       int
	Complexity     string
	EstimatedHours *float64
	RequiredSkills []string
	DueDate        *time.Time
	DependsOn      []DependencySpec
	Actor          domain.Actor
}

// DependencySpec describes one edge from the task being created or updated.
// The zero value is a blocking finish_to_start edge with no lag.
type DependencySpec struct {
	DependsOnTaskID string
	Type            string
	NonBlocking     bool
	Lag             time.Duration
}

func (s DependencySpec) validate() error {
	switch s.Type {
	case "":
	case domain.FinishToStart, domain.StartToStart, domain.FinishToFinish, domain.StartToFinish:
	default:
		return invalidf("unknown dependency type %q", s.Type)
	}
	if s.Lag < 0 {
		return invalidf("lag must not be negative")
	}
	if strings.TrimSpace(s.DependsOnTaskID) == "" {
		return invalidf("dependency target is required")
	}
	return nil
}

func (s DependencySpec) edge(taskID string, now time.Time) domain.Dependency {
	typ := s.Type
	if typ == "" {
		typ = domain.FinishToStart
	}
	return domain.Dependency{
		TaskID:          taskID,
		DependsOnTaskID: s.DependsOnTaskID,
		Type:            typ,
		Blocking:        !s.NonBlocking,
		LagSeconds:      int64(math.Ceil(s.Lag.Seconds())),
		CreatedAt:       now,
	}
}

// CreateTask inserts a pending task with its initial edges, then runs the
// readiness check on it and refreshes the project rollup.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (t domain.Task, err error) {
	defer e.observe(ctx, "create_task", time.Now(), &err)
	if err := validActor(opts.Actor); err != nil {
		return t, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return t, invalidf("title is required")
	}
	if opts.Type == "" {
		opts.Type = "development"
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return t, invalidf("priority must be between 1 and 5, got %d", opts.Priority)
	}
	if opts.Complexity == "" {
		opts.Complexity = "medium"
	}
	if !complexities[opts.Complexity] {
		return t, invalidf("unknown complexity %q", opts.Complexity)
	}
	if opts.EstimatedHours != nil && *opts.EstimatedHours < 0 {
		return t, invalidf("estimated hours must not be negative")
	}
	if opts.ProjectID == "" && opts.ParentTaskID == "" {
		return t, invalidf("project or parent task is required")
	}
	if opts.ID == "" {
		opts.ID = newID()
	}
	seen := map[string]bool{}
	for _, d := range opts.DependsOn {
		if err := d.validate(); err != nil {
			return t, err
		}
		if d.DependsOnTaskID == opts.ID {
			return t, ErrSelfDependency
		}
		if seen[d.DependsOnTaskID] {
			return t, fmt.Errorf("%w: %s", ErrDuplicateEdge, d.DependsOnTaskID)
		}
		seen[d.DependsOnTaskID] = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	projectID := opts.ProjectID
	if opts.ParentTaskID != "" {
		parent, err := e.Repo.GetTask(ctx, tx, opts.ParentTaskID)
		if err != nil {
			return t, fmt.Errorf("parent task %s: %w", opts.ParentTaskID, err)
		}
		if projectID == "" {
			projectID = parent.ProjectID
		}
		if parent.ProjectID != projectID {
			return t, fmt.Errorf("%w: parent %s is in project %s", ErrInvalidParent, parent.ID, parent.ProjectID)
		}
	}
	if err := e.Repo.LockProject(ctx, tx, projectID); err != nil {
		return t, fmt.Errorf("project %s: %w", projectID, err)
	}
	project, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return t, err
	}
	if project.Status == domain.ProjectCompleted || project.Status == domain.ProjectCancelled {
		return t, invalidf("project %s is %s", project.ID, project.Status)
	}

	if _, err := e.Repo.GetTask(ctx, tx, opts.ID); err == nil {
		return t, invalidf("task %s already exists", opts.ID)
	} else if !isNotFound(err) {
		return t, err
	}

	now := e.now()
	skills := normalizeSkills(opts.RequiredSkills)
	t = domain.Task{
		ID:             opts.ID,
		ProjectID:      projectID,
		ParentTaskID:   optionalString(opts.ParentTaskID),
		Title:          strings.TrimSpace(opts.Title),
		Description:    opts.Description,
		Type:           opts.Type,
		Status:         domain.StatusPending,
		Priority:       opts.Priority,
		Complexity:     opts.Complexity,
		EstimatedHours: opts.EstimatedHours,
		RequiredSkills: skills,
		DueDate:        opts.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return t, fmt.Errorf("insert task: %w", err)
	}
	for _, d := range opts.DependsOn {
		target, err := e.Repo.GetTask(ctx, tx, d.DependsOnTaskID)
		if err != nil {
			return t, fmt.Errorf("dependency %s: %w", d.DependsOnTaskID, err)
		}
		if target.ProjectID != projectID {
			return t, fmt.Errorf("%w: dependency %s is in project %s", ErrInvalidParent, target.ID, target.ProjectID)
		}
		if err := e.Repo.InsertDependency(ctx, tx, d.edge(t.ID, now)); err != nil {
			return t, fmt.Errorf("insert dependency: %w", err)
		}
	}
	if err := e.appendUpdate(ctx, tx, domain.TaskUpdate{
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		TeamID:    opts.Actor.TeamID,
		AgentRole: opts.Actor.AgentRole,
		Type:      domain.UpdateCreated,
		ToStatus:  domain.StatusPending,
	}); err != nil {
		return t, err
	}
	if _, err := e.evaluateReadiness(ctx, tx, t.ID, opts.Actor, "created with dependencies met"); err != nil {
		return t, err
	}
	if _, err := e.recomputeProgress(ctx, tx, projectID); err != nil {
		return t, err
	}
	if t, err = e.Repo.GetTask(ctx, tx, t.ID); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.logger().Info("task created", "task", t.ID, "project", t.ProjectID, "status", t.Status, "dependencies", len(opts.DependsOn))
	return t, nil
}

func normalizeSkills(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e Engine) GetTask(ctx context.Context, id string) (t domain.Task, err error) {
	defer classify(&err)
	return e.Repo.GetTask(ctx, e.DB, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) (ts []domain.Task, err error) {
	defer classify(&err)
	return e.Repo.ListTasks(ctx, e.DB, f)
}

func (e Engine) ListDependencies(ctx context.Context, taskID string) (ds []domain.Dependency, err error) {
	defer classify(&err)
	if _, err := e.Repo.GetTask(ctx, e.DB, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListDependencies(ctx, e.DB, taskID)
}

// ProgressOptions report work done on a started task.
type ProgressOptions struct {
	TaskID      string
	Progress    float64
	ActualHours *float64
	Note        string
	Actor       domain.Actor
}

// UpdateTaskProgress records a progress report. Completion still requires an
// explicit status change.
func (e Engine) UpdateTaskProgress(ctx context.Context, opts ProgressOptions) (t domain.Task, err error) {
	defer e.observe(ctx, "update_task_progress", time.Now(), &err)
	if err := validActor(opts.Actor); err != nil {
		return t, err
	}
	if opts.Progress < 0 || opts.Progress > 100 || math.IsNaN(opts.Progress) {
		return t, invalidf("progress must be in [0,100], got %v", opts.Progress)
	}
	if opts.ActualHours != nil && *opts.ActualHours < 0 {
		return t, invalidf("actual hours must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if t, err = e.lockTask(ctx, tx, opts.TaskID); err != nil {
		return t, err
	}
	switch t.Status {
	case domain.StatusInProgress, domain.StatusReview, domain.StatusBlocked:
	default:
		return t, fmt.Errorf("%w: progress cannot be reported while %s", ErrInvalidTransition, t.Status)
	}
	if t.Status == domain.StatusBlocked && t.BlockedFrom != nil && *t.BlockedFrom != domain.StatusInProgress && *t.BlockedFrom != domain.StatusReview {
		return t, fmt.Errorf("%w: task blocked before work started", ErrInvalidTransition)
	}
	t.ProgressPercentage = opts.Progress
	if opts.ActualHours != nil {
		t.ActualHours = opts.ActualHours
	}
	t.UpdatedAt = e.now()
	if err := e.Repo.UpdateTaskProgress(ctx, tx, t.ID, t.ProgressPercentage, t.ActualHours, t.UpdatedAt); err != nil {
		return t, err
	}
	p := opts.Progress
	if err := e.appendUpdate(ctx, tx, domain.TaskUpdate{
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		TeamID:    opts.Actor.TeamID,
		AgentRole: opts.Actor.AgentRole,
		Type:      domain.UpdateProgress,
		Progress:  &p,
		Note:      opts.Note,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// ListTaskUpdates returns the audit log of one task in append order.
func (e Engine) ListTaskUpdates(ctx context.Context, f repo.UpdateFilters) (us []domain.TaskUpdate, err error) {
	defer classify(&err)
	if f.TaskID != "" {
		if _, err := e.Repo.GetTask(ctx, e.DB, f.TaskID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListTaskUpdates(ctx, e.DB, f)
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
