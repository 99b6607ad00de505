package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workgraph/internal/domain"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID            string
	Name          string
	Description   string
	Status        string
	Priority      string
	OwnerTeam     string
	StartDate     *time.Time
	TargetEndDate *time.Time
}

var projectPriorities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (p domain.Project, err error) {
	defer e.observe(ctx, "create_project", time.Now(), &err)
	if strings.TrimSpace(opts.Name) == "" {
		return p, invalidf("project name is required")
	}
	if strings.TrimSpace(opts.OwnerTeam) == "" {
		return p, invalidf("owner team is required")
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !projectPriorities[opts.Priority] {
		return p, invalidf("unknown project priority %q", opts.Priority)
	}
	if opts.Status == "" {
		opts.Status = domain.ProjectPlanning
	}
	if opts.Status != domain.ProjectPlanning && opts.Status != domain.ProjectActive {
		return p, invalidf("projects start as planning or active, got %q", opts.Status)
	}
	if opts.StartDate != nil && opts.TargetEndDate != nil && opts.TargetEndDate.Before(*opts.StartDate) {
		return p, invalidf("target end date precedes start date")
	}
	if opts.ID == "" {
		opts.ID = newID()
	} else if exists, err := e.projectExists(ctx, opts.ID); err != nil {
		return p, err
	} else if exists {
		return p, invalidf("project %s already exists", opts.ID)
	}
	now := e.now()
	p = domain.Project{
		ID:            opts.ID,
		Name:          strings.TrimSpace(opts.Name),
		Description:   opts.Description,
		Status:        opts.Status,
		Priority:      opts.Priority,
		OwnerTeam:     opts.OwnerTeam,
		HealthStatus:  domain.HealthOnTrack,
		StartDate:     opts.StartDate,
		TargetEndDate: opts.TargetEndDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertProject(ctx, e.DB, p); err != nil {
		// a concurrent create with the same id wins the unique key
		if exists, lookupErr := e.projectExists(ctx, p.ID); lookupErr == nil && exists {
			return domain.Project{}, invalidf("project %s already exists", p.ID)
		}
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	e.logger().Info("project created", "project", p.ID, "owner_team", p.OwnerTeam)
	return p, nil
}

func (e Engine) projectExists(ctx context.Context, id string) (bool, error) {
	_, err := e.Repo.GetProject(ctx, e.DB, id)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (e Engine) GetProject(ctx context.Context, id string) (p domain.Project, err error) {
	defer classify(&err)
	return e.Repo.GetProject(ctx, e.DB, id)
}

func (e Engine) ListProjects(ctx context.Context, status string) (ps []domain.Project, err error) {
	defer classify(&err)
	return e.Repo.ListProjects(ctx, e.DB, status)
}

func ensureProjectTransition(from, to string) error {
	switch from {
	case domain.ProjectPlanning:
		if to == domain.ProjectActive || to == domain.ProjectOnHold || to == domain.ProjectCancelled {
			return nil
		}
	case domain.ProjectActive:
		if to == domain.ProjectOnHold || to == domain.ProjectCompleted || to == domain.ProjectCancelled {
			return nil
		}
	case domain.ProjectOnHold:
		if to == domain.ProjectActive || to == domain.ProjectCancelled {
			return nil
		}
	}
	return fmt.Errorf("%w: project %s -> %s", ErrInvalidTransition, from, to)
}

// UpdateProjectStatus moves a project through its lifecycle and refreshes
// its derived health.
func (e Engine) UpdateProjectStatus(ctx context.Context, id, status string, actor domain.Actor) (p domain.Project, err error) {
	defer e.observe(ctx, "update_project_status", time.Now(), &err)
	if err := validActor(actor); err != nil {
		return p, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if err := e.Repo.LockProject(ctx, tx, id); err != nil {
		return p, err
	}
	p, err = e.Repo.GetProject(ctx, tx, id)
	if err != nil {
		return p, err
	}
	if err := ensureProjectTransition(p.Status, status); err != nil {
		return p, err
	}
	now := e.now()
	var actualEnd *time.Time
	if status == domain.ProjectCompleted || status == domain.ProjectCancelled {
		actualEnd = &now
	}
	if err := e.Repo.UpdateProjectStatus(ctx, tx, id, status, actualEnd, now); err != nil {
		return p, err
	}
	if p, err = e.recomputeProgress(ctx, tx, id); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.logger().Info("project status changed", "project", id, "status", status, "team", actor.TeamID)
	return p, nil
}

// AllocateTeam records a team's role and allocation on a project.
func (e Engine) AllocateTeam(ctx context.Context, pt domain.ProjectTeam) (res domain.ProjectTeam, err error) {
	defer e.observe(ctx, "allocate_team", time.Now(), &err)
	if strings.TrimSpace(pt.TeamID) == "" {
		return res, invalidf("team is required")
	}
	if pt.AllocationPercentage <= 0 || pt.AllocationPercentage > 100 {
		return res, invalidf("allocation must be in (0,100], got %v", pt.AllocationPercentage)
	}
	if pt.Role == "" {
		pt.Role = "contributor"
	}
	if _, err := e.Repo.GetProject(ctx, e.DB, pt.ProjectID); err != nil {
		return res, err
	}
	pt.CreatedAt = e.now()
	if err := e.Repo.UpsertProjectTeam(ctx, e.DB, pt); err != nil {
		return res, err
	}
	return pt, nil
}

func (e Engine) ListProjectTeams(ctx context.Context, projectID string) (ts []domain.ProjectTeam, err error) {
	defer classify(&err)
	if _, err := e.Repo.GetProject(ctx, e.DB, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjectTeams(ctx, e.DB, projectID)
}
