package engine

import (
	"context"
	"math"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/repo"
)

// atRiskLag is how far, in percentage points, progress may trail the elapsed
// share of the schedule before a project is at risk.
const atRiskLag = 20.0

// ProjectProgress is 100 * completed / total, rounded to two decimals. A
// project without tasks is at 0.
func ProjectProgress(counts map[string]int) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	v := 100 * float64(counts[domain.StatusCompleted]) / float64(total)
	v = math.Round(v*100) / 100
	return math.Max(0, math.Min(100, v))
}

// ProjectHealth derives the health flag from status, schedule and blockers.
func ProjectHealth(p domain.Project, progress float64, blocked int, now time.Time) string {
	if p.Status == domain.ProjectCompleted {
		return domain.HealthCompleted
	}
	if p.TargetEndDate != nil && now.After(*p.TargetEndDate) && progress < 100 {
		return domain.HealthOffTrack
	}
	if blocked > 0 {
		return domain.HealthAtRisk
	}
	if p.StartDate != nil && p.TargetEndDate != nil && now.After(*p.StartDate) {
		window := p.TargetEndDate.Sub(*p.StartDate)
		if window > 0 {
			expected := 100 * float64(now.Sub(*p.StartDate)) / float64(window)
			if expected-progress > atRiskLag {
				return domain.HealthAtRisk
			}
		}
	}
	return domain.HealthOnTrack
}

// recomputeProgress refreshes the derived progress and health of a project
// within the caller's transaction.
func (e Engine) recomputeProgress(ctx context.Context, q repo.Querier, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, q, projectID)
	if err != nil {
		return p, err
	}
	counts, err := e.Repo.CountTasksByStatus(ctx, q, projectID)
	if err != nil {
		return p, err
	}
	now := e.now()
	progress := ProjectProgress(counts)
	health := ProjectHealth(p, progress, counts[domain.StatusBlocked], now)
	if progress == p.ProgressPercentage && health == p.HealthStatus {
		return p, nil
	}
	if err := e.Repo.UpdateProjectProgress(ctx, q, projectID, progress, health, now); err != nil {
		return p, err
	}
	p.ProgressPercentage = progress
	p.HealthStatus = health
	p.UpdatedAt = now
	return p, nil
}

// RecomputeProject recalculates a project's rollup on demand.
func (e Engine) RecomputeProject(ctx context.Context, projectID string) (p domain.Project, err error) {
	defer e.observe(ctx, "recompute_project", time.Now(), &err)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.LockProject(ctx, tx, projectID); err != nil {
		return p, err
	}
	if p, err = e.recomputeProgress(ctx, tx, projectID); err != nil {
		return p, err
	}
	return p, tx.Commit()
}
