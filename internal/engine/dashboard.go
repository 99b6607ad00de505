package engine

import (
	"context"
	"sort"
	"time"

	"workgraph/internal/domain"
)

// GetProjectDashboard summarises a project's tasks and activity.
func (e Engine) GetProjectDashboard(ctx context.Context, projectID string) (d domain.Dashboard, err error) {
	defer e.observe(ctx, "get_project_dashboard", time.Now(), &err)
	p, err := e.Repo.GetProject(ctx, e.DB, projectID)
	if err != nil {
		return d, err
	}
	counts, err := e.Repo.CountTasksByStatus(ctx, e.DB, projectID)
	if err != nil {
		return d, err
	}
	totals := make(map[string]int, len(taskStatuses))
	for s := range taskStatuses {
		totals[s] = 0
	}
	total := 0
	for s, n := range counts {
		totals[s] = n
		total += n
	}
	assigned, err := e.Repo.ListAssignedTeams(ctx, e.DB, projectID)
	if err != nil {
		return d, err
	}
	allocated, err := e.Repo.ListProjectTeams(ctx, e.DB, projectID)
	if err != nil {
		return d, err
	}
	teams := map[string]bool{}
	for _, t := range assigned {
		teams[t] = true
	}
	for _, pt := range allocated {
		teams[pt.TeamID] = true
	}
	involved := make([]string, 0, len(teams))
	for t := range teams {
		involved = append(involved, t)
	}
	sort.Strings(involved)
	last, err := e.Repo.LastActivity(ctx, e.DB, projectID)
	if err != nil {
		return d, err
	}
	return domain.Dashboard{
		Project:       p,
		Totals:        totals,
		Total:         total,
		Completed:     counts[domain.StatusCompleted],
		Blocked:       counts[domain.StatusBlocked],
		TeamsInvolved: involved,
		LastActivity:  last,
	}, nil
}
