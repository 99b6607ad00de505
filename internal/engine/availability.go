package engine

import (
	"context"
	"sort"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/repo"
)

// AvailabilityFilters narrow the available work query. TeamID keeps only tasks
// whose skill match for that team clears the selector threshold.
type AvailabilityFilters struct {
	ProjectID string
	TeamID    string
	Limit     int
}

// Urgency buckets a due date relative to now. Overdue work is urgent.
func Urgency(due *time.Time, now time.Time, urgentWithin, soonWithin time.Duration) string {
	if due == nil {
		return domain.UrgencyNormal
	}
	left := due.Sub(now)
	switch {
	case left <= urgentWithin:
		return domain.UrgencyUrgent
	case left <= soonWithin:
		return domain.UrgencySoon
	default:
		return domain.UrgencyNormal
	}
}

var urgencyRank = map[string]int{domain.UrgencyUrgent: 0, domain.UrgencySoon: 1, domain.UrgencyNormal: 2}

// SortAvailable orders by urgency bucket, then priority, then due date with
// undated work last, then id.
func SortAvailable(tasks []domain.AvailableTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if urgencyRank[a.Urgency] != urgencyRank[b.Urgency] {
			return urgencyRank[a.Urgency] < urgencyRank[b.Urgency]
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		}
		return a.ID < b.ID
	})
}

// ListAvailableTasks returns ready, unassigned tasks whose blocking
// dependencies are met at the time of the call. It never writes.
func (e Engine) ListAvailableTasks(ctx context.Context, f AvailabilityFilters) (res []domain.AvailableTask, err error) {
	defer e.observe(ctx, "list_available_tasks", time.Now(), &err)
	if f.Limit < 0 {
		return nil, invalidf("limit must not be negative")
	}
	tasks, err := e.Repo.ListTasks(ctx, e.DB, repo.TaskFilters{ProjectID: f.ProjectID, Status: domain.StatusReady, Unassigned: true})
	if err != nil {
		return nil, err
	}
	var eligible map[string]bool
	if f.TeamID != "" {
		min := e.minScore()
		matches, err := e.Repo.ListSkillMatches(ctx, e.DB, repo.SkillMatchFilters{TeamID: f.TeamID, MinScore: &min})
		if err != nil {
			return nil, err
		}
		eligible = make(map[string]bool, len(matches))
		for _, m := range matches {
			eligible[m.TaskID] = true
		}
	}
	now := e.now()
	urgent, soon := e.windows()
	res = []domain.AvailableTask{}
	for _, t := range tasks {
		if eligible != nil && !eligible[t.ID] {
			continue
		}
		deps, err := e.Repo.ListDependencyStates(ctx, e.DB, t.ID)
		if err != nil {
			return nil, err
		}
		if !DependenciesMet(deps, now) {
			e.logger().Warn("ready task has unresolved dependencies", "task", t.ID)
			continue
		}
		res = append(res, domain.AvailableTask{Task: t, Urgency: Urgency(t.DueDate, now, urgent, soon)})
	}
	SortAvailable(res)
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}
