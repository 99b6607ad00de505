package audit

import (
	"context"
	"fmt"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/repo"
)

// Writer appends TaskUpdate rows inside the caller's transaction.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (w Writer) Append(ctx context.Context, q repo.Querier, u domain.TaskUpdate) (domain.TaskUpdate, error) {
	switch u.Type {
	case domain.UpdateCreated, domain.UpdateStatusChange, domain.UpdateProgress, domain.UpdateAssignmentChange:
	default:
		return u, fmt.Errorf("unknown update type %q", u.Type)
	}
	if u.TaskID == "" || u.ProjectID == "" {
		return u, fmt.Errorf("task update requires task and project")
	}
	if u.TeamID == "" {
		return u, fmt.Errorf("task update requires an acting team")
	}
	if u.CreatedAt.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		u.CreatedAt = now().UTC()
	}
	id, err := w.Repo.InsertTaskUpdate(ctx, q, u)
	if err != nil {
		return u, fmt.Errorf("append task update: %w", err)
	}
	u.ID = id
	return u, nil
}

// StatusChange builds a status_change record for task attributed to actor.
func StatusChange(task domain.Task, actor domain.Actor, from, to, note string) domain.TaskUpdate {
	return domain.TaskUpdate{
		TaskID:     task.ID,
		ProjectID:  task.ProjectID,
		TeamID:     actor.TeamID,
		AgentRole:  actor.AgentRole,
		Type:       domain.UpdateStatusChange,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
	}
}
