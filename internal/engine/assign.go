package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/repo"
	"workgraph/internal/telemetry"
)

// SelectTeam picks the best match scoring strictly above minScore. Ties on
// score go to fewer missing skills, then to the smaller team id.
func SelectTeam(matches []domain.SkillMatch, minScore float64) (domain.SkillMatch, error) {
	best := -1
	for i, m := range matches {
		if !(m.Score > minScore) {
			continue
		}
		if best < 0 || betterMatch(m, matches[best]) {
			best = i
		}
	}
	if best < 0 {
		return domain.SkillMatch{}, ErrNoEligibleTeam
	}
	return matches[best], nil
}

func betterMatch(a, b domain.SkillMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.MissingSkills) != len(b.MissingSkills) {
		return len(a.MissingSkills) < len(b.MissingSkills)
	}
	return a.TeamID < b.TeamID
}

// AssignBestTeam selects a team for a ready, unassigned task from its skill
// matches. When actor is empty the change is attributed to the chosen team.
func (e Engine) AssignBestTeam(ctx context.Context, taskID string, actor domain.Actor) (a domain.Assignment, err error) {
	defer e.observe(ctx, "assign_best_team", time.Now(), &err)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	t, err := e.lockTask(ctx, tx, taskID)
	if err != nil {
		return a, err
	}
	if t.AssignedTeam != nil {
		return a, fmt.Errorf("%w: %s has team %s", ErrAlreadyAssigned, t.ID, *t.AssignedTeam)
	}
	if t.Status != domain.StatusReady {
		return a, fmt.Errorf("%w: %s is %s", ErrTaskNotReady, t.ID, t.Status)
	}
	matches, err := e.Repo.ListSkillMatches(ctx, tx, repo.SkillMatchFilters{TaskID: t.ID})
	if err != nil {
		return a, err
	}
	best, err := SelectTeam(matches, e.minScore())
	if err != nil {
		telemetry.RecordAssignment(ctx, "", "no_eligible_team")
		e.logger().Info("no eligible team", "task", t.ID, "candidates", len(matches), "min_score", e.minScore())
		return a, err
	}
	now := e.now()
	won, err := e.Repo.AssignIfUnassigned(ctx, tx, t.ID, best.TeamID, now)
	if err != nil {
		return a, err
	}
	if !won {
		current, err := e.Repo.GetTask(ctx, tx, t.ID)
		if err != nil {
			return a, err
		}
		if current.AssignedTeam != nil {
			return a, fmt.Errorf("%w: %s has team %s", ErrAlreadyAssigned, t.ID, *current.AssignedTeam)
		}
		return a, fmt.Errorf("%w: %s is %s", ErrTaskNotReady, t.ID, current.Status)
	}
	if strings.TrimSpace(actor.TeamID) == "" {
		actor = domain.Actor{TeamID: best.TeamID, AgentRole: "assignment-selector"}
	}
	if err := e.appendUpdate(ctx, tx, domain.TaskUpdate{
		TaskID:     t.ID,
		ProjectID:  t.ProjectID,
		TeamID:     actor.TeamID,
		AgentRole:  actor.AgentRole,
		Type:       domain.UpdateAssignmentChange,
		FromStatus: t.Status,
		ToStatus:   t.Status,
		Note:       fmt.Sprintf("assigned to %s (score %.2f)", best.TeamID, best.Score),
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	telemetry.RecordAssignment(ctx, best.TeamID, "assigned")
	e.logger().Info("task assigned", "task", t.ID, "team", best.TeamID, "score", best.Score)
	return domain.Assignment{TaskID: t.ID, TeamID: best.TeamID, Match: best}, nil
}

// AssignTask sets or clears the assigned team without scoring. An empty
// teamID clears the assignment.
func (e Engine) AssignTask(ctx context.Context, taskID, teamID string, actor domain.Actor) (t domain.Task, err error) {
	defer e.observe(ctx, "assign_task", time.Now(), &err)
	if err := validActor(actor); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if t, err = e.lockTask(ctx, tx, taskID); err != nil {
		return t, err
	}
	if t.Terminal() {
		return t, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, t.ID, t.Status)
	}
	if t.Status == domain.StatusPending || (t.Status == domain.StatusBlocked && t.BlockedFrom != nil && *t.BlockedFrom == domain.StatusPending) {
		return t, fmt.Errorf("%w: %s is not ready", ErrTaskNotReady, t.ID)
	}
	previous := ""
	if t.AssignedTeam != nil {
		previous = *t.AssignedTeam
	}
	teamID = strings.TrimSpace(teamID)
	if previous == teamID {
		return t, nil
	}
	t.AssignedTeam = optionalString(teamID)
	t.UpdatedAt = e.now()
	if err := e.Repo.SetAssignedTeam(ctx, tx, t.ID, t.AssignedTeam, t.UpdatedAt); err != nil {
		return t, err
	}
	note := fmt.Sprintf("manually assigned to %s", teamID)
	if teamID == "" {
		note = fmt.Sprintf("assignment to %s cleared", previous)
	}
	if err := e.appendUpdate(ctx, tx, domain.TaskUpdate{
		TaskID:     t.ID,
		ProjectID:  t.ProjectID,
		TeamID:     actor.TeamID,
		AgentRole:  actor.AgentRole,
		Type:       domain.UpdateAssignmentChange,
		FromStatus: t.Status,
		ToStatus:   t.Status,
		Note:       note,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.logger().Info("task assignment overridden", "task", t.ID, "team", teamID, "previous", previous, "by", actor.TeamID)
	return t, nil
}

// RecordSkillMatches stores scorer output for a task, replacing earlier rows
// for the same teams.
func (e Engine) RecordSkillMatches(ctx context.Context, taskID string, matches []domain.SkillMatch) (res []domain.SkillMatch, err error) {
	defer e.observe(ctx, "record_skill_matches", time.Now(), &err)
	seen := map[string]bool{}
	for _, m := range matches {
		if strings.TrimSpace(m.TeamID) == "" {
			return nil, invalidf("skill match requires a team")
		}
		if math.IsNaN(m.Score) || m.Score < 0 || m.Score > 1 {
			return nil, invalidf("score for %s must be in [0,1], got %v", m.TeamID, m.Score)
		}
		if seen[m.TeamID] {
			return nil, invalidf("duplicate skill match for team %s", m.TeamID)
		}
		seen[m.TeamID] = true
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetTask(ctx, tx, taskID); err != nil {
		return nil, err
	}
	now := e.now()
	for _, m := range matches {
		m.TaskID = taskID
		if m.ComputedAt.IsZero() {
			m.ComputedAt = now
		}
		if m.MatchingSkills == nil {
			m.MatchingSkills = []string{}
		}
		if m.MissingSkills == nil {
			m.MissingSkills = []string{}
		}
		if err := e.Repo.UpsertSkillMatch(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	if res, err = e.Repo.ListSkillMatches(ctx, tx, repo.SkillMatchFilters{TaskID: taskID}); err != nil {
		return nil, err
	}
	return res, tx.Commit()
}

func (e Engine) ListSkillMatches(ctx context.Context, taskID string) (ms []domain.SkillMatch, err error) {
	defer classify(&err)
	if _, err := e.Repo.GetTask(ctx, e.DB, taskID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, err)
		}
		return nil, err
	}
	return e.Repo.ListSkillMatches(ctx, e.DB, repo.SkillMatchFilters{TaskID: taskID})
}
