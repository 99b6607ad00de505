package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"workgraph/internal/domain"
)

const taskColumns = `id,project_id,parent_task_id,title,description,task_type,status,blocked_from,priority,complexity,estimated_hours,actual_hours,required_skills_json,assigned_team,progress_percentage,due_date,ready_at,started_at,completed_at,created_at,updated_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var parentID, desc, blockedFrom, assigned sql.NullString
	var due, readyAt, startedAt, completedAt sql.NullString
	var estimated, actual sql.NullFloat64
	var skills, created, updated string
	err := s.Scan(&t.ID, &t.ProjectID, &parentID, &t.Title, &desc, &t.Type, &t.Status, &blockedFrom, &t.Priority, &t.Complexity,
		&estimated, &actual, &skills, &assigned, &t.ProgressPercentage, &due, &readyAt, &startedAt, &completedAt, &created, &updated)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentTaskID = &parentID.String
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if blockedFrom.Valid {
		t.BlockedFrom = &blockedFrom.String
	}
	if assigned.Valid {
		t.AssignedTeam = &assigned.String
	}
	if estimated.Valid {
		t.EstimatedHours = &estimated.Float64
	}
	if actual.Valid {
		t.ActualHours = &actual.Float64
	}
	if err := json.Unmarshal([]byte(skills), &t.RequiredSkills); err != nil {
		return t, err
	}
	if t.RequiredSkills == nil {
		t.RequiredSkills = []string{}
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{{due, &t.DueDate}, {readyAt, &t.ReadyAt}, {startedAt, &t.StartedAt}, {completedAt, &t.CompletedAt}} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return t, err
		}
	}
	if t.CreatedAt, err = ParseTime(created); err != nil {
		return t, err
	}
	t.UpdatedAt, err = ParseTime(updated)
	return t, err
}

func skillsJSON(skills []string) (string, error) {
	if skills == nil {
		skills = []string{}
	}
	data, err := json.Marshal(skills)
	return string(data), err
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	skills, err := skillsJSON(t.RequiredSkills)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.ParentTaskID), t.Title, nullable(t.Description), t.Type, t.Status,
		nullableStringPtr(t.BlockedFrom), t.Priority, t.Complexity, nullableFloatPtr(t.EstimatedHours), nullableFloatPtr(t.ActualHours),
		skills, nullableStringPtr(t.AssignedTeam), t.ProgressPercentage, nullableTime(t.DueDate), nullableTime(t.ReadyAt),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt), FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	return err
}

// UpdateTaskState writes the state machine columns of t: status, blocked_from,
// progress and the lifecycle timestamps. assigned_team is left alone.
func (r Repo) UpdateTaskState(ctx context.Context, q Querier, t domain.Task) error {
	res, err := r.exec(ctx, q, `UPDATE tasks SET status=?, blocked_from=?, progress_percentage=?,
ready_at=?, started_at=?, completed_at=?, updated_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.BlockedFrom), t.ProgressPercentage,
		nullableTime(t.ReadyAt), nullableTime(t.StartedAt), nullableTime(t.CompletedAt), FormatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// UpdateTaskProgress writes only the progress columns.
func (r Repo) UpdateTaskProgress(ctx context.Context, q Querier, taskID string, progress float64, actualHours *float64, now time.Time) error {
	res, err := r.exec(ctx, q, `UPDATE tasks SET progress_percentage=?, actual_hours=?, updated_at=? WHERE id=?`,
		progress, nullableFloatPtr(actualHours), FormatTime(now), taskID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// SetAssignedTeam writes assigned_team; nil clears it.
func (r Repo) SetAssignedTeam(ctx context.Context, q Querier, taskID string, teamID *string, now time.Time) error {
	res, err := r.exec(ctx, q, `UPDATE tasks SET assigned_team=?, updated_at=? WHERE id=?`,
		nullableStringPtr(teamID), FormatTime(now), taskID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// AssignIfUnassigned sets assigned_team only while the task is ready and
// unassigned. It reports whether this call won.
func (r Repo) AssignIfUnassigned(ctx context.Context, q Querier, taskID, teamID string, now time.Time) (bool, error) {
	res, err := r.exec(ctx, q, `UPDATE tasks SET assigned_team=?, updated_at=? WHERE id=? AND assigned_team IS NULL AND status=?`,
		teamID, FormatTime(now), taskID, domain.StatusReady)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetTask(ctx context.Context, q Querier, id string) (domain.Task, error) {
	return scanTask(r.queryRow(ctx, q, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	ProjectID    string
	Status       string
	Statuses     []string
	ParentTaskID string
	AssignedTeam string
	Unassigned   bool
	Limit        int
}

func (r Repo) ListTasks(ctx context.Context, q Querier, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.ParentTaskID != "" {
		clauses = append(clauses, "parent_task_id=?")
		args = append(args, f.ParentTaskID)
	}
	if f.AssignedTeam != "" {
		clauses = append(clauses, "assigned_team=?")
		args = append(args, f.AssignedTeam)
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_team IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY priority ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasksByStatus returns task counts keyed by status for a project, or
// across all projects when projectID is empty.
func (r Repo) CountTasksByStatus(ctx context.Context, q Querier, projectID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`
	var args []any
	if projectID != "" {
		query = `SELECT status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status`
		args = append(args, projectID)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) ListAssignedTeams(ctx context.Context, q Querier, projectID string) ([]string, error) {
	rows, err := r.query(ctx, q, `SELECT DISTINCT assigned_team FROM tasks WHERE project_id=? AND assigned_team IS NOT NULL ORDER BY assigned_team`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListGatedPendingTasks returns ids of pending tasks that have at least one
// dependency edge, optionally limited to one project.
func (r Repo) ListGatedPendingTasks(ctx context.Context, q Querier, projectID string) ([]string, error) {
	query := `SELECT t.id FROM tasks t WHERE t.status=? AND EXISTS (SELECT 1 FROM task_dependencies d WHERE d.task_id=t.id)`
	args := []any{domain.StatusPending}
	if projectID != "" {
		query += ` AND t.project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY t.id`
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
