package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"workgraph/internal/domain"
)

// InsertTaskUpdate appends u and returns its sequence id.
func (r Repo) InsertTaskUpdate(ctx context.Context, q Querier, u domain.TaskUpdate) (int64, error) {
	var id int64
	err := r.queryRow(ctx, q, `INSERT INTO task_updates(task_id,project_id,team_id,agent_role,update_type,from_status,to_status,progress,note,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		u.TaskID, u.ProjectID, u.TeamID, nullable(u.AgentRole), u.Type, nullable(u.FromStatus), nullable(u.ToStatus),
		nullableFloatPtr(u.Progress), nullable(u.Note), FormatTime(u.CreatedAt)).Scan(&id)
	return id, err
}

type UpdateFilters struct {
	TaskID    string
	ProjectID string
	Type      string
	AfterID   int64
	Limit     int
}

// ListTaskUpdates returns log rows in append order.
func (r Repo) ListTaskUpdates(ctx context.Context, q Querier, f UpdateFilters) ([]domain.TaskUpdate, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "update_type=?")
		args = append(args, f.Type)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, f.AfterID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,task_id,project_id,team_id,agent_role,update_type,from_status,to_status,progress,note,created_at FROM task_updates ` + where + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskUpdate
	for rows.Next() {
		var u domain.TaskUpdate
		var role, from, to, note sql.NullString
		var progress sql.NullFloat64
		var created string
		if err := rows.Scan(&u.ID, &u.TaskID, &u.ProjectID, &u.TeamID, &role, &u.Type, &from, &to, &progress, &note, &created); err != nil {
			return nil, err
		}
		u.AgentRole = role.String
		u.FromStatus = from.String
		u.ToStatus = to.String
		u.Note = note.String
		if progress.Valid {
			u.Progress = &progress.Float64
		}
		if u.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// LastActivity returns the newest TaskUpdate timestamp for a project, or nil.
func (r Repo) LastActivity(ctx context.Context, q Querier, projectID string) (*time.Time, error) {
	var last sql.NullString
	if err := r.queryRow(ctx, q, `SELECT MAX(created_at) FROM task_updates WHERE project_id=?`, projectID).Scan(&last); err != nil {
		return nil, err
	}
	return parseNullTime(last)
}

// ListTasksWithUpdatesOver returns task ids holding more than keep log rows.
func (r Repo) ListTasksWithUpdatesOver(ctx context.Context, q Querier, keep int) ([]string, error) {
	rows, err := r.query(ctx, q, `SELECT task_id FROM task_updates GROUP BY task_id HAVING COUNT(*) > ? ORDER BY task_id`, keep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DeleteOldTaskUpdates removes all but the newest keep rows for a task.
func (r Repo) DeleteOldTaskUpdates(ctx context.Context, q Querier, taskID string, keep int) (int64, error) {
	res, err := r.exec(ctx, q, `DELETE FROM task_updates WHERE task_id=? AND id NOT IN (
SELECT id FROM task_updates WHERE task_id=? ORDER BY id DESC LIMIT ?)`, taskID, taskID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
