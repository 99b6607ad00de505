package repo

import (
	"context"
	"database/sql"

	"workgraph/internal/domain"
)

func (r Repo) InsertDependency(ctx context.Context, q Querier, d domain.Dependency) error {
	_, err := r.exec(ctx, q, `INSERT INTO task_dependencies(task_id,depends_on_task_id,dependency_type,is_blocking,lag_seconds,created_at) VALUES (?,?,?,?,?,?)`,
		d.TaskID, d.DependsOnTaskID, d.Type, boolToInt(d.Blocking), d.LagSeconds, FormatTime(d.CreatedAt))
	return err
}

func (r Repo) DependencyExists(ctx context.Context, q Querier, taskID, dependsOn string) (bool, error) {
	var one int
	err := r.queryRow(ctx, q, `SELECT 1 FROM task_dependencies WHERE task_id=? AND depends_on_task_id=?`, taskID, dependsOn).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListDependencies(ctx context.Context, q Querier, taskID string) ([]domain.Dependency, error) {
	rows, err := r.query(ctx, q, `SELECT task_id,depends_on_task_id,dependency_type,is_blocking,lag_seconds,created_at
FROM task_dependencies WHERE task_id=? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		var blocking int
		var created string
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID, &d.Type, &blocking, &d.LagSeconds, &created); err != nil {
			return nil, err
		}
		d.Blocking = blocking != 0
		if d.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListDependencyStates joins each edge of taskID with its target's status
// and lifecycle timestamps.
func (r Repo) ListDependencyStates(ctx context.Context, q Querier, taskID string) ([]domain.DependencyState, error) {
	rows, err := r.query(ctx, q, `SELECT d.task_id,d.depends_on_task_id,d.dependency_type,d.is_blocking,d.lag_seconds,d.created_at,
t.status,t.started_at,t.completed_at
FROM task_dependencies d JOIN tasks t ON t.id=d.depends_on_task_id
WHERE d.task_id=? ORDER BY d.depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DependencyState
	for rows.Next() {
		var s domain.DependencyState
		var blocking int
		var created string
		var started, completed sql.NullString
		if err := rows.Scan(&s.TaskID, &s.DependsOnTaskID, &s.Type, &blocking, &s.LagSeconds, &created,
			&s.Status, &started, &completed); err != nil {
			return nil, err
		}
		s.Blocking = blocking != 0
		if s.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		if s.StartedAt, err = parseNullTime(started); err != nil {
			return nil, err
		}
		if s.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListDependsOn returns the ids taskID depends on.
func (r Repo) ListDependsOn(ctx context.Context, q Querier, taskID string) ([]string, error) {
	rows, err := r.query(ctx, q, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id=? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListDependents returns the ids of tasks that depend on taskID.
func (r Repo) ListDependents(ctx context.Context, q Querier, taskID string) ([]string, error) {
	rows, err := r.query(ctx, q, `SELECT task_id FROM task_dependencies WHERE depends_on_task_id=? ORDER BY task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}
