package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"workgraph/internal/db"
	"workgraph/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

// TimeLayout is fixed width so stored timestamps sort lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, db.Rebind(r.Dialect, query), args...)
}

func (r Repo) query(ctx context.Context, q Querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.Rebind(r.Dialect, query), args...)
}

func (r Repo) queryRow(ctx context.Context, q Querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, db.Rebind(r.Dialect, query), args...)
}

// LockProject takes the project row lock for the rest of the transaction.
// SQLite transactions already hold the database write lock from BEGIN.
func (r Repo) LockProject(ctx context.Context, q Querier, id string) error {
	query := `SELECT id FROM projects WHERE id=?`
	if r.Dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	var got string
	err := r.queryRow(ctx, q, query, id).Scan(&got)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

const projectColumns = `id,name,description,status,priority,owner_team,progress_percentage,health_status,start_date,target_end_date,actual_end_date,created_at,updated_at`

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	var desc, start, target, actual sql.NullString
	var created, updated string
	err := s.Scan(&p.ID, &p.Name, &desc, &p.Status, &p.Priority, &p.OwnerTeam, &p.ProgressPercentage, &p.HealthStatus,
		&start, &target, &actual, &created, &updated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if p.StartDate, err = parseNullTime(start); err != nil {
		return p, err
	}
	if p.TargetEndDate, err = parseNullTime(target); err != nil {
		return p, err
	}
	if p.ActualEndDate, err = parseNullTime(actual); err != nil {
		return p, err
	}
	if p.CreatedAt, err = ParseTime(created); err != nil {
		return p, err
	}
	p.UpdatedAt, err = ParseTime(updated)
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, q Querier, p domain.Project) error {
	_, err := r.exec(ctx, q, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, p.Priority, p.OwnerTeam, p.ProgressPercentage, p.HealthStatus,
		nullableTime(p.StartDate), nullableTime(p.TargetEndDate), nullableTime(p.ActualEndDate),
		FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, q Querier, id string) (domain.Project, error) {
	return scanProject(r.queryRow(ctx, q, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, q Querier, status string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProjectStatus(ctx context.Context, q Querier, id, status string, actualEnd *time.Time, updatedAt time.Time) error {
	res, err := r.exec(ctx, q, `UPDATE projects SET status=?, actual_end_date=?, updated_at=? WHERE id=?`,
		status, nullableTime(actualEnd), FormatTime(updatedAt), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) UpdateProjectProgress(ctx context.Context, q Querier, id string, progress float64, health string, updatedAt time.Time) error {
	res, err := r.exec(ctx, q, `UPDATE projects SET progress_percentage=?, health_status=?, updated_at=? WHERE id=?`,
		progress, health, FormatTime(updatedAt), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FormatTime renders t in the stored UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the stored layout and RFC 3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := ParseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil || v.IsZero() {
		return nil
	}
	return FormatTime(*v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
