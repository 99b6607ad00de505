package audit

import (
	"context"
	"database/sql"
	"log/slog"

	"workgraph/internal/repo"
)

// Compactor trims the TaskUpdate log to the newest KeepPerTask rows per task.
// A KeepPerTask of zero disables it.
type Compactor struct {
	DB          *sql.DB
	Repo        repo.Repo
	KeepPerTask int
	Logger      *slog.Logger
}

// Compact runs one pass and returns the number of rows removed. Each task is
// trimmed in its own transaction.
func (c Compactor) Compact(ctx context.Context) (int64, error) {
	if c.KeepPerTask <= 0 {
		return 0, nil
	}
	ids, err := c.Repo.ListTasksWithUpdatesOver(ctx, c.DB, c.KeepPerTask)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := c.compactTask(ctx, id)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if removed > 0 && c.Logger != nil {
		c.Logger.Info("task updates compacted", "tasks", len(ids), "removed", removed, "keep_per_task", c.KeepPerTask)
	}
	return removed, nil
}

func (c Compactor) compactTask(ctx context.Context, taskID string) (int64, error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := c.Repo.DeleteOldTaskUpdates(ctx, tx, taskID, c.KeepPerTask)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
