package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"workgraph/internal/config"
	"workgraph/internal/db"
	"workgraph/internal/domain"
	"workgraph/internal/engine"
	"workgraph/internal/migrate"
	"workgraph/internal/repo"
)

// newPostgresEnv runs against DATABASE_URL. Ids carry a per-test prefix so
// runs share one database without colliding.
func newPostgresEnv(t *testing.T) (*testEnv, func(string) string) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}
	conn, dialect, err := db.Open(db.Config{Driver: "postgres"})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, config.Default())
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{Engine: eng, Ctx: context.Background()}
	prefix := uuid.NewString()[:8]
	env.Project, err = eng.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ID: prefix + "-proj", Name: "Concurrency", OwnerTeam: dev.TeamID, Status: domain.ProjectActive,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return env, func(name string) string { return prefix + "-" + name }
}

func TestPostgresMigrateIsIdempotent(t *testing.T) {
	env, _ := newPostgresEnv(t)
	if err := migrate.Migrate(env.Engine.DB, db.Postgres); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	var version int
	if err := env.Engine.DB.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected applied schema, got version %d", version)
	}
}

func TestPostgresSiblingCompletionPromotesOnce(t *testing.T) {
	env, id := newPostgresEnv(t)
	a, b, c := id("a"), id("b"), id("c")
	env.task(t, a)
	env.task(t, b)
	env.task(t, c, blocking(a), blocking(b))
	env.move(t, a, domain.StatusInProgress, domain.StatusReview)
	env.move(t, b, domain.StatusInProgress, domain.StatusReview)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, taskID := range []string{a, b} {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{TaskID: taskID, Status: domain.StatusCompleted, Actor: dev})
			errs <- err
		}(taskID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if got := env.status(t, c); got != domain.StatusReady {
		t.Fatalf("expected %s ready after both dependencies completed, got %s", c, got)
	}
	updates, err := env.Engine.ListTaskUpdates(env.Ctx, repo.UpdateFilters{TaskID: c, Type: domain.UpdateStatusChange})
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates) != 1 || updates[0].ToStatus != domain.StatusReady {
		t.Fatalf("expected exactly one promotion record, got %+v", updates)
	}
}

func TestPostgresAssignBestTeamHasOneWinner(t *testing.T) {
	env, id := newPostgresEnv(t)
	task := id("t")
	env.task(t, task)
	if _, err := env.Engine.RecordSkillMatches(env.Ctx, task, []domain.SkillMatch{{TeamID: "team-b", Score: 0.9}}); err != nil {
		t.Fatalf("record matches: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.AssignBestTeam(env.Ctx, task, domain.Actor{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, engine.ErrAlreadyAssigned):
		default:
			t.Fatalf("unexpected assign error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one successful assignment, got %d", won)
	}
	updates, err := env.Engine.ListTaskUpdates(env.Ctx, repo.UpdateFilters{TaskID: task, Type: domain.UpdateAssignmentChange})
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected one assignment record, got %d", len(updates))
	}
}

func TestPostgresProgressCannotReopenCompletedTask(t *testing.T) {
	env, id := newPostgresEnv(t)
	for i := 0; i < 20; i++ {
		task := id("p" + string(rune('a'+i)))
		env.task(t, task)
		env.move(t, task, domain.StatusInProgress, domain.StatusReview)

		var wg sync.WaitGroup
		var progressErr, statusErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, progressErr = env.Engine.UpdateTaskProgress(env.Ctx, engine.ProgressOptions{TaskID: task, Progress: 60, Actor: dev})
		}()
		go func() {
			defer wg.Done()
			_, statusErr = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{TaskID: task, Status: domain.StatusCompleted, Actor: dev})
		}()
		wg.Wait()
		if statusErr != nil {
			t.Fatalf("complete %s: %v", task, statusErr)
		}
		if progressErr != nil && !errors.Is(progressErr, engine.ErrInvalidTransition) {
			t.Fatalf("progress %s: %v", task, progressErr)
		}
		got, err := env.Engine.GetTask(env.Ctx, task)
		if err != nil {
			t.Fatalf("get %s: %v", task, err)
		}
		if got.Status != domain.StatusCompleted || got.CompletedAt == nil || got.ProgressPercentage != 100 {
			t.Fatalf("completed task was rewritten: status=%s completed_at=%v progress=%v", got.Status, got.CompletedAt, got.ProgressPercentage)
		}
	}
}

func TestPostgresStatusChangeKeepsConcurrentAssignment(t *testing.T) {
	env, id := newPostgresEnv(t)
	for i := 0; i < 20; i++ {
		task := id("s" + string(rune('a'+i)))
		env.task(t, task)
		if _, err := env.Engine.RecordSkillMatches(env.Ctx, task, []domain.SkillMatch{{TeamID: "team-b", Score: 0.9}}); err != nil {
			t.Fatalf("record matches: %v", err)
		}

		var wg sync.WaitGroup
		var assignErr, statusErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, assignErr = env.Engine.AssignBestTeam(env.Ctx, task, domain.Actor{})
		}()
		go func() {
			defer wg.Done()
			_, statusErr = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{TaskID: task, Status: domain.StatusInProgress, Actor: dev})
		}()
		wg.Wait()
		if statusErr != nil {
			t.Fatalf("start %s: %v", task, statusErr)
		}
		if assignErr != nil && !errors.Is(assignErr, engine.ErrTaskNotReady) {
			t.Fatalf("assign %s: %v", task, assignErr)
		}
		got, err := env.Engine.GetTask(env.Ctx, task)
		if err != nil {
			t.Fatalf("get %s: %v", task, err)
		}
		if assignErr == nil && (got.AssignedTeam == nil || *got.AssignedTeam != "team-b") {
			t.Fatalf("assignment of %s was lost: %v", task, got.AssignedTeam)
		}
		if got.Status != domain.StatusInProgress {
			t.Fatalf("expected %s in progress, got %s", task, got.Status)
		}
	}
}
