package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"workgraph/internal/config"
	"workgraph/internal/db"
	"workgraph/internal/domain"
	"workgraph/internal/engine"
	"workgraph/internal/migrate"
	"workgraph/internal/repo"
)

var (
	baseTime = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	dev      = domain.Actor{TeamID: "team-a", AgentRole: "developer"}
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	clock   *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := baseTime
	eng := engine.New(conn, dialect, config.Default())
	eng.Now = func() time.Time { return clock }
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{Engine: eng, Ctx: context.Background(), clock: &clock}
	start := baseTime.Add(-4 * 24 * time.Hour)
	target := baseTime.Add(60 * 24 * time.Hour)
	env.Project, err = eng.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ID: "proj-1", Name: "Launch", OwnerTeam: "team-a", Status: domain.ProjectActive, StartDate: &start, TargetEndDate: &target,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func blocking(id string) engine.DependencySpec {
	return engine.DependencySpec{DependsOnTaskID: id, Type: domain.FinishToStart}
}

func (env *testEnv) task(t *testing.T, id string, deps ...engine.DependencySpec) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ID: id, ProjectID: env.Project.ID, Title: "Task " + id, DependsOn: deps, Actor: dev,
	})
	if err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	return task
}

func (env *testEnv) move(t *testing.T, id string, statuses ...string) domain.Task {
	t.Helper()
	var task domain.Task
	var err error
	for _, s := range statuses {
		task, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{TaskID: id, Status: s, Actor: dev})
		if err != nil {
			t.Fatalf("move %s to %s: %v", id, s, err)
		}
	}
	return task
}

func (env *testEnv) complete(t *testing.T, id string) domain.Task {
	t.Helper()
	return env.move(t, id, domain.StatusInProgress, domain.StatusReview, domain.StatusCompleted)
}

func (env *testEnv) status(t *testing.T, id string) string {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, id)
	if err != nil {
		t.Fatalf("get task %s: %v", id, err)
	}
	return task.Status
}

func (env *testEnv) edges(t *testing.T, id string) int {
	t.Helper()
	deps, err := env.Engine.ListDependencies(env.Ctx, id)
	if err != nil {
		t.Fatalf("list dependencies of %s: %v", id, err)
	}
	return len(deps)
}

func TestCompletionPropagatesAndRollsUp(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a")
	if a.Status != domain.StatusReady || a.ReadyAt == nil {
		t.Fatalf("task without dependencies should be ready at creation, got %s", a.Status)
	}
	b := env.task(t, "b", blocking("a"))
	if b.Status != domain.StatusPending {
		t.Fatalf("dependent should start pending, got %s", b.Status)
	}

	env.complete(t, "a")
	if got := env.status(t, "b"); got != domain.StatusReady {
		t.Fatalf("completing a should promote b, got %s", got)
	}
	p, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.ProgressPercentage != 50 {
		t.Fatalf("expected 50%% progress, got %v", p.ProgressPercentage)
	}

	env.complete(t, "b")
	p, _ = env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.ProgressPercentage != 100 {
		t.Fatalf("expected 100%% progress, got %v", p.ProgressPercentage)
	}

	updates, err := env.Engine.ListTaskUpdates(env.Ctx, repo.UpdateFilters{TaskID: "b"})
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates) < 2 || updates[0].Type != domain.UpdateCreated || updates[1].ToStatus != domain.StatusReady {
		t.Fatalf("unexpected audit trail for b: %+v", updates)
	}
	if updates[1].TeamID != dev.TeamID || updates[1].Note == "" {
		t.Fatalf("propagated change should be attributed to the completing team: %+v", updates[1])
	}
}

func TestNonBlockingDependencyDoesNotGate(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	c := env.task(t, "c", engine.DependencySpec{DependsOnTaskID: "a", Type: domain.FinishToStart, NonBlocking: true})
	if c.Status != domain.StatusReady {
		t.Fatalf("non-blocking dependency must not gate readiness, got %s", c.Status)
	}
}

func TestZeroDependencySpecBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	b := env.task(t, "b", engine.DependencySpec{DependsOnTaskID: "a"})
	if b.Status != domain.StatusPending {
		t.Fatalf("a bare dependency should gate readiness, got %s", b.Status)
	}
	deps, err := env.Engine.ListDependencies(env.Ctx, "b")
	if err != nil {
		t.Fatalf("list dependencies: %v", err)
	}
	if len(deps) != 1 || !deps[0].Blocking || deps[0].Type != domain.FinishToStart {
		t.Fatalf("expected one blocking finish_to_start edge, got %+v", deps)
	}
}

func TestPropagationIsDirectOnly(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	env.task(t, "b", blocking("a"))
	env.task(t, "c", blocking("b"))
	env.complete(t, "a")
	if got := env.status(t, "c"); got != domain.StatusPending {
		t.Fatalf("transitive dependent must stay pending, got %s", got)
	}
}

func TestAddDependencyRejectionsLeaveGraphUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "gate")
	env.task(t, "x", blocking("gate"))
	env.task(t, "y", blocking("gate"))
	env.task(t, "z", blocking("gate"))

	add := func(task, dep string) error {
		_, err := env.Engine.AddDependency(env.Ctx, engine.AddDependencyOptions{
			TaskID: task, DependencySpec: blocking(dep), Actor: dev,
		})
		return err
	}
	if err := add("x", "y"); err != nil {
		t.Fatalf("x -> y: %v", err)
	}
	if err := add("y", "z"); err != nil {
		t.Fatalf("y -> z: %v", err)
	}

	cases := []struct {
		name      string
		task, dep string
		want      error
	}{
		{"self", "x", "x", engine.ErrSelfDependency},
		{"duplicate", "x", "y", engine.ErrDuplicateEdge},
		{"direct cycle", "y", "x", engine.ErrCycleDetected},
		{"transitive cycle", "z", "x", engine.ErrCycleDetected},
		{"locked", "gate", "x", engine.ErrDependencyLocked},
		{"missing", "x", "nope", repo.ErrNotFound},
	}
	for _, tc := range cases {
		before := env.edges(t, tc.task)
		if err := add(tc.task, tc.dep); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if after := env.edges(t, tc.task); after != before {
			t.Fatalf("%s: edge count changed %d -> %d", tc.name, before, after)
		}
	}
}

func TestDependenciesStayWithinProject(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{ID: "proj-2", Name: "Other", OwnerTeam: "team-b"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	env.task(t, "a")
	foreign, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "f", ProjectID: other.ID, Title: "foreign", Actor: dev})
	if err != nil {
		t.Fatalf("create foreign task: %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: env.Project.ID, Title: "x", DependsOn: []engine.DependencySpec{blocking(foreign.ID)}, Actor: dev})
	if !errors.Is(err, engine.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent for cross-project edge, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: env.Project.ID, ParentTaskID: foreign.ID, Title: "sub", Actor: dev})
	if !errors.Is(err, engine.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent for foreign parent, got %v", err)
	}
	sub, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ParentTaskID: "a", Title: "sub", Actor: dev})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if sub.ProjectID != env.Project.ID || sub.ParentTaskID == nil || *sub.ParentTaskID != "a" {
		t.Fatalf("subtask should inherit the parent's project: %+v", sub)
	}
}

func TestFailedCreateRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ID: "b", ProjectID: env.Project.ID, Title: "b", Actor: dev,
		DependsOn: []engine.DependencySpec{blocking("a"), blocking("missing")},
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing dependency, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "b"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task b must not exist after rollback, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "dup", Actor: dev, DependsOn: []engine.DependencySpec{blocking("a"), blocking("a")},
	})
	if !errors.Is(err, engine.ErrDuplicateEdge) {
		t.Fatalf("expected duplicate edge, got %v", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.TaskCreateOptions{
		"no title":     {ProjectID: env.Project.ID, Actor: dev},
		"no actor":     {ProjectID: env.Project.ID, Title: "t"},
		"priority":     {ProjectID: env.Project.ID, Title: "t", Priority: 9, Actor: dev},
		"complexity":   {ProjectID: env.Project.ID, Title: "t", Complexity: "trivial", Actor: dev},
		"no project":   {Title: "t", Actor: dev},
		"bad dep":      {ProjectID: env.Project.ID, Title: "t", Actor: dev, DependsOn: []engine.DependencySpec{{DependsOnTaskID: "a", Type: "sometimes"}}},
		"negative lag": {ProjectID: env.Project.ID, Title: "t", Actor: dev, DependsOn: []engine.DependencySpec{{DependsOnTaskID: "a", Lag: -time.Second}}},
	}
	for name, opts := range cases {
		if _, err := env.Engine.CreateTask(env.Ctx, opts); !errors.Is(err, engine.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "nope", Title: "t", Actor: dev}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found project, got %v", err)
	}
}

func TestDuplicateProjectIDIsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{ID: env.Project.ID, Name: "Again", OwnerTeam: "team-b"})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if errors.Is(err, engine.ErrStorageUnavailable) {
		t.Fatalf("duplicate id must not read as a storage outage: %v", err)
	}
	p, err := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if err != nil || p.Name != "Launch" || p.OwnerTeam != "team-a" {
		t.Fatalf("original project changed: %+v %v", p, err)
	}
}

func TestStorageFailureIsClassified(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.DB.Close()
	_, err := env.Engine.GetTask(env.Ctx, "a")
	if !errors.Is(err, engine.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{TaskID: "a", Status: domain.StatusReady, Actor: dev})
	if !errors.Is(err, engine.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if engine.Outcome(err) != "storage_unavailable" {
		t.Fatalf("unexpected outcome %q", engine.Outcome(err))
	}
}

func TestProjectStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.UpdateProjectStatus(env.Ctx, env.Project.ID, domain.ProjectOnHold, dev)
	if err != nil || p.Status != domain.ProjectOnHold {
		t.Fatalf("to on_hold: %v", err)
	}
	if _, err := env.Engine.UpdateProjectStatus(env.Ctx, env.Project.ID, domain.ProjectCompleted, dev); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("on_hold -> completed should be rejected, got %v", err)
	}
	if _, err := env.Engine.UpdateProjectStatus(env.Ctx, env.Project.ID, domain.ProjectActive, dev); err != nil {
		t.Fatalf("to active: %v", err)
	}
	p, err = env.Engine.UpdateProjectStatus(env.Ctx, env.Project.ID, domain.ProjectCompleted, dev)
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if p.HealthStatus != domain.HealthCompleted || p.ActualEndDate == nil {
		t.Fatalf("completed project should be healthy and dated: %+v", p)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: "late", Actor: dev}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("closed project must reject new tasks, got %v", err)
	}
}

func TestAllocateTeam(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AllocateTeam(env.Ctx, domain.ProjectTeam{ProjectID: env.Project.ID, TeamID: "team-b", AllocationPercentage: 150}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid allocation, got %v", err)
	}
	if _, err := env.Engine.AllocateTeam(env.Ctx, domain.ProjectTeam{ProjectID: env.Project.ID, TeamID: "team-b", Role: "qa", AllocationPercentage: 50}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	pt, err := env.Engine.AllocateTeam(env.Ctx, domain.ProjectTeam{ProjectID: env.Project.ID, TeamID: "team-b", Role: "lead", AllocationPercentage: 80})
	if err != nil || pt.Role != "lead" {
		t.Fatalf("re-allocate: %v", err)
	}
	teams, err := env.Engine.ListProjectTeams(env.Ctx, env.Project.ID)
	if err != nil || len(teams) != 1 || teams[0].AllocationPercentage != 80 {
		t.Fatalf("unexpected teams %+v (%v)", teams, err)
	}
}
