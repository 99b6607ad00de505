package engine_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/engine"
	"workgraph/internal/repo"
)

func TestProjectProgress(t *testing.T) {
	cases := []struct {
		counts map[string]int
		want   float64
	}{
		{map[string]int{}, 0},
		{map[string]int{domain.StatusCompleted: 1, domain.StatusReady: 2}, 33.33},
		{map[string]int{domain.StatusCompleted: 2, domain.StatusCancelled: 1}, 66.67},
		{map[string]int{domain.StatusCompleted: 4}, 100},
	}
	for _, tc := range cases {
		if got := engine.ProjectProgress(tc.counts); got != tc.want {
			t.Fatalf("ProjectProgress(%v) = %v, want %v", tc.counts, got, tc.want)
		}
	}
}

func TestProjectHealth(t *testing.T) {
	now := baseTime
	start := now.Add(-10 * 24 * time.Hour)
	target := now.Add(10 * 24 * time.Hour)
	past := now.Add(-time.Hour)
	active := domain.Project{Status: domain.ProjectActive, StartDate: &start, TargetEndDate: &target}
	cases := []struct {
		name     string
		p        domain.Project
		progress float64
		blocked  int
		want     string
	}{
		{"completed project", domain.Project{Status: domain.ProjectCompleted, TargetEndDate: &past}, 40, 1, domain.HealthCompleted},
		{"past target", domain.Project{Status: domain.ProjectActive, TargetEndDate: &past}, 99, 0, domain.HealthOffTrack},
		{"past target but done", domain.Project{Status: domain.ProjectActive, TargetEndDate: &past}, 100, 0, domain.HealthOnTrack},
		{"blocked task", active, 60, 1, domain.HealthAtRisk},
		{"behind schedule", active, 25, 0, domain.HealthAtRisk},
		{"within tolerance", active, 31, 0, domain.HealthOnTrack},
		{"no dates", domain.Project{Status: domain.ProjectActive}, 0, 0, domain.HealthOnTrack},
	}
	for _, tc := range cases {
		if got := engine.ProjectHealth(tc.p, tc.progress, tc.blocked, now); got != tc.want {
			t.Fatalf("%s: health = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestProgressTracksCancellationAndBlocking(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	env.task(t, "b")
	env.task(t, "c")
	env.complete(t, "a")
	env.move(t, "c", domain.StatusCancelled)
	p, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.ProgressPercentage != 33.33 {
		t.Fatalf("cancelled tasks still count in the total, got %v", p.ProgressPercentage)
	}
	env.move(t, "b", domain.StatusBlocked)
	p, _ = env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.HealthStatus != domain.HealthAtRisk {
		t.Fatalf("a blocked task should put the project at risk, got %s", p.HealthStatus)
	}
}

func TestConcurrentSiblingCompletion(t *testing.T) {
	env := newTestEnv(t)
	const n = 6
	var deps []engine.DependencySpec
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		env.task(t, id)
		env.move(t, id, domain.StatusInProgress, domain.StatusReview)
		deps = append(deps, blocking(id))
	}
	env.task(t, "join", deps...)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{TaskID: id, Status: domain.StatusCompleted, Actor: dev})
			errs <- err
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("complete sibling: %v", err)
		}
	}
	if got := env.status(t, "join"); got != domain.StatusReady {
		t.Fatalf("join should be ready once every sibling completed, got %s", got)
	}
	env.complete(t, "join")
	p, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.ProgressPercentage != 100 {
		t.Fatalf("expected 100%% progress, got %v", p.ProgressPercentage)
	}
}

func TestUpdateTaskProgress(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	report := func(pct float64) error {
		_, err := env.Engine.UpdateTaskProgress(env.Ctx, engine.ProgressOptions{TaskID: "a", Progress: pct, Note: "halfway", Actor: dev})
		return err
	}
	if err := report(50); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("progress before start should be rejected, got %v", err)
	}
	env.move(t, "a", domain.StatusInProgress)
	if err := report(120); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("progress above 100 should be invalid, got %v", err)
	}
	hours := 3.5
	task, err := env.Engine.UpdateTaskProgress(env.Ctx, engine.ProgressOptions{TaskID: "a", Progress: 50, ActualHours: &hours, Actor: dev})
	if err != nil {
		t.Fatalf("report progress: %v", err)
	}
	if task.ProgressPercentage != 50 || task.Status != domain.StatusInProgress || task.ActualHours == nil || *task.ActualHours != 3.5 {
		t.Fatalf("unexpected task after progress report: %+v", task)
	}
	updates, _ := env.Engine.ListTaskUpdates(env.Ctx, repo.UpdateFilters{TaskID: "a", Type: domain.UpdateProgress})
	if len(updates) != 1 || updates[0].Progress == nil || *updates[0].Progress != 50 {
		t.Fatalf("expected one progress record, got %+v", updates)
	}
	p, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.ProgressPercentage != 0 {
		t.Fatalf("project progress counts completed tasks only, got %v", p.ProgressPercentage)
	}
}

func TestListAvailableTasks(t *testing.T) {
	env := newTestEnv(t)
	create := func(id string, priority int, due *time.Time, deps ...engine.DependencySpec) {
		t.Helper()
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			ID: id, ProjectID: env.Project.ID, Title: id, Priority: priority, DueDate: due, DependsOn: deps, Actor: dev,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	in := func(d time.Duration) *time.Time { v := baseTime.Add(d); return &v }
	create("later", 1, nil)
	create("soon", 2, in(72*time.Hour))
	create("urgent-low", 4, in(24*time.Hour))
	create("urgent-high", 1, in(-time.Hour))
	create("waiting", 1, nil, blocking("later"))
	create("taken", 1, nil)
	if _, err := env.Engine.AssignTask(env.Ctx, "taken", "team-z", dev); err != nil {
		t.Fatalf("assign: %v", err)
	}
	before, _ := env.Engine.ListTaskUpdates(env.Ctx, repo.UpdateFilters{ProjectID: env.Project.ID})

	got, err := env.Engine.ListAvailableTasks(env.Ctx, engine.AvailabilityFilters{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	var order []string
	for _, a := range got {
		order = append(order, a.ID+":"+a.Urgency)
	}
	want := []string{"urgent-high:urgent", "urgent-low:urgent", "soon:soon", "later:normal"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	limited, _ := env.Engine.ListAvailableTasks(env.Ctx, engine.AvailabilityFilters{ProjectID: env.Project.ID, Limit: 2})
	if len(limited) != 2 || limited[0].ID != "urgent-high" {
		t.Fatalf("limit should keep the head of the ordering: %+v", limited)
	}

	env.scores(t, "soon", match("team-b", 0.9))
	env.scores(t, "later", match("team-b", 0.7))
	forTeam, _ := env.Engine.ListAvailableTasks(env.Ctx, engine.AvailabilityFilters{ProjectID: env.Project.ID, TeamID: "team-b"})
	if len(forTeam) != 1 || forTeam[0].ID != "soon" {
		t.Fatalf("team filter should keep matches above the threshold: %+v", forTeam)
	}
	none, err := env.Engine.ListAvailableTasks(env.Ctx, engine.AvailabilityFilters{ProjectID: env.Project.ID, TeamID: "team-q"})
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected an empty list, got %+v (%v)", none, err)
	}

	after, _ := env.Engine.ListTaskUpdates(env.Ctx, repo.UpdateFilters{ProjectID: env.Project.ID})
	if len(after) != len(before) {
		t.Fatalf("listing must not write: %d -> %d updates", len(before), len(after))
	}
}

func TestUrgency(t *testing.T) {
	now := baseTime
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }
	cases := []struct {
		due  *time.Time
		want string
	}{
		{nil, domain.UrgencyNormal},
		{at(-time.Hour), domain.UrgencyUrgent},
		{at(48 * time.Hour), domain.UrgencyUrgent},
		{at(49 * time.Hour), domain.UrgencySoon},
		{at(168 * time.Hour), domain.UrgencySoon},
		{at(169 * time.Hour), domain.UrgencyNormal},
	}
	for _, tc := range cases {
		if got := engine.Urgency(tc.due, now, 48*time.Hour, 168*time.Hour); got != tc.want {
			t.Fatalf("Urgency(%v) = %s, want %s", tc.due, got, tc.want)
		}
	}
}

func TestProjectDashboard(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "a")
	env.task(t, "b", blocking("a"))
	env.task(t, "c")
	env.complete(t, "a")
	env.move(t, "c", domain.StatusBlocked)
	if _, err := env.Engine.AssignTask(env.Ctx, "b", "team-c", dev); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.AllocateTeam(env.Ctx, domain.ProjectTeam{ProjectID: env.Project.ID, TeamID: "team-b", AllocationPercentage: 25}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	env.advance(time.Minute)
	env.move(t, "b", domain.StatusInProgress)

	d, err := env.Engine.GetProjectDashboard(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Total != 3 || d.Completed != 1 || d.Blocked != 1 || d.Totals[domain.StatusInProgress] != 1 || d.Totals[domain.StatusReview] != 0 {
		t.Fatalf("unexpected totals: %+v", d)
	}
	if len(d.Totals) != 7 {
		t.Fatalf("every status should be reported, got %v", d.Totals)
	}
	if fmt.Sprint(d.TeamsInvolved) != "[team-b team-c]" {
		t.Fatalf("unexpected teams %v", d.TeamsInvolved)
	}
	if d.LastActivity == nil || !d.LastActivity.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("unexpected last activity %v", d.LastActivity)
	}
	if d.Project.HealthStatus != domain.HealthAtRisk {
		t.Fatalf("blocked work should put the project at risk, got %s", d.Project.HealthStatus)
	}
	if _, err := env.Engine.GetProjectDashboard(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
