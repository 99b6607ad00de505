package workgraphsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"workgraph/internal/config"
	"workgraph/internal/db"
	"workgraph/internal/engine"
	"workgraph/internal/migrate"
	"workgraph/internal/server"
)

const testSecret = "sdk-secret"

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, dialect, config.Default())
	e.Logger = logger
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{JWTSecret: testSecret},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, team string) *Client {
	t.Helper()
	tok, err := server.SignToken(testSecret, team, "developer", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c := New(srv.URL)
	c.BearerToken = tok
	return c
}

func TestClientWorkflow(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	c := newClient(t, srv, "team-a")

	p, err := c.CreateProject(ctx, CreateProjectInput{ID: "proj", Name: "Launch"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.OwnerTeam != "team-a" {
		t.Fatalf("expected owner from token, got %q", p.OwnerTeam)
	}
	if _, err := c.CreateTask(ctx, "proj", CreateTaskInput{ID: "design", Title: "Design"}); err != nil {
		t.Fatalf("create design: %v", err)
	}
	build, err := c.CreateTask(ctx, "proj", CreateTaskInput{
		ID:        "build",
		Title:     "Build",
		DependsOn: []DependencyInput{{DependsOnTaskID: "design"}},
	})
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	if build.Status != "pending" {
		t.Fatalf("expected pending, got %s", build.Status)
	}

	if _, err := c.UpdateStatus(ctx, "design", "in_progress", ""); err != nil {
		t.Fatalf("start design: %v", err)
	}
	if _, err := c.ReportProgress(ctx, "design", 40, "halfway there"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if _, err := c.UpdateStatus(ctx, "design", "review", ""); err != nil {
		t.Fatalf("review design: %v", err)
	}
	if _, err := c.UpdateStatus(ctx, "design", "completed", "done"); err != nil {
		t.Fatalf("complete design: %v", err)
	}
	build, err = c.GetTask(ctx, "build")
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if build.Status != "ready" {
		t.Fatalf("expected build ready after design completed, got %s", build.Status)
	}

	avail, err := c.AvailableTasks(ctx, "proj", "", 0)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 1 || avail[0].ID != "build" {
		t.Fatalf("expected only build available, got %+v", avail)
	}

	if _, err := c.RecordSkillMatches(ctx, "build", []ScoreInput{
		{TeamID: "team-b", Score: 0.9},
		{TeamID: "team-c", Score: 0.6},
	}); err != nil {
		t.Fatalf("record matches: %v", err)
	}
	a, err := c.AssignBest(ctx, "build")
	if err != nil {
		t.Fatalf("assign best: %v", err)
	}
	if a.TeamID != "team-b" {
		t.Fatalf("expected team-b, got %s", a.TeamID)
	}

	d, err := c.Dashboard(ctx, "proj")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Total != 2 || d.Completed != 1 {
		t.Fatalf("unexpected dashboard totals: %+v", d)
	}
	if d.Project.ProgressPercentage != 50 {
		t.Fatalf("expected 50%% progress, got %v", d.Project.ProgressPercentage)
	}
}

func TestClientUpdateFeed(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	c := newClient(t, srv, "team-a")
	if _, err := c.CreateProject(ctx, CreateProjectInput{ID: "proj", Name: "Feed"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.CreateTask(ctx, "proj", CreateTaskInput{ID: id, Title: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	var seen []TaskUpdate
	var after int64
	for i := 0; i < 10; i++ {
		page, err := c.Updates(ctx, after, "proj", 2)
		if err != nil {
			t.Fatalf("updates: %v", err)
		}
		if len(page.Items) == 0 {
			break
		}
		seen = append(seen, page.Items...)
		after = page.Next
	}
	// each task records created and pending -> ready
	if len(seen) != 6 {
		t.Fatalf("expected 6 updates, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].ID <= seen[i-1].ID {
			t.Fatalf("feed out of order at %d: %d <= %d", i, seen[i].ID, seen[i-1].ID)
		}
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	c := newClient(t, srv, "team-a")

	_, err := c.GetTask(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	anon := New(srv.URL)
	_, err = anon.GetProject(ctx, "proj")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401 without credentials, got %v", err)
	}

	if _, err := c.CreateProject(ctx, CreateProjectInput{ID: "proj", Name: "Cycle"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	gated := []DependencyInput{{DependsOnTaskID: "gate"}}
	for _, in := range []CreateTaskInput{
		{ID: "gate", Title: "Gate"},
		{ID: "a", Title: "A", DependsOn: gated},
		{ID: "b", Title: "B", DependsOn: append(gated, DependencyInput{DependsOnTaskID: "a"})},
	} {
		if _, err := c.CreateTask(ctx, "proj", in); err != nil {
			t.Fatalf("create %s: %v", in.ID, err)
		}
	}
	_, err = c.AddDependency(ctx, "a", DependencyInput{DependsOnTaskID: "b"})
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 || apiErr.Code != "cycle_detected" {
		t.Fatalf("expected cycle_detected, got %v", err)
	}
}
