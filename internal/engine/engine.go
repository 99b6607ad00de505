package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"workgraph/internal/audit"
	"workgraph/internal/config"
	"workgraph/internal/db"
	"workgraph/internal/domain"
	"workgraph/internal/repo"
	"workgraph/internal/telemetry"
)

// SystemActor attributes changes made by the engine's own background work.
var SystemActor = domain.Actor{TeamID: "system", AgentRole: "readiness-sweeper"}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	e := Engine{
		DB:     conn,
		Repo:   r,
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
	e.Audit = audit.Writer{Repo: r, Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) minScore() float64 {
	if e.Config == nil {
		return config.Default().Assignment.MinScore
	}
	return e.Config.Assignment.MinScore
}

func (e Engine) windows() (urgent, soon time.Duration) {
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg.Availability.UrgentWithin, cfg.Availability.SoonWithin
}

// appendUpdate stamps the record with the engine clock before writing.
func (e Engine) appendUpdate(ctx context.Context, q repo.Querier, u domain.TaskUpdate) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = e.now()
	}
	_, err := e.Audit.Append(ctx, q, u)
	return err
}

// lockTask reads a task with its project row locked. Every task mutation goes
// through the project lock, so the returned copy stays current until commit.
func (e Engine) lockTask(ctx context.Context, tx repo.Querier, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return t, err
	}
	if err := e.Repo.LockProject(ctx, tx, t.ProjectID); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, tx, id)
}

// observe classifies the returned error and records the operation.
func (e Engine) observe(ctx context.Context, op string, start time.Time, errp *error) {
	classify(errp)
	telemetry.RecordOp(ctx, op, Outcome(*errp), time.Since(start))
}

func newID() string {
	return uuid.NewString()
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validActor(a domain.Actor) error {
	if strings.TrimSpace(a.TeamID) == "" {
		return invalidf("actor team is required")
	}
	return nil
}
