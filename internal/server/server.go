package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"workgraph/internal/engine"
	"workgraph/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
	// MetricsHandler, when set, is mounted at /metrics outside the base path.
	MetricsHandler http.Handler
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cycle_detected"`
	Message string         `json:"message" example:"dependency would create a cycle: b -> a -> b"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every route.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the workgraph API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		if status == http.StatusUnprocessableEntity {
			// request validation failures are client input errors
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(RequestID)
	router.Use(Logger(logger))
	router.Use(Recovery(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler)
	}

	hcfg := huma.DefaultConfig("workgraph API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAssignment(group, cfg.Engine)
	registerUpdates(group, cfg.Engine)
	mountDocs(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto HTTP statuses. The code is the engine
// outcome name so clients can branch without parsing messages.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	code := engine.Outcome(err)
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, code, msg, nil)
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrSelfDependency),
		errors.Is(err, engine.ErrInvalidParent):
		return newAPIError(http.StatusBadRequest, code, msg, nil)
	case errors.Is(err, engine.ErrCycleDetected),
		errors.Is(err, engine.ErrDuplicateEdge),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrDependencyLocked),
		errors.Is(err, engine.ErrAlreadyAssigned):
		return newAPIError(http.StatusConflict, code, msg, nil)
	case errors.Is(err, engine.ErrNoEligibleTeam),
		errors.Is(err, engine.ErrTaskNotReady):
		return newAPIError(http.StatusUnprocessableEntity, code, msg, nil)
	case errors.Is(err, engine.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newAPIError(http.StatusServiceUnavailable, code, "storage unavailable", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

var statusCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "unprocessable",
	http.StatusServiceUnavailable:  "storage_unavailable",
	http.StatusInternalServerError: "internal_error",
}

func defaultCodeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

type healthOutput struct {
	Body struct {
		Status  string `json:"status" example:"ok"`
		Storage string `json:"storage" example:"ok"`
	}
}

// registerHealth reports liveness together with a storage ping; a failed ping
// answers 503.
func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		if e.DB != nil {
			if err := e.DB.PingContext(ctx); err != nil {
				return nil, newAPIError(http.StatusServiceUnavailable, "", "storage unavailable", nil)
			}
		}
		out := &healthOutput{}
		out.Body.Status = "ok"
		out.Body.Storage = "ok"
		return out, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
