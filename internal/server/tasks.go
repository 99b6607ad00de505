package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workgraph/internal/domain"
	"workgraph/internal/engine"
	"workgraph/internal/repo"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskOutput struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/dependencies",
		Summary:       "Add a dependency edge",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   DependencyRequest `json:"body"`
	}) (*struct {
		Body domain.Dependency `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddDependency(ctx, engine.AddDependencyOptions{
			TaskID:         input.TaskID,
			DependencySpec: input.Body.spec(),
			Actor:          actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dependency `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/dependencies",
		Summary:     "List dependency edges of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.Dependency `json:"body"`
	}, error) {
		deps, err := e.ListDependencies(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Dependency `json:"body"`
		}{Body: nonNilSlice(deps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   UpdateTaskStatusRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, engine.TaskStatusOptions{
			TaskID: input.TaskID,
			Status: input.Body.Status,
			Actor:  actor,
			Note:   input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-progress",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/progress",
		Summary:     "Report task progress",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                    `path:"task_id"`
		Body   UpdateTaskProgressRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskProgress(ctx, engine.ProgressOptions{
			TaskID:      input.TaskID,
			Progress:    input.Body.Progress,
			ActualHours: input.Body.ActualHours,
			Note:        input.Body.Note,
			Actor:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})
}

func registerAssignment(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "record-skill-matches",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/skill-matches",
		Summary:     "Store scorer output for a task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                    `path:"task_id"`
		Body   RecordSkillMatchesRequest `json:"body"`
	}) (*struct {
		Body []domain.SkillMatch `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ms, err := e.RecordSkillMatches(ctx, input.TaskID, skillMatches(input.Body.Matches))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SkillMatch `json:"body"`
		}{Body: nonNilSlice(ms)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-skill-matches",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/skill-matches",
		Summary:     "List stored skill matches",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.SkillMatch `json:"body"`
	}, error) {
		ms, err := e.ListSkillMatches(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SkillMatch `json:"body"`
		}{Body: nonNilSlice(ms)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-best-team",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign-best",
		Summary:     "Assign the best scoring team",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AssignBestTeam(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/assignment",
		Summary:     "Set or clear the assigned team",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   AssignTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, input.TaskID, input.Body.TeamID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-tasks",
		Method:      http.MethodGet,
		Path:        "/available-tasks",
		Summary:     "Ready, unassigned work ordered by urgency",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		TeamID    string `query:"team_id"`
		Limit     int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.AvailableTask `json:"body"`
	}, error) {
		items, err := e.ListAvailableTasks(ctx, engine.AvailabilityFilters{
			ProjectID: input.ProjectID,
			TeamID:    input.TeamID,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AvailableTask `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerUpdates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-updates",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/updates",
		Summary:     "Audit log of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Type   string `query:"type" enum:"created,status_change,progress_update,assignment_change"`
	}) (*struct {
		Body []domain.TaskUpdate `json:"body"`
	}, error) {
		items, err := e.ListTaskUpdates(ctx, repo.UpdateFilters{TaskID: input.TaskID, Type: input.Type})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskUpdate `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-update-feed",
		Method:      http.MethodGet,
		Path:        "/task-updates",
		Summary:     "Feed of task updates after a sequence id",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After     int64  `query:"after" minimum:"0"`
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"100"`
	}) (*struct {
		Body paginatedUpdates `json:"body"`
	}, error) {
		items, err := e.ListTaskUpdates(ctx, repo.UpdateFilters{
			ProjectID: input.ProjectID,
			AfterID:   input.After,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedUpdates{Items: nonNilSlice(items), NextID: input.After}
		if n := len(items); n > 0 {
			resp.NextID = items[n-1].ID
		}
		return &struct {
			Body paginatedUpdates `json:"body"`
		}{Body: resp}, nil
	})
}
