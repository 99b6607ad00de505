package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workgraph/internal/domain"
	"workgraph/internal/engine"
	"workgraph/internal/repo"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.Body.OwnerTeam
		if owner == "" {
			owner = actor.TeamID
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:            stringOrEmpty(input.Body.ID),
			Name:          input.Body.Name,
			Description:   stringOrEmpty(input.Body.Description),
			Status:        input.Body.Status,
			Priority:      input.Body.Priority,
			OwnerTeam:     owner,
			StartDate:     input.Body.StartDate,
			TargetEndDate: input.Body.TargetEndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"planning,active,on_hold,completed,cancelled"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/status",
		Summary:     "Change project status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                     `path:"project_id"`
		Body      UpdateProjectStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProjectStatus(ctx, input.ProjectID, input.Body.Status, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allocate-team",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/teams/{team_id}",
		Summary:     "Allocate a team to a project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		TeamID    string              `path:"team_id"`
		Body      AllocateTeamRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectTeam `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		pt, err := e.AllocateTeam(ctx, domain.ProjectTeam{
			ProjectID:            input.ProjectID,
			TeamID:               input.TeamID,
			Role:                 input.Body.Role,
			AllocationPercentage: input.Body.AllocationPercentage,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectTeam `json:"body"`
		}{Body: pt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-teams",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/teams",
		Summary:     "List allocated teams",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.ProjectTeam `json:"body"`
	}, error) {
		teams, err := e.ListProjectTeams(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectTeam `json:"body"`
		}{Body: nonNilSlice(teams)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-dashboard",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/dashboard",
		Summary:     "Project dashboard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Dashboard `json:"body"`
	}, error) {
		d, err := e.GetProjectDashboard(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		d.TeamsInvolved = nonNilSlice(d.TeamsInvolved)
		return &struct {
			Body domain.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reevaluate-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reevaluate",
		Summary:     "Release pending tasks whose dependency lag has elapsed",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body promotedResponse `json:"body"`
	}, error) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		promoted, err := e.ReevaluatePending(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.RecomputeProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body promotedResponse `json:"body"`
		}{Body: promotedResponse{Promoted: nonNilSlice(promoted)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ID:             stringOrEmpty(input.Body.ID),
			ProjectID:      input.ProjectID,
			ParentTaskID:   stringOrEmpty(input.Body.ParentTaskID),
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Type:           input.Body.TaskType,
			Priority:       input.Body.Priority,
			Complexity:     input.Body.Complexity,
			EstimatedHours: input.Body.EstimatedHours,
			RequiredSkills: input.Body.RequiredSkills,
			DueDate:        input.Body.DueDate,
			Actor:          actor,
		}
		for _, d := range input.Body.DependsOn {
			opts.DependsOn = append(opts.DependsOn, d.spec())
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID    string `path:"project_id"`
		Status       string `query:"status" enum:"pending,ready,in_progress,blocked,review,completed,cancelled"`
		ParentTaskID string `query:"parent_task_id"`
		AssignedTeam string `query:"assigned_team"`
		Limit        int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			ProjectID:    input.ProjectID,
			Status:       input.Status,
			ParentTaskID: input.ParentTaskID,
			AssignedTeam: input.AssignedTeam,
			Limit:        normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilSlice(tasks)}, nil
	})
}
