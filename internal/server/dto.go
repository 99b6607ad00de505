package server

import (
	"time"

	"workgraph/internal/domain"
	"workgraph/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID            *string    `json:"id,omitempty"`
	Name          string     `json:"name" minLength:"1"`
	Description   *string    `json:"description,omitempty"`
	Status        string     `json:"status,omitempty" enum:"planning,active"`
	Priority      string     `json:"priority,omitempty" enum:"low,medium,high,critical"`
	OwnerTeam     string     `json:"owner_team,omitempty" doc:"Defaults to the calling team"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	TargetEndDate *time.Time `json:"target_end_date,omitempty"`
}

type UpdateProjectStatusRequest struct {
	Status string `json:"status" enum:"planning,active,on_hold,completed,cancelled"`
}

type AllocateTeamRequest struct {
	Role                 string  `json:"role,omitempty"`
	AllocationPercentage float64 `json:"allocation_percentage" exclusiveMinimum:"0" maximum:"100"`
}

type DependencyRequest struct {
	DependsOnTaskID string `json:"depends_on_task_id" minLength:"1"`
	Type            string `json:"dependency_type,omitempty" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	IsBlocking      *bool  `json:"is_blocking,omitempty" doc:"Defaults to true"`
	LagSeconds      int64  `json:"lag_seconds,omitempty" minimum:"0"`
}

func (d DependencyRequest) spec() engine.DependencySpec {
	return engine.DependencySpec{
		DependsOnTaskID: d.DependsOnTaskID,
		Type:            d.Type,
		NonBlocking:     d.IsBlocking != nil && !*d.IsBlocking,
		Lag:             time.Duration(d.LagSeconds) * time.Second,
	}
}

type CreateTaskRequest struct {
	ID             *string             `json:"id,omitempty"`
	ParentTaskID   *string             `json:"parent_task_id,omitempty"`
	Title          string              `json:"title" minLength:"1"`
	Description    *string             `json:"description,omitempty"`
	TaskType       string              `json:"task_type,omitempty"`
	Priority       int                 `json:"priority,omitempty" minimum:"1" maximum:"5"`
	Complexity     string              `json:"complexity,omitempty" enum:"easy,medium,hard,expert"`
	EstimatedHours *float64            `json:"estimated_hours,omitempty" minimum:"0"`
	RequiredSkills []string            `json:"required_skills,omitempty"`
	DueDate        *time.Time          `json:"due_date,omitempty"`
	DependsOn      []DependencyRequest `json:"depends_on,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,ready,in_progress,blocked,review,completed,cancelled"`
	Note   string `json:"note,omitempty"`
}

type UpdateTaskProgressRequest struct {
	Progress    float64  `json:"progress_percentage" minimum:"0" maximum:"100"`
	ActualHours *float64 `json:"actual_hours,omitempty" minimum:"0"`
	Note        string   `json:"note,omitempty"`
}

type AssignTaskRequest struct {
	TeamID string `json:"team_id" doc:"Empty clears the assignment"`
}

type SkillMatchRequest struct {
	TeamID         string     `json:"team_id" minLength:"1"`
	Score          float64    `json:"score" minimum:"0" maximum:"1"`
	MatchingSkills []string   `json:"matching_skills,omitempty"`
	MissingSkills  []string   `json:"missing_skills,omitempty"`
	ComputedAt     *time.Time `json:"computed_at,omitempty"`
}

type RecordSkillMatchesRequest struct {
	Matches []SkillMatchRequest `json:"matches"`
}

// Response payloads

type paginatedUpdates struct {
	Items  []domain.TaskUpdate `json:"items"`
	NextID int64               `json:"next_after,omitempty" doc:"Pass as after= to continue the feed"`
}

type promotedResponse struct {
	Promoted []string `json:"promoted"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func skillMatches(in []SkillMatchRequest) []domain.SkillMatch {
	out := make([]domain.SkillMatch, 0, len(in))
	for _, m := range in {
		sm := domain.SkillMatch{
			TeamID:         m.TeamID,
			Score:          m.Score,
			MatchingSkills: m.MatchingSkills,
			MissingSkills:  m.MissingSkills,
		}
		if m.ComputedAt != nil {
			sm.ComputedAt = m.ComputedAt.UTC()
		}
		out = append(out, sm)
	}
	return out
}
