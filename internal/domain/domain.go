package domain

import "time"

// Project statuses.
const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectOnHold    = "on_hold"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"
)

// Project health values derived by the progress aggregator.
const (
	HealthOnTrack   = "on_track"
	HealthAtRisk    = "at_risk"
	HealthOffTrack  = "off_track"
	HealthCompleted = "completed"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusReview     = "review"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// TaskStatuses lists every task status in lifecycle order.
var TaskStatuses = []string{
	StatusPending, StatusReady, StatusInProgress, StatusBlocked,
	StatusReview, StatusCompleted, StatusCancelled,
}

// Dependency types.
const (
	FinishToStart  = "finish_to_start"
	StartToStart   = "start_to_start"
	FinishToFinish = "finish_to_finish"
	StartToFinish  = "start_to_finish"
)

// TaskUpdate types.
const (
	UpdateCreated          = "created"
	UpdateStatusChange     = "status_change"
	UpdateProgress         = "progress_update"
	UpdateAssignmentChange = "assignment_change"
)

// Urgency buckets for available work.
const (
	UrgencyUrgent = "urgent"
	UrgencySoon   = "soon"
	UrgencyNormal = "normal"
)

type Project struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Status             string     `json:"status" enum:"planning,active,on_hold,completed,cancelled"`
	Priority           string     `json:"priority" enum:"low,medium,high,critical"`
	OwnerTeam          string     `json:"owner_team"`
	ProgressPercentage float64    `json:"progress_percentage"`
	HealthStatus       string     `json:"health_status" enum:"on_track,at_risk,off_track,completed"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	TargetEndDate      *time.Time `json:"target_end_date,omitempty"`
	ActualEndDate      *time.Time `json:"actual_end_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Task struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	ParentTaskID       *string    `json:"parent_task_id,omitempty"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Type               string     `json:"task_type"`
	Status             string     `json:"status" enum:"pending,ready,in_progress,blocked,review,completed,cancelled"`
	BlockedFrom        *string    `json:"blocked_from,omitempty"`
	Priority           int        `json:"priority" minimum:"1" maximum:"5"`
	Complexity         string     `json:"complexity" enum:"easy,medium,hard,expert"`
	EstimatedHours     *float64   `json:"estimated_hours,omitempty"`
	ActualHours        *float64   `json:"actual_hours,omitempty"`
	RequiredSkills     []string   `json:"required_skills"`
	AssignedTeam       *string    `json:"assigned_team,omitempty"`
	ProgressPercentage float64    `json:"progress_percentage"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	ReadyAt            *time.Time `json:"ready_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Terminal reports whether no further transitions are possible.
func (t Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// Dependency is the edge "TaskID depends on DependsOnTaskID".
type Dependency struct {
	TaskID          string    `json:"task_id"`
	DependsOnTaskID string    `json:"depends_on_task_id"`
	Type            string    `json:"dependency_type" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	Blocking        bool      `json:"is_blocking"`
	LagSeconds      int64     `json:"lag_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

func (d Dependency) Lag() time.Duration {
	return time.Duration(d.LagSeconds) * time.Second
}

// TaskUpdate is one row of the append-only audit log.
type TaskUpdate struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	ProjectID  string    `json:"project_id"`
	TeamID     string    `json:"team_id"`
	AgentRole  string    `json:"agent_role,omitempty"`
	Type       string    `json:"update_type" enum:"created,status_change,progress_update,assignment_change"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Progress   *float64  `json:"progress,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProjectTeam struct {
	ProjectID            string    `json:"project_id"`
	TeamID               string    `json:"team_id"`
	Role                 string    `json:"role"`
	AllocationPercentage float64   `json:"allocation_percentage"`
	CreatedAt            time.Time `json:"created_at"`
}

// SkillMatch is supplied by the external scorer.
type SkillMatch struct {
	TaskID         string    `json:"task_id"`
	TeamID         string    `json:"team_id"`
	Score          float64   `json:"score" minimum:"0" maximum:"1"`
	MatchingSkills []string  `json:"matching_skills"`
	MissingSkills  []string  `json:"missing_skills"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Actor identifies who caused a change.
type Actor struct {
	TeamID    string `json:"team_id"`
	AgentRole string `json:"agent_role,omitempty"`
}

type AvailableTask struct {
	Task
	Urgency string `json:"urgency" enum:"urgent,soon,normal"`
}

type Assignment struct {
	TaskID string     `json:"task_id"`
	TeamID string     `json:"team_id"`
	Match  SkillMatch `json:"match"`
}

type Dashboard struct {
	Project       Project        `json:"project"`
	Totals        map[string]int `json:"totals"`
	Total         int            `json:"total"`
	Completed     int            `json:"completed"`
	Blocked       int            `json:"blocked"`
	TeamsInvolved []string       `json:"teams_involved"`
	LastActivity  *time.Time     `json:"last_activity,omitempty"`
}

// DependencyState is an edge joined with the current state of the task it
// points to.
type DependencyState struct {
	Dependency
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
