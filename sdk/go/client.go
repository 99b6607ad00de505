package workgraphsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"workgraph/internal/domain"
)

// Client is a minimal workgraph HTTP API client.
type Client struct {
	BaseURL  string
	BasePath string
	// BearerToken takes precedence over TeamID/AgentRole headers.
	BearerToken string
	TeamID      string
	AgentRole   string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type (
	Project       = domain.Project
	Task          = domain.Task
	Dependency    = domain.Dependency
	TaskUpdate    = domain.TaskUpdate
	SkillMatch    = domain.SkillMatch
	Assignment    = domain.Assignment
	AvailableTask = domain.AvailableTask
	Dashboard     = domain.Dashboard
)

// APIError wraps non-2xx responses. Code is the machine readable outcome,
// e.g. cycle_detected or no_eligible_team.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// UpdatePage is one page of the task update feed.
type UpdatePage struct {
	Items []TaskUpdate `json:"items"`
	Next  int64        `json:"next_after"`
}

type CreateProjectInput struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	OwnerTeam   string `json:"owner_team,omitempty"`
}

type DependencyInput struct {
	DependsOnTaskID string `json:"depends_on_task_id"`
	Type            string `json:"dependency_type,omitempty"`
	IsBlocking      *bool  `json:"is_blocking,omitempty"`
	LagSeconds      int64  `json:"lag_seconds,omitempty"`
}

type CreateTaskInput struct {
	ID             string            `json:"id,omitempty"`
	ParentTaskID   string            `json:"parent_task_id,omitempty"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	TaskType       string            `json:"task_type,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	Complexity     string            `json:"complexity,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
	RequiredSkills []string          `json:"required_skills,omitempty"`
	DueDate        *time.Time        `json:"due_date,omitempty"`
	DependsOn      []DependencyInput `json:"depends_on,omitempty"`
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Dashboard returns the project dashboard.
func (c *Client) Dashboard(ctx context.Context, projectID string) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/dashboard", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID string, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/tasks", url.PathEscape(projectID)), in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AddDependency adds the edge "taskID depends on in.DependsOnTaskID".
func (c *Client) AddDependency(ctx context.Context, taskID string, in DependencyInput) (Dependency, error) {
	var resp Dependency
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/dependencies", url.PathEscape(taskID)), in, &resp)
	return resp, err
}

// UpdateStatus requests a status transition.
func (c *Client) UpdateStatus(ctx context.Context, taskID, status, note string) (Task, error) {
	body := map[string]any{"status": status}
	if note != "" {
		body["note"] = note
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// ReportProgress records a progress percentage for a task.
func (c *Client) ReportProgress(ctx context.Context, taskID string, pct float64, note string) (Task, error) {
	body := map[string]any{"progress_percentage": pct}
	if note != "" {
		body["note"] = note
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%s/progress", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// ScoreInput is one team's score from the external skill scorer.
type ScoreInput struct {
	TeamID         string   `json:"team_id"`
	Score          float64  `json:"score"`
	MatchingSkills []string `json:"matching_skills,omitempty"`
	MissingSkills  []string `json:"missing_skills,omitempty"`
}

// RecordSkillMatches replaces the stored scorer output for a task.
func (c *Client) RecordSkillMatches(ctx context.Context, taskID string, matches []ScoreInput) ([]SkillMatch, error) {
	body := map[string]any{"matches": matches}
	var resp []SkillMatch
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%s/skill-matches", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// AssignBest assigns the best scoring eligible team.
func (c *Client) AssignBest(ctx context.Context, taskID string) (Assignment, error) {
	var resp Assignment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/assign-best", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// AvailableTasks lists ready, unassigned work. Empty filters are omitted.
func (c *Client) AvailableTasks(ctx context.Context, projectID, teamID string, limit int) ([]AvailableTask, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if teamID != "" {
		q.Set("team_id", teamID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp []AvailableTask
	err := c.do(ctx, http.MethodGet, withQuery("available-tasks", q), nil, &resp)
	return resp, err
}

// Updates returns the page of task updates after the given sequence id.
func (c *Client) Updates(ctx context.Context, after int64, projectID string, limit int) (UpdatePage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprint(after))
	}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp UpdatePage
	err := c.do(ctx, http.MethodGet, withQuery("task-updates", q), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.TeamID != "":
		req.Header.Set("X-Team-Id", c.TeamID)
		if c.AgentRole != "" {
			req.Header.Set("X-Agent-Role", c.AgentRole)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
