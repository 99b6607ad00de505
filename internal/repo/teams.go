package repo

import (
	"context"
	"encoding/json"

	"workgraph/internal/domain"
)

func (r Repo) UpsertProjectTeam(ctx context.Context, q Querier, pt domain.ProjectTeam) error {
	_, err := r.exec(ctx, q, `INSERT INTO project_teams(project_id,team_id,role,allocation_percentage,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,team_id) DO UPDATE SET role=excluded.role, allocation_percentage=excluded.allocation_percentage`,
		pt.ProjectID, pt.TeamID, pt.Role, pt.AllocationPercentage, FormatTime(pt.CreatedAt))
	return err
}

func (r Repo) ListProjectTeams(ctx context.Context, q Querier, projectID string) ([]domain.ProjectTeam, error) {
	rows, err := r.query(ctx, q, `SELECT project_id,team_id,role,allocation_percentage,created_at FROM project_teams WHERE project_id=? ORDER BY team_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectTeam
	for rows.Next() {
		var pt domain.ProjectTeam
		var created string
		if err := rows.Scan(&pt.ProjectID, &pt.TeamID, &pt.Role, &pt.AllocationPercentage, &created); err != nil {
			return nil, err
		}
		if pt.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		res = append(res, pt)
	}
	return res, rows.Err()
}

func (r Repo) UpsertSkillMatch(ctx context.Context, q Querier, m domain.SkillMatch) error {
	matching, err := skillsJSON(m.MatchingSkills)
	if err != nil {
		return err
	}
	missing, err := skillsJSON(m.MissingSkills)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, `INSERT INTO skill_matches(task_id,team_id,score,matching_skills_json,missing_skills_json,computed_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(task_id,team_id) DO UPDATE SET score=excluded.score, matching_skills_json=excluded.matching_skills_json,
missing_skills_json=excluded.missing_skills_json, computed_at=excluded.computed_at`,
		m.TaskID, m.TeamID, m.Score, matching, missing, FormatTime(m.ComputedAt))
	return err
}

type SkillMatchFilters struct {
	TaskID   string
	TeamID   string
	MinScore *float64
}

func (r Repo) ListSkillMatches(ctx context.Context, q Querier, f SkillMatchFilters) ([]domain.SkillMatch, error) {
	query := `SELECT task_id,team_id,score,matching_skills_json,missing_skills_json,computed_at FROM skill_matches WHERE 1=1`
	var args []any
	if f.TaskID != "" {
		query += ` AND task_id=?`
		args = append(args, f.TaskID)
	}
	if f.TeamID != "" {
		query += ` AND team_id=?`
		args = append(args, f.TeamID)
	}
	if f.MinScore != nil {
		query += ` AND score > ?`
		args = append(args, *f.MinScore)
	}
	query += ` ORDER BY task_id, team_id`
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SkillMatch
	for rows.Next() {
		var m domain.SkillMatch
		var matching, missing, computed string
		if err := rows.Scan(&m.TaskID, &m.TeamID, &m.Score, &matching, &missing, &computed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(matching), &m.MatchingSkills); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(missing), &m.MissingSkills); err != nil {
			return nil, err
		}
		if m.ComputedAt, err = ParseTime(computed); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
