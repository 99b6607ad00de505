package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workgraph/internal/domain"
	"workgraph/internal/engine"
	"workgraph/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectAllocateCmd())
	prj.AddCommand(projectTeamsCmd())
	prj.AddCommand(projectRecomputeCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var start, target string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDate(start); err != nil {
				return err
			}
			if opts.TargetEndDate, err = parseDate(target); err != nil {
				return err
			}
			if opts.OwnerTeam == "" {
				actor, err := currentActor()
				if err != nil {
					return fmt.Errorf("--owner or --team required")
				}
				opts.OwnerTeam = actor.TeamID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (planning or active)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&opts.OwnerTeam, "owner", "", "owner team (defaults to --team)")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&target, "target-end", "", "target end date")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Name, p.Status, p.Priority, fmt.Sprintf("%.2f%%", p.ProgressPercentage), p.HealthStatus, p.OwnerTeam})
				}
				renderTable(table.Row{"ID", "Name", "Status", "Priority", "Progress", "Health", "Owner"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id> <status>",
		Short: "Change project status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProjectStatus(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectAllocateCmd() *cobra.Command {
	var pt domain.ProjectTeam
	cmd := &cobra.Command{
		Use:   "allocate <project-id> <team-id>",
		Short: "Allocate a team to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt.ProjectID, pt.TeamID = args[0], args[1]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AllocateTeam(ctx, pt)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&pt.Role, "team-role", "contributor", "team role in the project")
	cmd.Flags().Float64Var(&pt.AllocationPercentage, "allocation", 100, "allocation percentage (0,100]")
	return cmd
}

func projectTeamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teams <project-id>",
		Short: "List allocated teams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teams, err := e.ListProjectTeams(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(teams)
				}
				rows := make([]table.Row, 0, len(teams))
				for _, t := range teams {
					rows = append(rows, table.Row{t.TeamID, t.Role, t.AllocationPercentage})
				}
				renderTable(table.Row{"Team", "Role", "Allocation"}, rows)
				return nil
			})
		},
	}
}

func projectRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <project-id>",
		Short: "Recompute project progress and health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RecomputeProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard <project-id>",
		Short: "Show project dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetProjectDashboard(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				p := d.Project
				fmt.Printf("Project: %s %s (%s, %s)\n", p.ID, p.Name, p.Status, p.HealthStatus)
				fmt.Printf("Progress: %.2f%% (%d/%d completed, %d blocked)\n", p.ProgressPercentage, d.Completed, d.Total, d.Blocked)
				fmt.Printf("Teams: %s\n", strings.Join(d.TeamsInvolved, ", "))
				if d.LastActivity != nil {
					fmt.Printf("Last activity: %s\n", d.LastActivity.Format(time.RFC3339))
				}
				fmt.Println("Tasks:")
				for _, s := range domain.TaskStatuses {
					fmt.Printf("  %s: %d\n", s, d.Totals[s])
				}
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskProgressCmd())
	t.AddCommand(taskUpdatesCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var dependsOn []string
	var due string
	var estimate float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			opts.Actor = actor
			if opts.DueDate, err = parseDate(due); err != nil {
				return err
			}
			if cmd.Flags().Changed("estimate") {
				opts.EstimatedHours = &estimate
			}
			for _, id := range dependsOn {
				opts.DependsOn = append(opts.DependsOn, engine.DependencySpec{DependsOnTaskID: id})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.ParentTaskID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "task type")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority 1 (lowest) to 5 (highest)")
	cmd.Flags().StringVar(&opts.Complexity, "complexity", "", "complexity (easy, medium, hard, expert)")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated hours")
	cmd.Flags().StringSliceVar(&opts.RequiredSkills, "skill", nil, "required skill (repeatable)")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", []string{}, "blocking finish_to_start dependency (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				rows := make([]table.Row, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, table.Row{t.ID, t.Title, t.Status, t.Priority, deref(t.AssignedTeam), fmt.Sprintf("%.0f%%", t.ProgressPercentage), formatDate(t.DueDate)})
				}
				renderTable(table.Row{"ID", "Title", "Status", "Priority", "Team", "Progress", "Due"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ParentTaskID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&f.AssignedTeam, "assigned-team", "", "assigned team filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, engine.TaskStatusOptions{TaskID: args[0], Status: args[1], Actor: actor, Note: note})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the change")
	return cmd
}

func taskProgressCmd() *cobra.Command {
	var note string
	var hours float64
	cmd := &cobra.Command{
		Use:   "progress <task-id> <percentage>",
		Short: "Report task progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			var pct float64
			if _, err := fmt.Sscanf(args[1], "%g", &pct); err != nil {
				return fmt.Errorf("invalid percentage %q", args[1])
			}
			opts := engine.ProgressOptions{TaskID: args[0], Progress: pct, Note: note, Actor: actor}
			if cmd.Flags().Changed("hours") {
				opts.ActualHours = &hours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskProgress(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "progress note")
	cmd.Flags().Float64Var(&hours, "hours", 0, "actual hours spent so far")
	return cmd
}

func taskUpdatesCmd() *cobra.Command {
	var updateType string
	cmd := &cobra.Command{
		Use:   "updates <task-id>",
		Short: "Show the audit log of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTaskUpdates(ctx, repo.UpdateFilters{TaskID: args[0], Type: updateType})
				if err != nil {
					return err
				}
				return printUpdates(items)
			})
		},
	}
	cmd.Flags().StringVar(&updateType, "type", "", "update type filter")
	return cmd
}

func depCmd() *cobra.Command {
	d := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}
	d.AddCommand(depAddCmd())
	d.AddCommand(depListCmd())
	return d
}

func depAddCmd() *cobra.Command {
	var spec engine.DependencySpec
	cmd := &cobra.Command{
		Use:   "add <task-id> <depends-on-task-id>",
		Short: "Add a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			spec.DependsOnTaskID = args[1]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dep, err := e.AddDependency(ctx, engine.AddDependencyOptions{TaskID: args[0], DependencySpec: spec, Actor: actor})
				if err != nil {
					return err
				}
				return printJSONOrTable(dep)
			})
		},
	}
	cmd.Flags().StringVar(&spec.Type, "type", domain.FinishToStart, "dependency type")
	cmd.Flags().DurationVar(&spec.Lag, "lag", 0, "lag after the dependency condition holds")
	cmd.Flags().BoolVar(&spec.NonBlocking, "non-blocking", false, "record the edge without gating readiness")
	return cmd
}

func depListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List dependency edges of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deps, err := e.ListDependencies(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deps)
				}
				rows := make([]table.Row, 0, len(deps))
				for _, d := range deps {
					rows = append(rows, table.Row{d.DependsOnTaskID, d.Type, d.Blocking, d.Lag()})
				}
				renderTable(table.Row{"Depends on", "Type", "Blocking", "Lag"}, rows)
				return nil
			})
		},
	}
}

func assignCmd() *cobra.Command {
	a := &cobra.Command{Use: "assign", Short: "Assign tasks to teams"}
	a.AddCommand(assignBestCmd())
	a.AddCommand(assignSetCmd())
	a.AddCommand(assignClearCmd())
	a.AddCommand(assignScoresCmd())
	return a
}

func assignBestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best <task-id>",
		Short: "Assign the best scoring eligible team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := currentActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AssignBestTeam(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func assignSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <task-id> <team-id>",
		Short: "Assign a task to a specific team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return assignTo(cmd.Context(), args[0], args[1])
		},
	}
}

func assignClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <task-id>",
		Short: "Clear the assigned team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return assignTo(cmd.Context(), args[0], "")
		},
	}
}

func assignTo(ctx context.Context, taskID, teamID string) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		t, err := e.AssignTask(ctx, taskID, teamID, actor)
		if err != nil {
			return err
		}
		return printJSONOrTable(t)
	})
}

func assignScoresCmd() *cobra.Command {
	var set []string
	cmd := &cobra.Command{
		Use:   "scores <task-id>",
		Short: "Show or replace stored skill matches",
		Long:  "Without --set prints the stored scorer output. Each --set takes team=score, e.g. --set team-a=0.85.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var ms []domain.SkillMatch
				var err error
				if cmd.Flags().Changed("set") {
					parsed, perr := parseScores(set)
					if perr != nil {
						return perr
					}
					ms, err = e.RecordSkillMatches(ctx, args[0], parsed)
				} else {
					ms, err = e.ListSkillMatches(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ms)
				}
				rows := make([]table.Row, 0, len(ms))
				for _, m := range ms {
					rows = append(rows, table.Row{m.TeamID, m.Score, strings.Join(m.MatchingSkills, ","), strings.Join(m.MissingSkills, ",")})
				}
				renderTable(table.Row{"Team", "Score", "Matching", "Missing"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "team=score (repeatable)")
	return cmd
}

func parseScores(in []string) ([]domain.SkillMatch, error) {
	out := make([]domain.SkillMatch, 0, len(in))
	for _, s := range in {
		team, score, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid score %q; use team=score", s)
		}
		m := domain.SkillMatch{TeamID: strings.TrimSpace(team)}
		if _, err := fmt.Sscanf(score, "%g", &m.Score); err != nil {
			return nil, fmt.Errorf("invalid score %q", s)
		}
		out = append(out, m)
	}
	return out, nil
}

func availableCmd() *cobra.Command {
	var f engine.AvailabilityFilters
	cmd := &cobra.Command{
		Use:   "available",
		Short: "List ready, unassigned tasks by urgency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAvailableTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.ProjectID, t.Title, t.Priority, t.Urgency, formatDate(t.DueDate)})
				}
				renderTable(table.Row{"ID", "Project", "Title", "Priority", "Urgency", "Due"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.TeamID, "for-team", "", "only tasks this team scores eligible for")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func printUpdates(items []domain.TaskUpdate) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	rows := make([]table.Row, 0, len(items))
	for _, u := range items {
		change := u.ToStatus
		if u.FromStatus != "" {
			change = u.FromStatus + " -> " + u.ToStatus
		}
		if u.Progress != nil {
			change = fmt.Sprintf("%.0f%%", *u.Progress)
		}
		rows = append(rows, table.Row{u.ID, u.CreatedAt.Format(time.RFC3339), u.TaskID, u.Type, change, u.TeamID, u.Note})
	}
	renderTable(table.Row{"Seq", "At", "Task", "Type", "Change", "Team", "Note"}, rows)
	return nil
}
