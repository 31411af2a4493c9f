package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/models"
	"github.com/balkashynov/tracker/internal/parser"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect and change tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create -f tree.yaml",
	Short: "Create a task with its phases and todos from a YAML or JSON file",
	Long: `Create a task with its full phase/todo tree in one step. Either the whole
tree is stored or nothing is.

Example file:
  name: Ship v2
  priority: high
  due: 2 weeks
  phases:
    - name: Build
      todos: [compile, package]
    - name: Verify
      todos:
        - name: smoke test
          status: in_progress

Use -f - to read from stdin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		var doc *parser.TaskDocument
		var err error
		if file == "-" {
			doc, err = parser.ParseTaskTree(cmd.InOrStdin())
		} else {
			doc, err = parser.ParseTaskTreeFile(file)
		}
		if err != nil {
			return err
		}
		req, err := doc.Request(store.Now())
		if err != nil {
			return err
		}
		task, err := store.CreateTaskWithHierarchy(req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Created task #%d: %s (%d phase(s), progress %d%%)\n",
			task.ID, task.Name, len(task.Phases), task.Progress)
		return nil
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add [task description]",
	Short: "Add a task from a one-line description",
	Long: `Add a task without phases. Phases can be added later with 'tracker phase add'.

Smart parsing syntax:
  #tag1,tag2  - Context tags
  +priority   - Priority (low/medium/high/critical or 1-4)
  due:3days   - Due date (dd/mm/yyyy, yyyy-mm-dd, X days, X hours, X weeks)
  ping:15     - Ping interval in minutes, or ping:off

Example:
  tracker task add "Migrate billing tables #db +high due:1week ping:10"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parsed := parser.ParseTitleAt(strings.Join(args, " "), store.Now())
		if len(parsed.Errors) > 0 {
			return fmt.Errorf("%s", strings.Join(parsed.Errors, "; "))
		}

		req := db.CreateTaskRequest{
			Name:                parsed.Name,
			Priority:            parsed.Priority,
			DueDate:             parsed.DueDate,
			ContextTags:         parsed.Tags,
			PingIntervalMinutes: parsed.PingIntervalMinutes,
			PingEnabled:         parsed.PingEnabled,
		}

		// Override with explicit flags (flags take precedence)
		if p, _ := cmd.Flags().GetString("priority"); p != "" {
			req.Priority = p
		}
		if due, _ := cmd.Flags().GetString("due"); due != "" {
			d, err := parser.ParseDueDateAt(due, store.Now())
			if err != nil {
				return fmt.Errorf("parsing due date: %w", err)
			}
			req.DueDate = d
		}
		if n, _ := cmd.Flags().GetInt("ping-interval"); n > 0 {
			req.PingIntervalMinutes = n
		}
		if noPing, _ := cmd.Flags().GetBool("no-ping"); noPing {
			off := false
			req.PingEnabled = &off
		}
		req.Description, _ = cmd.Flags().GetString("description")
		req.DefinitionOfDone, _ = cmd.Flags().GetString("done-when")

		task, err := store.CreateTaskWithHierarchy(req)
		if err != nil {
			return err
		}
		w := out(cmd)
		fmt.Fprintf(w, "Created task #%d: %s\n", task.ID, task.Name)
		fmt.Fprintf(w, "  Priority: %s\n", task.Priority)
		if tags := task.Tags(); len(tags) > 0 {
			fmt.Fprintf(w, "  Tags: %s\n", strings.Join(tags, ", "))
		}
		if task.DueDate != nil {
			fmt.Fprintf(w, "  Due: %s\n", parser.FormatDueDateAt(task.DueDate, store.Now()))
		}
		if task.PingEnabled {
			fmt.Fprintf(w, "  Ping every %d minute(s)\n", task.PingIntervalMinutes)
		} else {
			fmt.Fprintln(w, "  Pinging disabled")
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task_id>",
	Short: "Show a task with its phases, todos, comments and assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		task, err := store.GetTask(id)
		if err != nil {
			return err
		}
		active, err := store.ActiveAssignment(id)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd, struct {
				*models.Task
				ActiveAssignment *models.TaskAssignment `json:"active_assignment,omitempty"`
			}{task, active})
		}
		printTask(cmd, task, active)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter db.TaskFilter
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			st := models.TaskStatus(s)
			if !st.Valid() {
				return fmt.Errorf("invalid status '%s': use todo, in_progress or done", s)
			}
			filter.Status = &st
		}
		if cmd.Flags().Changed("ping") {
			on, _ := cmd.Flags().GetBool("ping")
			filter.PingEnabled = &on
		}

		tasks, err := store.ListTasks(filter)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd, tasks)
		}

		w := out(cmd)
		if len(tasks) == 0 {
			fmt.Fprintln(w, "No tasks found. Use 'tracker task add \"name\"' or 'tracker task create -f tree.yaml'.")
			return nil
		}
		active, err := store.ActiveAssignments()
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%-4s %-12s %-9s %-5s %-36s %s\n", "ID", "STATUS", "PRIORITY", "PROG", "NAME", "ASSIGNMENT")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, t := range tasks {
			assignment := "-"
			if a, ok := active[t.ID]; ok {
				assignment = fmt.Sprintf("%s (%s)", a.AgentName, a.Status)
			}
			fmt.Fprintf(w, "%-4d %-12s %-9s %4d%% %-36s %s\n",
				t.ID, t.Status, t.Priority, t.Progress, truncate(t.Name, 36), assignment)
		}
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task_id> <todo|in_progress|done>",
	Short: "Set a task's status; done requires every phase to be completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		task, err := store.SetTaskStatus(id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Task #%d is now %s (progress %d%%)\n", task.ID, task.Status, task.Progress)
		return nil
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:     "rm <task_id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task with its phases, todos, comments and assignment history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteTask(id); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Deleted task #%d\n", id)
		return nil
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <task_id>",
	Short: "Edit a task's name, priority, due date or ping settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}

		var upd db.TaskUpdate
		flags := cmd.Flags()
		if flags.Changed("name") {
			v, _ := flags.GetString("name")
			upd.Name = &v
		}
		if flags.Changed("description") {
			v, _ := flags.GetString("description")
			upd.Description = &v
		}
		if flags.Changed("priority") {
			v, _ := flags.GetString("priority")
			upd.Priority = &v
		}
		if flags.Changed("due") {
			v, _ := flags.GetString("due")
			if v == "" || v == "none" {
				upd.ClearDueDate = true
			} else {
				d, err := parser.ParseDueDateAt(v, store.Now())
				if err != nil {
					return fmt.Errorf("parsing due date: %w", err)
				}
				upd.DueDate = d
			}
		}
		if flags.Changed("ping-interval") {
			v, _ := flags.GetInt("ping-interval")
			upd.PingIntervalMinutes = &v
		}
		if flags.Changed("ping") {
			v, _ := flags.GetBool("ping")
			upd.PingEnabled = &v
		}

		task, err := store.UpdateTask(id, upd)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Updated task #%d: %s\n", task.ID, task.Name)
		return nil
	},
}

func printTask(cmd *cobra.Command, task *models.Task, active *models.TaskAssignment) {
	w := out(cmd)
	fmt.Fprintf(w, "Task #%d: %s\n", task.ID, task.Name)
	fmt.Fprintf(w, "  Status: %s   Priority: %s   Progress: %d%%\n", task.Status, task.Priority, task.Progress)
	if task.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", task.Description)
	}
	if task.DefinitionOfDone != "" {
		fmt.Fprintf(w, "  Done when: %s\n", task.DefinitionOfDone)
	}
	if tags := task.Tags(); len(tags) > 0 {
		fmt.Fprintf(w, "  Tags: %s\n", strings.Join(tags, ", "))
	}
	if task.DueDate != nil {
		fmt.Fprintf(w, "  Due: %s\n", parser.FormatDueDateAt(task.DueDate, store.Now()))
	}
	if task.PingEnabled {
		fmt.Fprintf(w, "  Ping: every %d minute(s)\n", task.PingIntervalMinutes)
	} else {
		fmt.Fprintln(w, "  Ping: off")
	}
	if active != nil {
		fmt.Fprintf(w, "  Assignment: %s (%s)", active.AgentName, active.Status)
		if active.EscalationCount > 0 {
			fmt.Fprintf(w, ", escalated %d time(s)", active.EscalationCount)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	for _, p := range task.Phases {
		fmt.Fprintf(w, "  Phase #%d %s [%s]\n", p.ID, p.Name, p.Status)
		for _, t := range p.Todos {
			fmt.Fprintf(w, "    %s #%d %s\n", todoMark(t.Status), t.ID, t.Name)
		}
	}
	if len(task.Phases) == 0 {
		fmt.Fprintln(w, "  No phases yet")
	}

	if len(task.Comments) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Comments:")
		for _, c := range task.Comments {
			fmt.Fprintf(w, "    %s [%s] %s\n", c.Timestamp.Local().Format("2006-01-02 15:04"), c.Author, c.Text)
		}
	}
}

func todoMark(s models.TodoStatus) string {
	switch s {
	case models.TodoDone:
		return "[x]"
	case models.TodoInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(out(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	taskCreateCmd.Flags().StringP("file", "f", "", "task tree file (YAML or JSON), - for stdin")

	taskAddCmd.Flags().StringP("priority", "p", "", "Priority: low, medium, high, critical or 1-4")
	taskAddCmd.Flags().String("due", "", "Due date: dd/mm/yyyy, yyyy-mm-dd, X days, X hours, X weeks")
	taskAddCmd.Flags().String("description", "", "Task description")
	taskAddCmd.Flags().String("done-when", "", "Definition of done")
	taskAddCmd.Flags().Int("ping-interval", 0, "Ping interval in minutes")
	taskAddCmd.Flags().Bool("no-ping", false, "Do not ping agents about this task")

	taskShowCmd.Flags().Bool("json", false, "JSON output")

	taskListCmd.Flags().StringP("status", "s", "", "Filter by status: todo, in_progress, done")
	taskListCmd.Flags().Bool("ping", true, "Filter by ping enabled (use --ping=false for muted tasks)")
	taskListCmd.Flags().Bool("json", false, "JSON output")

	taskEditCmd.Flags().String("name", "", "New name")
	taskEditCmd.Flags().String("description", "", "New description")
	taskEditCmd.Flags().StringP("priority", "p", "", "New priority")
	taskEditCmd.Flags().String("due", "", "New due date, or 'none' to clear")
	taskEditCmd.Flags().Int("ping-interval", 0, "New ping interval in minutes")
	taskEditCmd.Flags().Bool("ping", true, "Enable or disable pinging")

	taskCmd.AddCommand(taskCreateCmd, taskAddCmd, taskShowCmd, taskListCmd, taskStatusCmd, taskRemoveCmd, taskEditCmd)
}

