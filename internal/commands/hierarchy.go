package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/parser"
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Add phases and change their status",
}

var phaseAddCmd = &cobra.Command{
	Use:   "add <task_id> <name>",
	Short: "Append a phase to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		req := db.PhaseRequest{Name: strings.Join(args[1:], " ")}
		req.Description, _ = cmd.Flags().GetString("description")
		todos, _ := cmd.Flags().GetStringSlice("todo")
		for _, name := range todos {
			req.Todos = append(req.Todos, db.TodoRequest{Name: name})
		}

		phase, err := store.AddPhase(taskID, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Added phase #%d '%s' to task #%d with %d todo(s)\n",
			phase.ID, phase.Name, taskID, len(phase.Todos))
		return nil
	},
}

var phaseStatusCmd = &cobra.Command{
	Use:   "status <phase_id> <not_started|in_progress|completed|blocked>",
	Short: "Set a phase's status directly",
	Long: `Set a phase's status. A forced completed counts fully towards progress
whatever its todos say. blocked stays until set again, even when todos change.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("phase", args[0])
		if err != nil {
			return err
		}
		phase, err := store.SetPhaseStatus(id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Phase #%d '%s' is now %s\n", phase.ID, phase.Name, phase.Status)
		return nil
	},
}

var todoCmd = &cobra.Command{
	Use:   "todo",
	Short: "Add todos and change their status",
}

var todoAddCmd = &cobra.Command{
	Use:   "add <phase_id> <name>",
	Short: "Add a todo to a phase",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phaseID, err := parseID("phase", args[0])
		if err != nil {
			return err
		}
		req := db.TodoRequest{Name: strings.Join(args[1:], " ")}
		req.Description, _ = cmd.Flags().GetString("description")

		todo, err := store.AddTodo(phaseID, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Added todo #%d '%s' to phase #%d\n", todo.ID, todo.Name, phaseID)
		return nil
	},
}

var todoStatusCmd = &cobra.Command{
	Use:   "status <todo_id> <todo|in_progress|done>",
	Short: "Set a todo's status; phase and task progress follow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("todo", args[0])
		if err != nil {
			return err
		}
		todo, err := store.SetTodoStatus(id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Todo #%d '%s' is now %s\n", todo.ID, todo.Name, todo.Status)
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <task_id> <text>",
	Short: "Add a comment to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		author, _ := cmd.Flags().GetString("author")
		c, err := store.AddComment(id, strings.Join(args[1:], " "), author)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Comment #%d added to task #%d by %s\n", c.ID, id, c.Author)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <task_id> -f report.yaml",
	Short: "Apply a batch of comments and status changes to a task",
	Long: `Apply a progress report in one transaction. If any item fails nothing
is applied.

Example file:
  - comment: compiled on linux
    todo_id: 4
    status: done
  - phase_id: 2
    status: blocked
  - comment: waiting on review

Use -f - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		var items []db.ReportItem
		if file == "-" {
			items, err = parser.ParseReport(cmd.InOrStdin())
		} else {
			items, err = parser.ParseReportFile(file)
		}
		if err != nil {
			return err
		}

		task, err := store.ApplyReport(id, items)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Applied %d report item(s) to task #%d: %s, progress %d%%\n",
			len(items), task.ID, task.Status, task.Progress)
		return nil
	},
}

func init() {
	phaseAddCmd.Flags().String("description", "", "Phase description")
	phaseAddCmd.Flags().StringSlice("todo", nil, "Todo to create in the phase (repeatable)")
	phaseCmd.AddCommand(phaseAddCmd, phaseStatusCmd)

	todoAddCmd.Flags().String("description", "", "Todo description")
	todoCmd.AddCommand(todoAddCmd, todoStatusCmd)

	commentCmd.Flags().String("author", "user", "Author: user, agent or system")

	reportCmd.Flags().StringP("file", "f", "", "report file (YAML or JSON), - for stdin")
}
