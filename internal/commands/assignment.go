package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var assignCmd = &cobra.Command{
	Use:   "assign <task_id> [agent]",
	Short: "Assign a task to an agent, or to the least recently active worker",
	Long: `Assign a task. Without an agent the least recently acknowledging active
worker is chosen, falling back to the primary agent. Any open assignment of
the task is superseded.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		agent, _ := cmd.Flags().GetString("agent")
		if len(args) == 2 {
			agent = args[1]
		}
		a, err := store.AssignTask(id, agent)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Task #%d assigned to '%s' (assignment #%d, %s)\n", id, a.AgentName, a.ID, a.Status)
		return nil
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack <agent> <task_id>",
	Short: "Acknowledge an assigned task on behalf of an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := resolveAgent(args[0])
		if err != nil {
			return err
		}
		id, err := parseID("task", args[1])
		if err != nil {
			return err
		}
		a, err := store.Acknowledge(agent.ID, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Agent '%s' acknowledged task #%d (assignment #%d)\n", agent.Name, id, a.ID)
		return nil
	},
}

var snoozeCmd = &cobra.Command{
	Use:   "snooze <agent> <task_id> <minutes>",
	Short: "Pause pings for a pending assignment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := resolveAgent(args[0])
		if err != nil {
			return err
		}
		id, err := parseID("task", args[1])
		if err != nil {
			return err
		}
		var minutes int
		if _, err := fmt.Sscanf(args[2], "%d", &minutes); err != nil {
			return fmt.Errorf("invalid minutes '%s'", args[2])
		}
		a, err := store.Snooze(agent.ID, id, minutes)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Task #%d snoozed for '%s' until %s\n",
			id, agent.Name, a.SnoozeUntil.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <agent>",
	Short: "Record that an agent is still alive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := resolveAgent(args[0])
		if err != nil {
			return err
		}
		if _, err := store.Heartbeat(agent.ID); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Heartbeat recorded for '%s'\n", agent.Name)
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <agent> <task_id>",
	Short: "Close an agent's acknowledged assignment as completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := resolveAgent(args[0])
		if err != nil {
			return err
		}
		id, err := parseID("task", args[1])
		if err != nil {
			return err
		}
		if _, err := store.CompleteAssignment(agent.ID, id); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Agent '%s' completed its assignment on task #%d\n", agent.Name, id)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <task_id>",
	Short: "Show a task's assignment history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("task", args[0])
		if err != nil {
			return err
		}
		history, err := store.AssignmentHistory(id)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd, history)
		}

		w := out(cmd)
		if len(history) == 0 {
			fmt.Fprintf(w, "Task #%d has never been assigned\n", id)
			return nil
		}
		fmt.Fprintf(w, "%-5s %-16s %-13s %-17s %-17s %s\n", "ID", "AGENT", "STATUS", "ASSIGNED", "CLOSED", "ESCALATIONS")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, a := range history {
			closed := "-"
			if a.ClosedAt != nil {
				closed = a.ClosedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%-5d %-16s %-13s %-17s %-17s %d\n",
				a.ID, truncate(a.AgentName, 16), a.Status,
				a.AssignedAt.Local().Format("2006-01-02 15:04"), closed, a.EscalationCount)
		}
		return nil
	},
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"inbox"},
	Short:   "List notifications or mark them read",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := out(cmd)
		flags := cmd.Flags()

		if flags.Changed("read") {
			raw, _ := flags.GetString("read")
			id, err := parseID("notification", raw)
			if err != nil {
				return err
			}
			if _, err := store.MarkNotificationRead(id); err != nil {
				return err
			}
			fmt.Fprintf(w, "Notification #%d marked read\n", id)
			return nil
		}
		if all, _ := flags.GetBool("read-all"); all {
			n, err := store.MarkAllNotificationsRead()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d notification(s) marked read\n", n)
			return nil
		}

		unread, _ := flags.GetBool("unread")
		limit, _ := flags.GetInt("limit")
		list, err := store.ListNotifications(unread, limit)
		if err != nil {
			return err
		}
		if asJSON, _ := flags.GetBool("json"); asJSON {
			return printJSON(cmd, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(w, "No notifications")
			return nil
		}
		for _, n := range list {
			mark := " "
			if !n.Read {
				mark = "*"
			}
			fmt.Fprintf(w, "%s #%-4d %s %-10s task #%d %s\n",
				mark, n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Type, n.TaskID, n.Message)
		}
		return nil
	},
}

func init() {
	assignCmd.Flags().StringP("agent", "a", "", "Agent name (same as the second argument)")

	historyCmd.Flags().Bool("json", false, "JSON output")

	notificationsCmd.Flags().Bool("unread", false, "Only unread notifications")
	notificationsCmd.Flags().Int("limit", 50, "Maximum notifications to list")
	notificationsCmd.Flags().String("read", "", "Mark a notification read by ID")
	notificationsCmd.Flags().Bool("read-all", false, "Mark every notification read")
	notificationsCmd.Flags().Bool("json", false, "JSON output")
}
