package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/models"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register and manage agents",
}

var agentAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register an agent",
	Long: `Register an agent. There is at most one primary agent; it receives
escalations from workers that stop acknowledging.

Example:
  tracker agent add lead --type primary
  tracker agent add builder --capabilities go,sql --endpoint http://localhost:9000/ping`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := db.CreateAgentRequest{Name: args[0]}
		req.Type, _ = cmd.Flags().GetString("type")
		req.Capabilities, _ = cmd.Flags().GetStringSlice("capabilities")
		req.Endpoint, _ = cmd.Flags().GetString("endpoint")
		req.TimeoutMinutes, _ = cmd.Flags().GetInt("timeout")

		agent, err := store.CreateAgent(req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Registered %s agent #%d '%s' (timeout %d minute(s))\n",
			agent.Type, agent.ID, agent.Name, agent.TimeoutMinutes)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := store.ListAgents()
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd, agents)
		}

		w := out(cmd)
		if len(agents) == 0 {
			fmt.Fprintln(w, "No agents registered. Use 'tracker agent add <name>'.")
			return nil
		}
		fmt.Fprintf(w, "%-4s %-16s %-8s %-8s %-7s %-6s %-17s %s\n",
			"ID", "NAME", "TYPE", "STATUS", "ACTIVE", "TASK", "LAST ACK", "CAPABILITIES")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, a := range agents {
			task := "-"
			if a.CurrentTaskID != nil {
				task = "#" + strconv.FormatUint(uint64(*a.CurrentTaskID), 10)
			}
			lastAck := "never"
			if a.LastAckAt != nil {
				lastAck = a.LastAckAt.Local().Format("2006-01-02 15:04")
			}
			active := "yes"
			if !a.Active {
				active = "no"
			}
			fmt.Fprintf(w, "%-4d %-16s %-8s %-8s %-7s %-6s %-17s %s\n",
				a.ID, truncate(a.Name, 16), a.Type, a.Status, active, task, lastAck,
				strings.Join(a.CapabilityTags(), ","))
		}
		return nil
	},
}

var agentRemoveCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"delete"},
	Short:   "Delete an agent; its open assignments fail",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.DeleteAgent(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Deleted agent '%s'\n", args[0])
		return nil
	},
}

var agentEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Make an agent eligible for assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], true)
	},
}

var agentDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Exclude an agent from automatic assignment and escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], false)
	},
}

func setActive(cmd *cobra.Command, name string, active bool) error {
	agent, err := store.SetAgentActive(name, active)
	if err != nil {
		return err
	}
	state := "enabled"
	if !agent.Active {
		state = "disabled"
	}
	fmt.Fprintf(out(cmd), "Agent '%s' %s\n", agent.Name, state)
	return nil
}

// resolveAgent accepts an agent's numeric ID or its name
func resolveAgent(ref string) (*models.Agent, error) {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil && id > 0 {
		return store.GetAgent(uint(id))
	}
	return store.GetAgentByName(ref)
}

func init() {
	agentAddCmd.Flags().StringP("type", "t", "worker", "Agent type: primary or worker")
	agentAddCmd.Flags().StringSlice("capabilities", nil, "Comma-separated capability tags")
	agentAddCmd.Flags().String("endpoint", "", "HTTP endpoint that receives pings (empty for inbox only)")
	agentAddCmd.Flags().Int("timeout", 0, "Minutes without acknowledgment before escalation (0 for the configured default)")

	agentListCmd.Flags().Bool("json", false, "JSON output")

	agentCmd.AddCommand(agentAddCmd, agentListCmd, agentRemoveCmd, agentEnableCmd, agentDisableCmd)
}
