package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var helpCmd = &cobra.Command{
	Use:   "help [command]",
	Short: "Show comprehensive help for tracker",
	Long:  `Display detailed help for all tracker commands and flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) > 0 {
			if target, _, err := rootCmd.Find(args); err == nil && target != rootCmd {
				target.SetOut(cmd.OutOrStdout())
				_ = target.Help()
				return
			}
		}
		showCustomHelp(cmd.OutOrStdout())
	},
}

func showCustomHelp(w io.Writer) {
	fmt.Fprint(w, `
tracker - task progress tracker with agent assignment

TASKS:

  task create -f tree.yaml     Create a task with its phases and todos in one step
  task add <description>       Create a task from one line
    Smart syntax:
      #tag1,tag2    Context tags
      +priority     low|medium|high|critical or 1-4
      due:3days     Due date (dd/mm/yyyy, yyyy-mm-dd, X days, X hours, X weeks)
      ping:15       Ping interval in minutes, ping:off to mute
    Example:
      tracker task add "Migrate billing tables #db +high due:1week"

  task ls                      List tasks (--status, --ping, --json)
  task show <id>               Show phases, todos, comments and assignment (--json)
  task status <id> <status>    todo|in_progress|done (done needs every phase completed)
  task edit <id>               --name --description --priority --due --ping-interval --ping
  task rm <id>                 Delete a task and everything under it

  phase add <task> <name>      Append a phase (--todo repeatable)
  phase status <id> <status>   not_started|in_progress|completed|blocked
  todo add <phase> <name>      Add a todo
  todo status <id> <status>    todo|in_progress|done

  comment <task> <text>        Add a comment (--author user|agent|system)
  report <task> -f file        Apply comments and status changes atomically

AGENTS:

  agent add <name>             --type primary|worker --capabilities --endpoint --timeout
  agent ls                     List agents
  agent enable|disable <name>  Toggle eligibility for assignment
  agent rm <name>              Delete an agent; its open assignments fail

  assign <task> [agent]        Assign explicitly or to the least recently active worker
  ack <agent> <task>           Acknowledge an assignment
  snooze <agent> <task> <min>  Pause pings for a pending assignment
  heartbeat <agent>            Extend an acknowledged agent's timeout window
  complete <agent> <task>      Close an acknowledged assignment
  history <task>               Assignment history, newest first
  notifications                Inbox (--unread, --limit, --read ID, --read-all)

SCHEDULER:

  tick                         Run one pass of the ping loop and exit
  run                          Run the ping loop until interrupted (--import-dir)
  board                        Live terminal board

GLOBAL FLAGS:

  --config <file>              Config file (default ~/.tracker/config.yaml)
  --db <file>                  Database file (default ~/.tracker/tracker.db)

`)
}
