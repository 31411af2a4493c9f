package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/balkashynov/tracker/internal/daemon"
	"github.com/balkashynov/tracker/internal/scheduler"
	"github.com/balkashynov/tracker/internal/tui"
)

func newScheduler() *scheduler.Scheduler {
	settings := cfg.SchedulerSettings()
	return scheduler.New(store, scheduler.NewHTTPNotifier(settings.PingTimeout), settings, logger)
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler pass and exit",
	Long: `Run one pass of the ping loop: assign unowned pingable tasks, ping agents
that have not acknowledged, wake expired snoozes and escalate silent agents.
Useful from cron when the daemon is not running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newScheduler().Tick(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Scanned %d task(s): %d assigned, %d pinged (%d failed), %d woken, %d escalated, %d primary timeout(s), %d error(s)\n",
			stats.Tasks, stats.Assigned, stats.Pinged, stats.PingFailures,
			stats.Woken, stats.Escalated, stats.PrimaryTimeouts, stats.Errors)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon until interrupted",
	Long: `Run the ping loop in the foreground. When import.dir is configured, task
tree files dropped into that directory are created as tasks.
SIGINT or SIGTERM stops the daemon after the current tick finishes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var importer *daemon.Importer
		if dir, _ := cmd.Flags().GetString("import-dir"); dir != "" {
			cfg.Import.Dir = dir
		}
		if cfg.Import.Dir != "" {
			importer = daemon.NewImporter(cfg.Import.Dir, store, logger)
		}

		d := daemon.New(newScheduler(), importer, daemon.Options{ShutdownTimeout: cfg.ShutdownTimeout()}, logger)
		return d.Run(ctx)
	},
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Live terminal board of tasks, progress and assignments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.RunBoardTUI(store)
	},
}

func init() {
	runCmd.Flags().String("import-dir", "", "watch this directory for task tree files (overrides import.dir)")
}

