package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/balkashynov/tracker/internal/config"
	"github.com/balkashynov/tracker/internal/db"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	dbPath     string

	cfg    *config.Config
	store  *db.Store
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Task progress tracker with agent assignment",
	Long: `tracker keeps a Task -> Phase -> Todo hierarchy with automatic progress,
assigns tasks to agents, pings them until they acknowledge, and escalates
silent agents to the primary agent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// initDB loads the configuration and opens the store for commands that need it
func initDB(cmd *cobra.Command, _ []string) error {
	if store != nil {
		return nil
	}
	path := configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}
	if c.DBPath == "" {
		if c.DBPath, err = db.DefaultPath(); err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}
	}

	s, err := db.Open(c.DBPath, db.WithDefaults(c.Defaults.PingIntervalMinutes, c.Defaults.AgentTimeoutMinutes))
	if err != nil {
		return err
	}
	cfg, store = c, s
	logger = c.NewLogger(cmd.ErrOrStderr())
	return nil
}

func closeDB(*cobra.Command, []string) {
	if store != nil {
		store.Close()
		store = nil
	}
}

// SetVersion sets the version information
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tracker %s (commit %s, built %s)\n", version, commit, date)
	},
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

func parseID(kind, s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s ID '%s'", kind, s)
	}
	return uint(id), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.tracker/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default ~/.tracker/tracker.db)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "version", "help", "completion":
			return nil
		}
		return initDB(cmd, args)
	}
	rootCmd.PersistentPostRun = closeDB

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(phaseCmd)
	rootCmd.AddCommand(todoCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(snoozeCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.SetHelpCommand(helpCmd)
	rootCmd.AddCommand(versionCmd)
}
