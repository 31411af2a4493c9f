package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cli runs commands against one temporary database
type cli struct {
	t      *testing.T
	db     string
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	return &cli{
		t:      t,
		db:     filepath.Join(dir, "tracker.db"),
		config: filepath.Join(dir, "config.yaml"),
	}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	resetFlags(rootCmd)
	defer closeDB(nil, nil)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", c.config, "--db", c.db}, args...))
	err := rootCmd.Execute()
	return stdout.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "tracker %s", strings.Join(args, " "))
	return out
}

func (c *cli) writeFile(name, content string) string {
	c.t.Helper()
	path := filepath.Join(filepath.Dir(c.db), name)
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// resetFlags puts every flag back to its default so runs do not leak
// into each other
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

const treeYAML = `name: Ship v2
priority: high
tags: [release]
phases:
  - name: Build
    todos: [compile, package]
  - name: Verify
    todos: [smoke test]
`

func TestTaskLifecycle(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("task", "create", "-f", c.writeFile("tree.yaml", treeYAML))
	assert.Contains(t, out, "Created task #1: Ship v2 (2 phase(s), progress 0%)")

	out = c.mustRun("todo", "status", "1", "done")
	assert.Contains(t, out, "Todo #1 'compile' is now done")

	out = c.mustRun("task", "show", "1")
	assert.Contains(t, out, "Task #1: Ship v2")
	assert.Contains(t, out, "Status: in_progress   Priority: high   Progress: 25%")
	assert.Contains(t, out, "[x] #1 compile")
	assert.Contains(t, out, "[ ] #3 smoke test")

	_, err := c.run("task", "status", "1", "done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot mark task as done")

	out = c.mustRun("phase", "status", "1", "completed")
	assert.Contains(t, out, "Phase #1 'Build' is now completed")
	c.mustRun("phase", "status", "2", "completed")

	out = c.mustRun("task", "status", "1", "done")
	assert.Contains(t, out, "Task #1 is now done (progress 100%)")
}

func TestTaskAddSmartSyntax(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("task", "add", "Migrate billing #db,ops +critical ping:15")
	assert.Contains(t, out, "Created task #1: Migrate billing")
	assert.Contains(t, out, "Priority: critical")
	assert.Contains(t, out, "Tags: db, ops")
	assert.Contains(t, out, "Ping every 15 minute(s)")

	out = c.mustRun("task", "add", "Quiet one", "--no-ping", "-p", "low")
	assert.Contains(t, out, "Priority: low")
	assert.Contains(t, out, "Pinging disabled")

	out = c.mustRun("task", "ls")
	assert.Contains(t, out, "Migrate billing")
	assert.Contains(t, out, "Quiet one")

	out = c.mustRun("task", "ls", "--ping=false")
	assert.NotContains(t, out, "Migrate billing")
	assert.Contains(t, out, "Quiet one")
}

func TestTaskAddRejectsBadPriority(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("task", "add", "Broken", "-p", "urgent")
	require.Error(t, err)
}

func TestPhaseAndTodoAdd(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Bare task")

	out := c.mustRun("phase", "add", "1", "Design", "--todo", "sketch", "--todo", "review")
	assert.Contains(t, out, "Added phase #1 'Design' to task #1 with 2 todo(s)")

	out = c.mustRun("todo", "add", "1", "sign off")
	assert.Contains(t, out, "Added todo #3 'sign off' to phase #1")

	out = c.mustRun("task", "show", "1", "--json")
	assert.Contains(t, out, `"name": "sign off"`)
}

func TestCommentAndReport(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "create", "-f", c.writeFile("tree.yaml", treeYAML))

	out := c.mustRun("comment", "1", "looks", "good")
	assert.Contains(t, out, "added to task #1 by user")

	report := c.writeFile("report.yaml", `- comment: compiled
  todo_id: 1
  status: done
- phase_id: 2
  status: blocked
`)
	out = c.mustRun("report", "1", "-f", report)
	assert.Contains(t, out, "Applied 2 report item(s) to task #1")

	out = c.mustRun("task", "show", "1")
	assert.Contains(t, out, "Phase #2 Verify [blocked]")
	assert.Contains(t, out, "[agent] compiled")

	bad := c.writeFile("bad.yaml", `- todo_id: 99
  status: done
`)
	_, err := c.run("report", "1", "-f", bad)
	require.Error(t, err)
}

func TestAgentAssignmentFlow(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Deploy")

	out := c.mustRun("agent", "add", "lead", "--type", "primary")
	assert.Contains(t, out, "Registered primary agent #1 'lead'")
	c.mustRun("agent", "add", "builder", "--capabilities", "go,sql", "--timeout", "5")

	_, err := c.run("agent", "add", "boss", "--type", "primary")
	require.Error(t, err, "only one primary agent")

	out = c.mustRun("agent", "ls")
	assert.Contains(t, out, "lead")
	assert.Contains(t, out, "go,sql")

	out = c.mustRun("assign", "1")
	assert.Contains(t, out, "Task #1 assigned to 'builder'")

	out = c.mustRun("ack", "builder", "1")
	assert.Contains(t, out, "Agent 'builder' acknowledged task #1")

	_, err = c.run("ack", "builder", "1")
	require.Error(t, err, "double acknowledge")

	c.mustRun("heartbeat", "2")
	out = c.mustRun("complete", "builder", "1")
	assert.Contains(t, out, "Agent 'builder' completed its assignment on task #1")

	out = c.mustRun("history", "1")
	assert.Contains(t, out, "builder")
	assert.Contains(t, out, "completed")
}

func TestSnoozeAndDisable(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Deploy")
	c.mustRun("agent", "add", "builder")

	c.mustRun("assign", "1", "builder")
	out := c.mustRun("snooze", "builder", "1", "30")
	assert.Contains(t, out, "Task #1 snoozed for 'builder'")

	_, err := c.run("snooze", "builder", "1", "soon")
	require.Error(t, err)

	out = c.mustRun("agent", "disable", "builder")
	assert.Contains(t, out, "Agent 'builder' disabled")
	_, err = c.run("assign", "1", "builder")
	require.Error(t, err, "inactive agents cannot be assigned")

	c.mustRun("agent", "rm", "builder")
	out = c.mustRun("history", "1")
	assert.Contains(t, out, "failed")
}

func TestTickPingsIntoInbox(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Deploy")
	c.mustRun("agent", "add", "builder")

	out := c.mustRun("tick")
	assert.Contains(t, out, "Scanned 1 task(s): 1 assigned, 1 pinged (0 failed)")

	out = c.mustRun("notifications", "--unread")
	assert.Contains(t, out, "reminder")
	assert.Contains(t, out, "waiting for your acknowledgment")

	out = c.mustRun("notifications", "--read-all")
	assert.Contains(t, out, "1 notification(s) marked read")

	out = c.mustRun("notifications", "--unread")
	assert.Contains(t, out, "No notifications")

	out = c.mustRun("tick")
	assert.Contains(t, out, "0 assigned, 0 pinged", "ping interval has not elapsed")
}

func TestInvalidIDs(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("task", "show", "abc")
	assert.EqualError(t, err, "invalid task ID 'abc'")

	_, err = c.run("task", "show", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestTaskDelete(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "create", "-f", c.writeFile("tree.yaml", treeYAML))

	out := c.mustRun("task", "rm", "1")
	assert.Contains(t, out, "Deleted task #1")

	out = c.mustRun("task", "ls")
	assert.Contains(t, out, "No tasks found")
}

func TestVersionAndHelpSkipDatabase(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("version")
	assert.Contains(t, out, "tracker dev")

	out = c.mustRun("help")
	assert.Contains(t, out, "task create -f tree.yaml")

	_, err := os.Stat(c.db)
	assert.True(t, os.IsNotExist(err), "no database is created for version or help")
}
