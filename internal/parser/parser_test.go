package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func TestParseDueDateAt(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"15/12/2025", time.Date(2025, 12, 15, 23, 59, 59, 0, time.UTC)},
		{"2025-04-01", time.Date(2025, 4, 1, 23, 59, 59, 0, time.UTC)},
		{"3 days", time.Date(2025, 3, 13, 23, 59, 59, 0, time.UTC)},
		{"3days", time.Date(2025, 3, 13, 23, 59, 59, 0, time.UTC)},
		{"1 week", time.Date(2025, 3, 17, 23, 59, 59, 0, time.UTC)},
		{"24 hours", ref.Add(24 * time.Hour)},
		{"2h", ref.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDueDateAt(tt.input, ref)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
		})
	}
}

func TestParseDueDateAt_Invalid(t *testing.T) {
	for _, input := range []string{"31/02/2025", "13/13/2025", "tomorrowish", "400 days", "0 weeks"} {
		_, err := ParseDueDateAt(input, ref)
		assert.Error(t, err, input)
	}

	got, err := ParseDueDateAt("  ", ref)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestFormatDueDateAt(t *testing.T) {
	day := func(d int) *time.Time {
		v := time.Date(2025, 3, d, 23, 59, 59, 0, time.UTC)
		return &v
	}
	assert.Equal(t, "", FormatDueDateAt(nil, ref))
	assert.Equal(t, "OVERDUE (09/03/2025)", FormatDueDateAt(day(9), ref))
	assert.Equal(t, "due today (10/03/2025)", FormatDueDateAt(day(10), ref))
	assert.Equal(t, "due tomorrow (11/03/2025)", FormatDueDateAt(day(11), ref))
	assert.Equal(t, "due 14/03/2025 (in 4 days)", FormatDueDateAt(day(14), ref))
	assert.Equal(t, "due 30/03/2025", FormatDueDateAt(day(30), ref))
}

func TestParseTitleAt(t *testing.T) {
	got := ParseTitleAt("Write release notes #docs,release +high due:2days ping:15", ref)
	assert.Empty(t, got.Errors)
	assert.Equal(t, "Write release notes", got.Name)
	assert.Equal(t, []string{"docs", "release"}, got.Tags)
	assert.Equal(t, "high", got.Priority)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, 12, got.DueDate.Day())
	assert.Equal(t, 15, got.PingIntervalMinutes)
	assert.Nil(t, got.PingEnabled)

	got = ParseTitleAt("Quiet task +4 ping:off", ref)
	assert.Empty(t, got.Errors)
	assert.Equal(t, "Quiet task", got.Name)
	assert.Equal(t, "critical", got.Priority)
	require.NotNil(t, got.PingEnabled)
	assert.False(t, *got.PingEnabled)

	got = ParseTitleAt("Broken +urgent due:someday ping:-3", ref)
	assert.Len(t, got.Errors, 3)
	assert.Equal(t, "Broken", got.Name)

	got = ParseTitleAt("C++ refactor", ref)
	assert.Equal(t, "C++ refactor", got.Name, "a plus inside a word is not a priority")
}

const treeYAML = `
name: Ship v2
priority: high
due: 2025-04-01
tags: [release, backend]
ping_interval_minutes: 15
phases:
  - name: Build
    todos:
      - name: compile
        status: done
      - package
  - name: Verify
    status: blocked
    todos: []
`

func TestParseTaskTree(t *testing.T) {
	doc, err := ParseTaskTree(strings.NewReader(treeYAML))
	require.NoError(t, err)
	assert.Equal(t, "Ship v2", doc.Name)
	require.Len(t, doc.Phases, 2)
	require.Len(t, doc.Phases[0].Todos, 2)
	assert.Equal(t, "package", doc.Phases[0].Todos[1].Name)
	assert.Equal(t, "done", doc.Phases[0].Todos[0].Status)

	req, err := doc.Request(ref)
	require.NoError(t, err)
	assert.Equal(t, "high", req.Priority)
	assert.Equal(t, 15, req.PingIntervalMinutes)
	assert.Equal(t, []string{"release", "backend"}, req.ContextTags)
	require.NotNil(t, req.DueDate)
	assert.Equal(t, time.April, req.DueDate.Month())
	assert.Equal(t, "blocked", req.Phases[1].Status)
	assert.Equal(t, "", req.Phases[0].Todos[1].Status)
}

func TestParseTaskTree_JSON(t *testing.T) {
	doc, err := ParseTaskTree(strings.NewReader(`{"name": "json task", "ping_enabled": false, "phases": [{"name": "p", "todos": ["a", {"name": "b"}]}]}`))
	require.NoError(t, err)
	require.NotNil(t, doc.PingEnabled)
	assert.False(t, *doc.PingEnabled)
	assert.Len(t, doc.Phases[0].Todos, 2)
}

func TestParseTaskTree_Errors(t *testing.T) {
	_, err := ParseTaskTree(strings.NewReader("phases: []"))
	assert.ErrorContains(t, err, "name is required")

	_, err = ParseTaskTree(strings.NewReader("name: x\nowner: me\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = ParseTaskTree(strings.NewReader(""))
	assert.Error(t, err)

	doc, err := ParseTaskTree(strings.NewReader("name: x\ndue: whenever\n"))
	require.NoError(t, err)
	_, err = doc.Request(ref)
	assert.ErrorContains(t, err, "due")
}

func TestParseReport(t *testing.T) {
	items, err := ParseReport(strings.NewReader(`
- comment: compiled cleanly
- todo_id: 4
  status: done
- phase_id: 2
  status: blocked
  comment: waiting on review
`))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "compiled cleanly", items[0].Comment)
	require.NotNil(t, items[1].TodoID)
	assert.Equal(t, uint(4), *items[1].TodoID)
	require.NotNil(t, items[2].PhaseID)
	assert.Equal(t, "blocked", items[2].Status)

	items, err = ParseReport(strings.NewReader(`{"items": [{"todo_id": 1, "status": "in_progress", "author": "agent"}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "agent", items[0].Author)

	_, err = ParseReport(strings.NewReader(""))
	assert.Error(t, err)
}
