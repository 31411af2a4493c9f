package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"":         PriorityMedium,
		"low":      PriorityLow,
		"1":        PriorityLow,
		"MED":      PriorityMedium,
		" high ":   PriorityHigh,
		"critical": PriorityCritical,
		"4":        PriorityCritical,
	}
	for in, want := range cases {
		got, ok := ParsePriority(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParsePriority("urgent")
	assert.False(t, ok)
}

func TestParseAgentType(t *testing.T) {
	typ, ok := ParseAgentType("main_agent")
	assert.True(t, ok)
	assert.Equal(t, AgentPrimary, typ)
	assert.True(t, typ.CanReceiveEscalations())

	typ, ok = ParseAgentType("sub_agent")
	assert.True(t, ok)
	assert.Equal(t, AgentWorker, typ)
	assert.False(t, typ.CanReceiveEscalations())

	_, ok = ParseAgentType("supervisor")
	assert.False(t, ok)
	assert.False(t, AgentType("supervisor").CanReceiveEscalations())
}

func TestAssignmentTransitions(t *testing.T) {
	assert.True(t, AssignmentPending.CanTransition(AssignmentAcknowledged))
	assert.True(t, AssignmentPending.CanTransition(AssignmentSnoozed))
	assert.True(t, AssignmentPending.CanTransition(AssignmentFailed))
	assert.False(t, AssignmentPending.CanTransition(AssignmentCompleted))

	assert.True(t, AssignmentAcknowledged.CanTransition(AssignmentCompleted))
	assert.False(t, AssignmentAcknowledged.CanTransition(AssignmentSnoozed))

	assert.True(t, AssignmentSnoozed.CanTransition(AssignmentPending))

	for _, terminal := range []AssignmentStatus{AssignmentCompleted, AssignmentFailed} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.IsActive())
		for _, to := range ActiveAssignmentStatuses {
			assert.False(t, terminal.CanTransition(to))
		}
	}
}

func TestTaskAssignment_PingDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &TaskAssignment{}
	assert.True(t, a.PingDue(now, 30*time.Minute), "never pinged")

	last := now.Add(-10 * time.Minute)
	a.LastPingSentAt = &last
	assert.False(t, a.PingDue(now, 30*time.Minute))
	assert.True(t, a.PingDue(now.Add(20*time.Minute), 30*time.Minute))
}

func TestTaskAssignment_SnoozeExpired(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &TaskAssignment{SnoozeUntil: &t1}
	assert.False(t, a.SnoozeExpired(t1.Add(-time.Second)))
	assert.True(t, a.SnoozeExpired(t1))
	assert.True(t, a.SnoozeExpired(t1.Add(time.Second)))
}

func TestTags(t *testing.T) {
	task := Task{ContextTags: " go, backend ,,ops"}
	assert.Equal(t, []string{"go", "backend", "ops"}, task.Tags())

	agent := Agent{Capabilities: ""}
	assert.Empty(t, agent.CapabilityTags())
}
