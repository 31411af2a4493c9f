package models

import "time"

// AssignmentStatus is the state of one assignment attempt
type AssignmentStatus string

const (
	AssignmentPending      AssignmentStatus = "pending"
	AssignmentAcknowledged AssignmentStatus = "acknowledged"
	AssignmentSnoozed      AssignmentStatus = "snoozed"
	AssignmentCompleted    AssignmentStatus = "completed"
	AssignmentFailed       AssignmentStatus = "failed"
)

// ActiveAssignmentStatuses are the states in which an assignment still
// holds its task. A task has at most one assignment in these states.
var ActiveAssignmentStatuses = []AssignmentStatus{
	AssignmentPending,
	AssignmentAcknowledged,
	AssignmentSnoozed,
}

var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentPending:      {AssignmentAcknowledged, AssignmentSnoozed, AssignmentFailed},
	AssignmentAcknowledged: {AssignmentCompleted, AssignmentFailed},
	AssignmentSnoozed:      {AssignmentPending, AssignmentAcknowledged, AssignmentFailed},
}

func (s AssignmentStatus) IsActive() bool {
	return s == AssignmentPending || s == AssignmentAcknowledged || s == AssignmentSnoozed
}

func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentFailed
}

// CanTransition reports whether the state machine allows from -> to
func (s AssignmentStatus) CanTransition(to AssignmentStatus) bool {
	for _, next := range assignmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskAssignment binds a task to an agent for one attempt at completion
type TaskAssignment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskID uint `gorm:"not null;index" json:"task_id"`
	// AgentID is cleared when the agent is deleted; AgentName keeps history readable.
	AgentID   *uint  `gorm:"index" json:"agent_id,omitempty"`
	AgentName string `gorm:"not null" json:"agent_name"`

	Status          AssignmentStatus `gorm:"not null;index" json:"status"`
	AssignedAt      time.Time        `gorm:"not null" json:"assigned_at"`
	AcknowledgedAt  *time.Time       `json:"acknowledged_at,omitempty"`
	SnoozeUntil     *time.Time       `json:"snooze_until,omitempty"`
	LastPingSentAt  *time.Time       `json:"last_ping_sent_at,omitempty"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	OriginalAgentID *uint            `json:"original_agent_id,omitempty"` // set by escalation only
	EscalationCount int              `gorm:"not null" json:"escalation_count"`

	// TimedOutAt marks an open timeout episode of an agent with no
	// escalation target. Cleared when the agent checks in again.
	TimedOutAt *time.Time `json:"timed_out_at,omitempty"`
}

// PingDue reports whether a pending assignment should be pinged at now
func (a *TaskAssignment) PingDue(now time.Time, interval time.Duration) bool {
	if a.LastPingSentAt == nil {
		return true
	}
	return now.Sub(*a.LastPingSentAt) >= interval
}

// SnoozeExpired reports whether a snoozed assignment may be pinged again
func (a *TaskAssignment) SnoozeExpired(now time.Time) bool {
	return a.SnoozeUntil == nil || !now.Before(*a.SnoozeUntil)
}
