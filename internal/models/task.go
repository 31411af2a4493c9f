package models

import (
	"strings"
	"time"
)

// Priority is the urgency of a task
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority accepts "low/medium/high/critical" or "1/2/3/4".
// An empty string yields medium.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, true
	case "low", "1":
		return PriorityLow, true
	case "medium", "med", "2":
		return PriorityMedium, true
	case "high", "3":
		return PriorityHigh, true
	case "critical", "crit", "4":
		return PriorityCritical, true
	default:
		return "", false
	}
}

// TaskStatus is the lifecycle status of a task. Only done is terminal.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	}
	return false
}

func (s TaskStatus) IsTerminal() bool { return s == TaskDone }

// PhaseStatus is either derived from the phase's todos or set explicitly.
// Blocked is never derived.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseBlocked    PhaseStatus = "blocked"
)

func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseNotStarted, PhaseInProgress, PhaseCompleted, PhaseBlocked:
		return true
	}
	return false
}

// TodoStatus is the three-state status of a leaf todo
type TodoStatus string

const (
	TodoPending    TodoStatus = "todo"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
)

func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoDone:
		return true
	}
	return false
}

// Author tags who wrote a comment
type Author string

const (
	AuthorUser   Author = "user"
	AuthorAgent  Author = "agent"
	AuthorSystem Author = "system"
)

func (a Author) Valid() bool {
	switch a {
	case AuthorUser, AuthorAgent, AuthorSystem:
		return true
	}
	return false
}

// Task is the top-level unit of tracked work
type Task struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name             string     `gorm:"not null;index" json:"name"`
	Description      string     `json:"description,omitempty"`
	Priority         Priority   `gorm:"not null" json:"priority"`
	Status           TaskStatus `gorm:"not null;index" json:"status"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Progress         int        `gorm:"not null" json:"progress"` // derived, 0-100
	ContextTags      string     `json:"context_tags,omitempty"`   // comma-separated
	DefinitionOfDone string     `json:"definition_of_done,omitempty"`

	// Ping settings
	AssignedAgentID     *uint      `gorm:"index" json:"assigned_agent_id,omitempty"`
	PingIntervalMinutes int        `gorm:"not null" json:"ping_interval_minutes"`
	PingEnabled         bool       `gorm:"not null" json:"ping_enabled"`
	LastAgentAckAt      *time.Time `json:"last_agent_ack_at,omitempty"`

	// Relationships
	Phases   []Phase   `gorm:"foreignKey:TaskID" json:"phases"`
	Comments []Comment `gorm:"foreignKey:TaskID" json:"comments,omitempty"`
}

// PingInterval returns the minimum gap between two pings for this task
func (t *Task) PingInterval() time.Duration {
	return time.Duration(t.PingIntervalMinutes) * time.Minute
}

// Tags splits ContextTags into trimmed, non-empty tags
func (t *Task) Tags() []string {
	return splitTags(t.ContextTags)
}

// Phase is an ordered sub-division of a task
type Phase struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskID      uint        `gorm:"not null;index" json:"task_id"`
	Name        string      `gorm:"not null" json:"name"`
	Description string      `json:"description,omitempty"`
	Status      PhaseStatus `gorm:"not null" json:"status"`
	Order       int         `gorm:"column:sort_order;not null" json:"order"`

	Todos []Todo `gorm:"foreignKey:PhaseID" json:"todos"`
}

// Todo is a leaf unit of work
type Todo struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PhaseID     uint       `gorm:"not null;index" json:"phase_id"`
	Name        string     `gorm:"not null" json:"name"`
	Description string     `json:"description,omitempty"`
	Status      TodoStatus `gorm:"not null" json:"status"`
}

// Comment is an append-only audit entry on a task
type Comment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	TaskID    uint      `gorm:"not null;index" json:"task_id"`
	Text      string    `gorm:"not null" json:"text"`
	Author    Author    `gorm:"not null" json:"author"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

func splitTags(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
