package models

import (
	"strings"
	"time"
)

// AgentType is a closed set: the primary agent is the single fallback of
// last resort, every other agent is a worker.
type AgentType string

const (
	AgentPrimary AgentType = "primary"
	AgentWorker  AgentType = "worker"
)

// ParseAgentType also accepts the legacy main_agent/sub_agent names.
func ParseAgentType(s string) (AgentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "main", "main_agent":
		return AgentPrimary, true
	case "", "worker", "sub", "sub_agent":
		return AgentWorker, true
	default:
		return "", false
	}
}

func (t AgentType) Valid() bool {
	return t == AgentPrimary || t == AgentWorker
}

// CanReceiveEscalations reports whether timed-out work from other agents
// may be handed to an agent of this type. An agent that can receive
// escalations has nothing above it to escalate to.
func (t AgentType) CanReceiveEscalations() bool {
	return t == AgentPrimary
}

// AgentStatus is the availability of an agent
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentWorking AgentStatus = "working"
	AgentOffline AgentStatus = "offline"
)

// Agent is an actor that can be assigned work and must acknowledge it
type Agent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name           string      `gorm:"not null;uniqueIndex" json:"name"`
	Type           AgentType   `gorm:"not null;index" json:"type"`
	Status         AgentStatus `gorm:"not null" json:"status"`
	LastAckAt      *time.Time  `json:"last_ack_at,omitempty"`
	CurrentTaskID  *uint       `gorm:"index" json:"current_task_id,omitempty"`
	Capabilities   string      `json:"capabilities,omitempty"` // comma-separated
	Endpoint       string      `json:"endpoint,omitempty"`
	TimeoutMinutes int         `gorm:"not null" json:"timeout_minutes"`
	Active         bool        `gorm:"not null" json:"active"`
}

// Timeout is how long the agent may stay silent after acknowledging
func (a *Agent) Timeout() time.Duration {
	return time.Duration(a.TimeoutMinutes) * time.Minute
}

// CapabilityTags splits Capabilities into tags
func (a *Agent) CapabilityTags() []string {
	return splitTags(a.Capabilities)
}
