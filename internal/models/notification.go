package models

import "time"

// NotificationType classifies inbox entries
type NotificationType string

const (
	NotificationReminder   NotificationType = "reminder"
	NotificationCompletion NotificationType = "completion"
	NotificationSystem     NotificationType = "system"
)

// Notification is the local record of a ping or lifecycle event
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TaskID    uint             `gorm:"not null;index" json:"task_id"`
	TaskName  string           `json:"task_name"`
	AgentName string           `json:"agent_name,omitempty"`
	PingID    string           `gorm:"index" json:"ping_id,omitempty"`
	Message   string           `json:"message"`
	Type      NotificationType `gorm:"not null" json:"type"`
	Read      bool             `gorm:"not null;index" json:"read"`
}
