package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
)

// EscalationOutcome says what Escalate did with a timed-out assignment
type EscalationOutcome int

const (
	// EscalationNone means nothing changed: the assignment is no longer
	// acknowledged, the agent checked in again, or a primary timeout was
	// already recorded.
	EscalationNone EscalationOutcome = iota
	// EscalationEscalated means the assignment failed over to the primary agent.
	EscalationEscalated
	// EscalationPrimaryTimedOut means an agent with nothing above it timed
	// out and a timeout comment was written.
	EscalationPrimaryTimedOut
)

func (o EscalationOutcome) String() string {
	switch o {
	case EscalationEscalated:
		return "escalated"
	case EscalationPrimaryTimedOut:
		return "primary_timed_out"
	default:
		return "none"
	}
}

// EscalationResult is returned by Escalate
type EscalationResult struct {
	Outcome       EscalationOutcome
	NewAssignment *models.TaskAssignment
}

// TaskSnapshot is the state the scheduler reads at the start of a task's
// evaluation
type TaskSnapshot struct {
	Task       models.Task
	Assignment *models.TaskAssignment // nil when the task has no active assignment
	Agent      *models.Agent          // nil when there is no assignment or its agent is gone
}

// AssignTask creates a pending assignment for a task. With an empty
// agentName an agent is picked automatically: the least recently
// acknowledged active worker that is idle or working, else the primary.
// Any prior active assignment is superseded.
func (s *Store) AssignTask(taskID uint, agentName string) (*models.TaskAssignment, error) {
	var assignment *models.TaskAssignment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.First(&task, taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("task", taskID)
			}
			return err
		}
		if task.Status.IsTerminal() {
			return conflict("task %d is already done", taskID)
		}

		agent, err := pickAgent(tx, agentName)
		if err != nil {
			return err
		}

		prior, err := activeAssignment(tx, taskID)
		if err != nil {
			return err
		}
		if prior != nil {
			if err := s.closeAssignment(tx, prior, models.AssignmentFailed); err != nil {
				return err
			}
			if err := s.systemComment(tx, taskID, "Assignment to agent '%s' superseded by a new assignment", prior.AgentName); err != nil {
				return err
			}
		}

		assignment, err = s.openAssignment(tx, &task, agent, nil, 0)
		if err != nil {
			return err
		}
		return s.systemComment(tx, taskID, "Task assigned to agent '%s'", agent.Name)
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// AutoAssign gives an unowned task to an automatically picked agent. It
// returns nil without changing anything when the task already has an
// active assignment or is done, so an assignment made since the caller
// last looked is never superseded.
func (s *Store) AutoAssign(taskID uint) (*models.TaskAssignment, error) {
	var assignment *models.TaskAssignment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.First(&task, taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("task", taskID)
			}
			return err
		}
		if task.Status.IsTerminal() {
			return nil
		}

		prior, err := activeAssignment(tx, taskID)
		if err != nil {
			return err
		}
		if prior != nil {
			return nil
		}

		agent, err := pickAgent(tx, "")
		if err != nil {
			return err
		}
		assignment, err = s.openAssignment(tx, &task, agent, nil, 0)
		if err != nil {
			return err
		}
		return s.systemComment(tx, taskID, "Task assigned to agent '%s'", agent.Name)
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

func pickAgent(tx *gorm.DB, name string) (*models.Agent, error) {
	if name = strings.TrimSpace(name); name != "" {
		var agent models.Agent
		err := tx.Where("name = ?", name).First(&agent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("agent", name)
		}
		if err != nil {
			return nil, err
		}
		if !agent.Active {
			return nil, conflict("agent %q is inactive", name)
		}
		return &agent, nil
	}

	var worker models.Agent
	err := tx.Where("type = ? AND active = ? AND status IN ?",
		models.AgentWorker, true, []models.AgentStatus{models.AgentIdle, models.AgentWorking}).
		Order("last_ack_at IS NOT NULL, last_ack_at ASC, id ASC").
		First(&worker).Error
	if err == nil {
		return &worker, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	primary, err := findPrimary(tx)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, &NotFoundError{Entity: "available agent"}
	}
	return primary, nil
}

// findPrimary returns the active primary agent, or nil if there is none
func findPrimary(tx *gorm.DB) (*models.Agent, error) {
	var primary models.Agent
	err := tx.Where("type = ? AND active = ?", models.AgentPrimary, true).First(&primary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &primary, nil
}

// openAssignment creates a pending assignment and points the agent and
// the task at each other
func (s *Store) openAssignment(tx *gorm.DB, task *models.Task, agent *models.Agent, originalAgentID *uint, escalations int) (*models.TaskAssignment, error) {
	agentID := agent.ID
	a := models.TaskAssignment{
		TaskID:          task.ID,
		AgentID:         &agentID,
		AgentName:       agent.Name,
		Status:          models.AssignmentPending,
		AssignedAt:      s.clock(),
		OriginalAgentID: originalAgentID,
		EscalationCount: escalations,
	}
	if err := tx.Create(&a).Error; err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	err := tx.Model(&models.Agent{}).Where("id = ?", agent.ID).
		Updates(map[string]any{"status": models.AgentBusy, "current_task_id": task.ID}).Error
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Update("assigned_agent_id", agent.ID).Error; err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return &a, nil
}

// closeAssignment moves an active assignment to a terminal state and frees
// its agent if the agent is still on this task
func (s *Store) closeAssignment(tx *gorm.DB, a *models.TaskAssignment, status models.AssignmentStatus) error {
	if !a.Status.CanTransition(status) {
		return conflict("assignment %d cannot go from %s to %s", a.ID, a.Status, status)
	}
	now := s.clock()
	err := tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).
		Updates(map[string]any{"status": status, "closed_at": now, "snooze_until": nil, "timed_out_at": nil}).Error
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	a.Status = status
	a.ClosedAt = &now
	a.SnoozeUntil = nil
	a.TimedOutAt = nil

	if a.AgentID == nil {
		return nil
	}
	err = tx.Model(&models.Agent{}).Where("id = ? AND current_task_id = ?", *a.AgentID, a.TaskID).
		Updates(map[string]any{"status": models.AgentIdle, "current_task_id": nil}).Error
	if err != nil {
		return fmt.Errorf("free agent: %w", err)
	}
	err = tx.Model(&models.Task{}).Where("id = ? AND assigned_agent_id = ?", a.TaskID, *a.AgentID).
		Update("assigned_agent_id", nil).Error
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// closeActiveAssignment ends the active assignment of a task being marked
// done: acknowledged work completes, unacknowledged work fails
func (s *Store) closeActiveAssignment(tx *gorm.DB, task *models.Task) error {
	a, err := activeAssignment(tx, task.ID)
	if err != nil || a == nil {
		return err
	}
	status := models.AssignmentFailed
	if a.Status == models.AssignmentAcknowledged {
		status = models.AssignmentCompleted
	}
	if err := s.closeAssignment(tx, a, status); err != nil {
		return err
	}
	return s.systemComment(tx, task.ID, "Assignment to agent '%s' %s: task marked done", a.AgentName, status)
}

// Acknowledge accepts the pending or snoozed assignment of a task for the
// agent it was assigned to
func (s *Store) Acknowledge(agentID, taskID uint) (*models.TaskAssignment, error) {
	var a *models.TaskAssignment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		agent, err := loadAgent(tx, agentID)
		if err != nil {
			return err
		}
		a, err = assignmentFor(tx, agentID, taskID)
		if err != nil {
			return err
		}
		if a.Status == models.AssignmentAcknowledged {
			return conflict("task %d is already acknowledged by agent '%s'", taskID, agent.Name)
		}
		if !a.Status.CanTransition(models.AssignmentAcknowledged) {
			return conflict("assignment %d cannot be acknowledged from %s", a.ID, a.Status)
		}

		now := s.clock()
		err = tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).
			Updates(map[string]any{
				"status":          models.AssignmentAcknowledged,
				"acknowledged_at": now,
				"snooze_until":    nil,
				"timed_out_at":    nil,
			}).Error
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		a.Status = models.AssignmentAcknowledged
		a.AcknowledgedAt = &now
		a.SnoozeUntil = nil

		err = tx.Model(&models.Agent{}).Where("id = ?", agentID).
			Updates(map[string]any{"status": models.AgentWorking, "last_ack_at": now, "current_task_id": taskID}).Error
		if err != nil {
			return fmt.Errorf("update agent: %w", err)
		}
		if err := tx.Model(&models.Task{}).Where("id = ?", taskID).Update("last_agent_ack_at", now).Error; err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return s.systemComment(tx, taskID, "Agent '%s' acknowledged the task", agent.Name)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Snooze postpones a pending assignment for the given number of minutes
func (s *Store) Snooze(agentID, taskID uint, minutes int) (*models.TaskAssignment, error) {
	if minutes <= 0 {
		return nil, invalid("minutes", "must be positive")
	}

	var a *models.TaskAssignment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		agent, err := loadAgent(tx, agentID)
		if err != nil {
			return err
		}
		a, err = assignmentFor(tx, agentID, taskID)
		if err != nil {
			return err
		}
		if !a.Status.CanTransition(models.AssignmentSnoozed) {
			return conflict("only a pending assignment can be snoozed, assignment %d is %s", a.ID, a.Status)
		}

		until := s.clock().Add(time.Duration(minutes) * time.Minute)
		err = tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).
			Updates(map[string]any{"status": models.AssignmentSnoozed, "snooze_until": until}).Error
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		a.Status = models.AssignmentSnoozed
		a.SnoozeUntil = &until
		return s.systemComment(tx, taskID, "Agent '%s' snoozed the task for %d minute(s)", agent.Name, minutes)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CompleteAssignment closes an acknowledged assignment as completed and
// frees the agent. The task's own status is left to the hierarchy.
func (s *Store) CompleteAssignment(agentID, taskID uint) (*models.TaskAssignment, error) {
	var a *models.TaskAssignment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		agent, err := loadAgent(tx, agentID)
		if err != nil {
			return err
		}
		a, err = assignmentFor(tx, agentID, taskID)
		if err != nil {
			return err
		}
		if a.Status != models.AssignmentAcknowledged {
			return conflict("assignment %d must be acknowledged before it can be completed, it is %s", a.ID, a.Status)
		}
		if err := s.closeAssignment(tx, a, models.AssignmentCompleted); err != nil {
			return err
		}
		return s.systemComment(tx, taskID, "Agent '%s' completed its assignment", agent.Name)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Escalate handles an acknowledged assignment whose agent has been silent
// for longer than its timeout. The timeout is checked again inside the
// transaction. A worker's assignment fails over to the primary agent; an
// agent that can receive escalations has nothing above it, so only a
// timeout comment is written, once per timeout episode.
func (s *Store) Escalate(assignmentID uint) (*EscalationResult, error) {
	result := &EscalationResult{Outcome: EscalationNone}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignment(tx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status != models.AssignmentAcknowledged || a.AgentID == nil {
			return nil
		}
		agent, err := loadAgent(tx, *a.AgentID)
		if err != nil {
			return err
		}

		now := s.clock()
		if !TimedOut(agent, a, now) {
			return nil
		}

		if agent.Type.CanReceiveEscalations() {
			if a.TimedOutAt != nil {
				return nil
			}
			if err := tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).Update("timed_out_at", now).Error; err != nil {
				return fmt.Errorf("update assignment: %w", err)
			}
			result.Outcome = EscalationPrimaryTimedOut
			return s.systemComment(tx, a.TaskID,
				"timeout: agent '%s' has not acknowledged for more than %d minute(s); no escalation target",
				agent.Name, agent.TimeoutMinutes)
		}

		primary, err := findPrimary(tx)
		if err != nil {
			return err
		}
		if primary == nil {
			return &NotFoundError{Entity: "active primary agent"}
		}
		var task models.Task
		if err := tx.First(&task, a.TaskID).Error; err != nil {
			return err
		}

		if err := s.closeAssignment(tx, a, models.AssignmentFailed); err != nil {
			return err
		}
		originalID := agent.ID
		next, err := s.openAssignment(tx, &task, primary, &originalID, a.EscalationCount+1)
		if err != nil {
			return err
		}
		result.Outcome = EscalationEscalated
		result.NewAssignment = next
		return s.systemComment(tx, a.TaskID,
			"Agent '%s' timed out after %d minute(s); escalated to primary agent '%s'",
			agent.Name, agent.TimeoutMinutes, primary.Name)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TimedOut reports whether an acknowledged assignment's agent has been
// silent for longer than its timeout at now
func TimedOut(agent *models.Agent, a *models.TaskAssignment, now time.Time) bool {
	last := agent.LastAckAt
	if last == nil || (a.AcknowledgedAt != nil && a.AcknowledgedAt.After(*last)) {
		last = a.AcknowledgedAt
	}
	if last == nil {
		return false
	}
	return now.Sub(*last) > agent.Timeout()
}

// WakeSnoozed flips a snoozed assignment whose snooze has run out back to
// pending. It reports whether the assignment was woken.
func (s *Store) WakeSnoozed(assignmentID uint) (bool, error) {
	woken := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignment(tx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status != models.AssignmentSnoozed || !a.SnoozeExpired(s.clock()) {
			return nil
		}
		err = tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).
			Updates(map[string]any{"status": models.AssignmentPending, "snooze_until": nil}).Error
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		woken = true
		return s.systemComment(tx, a.TaskID, "Snooze of agent '%s' expired, assignment is pending again", a.AgentName)
	})
	return woken, err
}

// RecordPing stamps a successful ping on an assignment and stores it in the
// notification inbox. Recording the same ping id twice is a no-op.
func (s *Store) RecordPing(assignmentID uint, pingID, message string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		a, err := loadAssignment(tx, assignmentID)
		if err != nil {
			return err
		}
		if !a.Status.IsActive() {
			return nil
		}
		if pingID != "" {
			var count int64
			if err := tx.Model(&models.Notification{}).Where("ping_id = ?", pingID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
		}

		now := s.clock()
		if err := tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).Update("last_ping_sent_at", now).Error; err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		var task models.Task
		if err := tx.Select("id", "name").First(&task, a.TaskID).Error; err != nil {
			return err
		}
		return tx.Create(&models.Notification{
			CreatedAt: now,
			TaskID:    a.TaskID,
			TaskName:  task.Name,
			AgentName: a.AgentName,
			PingID:    pingID,
			Message:   message,
			Type:      models.NotificationReminder,
		}).Error
	})
}

// ActiveAssignment returns a task's active assignment, or nil if it has none
func (s *Store) ActiveAssignment(taskID uint) (*models.TaskAssignment, error) {
	return activeAssignment(s.db, taskID)
}

// ActiveAssignments returns every active assignment keyed by task id
func (s *Store) ActiveAssignments() (map[uint]models.TaskAssignment, error) {
	var list []models.TaskAssignment
	if err := s.db.Where("status IN ?", models.ActiveAssignmentStatuses).Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]models.TaskAssignment, len(list))
	for _, a := range list {
		out[a.TaskID] = a
	}
	return out, nil
}

// AssignmentHistory lists every assignment of a task, most recent first
func (s *Store) AssignmentHistory(taskID uint) ([]models.TaskAssignment, error) {
	if err := ensureExists(s.db, &models.Task{}, "task", taskID); err != nil {
		return nil, err
	}
	var list []models.TaskAssignment
	err := s.db.Where("task_id = ?", taskID).Order("assigned_at DESC, id DESC").Find(&list).Error
	return list, err
}

// SchedulableTaskIDs lists tasks the scheduler looks at: ping enabled and
// not done
func (s *Store) SchedulableTaskIDs() ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.Task{}).
		Where("ping_enabled = ? AND status <> ?", true, models.TaskDone).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// Snapshot reads a task with its active assignment and that assignment's agent
func (s *Store) Snapshot(taskID uint) (*TaskSnapshot, error) {
	var snap TaskSnapshot
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&snap.Task, taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("task", taskID)
			}
			return err
		}
		a, err := activeAssignment(tx, taskID)
		if err != nil || a == nil {
			return err
		}
		snap.Assignment = a
		if a.AgentID == nil {
			return nil
		}
		agent, err := loadAgent(tx, *a.AgentID)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		snap.Agent = agent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func activeAssignment(tx *gorm.DB, taskID uint) (*models.TaskAssignment, error) {
	var a models.TaskAssignment
	err := tx.Where("task_id = ? AND status IN ?", taskID, models.ActiveAssignmentStatuses).
		Order("id DESC").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// assignmentFor returns the active assignment of a task held by the given
// agent. Acknowledging for someone else's assignment is not found.
func assignmentFor(tx *gorm.DB, agentID, taskID uint) (*models.TaskAssignment, error) {
	if err := ensureExists(tx, &models.Task{}, "task", taskID); err != nil {
		return nil, err
	}
	a, err := activeAssignment(tx, taskID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.AgentID == nil || *a.AgentID != agentID {
		return nil, notFound("assignment", fmt.Sprintf("for task %d and agent %d", taskID, agentID))
	}
	return a, nil
}

func loadAssignment(tx *gorm.DB, id uint) (*models.TaskAssignment, error) {
	var a models.TaskAssignment
	err := tx.First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("assignment", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
