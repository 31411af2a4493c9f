package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
)

// CreateAgentRequest describes a new agent
type CreateAgentRequest struct {
	Name           string
	Type           string // primary or worker, empty for worker
	Capabilities   []string
	Endpoint       string
	TimeoutMinutes int // 0 uses the store default
}

// CreateAgent registers an agent. Names are unique and at most one
// primary agent may exist.
func (s *Store) CreateAgent(req CreateAgentRequest) (*models.Agent, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}
	agentType, ok := models.ParseAgentType(req.Type)
	if !ok {
		return nil, invalid("type", "%q is not one of primary, worker", req.Type)
	}
	timeout := req.TimeoutMinutes
	if timeout < 0 {
		return nil, invalid("timeout_minutes", "must not be negative")
	}
	if timeout == 0 {
		timeout = s.agentTimeoutMinutes
	}

	agent := models.Agent{
		Name:           name,
		Type:           agentType,
		Status:         models.AgentIdle,
		Capabilities:   strings.Join(cleanTags(req.Capabilities), ","),
		Endpoint:       strings.TrimSpace(req.Endpoint),
		TimeoutMinutes: timeout,
		Active:         true,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Agent{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return conflict("agent %q already exists", name)
		}
		if agentType == models.AgentPrimary {
			if err := tx.Model(&models.Agent{}).Where("type = ?", models.AgentPrimary).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return conflict("a primary agent already exists")
			}
		}
		if err := tx.Create(&agent).Error; err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgent retrieves an agent by id
func (s *Store) GetAgent(id uint) (*models.Agent, error) {
	return loadAgent(s.db, id)
}

// GetAgentByName retrieves an agent by its unique name
func (s *Store) GetAgentByName(name string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.Where("name = ?", strings.TrimSpace(name)).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("agent", name)
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns every agent, primary first
func (s *Store) ListAgents() ([]models.Agent, error) {
	var agents []models.Agent
	err := s.db.Order(fmt.Sprintf("CASE WHEN type = '%s' THEN 0 ELSE 1 END, id ASC", models.AgentPrimary)).
		Find(&agents).Error
	return agents, err
}

// SetAgentActive enables or disables an agent for new assignments. Work
// already assigned to it is left alone.
func (s *Store) SetAgentActive(name string, active bool) (*models.Agent, error) {
	agent, err := s.GetAgentByName(name)
	if err != nil {
		return nil, err
	}
	if agent.Active == active {
		return agent, nil
	}
	if err := s.db.Model(&models.Agent{}).Where("id = ?", agent.ID).Update("active", active).Error; err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	agent.Active = active
	return agent, nil
}

// DeleteAgent removes an agent. Its active assignments fail, tasks stop
// pointing at it, and assignment history keeps only its name.
func (s *Store) DeleteAgent(name string) error {
	agent, err := s.GetAgentByName(name)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var active []models.TaskAssignment
		err := tx.Where("agent_id = ? AND status IN ?", agent.ID, models.ActiveAssignmentStatuses).
			Find(&active).Error
		if err != nil {
			return err
		}
		for i := range active {
			if err := s.closeAssignment(tx, &active[i], models.AssignmentFailed); err != nil {
				return err
			}
			if err := s.systemComment(tx, active[i].TaskID, "Assignment to agent '%s' failed: agent was deleted", agent.Name); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.TaskAssignment{}).Where("agent_id = ?", agent.ID).
			Update("agent_id", nil).Error; err != nil {
			return fmt.Errorf("detach assignments: %w", err)
		}
		if err := tx.Model(&models.TaskAssignment{}).Where("original_agent_id = ?", agent.ID).
			Update("original_agent_id", nil).Error; err != nil {
			return fmt.Errorf("detach escalations: %w", err)
		}
		if err := tx.Model(&models.Task{}).Where("assigned_agent_id = ?", agent.ID).
			Update("assigned_agent_id", nil).Error; err != nil {
			return fmt.Errorf("detach tasks: %w", err)
		}
		return tx.Delete(&models.Agent{}, agent.ID).Error
	})
}

// Heartbeat refreshes an agent's last acknowledgment without touching any
// assignment state. An acknowledged agent uses it to extend its timeout
// window.
func (s *Store) Heartbeat(agentID uint) (*models.Agent, error) {
	now := s.clock()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, &models.Agent{}, "agent", agentID); err != nil {
			return err
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", agentID).Update("last_ack_at", now).Error; err != nil {
			return fmt.Errorf("update agent: %w", err)
		}
		return tx.Model(&models.TaskAssignment{}).
			Where("agent_id = ? AND status = ? AND timed_out_at IS NOT NULL", agentID, models.AssignmentAcknowledged).
			Update("timed_out_at", nil).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetAgent(agentID)
}

func loadAgent(tx *gorm.DB, id uint) (*models.Agent, error) {
	var agent models.Agent
	err := tx.First(&agent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}
