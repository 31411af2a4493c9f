package db

import (
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
	"github.com/balkashynov/tracker/internal/progress"
)

// SetTodoStatus changes a todo's status and, in the same transaction,
// re-derives its phase status and the task's progress. Any transition is
// allowed, including done back to todo.
func (s *Store) SetTodoStatus(id uint, status string) (*models.Todo, error) {
	st, err := parseTodoStatus(status, "status")
	if err != nil {
		return nil, err
	}

	var todo models.Todo
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&todo, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("todo", id)
			}
			return err
		}
		return s.setTodoStatus(tx, &todo, st)
	})
	if err != nil {
		return nil, err
	}
	return &todo, nil
}

func (s *Store) setTodoStatus(tx *gorm.DB, todo *models.Todo, st models.TodoStatus) error {
	phase, err := loadPhase(tx, todo.PhaseID)
	if err != nil {
		return err
	}

	if todo.Status != st {
		old := todo.Status
		if err := tx.Model(todo).Update("status", st).Error; err != nil {
			return fmt.Errorf("update todo status: %w", err)
		}
		todo.Status = st
		if err := s.systemComment(tx, phase.TaskID, "Todo '%s' status changed from '%s' to '%s'", todo.Name, old, st); err != nil {
			return err
		}
		for i := range phase.Todos {
			if phase.Todos[i].ID == todo.ID {
				phase.Todos[i].Status = st
			}
		}
	}

	if err := s.syncPhase(tx, phase); err != nil {
		return err
	}
	_, err = s.recomputeTask(tx, phase.TaskID)
	return err
}

// SetPhaseStatus sets a phase's status explicitly. This is the only way to
// block or unblock a phase, and a forced completed counts fully towards
// progress whatever its todos say.
func (s *Store) SetPhaseStatus(id uint, status string) (*models.Phase, error) {
	st, err := parsePhaseStatus(status, "status")
	if err != nil {
		return nil, err
	}

	var phase *models.Phase
	err = s.db.Transaction(func(tx *gorm.DB) error {
		phase, err = loadPhase(tx, id)
		if err != nil {
			return err
		}
		return s.setPhaseStatus(tx, phase, st)
	})
	if err != nil {
		return nil, err
	}
	return phase, nil
}

func (s *Store) setPhaseStatus(tx *gorm.DB, phase *models.Phase, st models.PhaseStatus) error {
	if phase.Status != st {
		old := phase.Status
		if err := tx.Model(phase).Update("status", st).Error; err != nil {
			return fmt.Errorf("update phase status: %w", err)
		}
		phase.Status = st
		if err := s.systemComment(tx, phase.TaskID, "Phase '%s' status changed from '%s' to '%s'", phase.Name, old, st); err != nil {
			return err
		}
	}
	_, err := s.recomputeTask(tx, phase.TaskID)
	return err
}

// AddPhase appends a phase (with optional todos) to an existing task
func (s *Store) AddPhase(taskID uint, req PhaseRequest) (*models.Phase, error) {
	phase, err := buildPhase(req, "phase")
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, &models.Task{}, "task", taskID); err != nil {
			return err
		}
		if req.Order == nil {
			var maxOrder sql.NullInt64
			if err := tx.Model(&models.Phase{}).Where("task_id = ?", taskID).
				Select("MAX(sort_order)").Row().Scan(&maxOrder); err != nil {
				return err
			}
			if maxOrder.Valid {
				phase.Order = int(maxOrder.Int64) + 1
			}
		}
		phase.TaskID = taskID
		if err := tx.Create(&phase).Error; err != nil {
			return fmt.Errorf("insert phase: %w", err)
		}
		if err := s.systemComment(tx, taskID, "Phase '%s' added", phase.Name); err != nil {
			return err
		}
		_, err := s.recomputeTask(tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &phase, nil
}

// AddTodo appends a todo to a phase and re-derives the phase status
func (s *Store) AddTodo(phaseID uint, req TodoRequest) (*models.Todo, error) {
	built, err := buildPhase(PhaseRequest{Name: "-", Todos: []TodoRequest{req}}, "todo")
	if err != nil {
		return nil, err
	}
	todo := built.Todos[0]

	err = s.db.Transaction(func(tx *gorm.DB) error {
		phase, err := loadPhase(tx, phaseID)
		if err != nil {
			return err
		}
		todo.PhaseID = phaseID
		if err := tx.Create(&todo).Error; err != nil {
			return fmt.Errorf("insert todo: %w", err)
		}
		phase.Todos = append(phase.Todos, todo)
		if err := s.systemComment(tx, phase.TaskID, "Todo '%s' added to phase '%s'", todo.Name, phase.Name); err != nil {
			return err
		}
		if err := s.syncPhase(tx, phase); err != nil {
			return err
		}
		_, err = s.recomputeTask(tx, phase.TaskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &todo, nil
}

// syncPhase re-derives a phase's status from its todos and records the change
func (s *Store) syncPhase(tx *gorm.DB, phase *models.Phase) error {
	derived := progress.DeriveStatus(phase.Status, phase.Todos)
	if derived == phase.Status {
		return nil
	}
	old := phase.Status
	if err := tx.Model(phase).Update("status", derived).Error; err != nil {
		return fmt.Errorf("update phase status: %w", err)
	}
	phase.Status = derived
	return s.systemComment(tx, phase.TaskID, "Phase '%s' status changed from '%s' to '%s'", phase.Name, old, derived)
}

func loadPhase(tx *gorm.DB, id uint) (*models.Phase, error) {
	var phase models.Phase
	err := tx.Preload("Todos", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&phase, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("phase", id)
	}
	if err != nil {
		return nil, err
	}
	return &phase, nil
}
