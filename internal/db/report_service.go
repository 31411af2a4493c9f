package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
)

// ReportItem is one entry of a progress report. It carries a comment, a
// todo status change, a phase status change, or a comment plus a change.
type ReportItem struct {
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
	Author  string `json:"author,omitempty" yaml:"author,omitempty"`
	TodoID  *uint  `json:"todo_id,omitempty" yaml:"todo_id,omitempty"`
	PhaseID *uint  `json:"phase_id,omitempty" yaml:"phase_id,omitempty"`
	Status  string `json:"status,omitempty" yaml:"status,omitempty"`
}

// ApplyReport applies a batch of updates to one task in a single
// transaction. A failing item rolls back the whole report.
func (s *Store) ApplyReport(taskID uint, items []ReportItem) (*models.Task, error) {
	if len(items) == 0 {
		return nil, invalid("report", "must contain at least one item")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, &models.Task{}, "task", taskID); err != nil {
			return err
		}
		for i, item := range items {
			if err := s.applyReportItem(tx, taskID, item, fmt.Sprintf("report[%d]", i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(taskID)
}

func (s *Store) applyReportItem(tx *gorm.DB, taskID uint, item ReportItem, field string) error {
	if item.TodoID != nil && item.PhaseID != nil {
		return invalid(field, "todo_id and phase_id are mutually exclusive")
	}
	if (item.TodoID != nil || item.PhaseID != nil) && item.Status == "" {
		return invalid(field+".status", "must not be empty")
	}
	if item.TodoID == nil && item.PhaseID == nil && strings.TrimSpace(item.Comment) == "" {
		return invalid(field, "needs a comment, a todo_id or a phase_id")
	}

	if text := strings.TrimSpace(item.Comment); text != "" {
		author := models.Author(strings.ToLower(item.Author))
		if author == "" {
			author = models.AuthorAgent
		}
		if !author.Valid() {
			return invalid(field+".author", "%q is not one of user, agent, system", item.Author)
		}
		if _, err := s.appendComment(tx, taskID, author, text); err != nil {
			return err
		}
	}

	switch {
	case item.TodoID != nil:
		st, err := parseTodoStatus(item.Status, field+".status")
		if err != nil {
			return err
		}
		var todo models.Todo
		err = tx.Joins("JOIN phases ON phases.id = todos.phase_id").
			Where("todos.id = ? AND phases.task_id = ?", *item.TodoID, taskID).
			First(&todo).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("todo", *item.TodoID)
		}
		if err != nil {
			return err
		}
		return s.setTodoStatus(tx, &todo, st)

	case item.PhaseID != nil:
		st, err := parsePhaseStatus(item.Status, field+".status")
		if err != nil {
			return err
		}
		phase, err := loadPhase(tx, *item.PhaseID)
		if err != nil {
			return err
		}
		if phase.TaskID != taskID {
			return notFound("phase", *item.PhaseID)
		}
		return s.setPhaseStatus(tx, phase, st)
	}
	return nil
}
