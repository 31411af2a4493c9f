package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
)

// AddComment appends a comment to a task's audit trail. An empty author
// defaults to user.
func (s *Store) AddComment(taskID uint, text, author string) (*models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "must not be empty")
	}
	a := models.Author(strings.ToLower(strings.TrimSpace(author)))
	if a == "" {
		a = models.AuthorUser
	}
	if !a.Valid() {
		return nil, invalid("author", "%q is not one of user, agent, system", author)
	}

	var comment *models.Comment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, &models.Task{}, "task", taskID); err != nil {
			return err
		}
		c, err := s.appendComment(tx, taskID, a, text)
		comment = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// ListComments returns a task's comments, oldest first
func (s *Store) ListComments(taskID uint) ([]models.Comment, error) {
	if err := ensureExists(s.db, &models.Task{}, "task", taskID); err != nil {
		return nil, err
	}
	var comments []models.Comment
	err := s.db.Where("task_id = ?", taskID).Order("timestamp ASC, id ASC").Find(&comments).Error
	return comments, err
}

func (s *Store) appendComment(tx *gorm.DB, taskID uint, author models.Author, text string) (*models.Comment, error) {
	comment := models.Comment{
		TaskID:    taskID,
		Text:      text,
		Author:    author,
		Timestamp: s.clock(),
	}
	if err := tx.Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return &comment, nil
}

// systemComment records an automatic audit entry
func (s *Store) systemComment(tx *gorm.DB, taskID uint, format string, args ...any) error {
	_, err := s.appendComment(tx, taskID, models.AuthorSystem, fmt.Sprintf(format, args...))
	return err
}
