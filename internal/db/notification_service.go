package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
)

// ListNotifications returns inbox entries, newest first. A limit of 0 or
// less returns everything.
func (s *Store) ListNotifications(unreadOnly bool, limit int) ([]models.Notification, error) {
	q := s.db.Order("created_at DESC, id DESC")
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []models.Notification
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// MarkNotificationRead marks one notification as read
func (s *Store) MarkNotificationRead(id uint) (*models.Notification, error) {
	var n models.Notification
	err := s.db.First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("notification", id)
	}
	if err != nil {
		return nil, err
	}
	if n.Read {
		return &n, nil
	}
	if err := s.db.Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error; err != nil {
		return nil, fmt.Errorf("update notification: %w", err)
	}
	n.Read = true
	return &n, nil
}

// MarkAllNotificationsRead marks every unread notification as read and
// returns how many changed
func (s *Store) MarkAllNotificationsRead() (int64, error) {
	res := s.db.Model(&models.Notification{}).Where("read = ?", false).Update("read", true)
	return res.RowsAffected, res.Error
}

// UnreadReminderCount counts unread ping reminders for a task
func (s *Store) UnreadReminderCount(taskID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.Notification{}).
		Where("task_id = ? AND type = ? AND read = ?", taskID, models.NotificationReminder, false).
		Count(&count).Error
	return count, err
}
