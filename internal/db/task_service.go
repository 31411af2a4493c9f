package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/balkashynov/tracker/internal/models"
	"github.com/balkashynov/tracker/internal/progress"
)

// CreateTaskRequest holds a task and its full phase/todo tree
type CreateTaskRequest struct {
	Name                string
	Description         string
	Priority            string // low/medium/high/critical or 1-4, empty for medium
	DueDate             *time.Time
	ContextTags         []string
	DefinitionOfDone    string
	PingIntervalMinutes int   // 0 uses the store default
	PingEnabled         *bool // nil means enabled
	Phases              []PhaseRequest
}

// PhaseRequest describes a phase to create. An empty Status is derived
// from the todos.
type PhaseRequest struct {
	Name        string
	Description string
	Status      string
	Order       *int
	Todos       []TodoRequest
}

// TodoRequest describes a todo to create
type TodoRequest struct {
	Name        string
	Description string
	Status      string
}

// TaskUpdate holds optional edits to a task's own fields
type TaskUpdate struct {
	Name                *string
	Description         *string
	Priority            *string
	DueDate             *time.Time
	ClearDueDate        bool
	PingIntervalMinutes *int
	PingEnabled         *bool
}

// TaskFilter narrows ListTasks
type TaskFilter struct {
	Status      *models.TaskStatus
	PingEnabled *bool
}

// CreateTaskWithHierarchy creates a task with its phases and todos in a
// single transaction: either the whole tree is stored or none of it.
func (s *Store) CreateTaskWithHierarchy(req CreateTaskRequest) (*models.Task, error) {
	task, err := s.buildTask(req)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if _, err := s.recomputeTask(tx, task.ID); err != nil {
			return err
		}
		return s.systemComment(tx, task.ID, "Task '%s' created with %d phase(s)", task.Name, len(task.Phases))
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(task.ID)
}

// buildTask validates a request and turns it into an unsaved task tree
func (s *Store) buildTask(req CreateTaskRequest) (models.Task, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Task{}, invalid("name", "must not be empty")
	}
	priority, ok := models.ParsePriority(req.Priority)
	if !ok {
		return models.Task{}, invalid("priority", "%q is not one of low, medium, high, critical", req.Priority)
	}
	interval := req.PingIntervalMinutes
	if interval < 0 {
		return models.Task{}, invalid("ping_interval_minutes", "must not be negative")
	}
	if interval == 0 {
		interval = s.pingIntervalMinutes
	}
	pingEnabled := true
	if req.PingEnabled != nil {
		pingEnabled = *req.PingEnabled
	}

	task := models.Task{
		Name:                name,
		Description:         req.Description,
		Priority:            priority,
		Status:              models.TaskTodo,
		DueDate:             req.DueDate,
		ContextTags:         strings.Join(cleanTags(req.ContextTags), ","),
		DefinitionOfDone:    req.DefinitionOfDone,
		PingIntervalMinutes: interval,
		PingEnabled:         pingEnabled,
	}

	for i, pr := range req.Phases {
		phase, err := buildPhase(pr, fmt.Sprintf("phases[%d]", i))
		if err != nil {
			return models.Task{}, err
		}
		if pr.Order == nil {
			phase.Order = i
		}
		task.Phases = append(task.Phases, phase)
	}
	return task, nil
}

func buildPhase(pr PhaseRequest, field string) (models.Phase, error) {
	name := strings.TrimSpace(pr.Name)
	if name == "" {
		return models.Phase{}, invalid(field+".name", "must not be empty")
	}
	phase := models.Phase{Name: name, Description: pr.Description}
	if pr.Order != nil {
		phase.Order = *pr.Order
	}

	for j, tr := range pr.Todos {
		todoField := fmt.Sprintf("%s.todos[%d]", field, j)
		todoName := strings.TrimSpace(tr.Name)
		if todoName == "" {
			return models.Phase{}, invalid(todoField+".name", "must not be empty")
		}
		status := models.TodoPending
		if tr.Status != "" {
			st, err := parseTodoStatus(tr.Status, todoField+".status")
			if err != nil {
				return models.Phase{}, err
			}
			status = st
		}
		phase.Todos = append(phase.Todos, models.Todo{Name: todoName, Description: tr.Description, Status: status})
	}

	if pr.Status == "" {
		phase.Status = progress.DeriveStatus(models.PhaseNotStarted, phase.Todos)
	} else {
		st, err := parsePhaseStatus(pr.Status, field+".status")
		if err != nil {
			return models.Phase{}, err
		}
		phase.Status = st
	}
	return phase, nil
}

// GetTask retrieves a task with its phases, todos and comments
func (s *Store) GetTask(id uint) (*models.Task, error) {
	var task models.Task
	err := preloadTree(s.db).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC, id ASC")
		}).
		First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks retrieves tasks with their phases and todos
func (s *Store) ListTasks(filter TaskFilter) ([]models.Task, error) {
	q := preloadTree(s.db).Order("id ASC")
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.PingEnabled != nil {
		q = q.Where("ping_enabled = ?", *filter.PingEnabled)
	}

	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask edits a task's own fields. Progress and status are not
// editable here.
func (s *Store) UpdateTask(id uint, upd TaskUpdate) (*models.Task, error) {
	changes := map[string]any{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		changes["name"] = name
	}
	if upd.Description != nil {
		changes["description"] = *upd.Description
	}
	if upd.Priority != nil {
		p, ok := models.ParsePriority(*upd.Priority)
		if !ok {
			return nil, invalid("priority", "%q is not one of low, medium, high, critical", *upd.Priority)
		}
		changes["priority"] = p
	}
	if upd.ClearDueDate {
		changes["due_date"] = nil
	} else if upd.DueDate != nil {
		changes["due_date"] = *upd.DueDate
	}
	if upd.PingIntervalMinutes != nil {
		if *upd.PingIntervalMinutes <= 0 {
			return nil, invalid("ping_interval_minutes", "must be positive")
		}
		changes["ping_interval_minutes"] = *upd.PingIntervalMinutes
	}
	if upd.PingEnabled != nil {
		changes["ping_enabled"] = *upd.PingEnabled
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, &models.Task{}, "task", id); err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}
		return tx.Model(&models.Task{}).Where("id = ?", id).Updates(changes).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(id)
}

// SetTaskStatus changes a task's status. Marking a task done is refused
// unless every phase is completed, and closes its active assignment.
func (s *Store) SetTaskStatus(id uint, status string) (*models.Task, error) {
	st := models.TaskStatus(strings.ToLower(strings.TrimSpace(status)))
	if !st.Valid() {
		return nil, invalid("status", "%q is not one of todo, in_progress, done", status)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		task, err := loadTaskTree(tx, id)
		if err != nil {
			return err
		}
		if st == models.TaskDone {
			if err := completionGuard(task); err != nil {
				return err
			}
		}
		if task.Status == st {
			return nil
		}

		if err := tx.Model(&models.Task{}).Where("id = ?", id).Update("status", st).Error; err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if err := s.systemComment(tx, id, "Task status changed from '%s' to '%s'", task.Status, st); err != nil {
			return err
		}
		if st == models.TaskDone {
			return s.closeActiveAssignment(tx, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(id)
}

// completionGuard lists every phase that keeps the task from being done
func completionGuard(task *models.Task) error {
	if len(task.Phases) == 0 {
		return &ConflictError{Reason: "cannot mark task as done: task has no phases"}
	}
	if progress.AllCompleted(task.Phases) {
		return nil
	}

	var blocking []BlockingPhase
	for _, p := range task.Phases {
		if p.Status != models.PhaseCompleted {
			blocking = append(blocking, BlockingPhase{ID: p.ID, Name: p.Name, Status: p.Status})
		}
	}
	return &ConflictError{
		Reason: fmt.Sprintf("cannot mark task as done: %d of %d phases remain incomplete",
			len(blocking), len(task.Phases)),
		BlockingPhases: blocking,
	}
}

// DeleteTask removes a task with its phases, todos, comments, assignment
// history and notifications. The active assignment fails first so its
// agent is released.
func (s *Store) DeleteTask(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, &models.Task{}, "task", id); err != nil {
			return err
		}

		active, err := activeAssignment(tx, id)
		if err != nil {
			return err
		}
		if active != nil {
			if err := s.closeAssignment(tx, active, models.AssignmentFailed); err != nil {
				return fmt.Errorf("release agent: %w", err)
			}
		}

		phaseIDs := tx.Model(&models.Phase{}).Select("id").Where("task_id = ?", id)
		if err := tx.Where("phase_id IN (?)", phaseIDs).Delete(&models.Todo{}).Error; err != nil {
			return fmt.Errorf("delete todos: %w", err)
		}
		for _, child := range []any{&models.Phase{}, &models.Comment{}, &models.TaskAssignment{}, &models.Notification{}} {
			if err := tx.Where("task_id = ?", id).Delete(child).Error; err != nil {
				return fmt.Errorf("delete task children: %w", err)
			}
		}

		return tx.Delete(&models.Task{}, id).Error
	})
}

// recomputeTask stores the task's progress and keeps its status in step:
// any progress moves a todo task to in_progress, and a done task whose
// phases are no longer all completed is reopened.
func (s *Store) recomputeTask(tx *gorm.DB, taskID uint) (*models.Task, error) {
	task, err := loadTaskTree(tx, taskID)
	if err != nil {
		return nil, err
	}

	newProgress := progress.Compute(task.Phases)
	newStatus := task.Status
	switch {
	case task.Status == models.TaskDone && !progress.AllCompleted(task.Phases):
		newStatus = models.TaskInProgress
	case task.Status == models.TaskTodo && newProgress > 0:
		newStatus = models.TaskInProgress
	}

	if newProgress == task.Progress && newStatus == task.Status {
		return task, nil
	}
	err = tx.Model(&models.Task{}).Where("id = ?", taskID).
		Updates(map[string]any{"progress": newProgress, "status": newStatus}).Error
	if err != nil {
		return nil, fmt.Errorf("update task progress: %w", err)
	}
	if newStatus != task.Status {
		if err := s.systemComment(tx, taskID, "Task status changed from '%s' to '%s'", task.Status, newStatus); err != nil {
			return nil, err
		}
	}
	task.Progress = newProgress
	task.Status = newStatus
	return task, nil
}

func preloadTree(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Phases", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		Preload("Phases.Todos", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		})
}

func loadTaskTree(tx *gorm.DB, id uint) (*models.Task, error) {
	var task models.Task
	err := preloadTree(tx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func ensureExists(tx *gorm.DB, model any, entity string, id uint) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound(entity, id)
	}
	return nil
}

func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseTodoStatus(s, field string) (models.TodoStatus, error) {
	st := models.TodoStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", invalid(field, "%q is not one of todo, in_progress, done", s)
	}
	return st, nil
}

func parsePhaseStatus(s, field string) (models.PhaseStatus, error) {
	st := models.PhaseStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", invalid(field, "%q is not one of not_started, in_progress, completed, blocked", s)
	}
	return st, nil
}
