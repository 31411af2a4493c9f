package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/balkashynov/tracker/internal/models"
)

// ValidationError reports a malformed value or a missing required field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown task, phase, todo, agent or assignment
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	if e.ID == nil || e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// BlockingPhase identifies a phase that keeps its task from being done
type BlockingPhase struct {
	ID     uint               `json:"id"`
	Name   string             `json:"name"`
	Status models.PhaseStatus `json:"status"`
}

// ConflictError reports a request that is well-formed but not allowed in
// the current state. Completion-guard violations carry the blocking phases.
type ConflictError struct {
	Reason         string
	BlockingPhases []BlockingPhase
}

func (e *ConflictError) Error() string {
	if len(e.BlockingPhases) == 0 {
		return e.Reason
	}
	parts := make([]string, len(e.BlockingPhases))
	for i, p := range e.BlockingPhases {
		parts[i] = fmt.Sprintf("%s (%s)", p.Name, p.Status)
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(parts, ", "))
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func notFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}
