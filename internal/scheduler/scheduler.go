// Package scheduler runs the ping loop: every tick it scans all pingable
// tasks, assigns unowned ones, pings agents that owe an acknowledgment,
// wakes expired snoozes and escalates agents that went silent.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/models"
)

// Store is the part of the persistent store the scheduler drives. All
// agent and assignment mutations go through it.
type Store interface {
	Now() time.Time
	SchedulableTaskIDs() ([]uint, error)
	Snapshot(taskID uint) (*db.TaskSnapshot, error)
	AutoAssign(taskID uint) (*models.TaskAssignment, error)
	Escalate(assignmentID uint) (*db.EscalationResult, error)
	WakeSnoozed(assignmentID uint) (bool, error)
	RecordPing(assignmentID uint, pingID, message string) error
}

// Config controls the loop cadence and how hard a tick may fan out
type Config struct {
	Interval    time.Duration
	PingTimeout time.Duration
	Concurrency int
}

// DefaultConfig returns the reference cadence: 30s ticks, 10s pings
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		PingTimeout: 10 * time.Second,
		Concurrency: 8,
	}
}

// TickStats summarises one pass over the tasks
type TickStats struct {
	Tasks           int
	Assigned        int
	Pinged          int
	PingFailures    int
	Woken           int
	Escalated       int
	PrimaryTimeouts int
	Errors          int
}

func (t TickStats) quiet() bool {
	return t.Assigned+t.Pinged+t.PingFailures+t.Woken+t.Escalated+t.PrimaryTimeouts+t.Errors == 0
}

// Scheduler is the periodic ping loop
type Scheduler struct {
	store    Store
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	newID    func() string
}

// New builds a scheduler. Zero config fields fall back to DefaultConfig.
func New(store Store, notifier Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Run ticks until ctx is cancelled. A tick that is already running when
// ctx is cancelled finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("ping_timeout", s.cfg.PingTimeout),
		slog.Int("concurrency", s.cfg.Concurrency))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	// the tick must not be cut short by shutdown
	stats, err := s.Tick(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Error("tick failed", slog.Any("err", err))
		return
	}
	level := slog.LevelInfo
	if stats.quiet() {
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, "tick complete",
		slog.Int("tasks", stats.Tasks),
		slog.Int("assigned", stats.Assigned),
		slog.Int("pinged", stats.Pinged),
		slog.Int("ping_failures", stats.PingFailures),
		slog.Int("woken", stats.Woken),
		slog.Int("escalated", stats.Escalated),
		slog.Int("primary_timeouts", stats.PrimaryTimeouts),
		slog.Int("errors", stats.Errors))
}

// Tick evaluates every pingable task once. Tasks are processed
// concurrently and independently: a failure on one task is logged and
// counted, never returned. The error is only for failing to list tasks.
func (s *Scheduler) Tick(ctx context.Context) (TickStats, error) {
	ids, err := s.store.SchedulableTaskIDs()
	if err != nil {
		return TickStats{}, fmt.Errorf("list schedulable tasks: %w", err)
	}

	var (
		mu    sync.Mutex
		stats = TickStats{Tasks: len(ids)}
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			var ts TickStats
			if err := s.safeProcess(ctx, id, &ts); err != nil {
				ts.Errors++
				s.logger.Error("task processing failed", slog.Uint64("task_id", uint64(id)), slog.Any("err", err))
			}
			mu.Lock()
			stats.add(ts)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return stats, nil
}

func (t *TickStats) add(o TickStats) {
	t.Assigned += o.Assigned
	t.Pinged += o.Pinged
	t.PingFailures += o.PingFailures
	t.Woken += o.Woken
	t.Escalated += o.Escalated
	t.PrimaryTimeouts += o.PrimaryTimeouts
	t.Errors += o.Errors
}

func (s *Scheduler) safeProcess(ctx context.Context, taskID uint, ts *TickStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.processTask(ctx, taskID, ts)
}

// processTask drives one task's active assignment through at most one
// state transition and then pings it if a ping is due
func (s *Scheduler) processTask(ctx context.Context, taskID uint, ts *TickStats) error {
	snap, err := s.store.Snapshot(taskID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil // deleted since the scan started
		}
		return err
	}
	if snap.Task.Status.IsTerminal() || !snap.Task.PingEnabled {
		return nil
	}
	log := s.logger.With(slog.Uint64("task_id", uint64(taskID)))

	a := snap.Assignment
	switch {
	case a == nil:
		created, err := s.store.AutoAssign(taskID)
		if err != nil {
			if db.IsNotFound(err) {
				log.Debug("no agent available for assignment")
				return nil
			}
			return fmt.Errorf("assign: %w", err)
		}
		if created == nil {
			log.Debug("task was assigned since the snapshot")
			return nil
		}
		ts.Assigned++
		log.Info("task assigned", slog.String("agent", created.AgentName))
		return s.refreshAndPing(ctx, log, taskID, ts)

	case a.Status == models.AssignmentSnoozed:
		woken, err := s.store.WakeSnoozed(a.ID)
		if err != nil {
			return fmt.Errorf("wake: %w", err)
		}
		if !woken {
			return nil
		}
		ts.Woken++
		log.Info("snooze expired", slog.String("agent", a.AgentName))
		return s.refreshAndPing(ctx, log, taskID, ts)

	case a.Status == models.AssignmentAcknowledged:
		if snap.Agent != nil && db.TimedOut(snap.Agent, a, s.store.Now()) {
			res, err := s.store.Escalate(a.ID)
			if err != nil {
				return fmt.Errorf("escalate: %w", err)
			}
			switch res.Outcome {
			case db.EscalationEscalated:
				ts.Escalated++
				log.Info("assignment escalated",
					slog.String("from", a.AgentName),
					slog.String("to", res.NewAssignment.AgentName),
					slog.Int("escalation_count", res.NewAssignment.EscalationCount))
				return s.refreshAndPing(ctx, log, taskID, ts)
			case db.EscalationPrimaryTimedOut:
				ts.PrimaryTimeouts++
				log.Warn("primary agent timed out, no escalation target", slog.String("agent", a.AgentName))
			}
			// a timed out primary keeps getting pinged
			return s.refreshAndPing(ctx, log, taskID, ts)
		}
		return nil

	default:
		return s.pingIfDue(ctx, log, snap, ts)
	}
}

func (s *Scheduler) refreshAndPing(ctx context.Context, log *slog.Logger, taskID uint, ts *TickStats) error {
	snap, err := s.store.Snapshot(taskID)
	if err != nil {
		return err
	}
	return s.pingIfDue(ctx, log, snap, ts)
}

// pingIfDue pings a pending assignment, or an acknowledged one whose agent
// is in an open timeout episode, once per ping interval
func (s *Scheduler) pingIfDue(ctx context.Context, log *slog.Logger, snap *db.TaskSnapshot, ts *TickStats) error {
	a, agent := snap.Assignment, snap.Agent
	if a == nil || agent == nil {
		return nil
	}
	var message string
	switch {
	case a.Status == models.AssignmentPending:
		message = fmt.Sprintf("Task #%d '%s' is waiting for your acknowledgment", snap.Task.ID, snap.Task.Name)
	case a.Status == models.AssignmentAcknowledged && a.TimedOutAt != nil:
		message = fmt.Sprintf("Task #%d '%s' has had no acknowledgment for more than %d minute(s)",
			snap.Task.ID, snap.Task.Name, agent.TimeoutMinutes)
	default:
		return nil
	}
	if !a.PingDue(s.store.Now(), snap.Task.PingInterval()) {
		return nil
	}

	ping := Ping{
		ID:           s.newID(),
		TaskID:       snap.Task.ID,
		TaskName:     snap.Task.Name,
		AssignmentID: a.ID,
		AgentID:      agent.ID,
		AgentName:    agent.Name,
		Status:       string(a.Status),
		Progress:     snap.Task.Progress,
		Message:      message,
		SentAt:       s.store.Now(),
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()
	if err := s.notifier.Notify(pctx, agent.Endpoint, ping); err != nil {
		ts.PingFailures++
		log.Warn("ping failed, retrying next tick",
			slog.String("agent", agent.Name),
			slog.String("endpoint", agent.Endpoint),
			slog.Any("err", err))
		return nil
	}
	if err := s.store.RecordPing(a.ID, ping.ID, message); err != nil {
		return fmt.Errorf("record ping: %w", err)
	}
	ts.Pinged++
	log.Debug("ping sent", slog.String("agent", agent.Name), slog.String("ping_id", ping.ID))
	return nil
}
