package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu    sync.Mutex
	pings []Ping
	fail  map[string]bool // endpoints that refuse pings
}

func (n *fakeNotifier) Notify(_ context.Context, endpoint string, ping Ping) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[endpoint] {
		return &TransientIOError{Endpoint: endpoint, StatusCode: 503}
	}
	n.pings = append(n.pings, ping)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pings)
}

func (n *fakeNotifier) last() Ping {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pings[len(n.pings)-1]
}

type harness struct {
	store    *db.Store
	clock    *fakeClock
	notifier *fakeNotifier
	sched    *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store, err := db.Open(filepath.Join(t.TempDir(), "tracker.db"), db.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &fakeNotifier{fail: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := New(store, notifier, Config{Concurrency: 4}, logger)
	n := 0
	sched.newID = func() string { n++; return fmt.Sprintf("ping-%d", n) }
	return &harness{store: store, clock: clock, notifier: notifier, sched: sched}
}

func (h *harness) tick(t *testing.T) TickStats {
	t.Helper()
	stats, err := h.sched.Tick(context.Background())
	require.NoError(t, err)
	return stats
}

func (h *harness) task(t *testing.T, name string) *models.Task {
	t.Helper()
	task, err := h.store.CreateTaskWithHierarchy(db.CreateTaskRequest{
		Name:                name,
		PingIntervalMinutes: 10,
		Phases:              []db.PhaseRequest{{Name: "only", Todos: []db.TodoRequest{{Name: "do it"}}}},
	})
	require.NoError(t, err)
	return task
}

func (h *harness) agent(t *testing.T, name, agentType, endpoint string) *models.Agent {
	t.Helper()
	agent, err := h.store.CreateAgent(db.CreateAgentRequest{Name: name, Type: agentType, Endpoint: endpoint})
	require.NoError(t, err)
	return agent
}

func TestTick_AssignsAndPings(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "write docs")
	w := h.agent(t, "w", "worker", "http://w.invalid/ping")

	stats := h.tick(t)
	assert.Equal(t, 1, stats.Tasks)
	assert.Equal(t, 1, stats.Assigned)
	assert.Equal(t, 1, stats.Pinged)

	require.Equal(t, 1, h.notifier.count())
	ping := h.notifier.last()
	assert.Equal(t, task.ID, ping.TaskID)
	assert.Equal(t, w.ID, ping.AgentID)
	assert.Equal(t, "pending", ping.Status)

	active, err := h.store.ActiveAssignment(task.ID)
	require.NoError(t, err)
	require.NotNil(t, active.LastPingSentAt)
}

func TestTick_PingsOncePerInterval(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "t")
	h.agent(t, "w", "worker", "")

	h.tick(t)
	h.clock.Advance(5 * time.Minute)
	stats := h.tick(t)
	assert.Zero(t, stats.Pinged, "interval not yet elapsed")

	h.clock.Advance(5 * time.Minute)
	stats = h.tick(t)
	assert.Equal(t, 1, stats.Pinged)

	history, err := h.store.AssignmentHistory(task.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "pinging never creates assignments")

	got, _ := h.store.GetTask(task.ID)
	assigned := 0
	for _, c := range got.Comments {
		if c.Text == "Task assigned to agent 'w'" {
			assigned++
		}
	}
	assert.Equal(t, 1, assigned, "pings add no comments")

	n, err := h.store.UnreadReminderCount(task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestTick_PingFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "t")
	h.agent(t, "w", "worker", "http://down.invalid")
	h.notifier.fail["http://down.invalid"] = true

	stats := h.tick(t)
	assert.Equal(t, 1, stats.PingFailures)
	assert.Zero(t, stats.Errors)

	active, _ := h.store.ActiveAssignment(task.ID)
	assert.Equal(t, models.AssignmentPending, active.Status)
	assert.Nil(t, active.LastPingSentAt, "failed pings leave the assignment untouched")

	h.notifier.fail["http://down.invalid"] = false
	stats = h.tick(t)
	assert.Equal(t, 1, stats.Pinged)
}

func TestTick_EscalatesTimedOutWorker(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "t")
	x := h.agent(t, "X", "worker", "")
	boss := h.agent(t, "boss", "primary", "http://boss.invalid")

	h.tick(t)
	_, err := h.store.Acknowledge(x.ID, task.ID)
	require.NoError(t, err)

	h.clock.Advance(29 * time.Minute)
	stats := h.tick(t)
	assert.Zero(t, stats.Escalated)

	h.clock.Advance(2 * time.Minute)
	stats = h.tick(t)
	assert.Equal(t, 1, stats.Escalated)
	assert.Equal(t, 1, stats.Pinged, "the new assignment is pinged in the same tick")

	active, err := h.store.ActiveAssignment(task.ID)
	require.NoError(t, err)
	assert.Equal(t, boss.ID, *active.AgentID)
	assert.Equal(t, models.AssignmentPending, active.Status)
	assert.Equal(t, 1, active.EscalationCount)
	assert.Equal(t, x.ID, *active.OriginalAgentID)
	assert.Equal(t, "boss", h.notifier.last().AgentName)
}

func TestTick_PrimaryTimeoutKeepsPinging(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "t")
	boss := h.agent(t, "boss", "primary", "")

	h.tick(t)
	_, err := h.store.Acknowledge(boss.ID, task.ID)
	require.NoError(t, err)
	before := h.notifier.count()

	h.clock.Advance(31 * time.Minute)
	stats := h.tick(t)
	assert.Equal(t, 1, stats.PrimaryTimeouts)
	assert.Equal(t, 1, stats.Pinged)

	h.clock.Advance(10 * time.Minute)
	stats = h.tick(t)
	assert.Zero(t, stats.PrimaryTimeouts, "one timeout per episode")
	assert.Equal(t, 1, stats.Pinged)
	assert.Equal(t, before+2, h.notifier.count())

	active, _ := h.store.ActiveAssignment(task.ID)
	assert.Equal(t, models.AssignmentAcknowledged, active.Status)
	assert.Equal(t, boss.ID, *active.AgentID)
}

func TestTick_SnoozeWakesAtSnoozeUntil(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "t")
	w := h.agent(t, "w", "worker", "")

	h.tick(t)
	_, err := h.store.Snooze(w.ID, task.ID, 20)
	require.NoError(t, err)
	pings := h.notifier.count()

	h.clock.Advance(15 * time.Minute)
	stats := h.tick(t)
	assert.Zero(t, stats.Woken)
	assert.Zero(t, stats.Pinged)
	active, _ := h.store.ActiveAssignment(task.ID)
	assert.Equal(t, models.AssignmentSnoozed, active.Status)

	h.clock.Advance(5 * time.Minute)
	stats = h.tick(t)
	assert.Equal(t, 1, stats.Woken)
	assert.Equal(t, 1, stats.Pinged)
	assert.Equal(t, pings+1, h.notifier.count())

	active, _ = h.store.ActiveAssignment(task.ID)
	assert.Equal(t, models.AssignmentPending, active.Status)
}

func TestTick_SkipsDoneAndDisabledTasks(t *testing.T) {
	h := newHarness(t)
	quiet := h.task(t, "quiet")
	off := false
	_, err := h.store.UpdateTask(quiet.ID, db.TaskUpdate{PingEnabled: &off})
	require.NoError(t, err)
	h.agent(t, "w", "worker", "")

	stats := h.tick(t)
	assert.Zero(t, stats.Tasks)
	assert.Zero(t, h.notifier.count())
}

func TestTick_NoAgentIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.task(t, "lonely")

	stats := h.tick(t)
	assert.Equal(t, 1, stats.Tasks)
	assert.Zero(t, stats.Assigned)
	assert.Zero(t, stats.Errors)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.task(t, "t")
	h.agent(t, "w", "worker", "")
	h.sched.cfg.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return h.notifier.count() > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// panicStore blows up while reading one task
type panicStore struct {
	*db.Store
	taskID uint
}

func (p panicStore) Snapshot(taskID uint) (*db.TaskSnapshot, error) {
	if taskID == p.taskID {
		panic("corrupt row")
	}
	return p.Store.Snapshot(taskID)
}

func TestTick_IsolatesFailingTask(t *testing.T) {
	h := newHarness(t)
	bad := h.task(t, "bad")
	good := h.task(t, "good")
	h.agent(t, "w1", "worker", "")
	h.agent(t, "w2", "worker", "")

	sched := New(panicStore{Store: h.store, taskID: bad.ID}, h.notifier, Config{Concurrency: 2},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := sched.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Tasks)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Assigned)

	active, err := h.store.ActiveAssignment(good.ID)
	require.NoError(t, err)
	assert.NotNil(t, active, "the healthy task is still processed")
}

// manualAssignStore assigns a task by hand right after the scheduler reads it
type manualAssignStore struct {
	*db.Store
	t     *testing.T
	agent string
}

func (m manualAssignStore) Snapshot(taskID uint) (*db.TaskSnapshot, error) {
	snap, err := m.Store.Snapshot(taskID)
	if err != nil {
		return nil, err
	}
	_, err = m.Store.AssignTask(taskID, m.agent)
	require.NoError(m.t, err)
	return snap, nil
}

func TestTick_KeepsAssignmentMadeAfterSnapshot(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, "contested")
	h.agent(t, "auto", "worker", "")
	h.agent(t, "chosen", "worker", "")

	sched := New(manualAssignStore{Store: h.store, t: t, agent: "chosen"}, h.notifier, Config{Concurrency: 1},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Assigned)
	assert.Equal(t, 0, stats.Errors)

	active, err := h.store.ActiveAssignment(task.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "chosen", active.AgentName)
	assert.Equal(t, models.AssignmentPending, active.Status)

	history, err := h.store.AssignmentHistory(task.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the manual assignment is not superseded")
}
