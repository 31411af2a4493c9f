package db

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

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

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: testEpoch}
	store, err := Open(filepath.Join(t.TempDir(), "tracker.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func todos(statuses ...string) []TodoRequest {
	out := make([]TodoRequest, len(statuses))
	for i, st := range statuses {
		out[i] = TodoRequest{Name: "todo " + string(rune('a'+i)), Status: st}
	}
	return out
}

// createTask stores a task whose phases have todos with the given statuses
func createTask(t *testing.T, s *Store, name string, phases ...[]TodoRequest) *models.Task {
	t.Helper()
	req := CreateTaskRequest{Name: name}
	for i, ts := range phases {
		req.Phases = append(req.Phases, PhaseRequest{Name: "Phase " + string(rune('1'+i)), Todos: ts})
	}
	task, err := s.CreateTaskWithHierarchy(req)
	require.NoError(t, err)
	return task
}

func createAgent(t *testing.T, s *Store, name, agentType string) *models.Agent {
	t.Helper()
	agent, err := s.CreateAgent(CreateAgentRequest{Name: name, Type: agentType})
	require.NoError(t, err)
	return agent
}

func commentTexts(task *models.Task) []string {
	out := make([]string, len(task.Comments))
	for i, c := range task.Comments {
		out[i] = c.Text
	}
	return out
}

func TestOpen_DefaultsAndMigrations(t *testing.T) {
	s, _ := newTestStore(t)

	task := createTask(t, s, "defaults")
	require.Equal(t, 30, task.PingIntervalMinutes)
	require.True(t, task.PingEnabled)
	require.Equal(t, models.PriorityMedium, task.Priority)

	agent := createAgent(t, s, "w1", "")
	require.Equal(t, 30, agent.TimeoutMinutes)
	require.Equal(t, models.AgentWorker, agent.Type)
	require.Equal(t, models.AgentIdle, agent.Status)
	require.True(t, agent.Active)
}

func TestOpen_WithDefaults(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nested", "dir", "tracker.db"), WithDefaults(5, 12))
	require.NoError(t, err)
	defer store.Close()

	task, err := store.CreateTaskWithHierarchy(CreateTaskRequest{Name: "x"})
	require.NoError(t, err)
	require.Equal(t, 5, task.PingIntervalMinutes)

	agent, err := store.CreateAgent(CreateAgentRequest{Name: "a"})
	require.NoError(t, err)
	require.Equal(t, 12, agent.TimeoutMinutes)
}

func TestOpen_SecondStoreWaitsForWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	daemon, err := Open(path)
	require.NoError(t, err)
	defer daemon.Close()
	cli, err := Open(path)
	require.NoError(t, err)
	defer cli.Close()

	task := createTask(t, daemon, "shared")

	locked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- daemon.db.Transaction(func(tx *gorm.DB) error {
			if err := daemon.systemComment(tx, task.ID, "holding the write lock"); err != nil {
				return err
			}
			close(locked)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()

	<-locked
	c, err := cli.AddComment(task.ID, "written while the daemon was busy", "user")
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	require.NoError(t, <-done)

	got, err := cli.GetTask(task.ID)
	require.NoError(t, err)
	require.Contains(t, commentTexts(got), "holding the write lock")
	require.Contains(t, commentTexts(got), "written while the daemon was busy")
}
