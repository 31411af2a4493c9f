package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier_PostsJSON(t *testing.T) {
	var got Ping
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Ping-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(time.Second)
	err := n.Notify(context.Background(), srv.URL, Ping{ID: "abc", TaskID: 7, AgentName: "w1"})
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.TaskID)
	assert.Equal(t, "w1", got.AgentName)
}

func TestHTTPNotifier_Failures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	n := NewHTTPNotifier(50 * time.Millisecond)

	err := n.Notify(context.Background(), failing.URL, Ping{ID: "x"})
	require.Error(t, err)
	var terr *TransientIOError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)

	err = n.Notify(context.Background(), slow.URL, Ping{ID: "x"})
	assert.True(t, IsTransient(err), "timeouts are transient")

	err = n.Notify(context.Background(), "ftp://agent", Ping{ID: "x"})
	assert.True(t, IsTransient(err))
}

func TestHTTPNotifier_EmptyEndpointUsesInbox(t *testing.T) {
	n := NewHTTPNotifier(time.Second)
	assert.NoError(t, n.Notify(context.Background(), "", Ping{ID: "x"}))
}
