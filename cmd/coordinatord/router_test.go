package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/internal/testdb"
	"github.com/agentmesh/coordinator/pkg/conversation"
	"github.com/agentmesh/coordinator/pkg/coordsvc"
	"github.com/agentmesh/coordinator/pkg/events"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/meeting"
	"github.com/agentmesh/coordinator/pkg/messenger"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/agentmesh/coordinator/pkg/waiter"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := testdb.NewClient(t)
	s := store.New(client.Pool)
	h := handler.NewRegistry(time.Second, time.Second, nil)
	bus := events.NewBus(nil)
	w := waiter.NewTable()

	coord := &coordsvc.Coordinator{
		DB:           client,
		Store:        s,
		Handlers:     h,
		Bus:          bus,
		Waiters:      w,
		Messenger:    messenger.New(s, h),
		Conversation: conversation.New(client.Pool, s, h, w, nil, nil, 5*time.Second, 30*time.Second, 100*time.Millisecond),
		Meeting:      meeting.New(client.Pool, s, h, bus, nil, nil, time.Second, 10*time.Second, 10),
	}
	t.Cleanup(coord.Meeting.Shutdown)
	t.Cleanup(coord.Handlers.Shutdown)

	return newRouter(coord)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReportsHealthyWithLiveDatabase(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestOrganizationAndAgentRoutes_CreateSucceeds(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/organizations", map[string]any{
		"external_id": "org-http", "name": "HTTP Org",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{
		"organization_external_id": "org-http", "external_id": "agent-http", "name": "HTTP Agent",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAgentRoute_UnknownOrganizationReturnsNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{
		"organization_external_id": "does-not-exist", "external_id": "agent-x", "name": "X",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageRoutes_SendOneWayWithoutHandlerReturnsServiceUnavailable(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/organizations", map[string]any{"external_id": "org-m", "name": "M"})
	doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{"organization_external_id": "org-m", "external_id": "sndr", "name": "S"})
	doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{"organization_external_id": "org-m", "external_id": "rcpt", "name": "R"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/messages/send", map[string]any{
		"sender_external_id": "sndr", "recipient_external_ids": []string{"rcpt"}, "content": map[string]any{"text": "hi"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMeetingRoutes_CreateAttendStartGet(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/organizations", map[string]any{"external_id": "org-mtg", "name": "M"})
	doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{"organization_external_id": "org-mtg", "external_id": "host", "name": "Host"})
	doJSON(t, router, http.MethodPost, "/api/v1/agents", map[string]any{"organization_external_id": "org-mtg", "external_id": "p1", "name": "P1"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/meetings", map[string]any{
		"host_external_id": "host", "participant_external_ids": []string{"p1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	meetingID, _ := created["ID"].(string)
	require.NotEmpty(t, meetingID)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/meetings/"+meetingID+"/attend", map[string]any{"agent_external_id": "p1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/meetings/"+meetingID+"/start", map[string]any{"agent_external_id": "host"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/meetings/"+meetingID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeetingRoutes_InvalidIDReturnsBadRequest(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/meetings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
