package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmesh/coordinator/pkg/coordsvc"
	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/version"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// mapCoordinatorError maps pkg/errs sentinel and typed errors to HTTP status
// codes, mirroring the teacher's mapServiceError dispatch table.
func mapCoordinatorError(c *gin.Context, err error) {
	var validErr *errs.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}

	switch {
	case errors.Is(err, errs.ErrAgentNotFound), errors.Is(err, errs.ErrOrganizationNotFound), errors.Is(err, errs.ErrMeetingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrSessionState), errors.Is(err, errs.ErrMeetingState), errors.Is(err, errs.ErrMeetingNotActive), errors.Is(err, errs.ErrNotYourTurn):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrMeetingPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, errs.ErrHandlerTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrLockUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "resource is busy, retry"})
	case errors.Is(err, errs.ErrNoHandlerRegistered):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("unexpected coordinator error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func newRouter(coord *coordsvc.Coordinator) *gin.Engine {
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := coord.Health(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "version": version.Full(), "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
	})

	if coord.Metrics != nil {
		router.GET("/metrics", gin.WrapH(coord.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	registerOrgRoutes(v1, coord)
	registerMessageRoutes(v1, coord)
	registerMeetingRoutes(v1, coord)

	return router
}

type createOrganizationRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

type createAgentRequest struct {
	OrganizationExternalID string `json:"organization_external_id"`
	ExternalID             string `json:"external_id"`
	Name                   string `json:"name"`
}

func registerOrgRoutes(g *gin.RouterGroup, coord *coordsvc.Coordinator) {
	g.POST("/organizations", func(c *gin.Context) {
		var req createOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		org, err := coord.RegisterOrganization(c.Request.Context(), req.ExternalID, req.Name)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusCreated, org)
	})

	g.POST("/agents", func(c *gin.Context) {
		var req createAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		agent, err := coord.RegisterAgent(c.Request.Context(), req.OrganizationExternalID, req.ExternalID, req.Name)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusCreated, agent)
	})
}

type sendOneWayRequest struct {
	SenderExternalID      string         `json:"sender_external_id"`
	RecipientExternalIDs  []string       `json:"recipient_external_ids"`
	Content               map[string]any `json:"content"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

type sendAndWaitRequest struct {
	SenderExternalID    string         `json:"sender_external_id"`
	RecipientExternalID string         `json:"recipient_external_id"`
	Message             any            `json:"message"`
	TimeoutSeconds       int            `json:"timeout_seconds,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

type sendNoWaitRequest struct {
	SenderExternalID    string         `json:"sender_external_id"`
	RecipientExternalID string         `json:"recipient_external_id"`
	Message             any            `json:"message"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

type getOrWaitRequest struct {
	ReceiverExternalID string `json:"receiver_external_id"`
	SenderExternalID   string `json:"sender_external_id"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty"`
}

type endConversationRequest struct {
	AgentExternalID string `json:"agent_external_id"`
	PeerExternalID  string `json:"peer_external_id"`
}

func registerMessageRoutes(g *gin.RouterGroup, coord *coordsvc.Coordinator) {
	g.POST("/messages/send", func(c *gin.Context) {
		var req sendOneWayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ids, err := coord.SendOneWay(c.Request.Context(), req.SenderExternalID, req.RecipientExternalIDs, req.Content, req.Metadata)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message_ids": ids})
	})

	g.POST("/messages/send_and_wait", func(c *gin.Context) {
		var req sendAndWaitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reply, err := coord.SendAndWait(c.Request.Context(), req.SenderExternalID, req.RecipientExternalID, req.Message, timeoutOrZero(req.TimeoutSeconds), req.Metadata)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	})

	g.POST("/messages/send_no_wait", func(c *gin.Context) {
		var req sendNoWaitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := coord.SendNoWait(c.Request.Context(), req.SenderExternalID, req.RecipientExternalID, req.Message, req.Metadata)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message_id": id})
	})

	g.POST("/messages/get_or_wait", func(c *gin.Context) {
		var req getOrWaitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := coord.GetOrWaitForResponse(c.Request.Context(), req.ReceiverExternalID, req.SenderExternalID, timeoutOrZero(req.TimeoutSeconds))
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, msg)
	})

	g.POST("/conversations/end", func(c *gin.Context) {
		var req endConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := coord.EndConversation(c.Request.Context(), req.AgentExternalID, req.PeerExternalID); err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ended"})
	})
}

type createMeetingRequest struct {
	HostExternalID         string   `json:"host_external_id"`
	ParticipantExternalIDs []string `json:"participant_external_ids"`
	TurnDurationSeconds    int      `json:"turn_duration_seconds,omitempty"`
}

type meetingAgentRequest struct {
	AgentExternalID string `json:"agent_external_id"`
}

type speakRequest struct {
	AgentExternalID string         `json:"agent_external_id"`
	Message         any            `json:"message"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	WaitForTurn     bool           `json:"wait_for_turn"`
}

func registerMeetingRoutes(g *gin.RouterGroup, coord *coordsvc.Coordinator) {
	g.POST("/meetings", func(c *gin.Context) {
		var req createMeetingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var turnDuration *time.Duration
		if req.TurnDurationSeconds > 0 {
			d := time.Duration(req.TurnDurationSeconds) * time.Second
			turnDuration = &d
		}
		meeting, err := coord.CreateMeeting(c.Request.Context(), req.HostExternalID, req.ParticipantExternalIDs, turnDuration)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusCreated, meeting)
	})

	g.GET("/meetings/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
			return
		}
		meeting, err := coord.GetMeeting(c.Request.Context(), id)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, meeting)
	})

	g.GET("/meetings/:id/participants", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
			return
		}
		participants, err := coord.ListParticipants(c.Request.Context(), id)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, participants)
	})

	g.POST("/meetings/:id/attend", meetingAgentHandler(coord, func(ctx *gin.Context, id uuid.UUID, ext string) error {
		return coord.AttendMeeting(ctx.Request.Context(), ext, id)
	}))
	g.POST("/meetings/:id/start", meetingAgentHandler(coord, func(ctx *gin.Context, id uuid.UUID, ext string) error {
		return coord.StartMeeting(ctx.Request.Context(), ext, id)
	}))
	g.POST("/meetings/:id/leave", meetingAgentHandler(coord, func(ctx *gin.Context, id uuid.UUID, ext string) error {
		return coord.LeaveMeeting(ctx.Request.Context(), ext, id)
	}))
	g.POST("/meetings/:id/end", meetingAgentHandler(coord, func(ctx *gin.Context, id uuid.UUID, ext string) error {
		return coord.EndMeeting(ctx.Request.Context(), ext, id)
	}))

	g.POST("/meetings/:id/speak", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
			return
		}
		var req speakRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		messageID, missed, err := coord.Speak(c.Request.Context(), req.AgentExternalID, id, req.Message, req.Metadata, req.WaitForTurn)
		if err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message_id": messageID, "missed_messages": missed})
	})
}

func meetingAgentHandler(coord *coordsvc.Coordinator, fn func(c *gin.Context, id uuid.UUID, externalID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
			return
		}
		var req meetingAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := fn(c, id, req.AgentExternalID); err != nil {
			mapCoordinatorError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func timeoutOrZero(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
