// Package httpapi wires the Session Orchestrator, Microservice Registry,
// and Event Bus onto the core's public HTTP surface (§6), the same
// gin-route-group-plus-JSON-handler shape the teacher uses for its own
// REST edges, composed with the teacher's middleware order:
// gin.Recovery() -> cors.New(...) -> middleware.CorrelationID() ->
// otelgin.Middleware(...) -> rate-limit middleware -> routes.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robotsession/core/internal/logging"
	"github.com/robotsession/core/internal/orchestrator"
	"github.com/robotsession/core/internal/session"
)

// Registry is the subset of the Microservice Registry the HTTP layer
// depends on directly (the Orchestrator holds its own reference for the
// create-session path; this one backs POST .../register).
type Registry interface {
	Register(rec session.MicroserviceRecord)
}

// API holds the handlers' dependencies.
type API struct {
	registry     Registry
	orchestrator *orchestrator.Orchestrator
	log          *zap.Logger
}

// New builds an API over the given collaborators.
func New(registry Registry, orch *orchestrator.Orchestrator, log *zap.Logger) *API {
	return &API{registry: registry, orchestrator: orch, log: log}
}

// registerRequest is the decoded POST /api/v1/microservices/register body.
type registerRequest struct {
	ServiceID string            `json:"service_id" binding:"required"`
	Endpoint  string            `json:"endpoint" binding:"required"`
	Metadata  map[string]string `json:"metadata"`
}

// RegisterMicroservice handles POST /api/v1/microservices/register.
func (a *API) RegisterMicroservice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	a.registry.Register(session.MicroserviceRecord{
		ServiceID: req.ServiceID,
		Endpoint:  req.Endpoint,
		Metadata:  req.Metadata,
	})

	logging.Info(c.Request.Context(), "microservice registered", zap.String("service_id", req.ServiceID), zap.String("endpoint", req.Endpoint))
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"service_id": req.ServiceID,
		"message":    "registered",
	})
}

// createSessionRequest is the decoded POST /api/v1/create-session body.
type createSessionRequest struct {
	UserIdentity     string            `json:"user_identity" binding:"required"`
	UserName         string            `json:"user_name"`
	RoomName         string            `json:"room_name"`
	Metadata         map[string]string `json:"metadata"`
	RequiredServices []string          `json:"required_services"`
}

// CreateSession handles POST /api/v1/create-session.
func (a *API) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := a.orchestrator.CreateSession(c.Request.Context(), orchestrator.CreateSessionRequest{
		UserIdentity:     req.UserIdentity,
		UserName:         req.UserName,
		RoomName:         req.RoomName,
		Metadata:         req.Metadata,
		RequiredServices: req.RequiredServices,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   result.SessionID,
		"room_name":    result.RoomName,
		"access_token": result.ClientToken,
		"rtc_url":      result.RTCUrl,
		"status":       result.Status,
	})
}

// GetSession handles GET /api/v1/sessions/:id.
func (a *API) GetSession(c *gin.Context) {
	id := c.Param("id")
	s, err := a.orchestrator.GetSession(id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionSnapshot(s))
}

// TerminateSession handles DELETE /api/v1/sessions/:id.
func (a *API) TerminateSession(c *gin.Context) {
	id := c.Param("id")
	if err := a.orchestrator.Terminate(c.Request.Context(), id); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "terminating"})
}

func (a *API) writeError(c *gin.Context, err error) {
	var oerr *orchestrator.Error
	if errors.As(err, &oerr) {
		c.JSON(oerr.Kind.StatusCode(), gin.H{"error": oerr.Message, "kind": string(oerr.Kind)})
		return
	}
	logging.Error(c.Request.Context(), "unhandled httpapi error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	RoomName         string    `json:"room_name"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	RequiredServices []string  `json:"required_services"`
	ReadyServices    []string  `json:"ready_services"`
}

func sessionSnapshot(s session.Session) sessionResponse {
	ready := make([]string, 0, len(s.ReadyServices))
	for id := range s.ReadyServices {
		ready = append(ready, id)
	}
	return sessionResponse{
		SessionID:        s.ID,
		RoomName:         s.RoomName,
		Status:           string(s.Status),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		RequiredServices: s.RequiredServiceIDs(),
		ReadyServices:    ready,
	}
}
