package http

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
	"github.com/holee9/hnvue-console-sub002/internal/eventbus"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
	"github.com/holee9/hnvue-console-sub002/internal/interlock"
	"github.com/holee9/hnvue-console-sub002/internal/session"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	session    *session.Session
	bus        *eventbus.Bus
	interlocks hardware.InterlockSource
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(sess *session.Session, bus *eventbus.Bus, interlocks hardware.InterlockSource, logger *zap.Logger) *Handlers {
	return &Handlers{
		session:    sess,
		bus:        bus,
		interlocks: interlocks,
		logger:     logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// TransitionRequest is the body of a transition attempt
type TransitionRequest struct {
	Trigger string        `json:"trigger" binding:"required"`
	Input   session.Input `json:"input"`
}

// AuthorizeRetakeRequest is the body of a retake authorization
type AuthorizeRetakeRequest struct {
	RejectionID  string `json:"rejection_id" binding:"required"`
	SupervisorID string `json:"supervisor_id"`
}

// SetInterlockRequest is the body of a simulated interlock change
type SetInterlockRequest struct {
	Value bool `json:"value"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"state":     h.session.CurrentState().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// TryTransition handles POST /api/v1/workflow/transition
func (h *Handlers) TryTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	trigger := workflow.Trigger(req.Trigger)
	if !trigger.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unknown trigger: " + req.Trigger})
		return
	}

	result := h.session.TryTransition(c.Request.Context(), trigger, req.Input)
	c.JSON(statusForOutcome(result.Outcome), Response{Success: result.Succeeded(), Data: result})
}

func statusForOutcome(outcome workflow.Outcome) int {
	switch outcome {
	case workflow.OutcomeSuccess:
		return http.StatusOK
	case workflow.OutcomeInvalidState, workflow.OutcomeGuardFailed:
		return http.StatusConflict
	case workflow.OutcomeFatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetState handles GET /api/v1/workflow/state
func (h *Handlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"state":              h.session.CurrentState().String(),
		"permitted_triggers": h.session.PermittedTriggers(),
	}})
}

// GetStudy handles GET /api/v1/workflow/study
func (h *Handlers) GetStudy(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.session.StudyContext()})
}

// GetDoseSummary handles GET /api/v1/workflow/dose
func (h *Handlers) GetDoseSummary(c *gin.Context) {
	summary, err := h.session.DoseSummary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// StreamEvents handles GET /api/v1/workflow/events as a server-sent
// event stream fed from the workflow event bus
func (h *Handlers) StreamEvents(c *gin.Context) {
	events, cancel := h.bus.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Type.String(), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// AbortExposure handles POST /api/v1/workflow/abort. The abort path
// bypasses the transition queue and reaches the generator directly.
func (h *Handlers) AbortExposure(c *gin.Context) {
	if err := h.session.AbortExposure(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// EmergencyStandby handles POST /api/v1/workflow/emergency-standby
func (h *Handlers) EmergencyStandby(c *gin.Context) {
	h.session.EmergencyStandby(c.Request.Context())
	c.JSON(http.StatusOK, Response{Success: true})
}

// AuthorizeRetake handles POST /api/v1/workflow/retake/authorize
func (h *Handlers) AuthorizeRetake(c *gin.Context) {
	var req AuthorizeRetakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	auth, err := h.session.AuthorizeRetake(req.RejectionID, req.SupervisorID)
	if err != nil {
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: auth})
}

// ResetStudy handles POST /api/v1/workflow/reset
func (h *Handlers) ResetStudy(c *gin.Context) {
	if err := h.session.Reset(); err != nil {
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// SetInterlock handles POST /api/v1/interlocks/:name, driving the
// simulated hardware interlock inputs
func (h *Handlers) SetInterlock(c *gin.Context) {
	var req SetInterlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	flag := interlock.Flag(c.Param("name"))
	if err := h.interlocks.SetInterlockState(flag, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	h.logger.Info("Interlock state changed via API",
		zap.String("flag", string(flag)),
		zap.Bool("value", req.Value))
	c.JSON(http.StatusOK, Response{Success: true})
}
