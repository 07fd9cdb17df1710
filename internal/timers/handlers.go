package timers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/omerta/internal/validation"
)

// Handler exposes timed states over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/timers", h.schedule)
	r.GET("/timers/:id", h.get)
	r.POST("/timers/:id/advance", h.resolve)
	r.DELETE("/timers/:id", h.cancel)
	r.GET("/owners/:ownerId/timers", h.listByOwner)
}

type scheduleRequest struct {
	Kind        string          `json:"kind" binding:"required"`
	OwnerID     string          `json:"ownerId" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	ActivatesAt time.Time       `json:"activatesAt"`
	ExpiresAt   time.Time       `json:"expiresAt" binding:"required"`
}

func (h *Handler) schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if verrs := validation.Validate(
		validation.ValidID("ownerId", req.OwnerID),
		validation.MaxLength("kind", req.Kind, 64),
	); verrs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verrs})
		return
	}

	ts, err := h.service.Schedule(c.Request.Context(), ScheduleRequest{
		Kind:        req.Kind,
		OwnerID:     req.OwnerID,
		Payload:     req.Payload,
		ActivatesAt: req.ActivatesAt,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ts)
}

func (h *Handler) get(c *gin.Context) {
	ts, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTimerError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *Handler) resolve(c *gin.Context) {
	ts, err := h.service.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTimerError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *Handler) cancel(c *gin.Context) {
	ts, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTimerError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *Handler) listByOwner(c *gin.Context) {
	ownerID := c.Param("ownerId")
	if !validation.IsValidID(ownerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return
	}
	states, err := h.service.ListByOwner(c.Request.Context(), ownerID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list timers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timers": states, "count": len(states)})
}

func writeTimerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "timer not found"})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "timer was modified concurrently, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
