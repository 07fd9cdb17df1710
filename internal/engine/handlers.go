package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/omerta/internal/outcome"
	"github.com/mbd888/omerta/internal/validation"
)

// Handler exposes the action pipeline over HTTP.
type Handler struct {
	engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/actions", h.performAction)
	r.GET("/actions/:id", h.getAttempt)
	r.GET("/actors/:actorId/actions", h.listAttempts)
	r.POST("/risk/:ownerType/:ownerId/reduce", h.reduceRisk)
}

type actionRequest struct {
	ActorID         string             `json:"actorId" binding:"required"`
	ActorType       string             `json:"actorType"`
	ActionType      string             `json:"actionType" binding:"required"`
	TargetID        string             `json:"targetId"`
	BaseSuccessRate float64            `json:"baseSuccessRate" binding:"required"`
	Modifiers       []outcome.Modifier `json:"modifiers"`
	Payout          int64              `json:"payout"`
	StatRewards     map[string]float64 `json:"statRewards"`
	JailSeconds     int64              `json:"jailSeconds"`
}

func (h *Handler) performAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if verrs := validation.Validate(
		validation.ValidID("actorId", req.ActorID),
		validation.MaxLength("actionType", req.ActionType, 64),
		validation.InRange("baseSuccessRate", req.BaseSuccessRate, 0, 100),
	); verrs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verrs})
		return
	}
	if req.ActorType != "" && !validation.IsValidOwnerType(req.ActorType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor type"})
		return
	}

	result, err := h.engine.PerformAction(c.Request.Context(), ActionRequest{
		ActorID:         req.ActorID,
		ActorType:       req.ActorType,
		ActionType:      req.ActionType,
		TargetID:        req.TargetID,
		BaseSuccessRate: req.BaseSuccessRate,
		Modifiers:       req.Modifiers,
		Payout:          req.Payout,
		StatRewards:     req.StatRewards,
		JailDuration:    time.Duration(req.JailSeconds) * time.Second,
	})
	if err != nil {
		if errors.Is(err, outcome.ErrInvalidRate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "action resolution failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type reduceRequest struct {
	Amount     float64 `json:"amount" binding:"required"`
	Cost       int64   `json:"cost"`
	RequestKey string  `json:"requestKey"`
}

func (h *Handler) reduceRisk(c *gin.Context) {
	ownerType := c.Param("ownerType")
	ownerID := c.Param("ownerId")
	if !validation.IsValidOwnerType(ownerType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner type"})
		return
	}
	if !validation.IsValidID(ownerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return
	}

	var req reduceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if req.Amount <= 0 || req.Amount > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be in (0, 100]"})
		return
	}
	if req.Cost < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cost cannot be negative"})
		return
	}

	result, err := h.engine.ReduceSuspicion(c.Request.Context(), ReduceRiskRequest{
		OwnerType:  ownerType,
		OwnerID:    ownerID,
		Amount:     req.Amount,
		Cost:       req.Cost,
		RequestKey: req.RequestKey,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "insufficient_balance",
				"message": "Insufficient balance for this action",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reduction failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getAttempt(c *gin.Context) {
	attempt, err := h.engine.resolver.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, outcome.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load action"})
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (h *Handler) listAttempts(c *gin.Context) {
	actorID := c.Param("actorId")
	if !validation.IsValidID(actorID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor id"})
		return
	}
	attempts, err := h.engine.resolver.History(c.Request.Context(), actorID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list actions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": attempts, "count": len(attempts)})
}
