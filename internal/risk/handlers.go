package risk

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/validation"
)

// Handler exposes risk profile snapshots over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a risk HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the read-only risk routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/risk/:ownerType/:ownerId", h.GetProfile)
	rg.GET("/risk/:ownerType", h.ListProfiles)
}

// GetProfile handles GET /v1/risk/:ownerType/:ownerId
func (h *Handler) GetProfile(c *gin.Context) {
	ownerType := c.Param("ownerType")
	ownerID := c.Param("ownerId")

	if errs := validation.Validate(
		validation.ValidOwnerType("ownerType", ownerType),
		validation.ValidID("ownerId", ownerID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	p, err := h.service.Get(c.Request.Context(), ownerType, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get risk profile", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":  p,
		"severity": p.Severity(),
	})
}

// ListProfiles handles GET /v1/risk/:ownerType
func (h *Handler) ListProfiles(c *gin.Context) {
	ownerType := c.Param("ownerType")
	if !validation.IsValidOwnerType(ownerType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_type"})
		return
	}

	profiles, err := h.service.store.List(c.Request.Context(), ownerType, 100)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list risk profiles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "count": len(profiles)})
}
