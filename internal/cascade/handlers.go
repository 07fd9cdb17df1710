package cascade

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/omerta/internal/validation"
)

// Handler exposes read-only cascade history.
type Handler struct {
	engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/cascades/:originId", h.history)
}

func (h *Handler) history(c *gin.Context) {
	originID := c.Param("originId")
	if !validation.IsValidID(originID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid origin id"})
		return
	}
	events, err := h.engine.History(c.Request.Context(), originID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cascade history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
