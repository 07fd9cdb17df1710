package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/omerta/internal/validation"
)

// Handler exposes read access to balances and entry history.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/actors/:actorId/balance", h.balance)
	r.GET("/actors/:actorId/ledger", h.entries)
	r.GET("/entries/:key", h.entryByKey)
}

func (h *Handler) balance(c *gin.Context) {
	ownerID := c.Param("actorId")
	if !validation.IsValidID(ownerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return
	}
	bal, err := h.service.Balance(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *Handler) entries(c *gin.Context) {
	ownerID := c.Param("actorId")
	if !validation.IsValidID(ownerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return
	}
	entries, err := h.service.History(c.Request.Context(), ownerID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handler) entryByKey(c *gin.Context) {
	entry, err := h.service.store.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
