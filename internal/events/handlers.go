package events

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/omerta/internal/idgen"
)

// Handler manages webhook subscriptions over HTTP.
type Handler struct {
	store SubscriptionStore
}

func NewHandler(store SubscriptionStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/subscriptions", h.create)
	r.GET("/subscriptions/:id", h.get)
	r.DELETE("/subscriptions/:id", h.delete)
}

type createSubscriptionRequest struct {
	URL        string      `json:"url" binding:"required"`
	Secret     string      `json:"secret"`
	EventTypes []EventType `json:"eventTypes"`
}

func (h *Handler) create(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be http or https"})
		return
	}
	secret := req.Secret
	if secret == "" {
		secret = idgen.Hex(32)
	}
	sub := &Subscription{
		ID:         idgen.WithPrefix("sub"),
		URL:        req.URL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}
	// the secret is returned exactly once, at creation
	c.JSON(http.StatusCreated, gin.H{"subscription": sub, "secret": secret})
}

func (h *Handler) get(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscription"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}
	c.Status(http.StatusNoContent)
}
