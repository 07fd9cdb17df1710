package world

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/omerta/internal/validation"
)

// Handler exposes world state and auctions over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/territories", h.listTerritories)
	r.GET("/territories/:id", h.getTerritory)
	r.POST("/auctions", h.createAuction)
	r.GET("/auctions", h.listAuctions)
	r.GET("/auctions/:id", h.getAuction)
	r.POST("/auctions/:id/bids", h.placeBid)
}

func (h *Handler) listTerritories(c *gin.Context) {
	territories, err := h.service.Territories(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list territories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"territories": territories, "count": len(territories)})
}

func (h *Handler) getTerritory(c *gin.Context) {
	t, err := h.service.Territory(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "territory not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load territory"})
		return
	}
	c.JSON(http.StatusOK, t)
}

type createAuctionRequest struct {
	ItemID       string    `json:"itemId" binding:"required"`
	SellerID     string    `json:"sellerId" binding:"required"`
	StartingBid  int64     `json:"startingBid"`
	MinIncrement int64     `json:"minIncrement"`
	ClosesAt     time.Time `json:"closesAt" binding:"required"`
}

func (h *Handler) createAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if verrs := validation.Validate(
		validation.ValidID("sellerId", req.SellerID),
	); verrs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verrs})
		return
	}
	a, err := h.service.CreateAuction(c.Request.Context(), CreateAuctionRequest{
		ItemID:       req.ItemID,
		SellerID:     req.SellerID,
		StartingBid:  req.StartingBid,
		MinIncrement: req.MinIncrement,
		ClosesAt:     req.ClosesAt,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) listAuctions(c *gin.Context) {
	auctions, err := h.service.OpenAuctions(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list auctions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": auctions, "count": len(auctions)})
}

func (h *Handler) getAuction(c *gin.Context) {
	a, err := h.service.Auction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load auction"})
		return
	}
	c.JSON(http.StatusOK, a)
}

type placeBidRequest struct {
	BidderID string `json:"bidderId" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
}

func (h *Handler) placeBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	a, err := h.service.PlaceBid(c.Request.Context(), c.Param("id"), req.BidderID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		case errors.Is(err, ErrAuctionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "auction is closed"})
		case errors.Is(err, ErrBidTooLow):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, ErrConcurrencyConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "auction contention, retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to place bid"})
		}
		return
	}
	c.JSON(http.StatusOK, a)
}
