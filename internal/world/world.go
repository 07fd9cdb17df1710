// Package world holds the shared mutable state of the simulation: who
// controls which territory, faction standing, and open auctions for
// contraband and territory rights.
//
// Every record is versioned and updated with compare-and-swap, so two
// players acting on the same auction or territory at once never overwrite
// each other.
package world

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("world record not found")
	ErrConcurrencyConflict = errors.New("world record was modified concurrently")
	ErrAuctionClosed       = errors.New("auction is closed")
	ErrBidTooLow           = errors.New("bid below minimum increment")
)

// Territory is a controllable region. Neighbors drive cascade propagation.
type Territory struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	ControllingFaction string    `json:"controllingFaction,omitempty"`
	Neighbors          []string  `json:"neighbors,omitempty"`
	Version            int64     `json:"version"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Faction is a crew or family operating in the world.
type Faction struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	HomeTerritory string    `json:"homeTerritory,omitempty"`
	Reputation    float64   `json:"reputation"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionOpen   AuctionStatus = "open"
	AuctionClosed AuctionStatus = "closed"
)

// Auction sells an item to the highest bidder before ClosesAt.
type Auction struct {
	ID           string        `json:"id"`
	ItemID       string        `json:"itemId"`
	SellerID     string        `json:"sellerId"`
	Status       AuctionStatus `json:"status"`
	HighBid      int64         `json:"highBid"`
	HighBidderID string        `json:"highBidderId,omitempty"`
	MinIncrement int64         `json:"minIncrement"`
	BidCount     int64         `json:"bidCount"`
	ClosesAt     time.Time     `json:"closesAt"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Store persists world records. All updates are compare-and-swap on the
// record's Version.
type Store interface {
	GetTerritory(ctx context.Context, id string) (*Territory, error)
	PutTerritory(ctx context.Context, t *Territory, expectedVersion int64) error
	ListTerritories(ctx context.Context, limit int) ([]*Territory, error)

	GetFaction(ctx context.Context, id string) (*Faction, error)
	PutFaction(ctx context.Context, f *Faction, expectedVersion int64) error

	CreateAuction(ctx context.Context, a *Auction) error
	GetAuction(ctx context.Context, id string) (*Auction, error)
	UpdateAuction(ctx context.Context, a *Auction, expectedVersion int64) error
	ListOpenAuctions(ctx context.Context, limit int) ([]*Auction, error)
}
