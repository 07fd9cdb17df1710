// Package risk tracks accumulating suspicion and heat per game entity.
//
// Every owner (player, crew, business, territory, enterprise) carries one
// profile with two scalars in [0,100]. Resolved actions push the scalars up,
// paid mitigation actions and passive decay pull them down. Features consume
// the shared scalars through their own penalty functions instead of keeping
// parallel per-feature risk fields.
package risk

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("risk profile not found")
	ErrConcurrencyConflict = errors.New("risk profile version conflict")
)

// DefaultDecayRatePerHour is the uniform passive decay applied to both scalars.
const DefaultDecayRatePerHour = 1.5

// Severity classifies a suspicion level for display and feature gating.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classify maps a suspicion value to its severity band.
func Classify(suspicion float64) Severity {
	switch {
	case suspicion < 30:
		return SeverityLow
	case suspicion < 60:
		return SeverityModerate
	case suspicion < 85:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Profile is the risk state of a single owner entity.
// Version increments on every mutation; writers CAS against it.
type Profile struct {
	OwnerType        string    `json:"ownerType"`
	OwnerID          string    `json:"ownerId"`
	Suspicion        float64   `json:"suspicion"` // [0,100]
	Heat             float64   `json:"heat"`      // [0,100]
	DecayRatePerHour float64   `json:"decayRatePerHour"`
	Version          int64     `json:"version"`
	LastUpdatedAt    time.Time `json:"lastUpdatedAt"`
}

// Severity returns the severity band of the profile's suspicion.
func (p *Profile) Severity() Severity {
	return Classify(p.Suspicion)
}

// Clamp forces both scalars into [0,100]. Stores call this on every write so
// callers never see an out-of-range profile regardless of the deltas applied.
func (p *Profile) Clamp() {
	p.Suspicion = clamp(p.Suspicion)
	p.Heat = clamp(p.Heat)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Store persists risk profiles with optimistic per-record versioning.
type Store interface {
	// Get returns the profile for an owner, or ErrNotFound.
	Get(ctx context.Context, ownerType, ownerID string) (*Profile, error)
	// Create inserts a new profile at version 1. Fails if one already exists.
	Create(ctx context.Context, p *Profile) error
	// Update writes the profile iff the stored version equals expectedVersion,
	// bumping Version and LastUpdatedAt. Returns ErrConcurrencyConflict on a
	// version mismatch. Scalars are clamped to [0,100] before the write lands.
	Update(ctx context.Context, p *Profile, expectedVersion int64) error
	// List returns up to limit profiles, optionally filtered by owner type.
	List(ctx context.Context, ownerType string, limit int) ([]*Profile, error)
}
