package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/omerta/internal/cascade"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/risk"
	"github.com/mbd888/omerta/internal/world"
)

// RiskApplier applies cascade effects to risk profiles and faction standing.
// It implements cascade.Applier.
type RiskApplier struct {
	risk   *risk.Service
	world  *world.Service
	logger *slog.Logger
}

func NewRiskApplier(riskSvc *risk.Service, worldSvc *world.Service, logger *slog.Logger) *RiskApplier {
	return &RiskApplier{
		risk:   riskSvc,
		world:  worldSvc,
		logger: logging.WithComponent(logger, "applier"),
	}
}

// ApplyBatch applies every event of one cascade. A failed event aborts the
// batch so the cascade engine can retry it as a unit.
func (a *RiskApplier) ApplyBatch(ctx context.Context, batch []*cascade.Event) error {
	for _, ev := range batch {
		if err := a.apply(ctx, ev); err != nil {
			return fmt.Errorf("applying %s to %s/%s: %w", ev.EffectType, ev.EntityType, ev.EntityID, err)
		}
	}
	return nil
}

func (a *RiskApplier) apply(ctx context.Context, ev *cascade.Event) error {
	cause := "cascade " + ev.OriginID
	switch ev.EffectType {
	case "suspicion_delta":
		_, err := a.risk.ApplyDelta(ctx, ev.EntityType, ev.EntityID, ev.Magnitude, 0, cause)
		return err
	case "heat_delta":
		_, err := a.risk.ApplyDelta(ctx, ev.EntityType, ev.EntityID, 0, ev.Magnitude, cause)
		return err
	case "reputation_delta":
		if ev.EntityType != "faction" && ev.EntityType != "crew" {
			return nil
		}
		_, err := a.world.AdjustReputation(ctx, ev.EntityID, ev.Magnitude)
		if err == world.ErrNotFound {
			return nil
		}
		return err
	default:
		a.logger.Warn("unknown cascade effect type", "effect_type", ev.EffectType)
		return nil
	}
}
