// Package engine runs the full action pipeline: risk lookup, outcome
// resolution, risk adjustment, follow-up timers, cascading consequences,
// ledger rewards, and event fan-out.
//
// Numeric resolution is synchronous and authoritative. Narrative text is
// attached asynchronously afterwards and never blocks or alters the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/omerta/internal/cascade"
	"github.com/mbd888/omerta/internal/content"
	"github.com/mbd888/omerta/internal/events"
	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/ledger"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/outcome"
	"github.com/mbd888/omerta/internal/realtime"
	"github.com/mbd888/omerta/internal/risk"
	"github.com/mbd888/omerta/internal/timers"
	"github.com/mbd888/omerta/internal/traces"
)

// Risk deltas applied to the actor per outcome.
const (
	successSuspicionDelta = 5.0
	failureSuspicionDelta = 15.0

	// cascadeHeatMagnitude seeds the consequence cascade on failures and
	// lands on the actor at depth zero.
	cascadeHeatMagnitude = 10.0
)

// ErrInsufficientFunds rejects a paid command before any state changes.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Engine wires the resolution components into one pipeline.
type Engine struct {
	risk       *risk.Service
	resolver   *outcome.Resolver
	timers     *timers.Service
	cascades   *cascade.Engine
	ledger     *ledger.Service
	content    *content.Client
	dispatcher *events.Dispatcher
	hub        *realtime.Hub
	logger     *slog.Logger

	syncNarrative bool
	narrativeWG   sync.WaitGroup
}

// Deps carries the engine's collaborators. Dispatcher, Hub, and Content are
// optional; the pipeline skips what isn't wired.
type Deps struct {
	Risk       *risk.Service
	Resolver   *outcome.Resolver
	Timers     *timers.Service
	Cascades   *cascade.Engine
	Ledger     *ledger.Service
	Content    *content.Client
	Dispatcher *events.Dispatcher
	Hub        *realtime.Hub
	Logger     *slog.Logger
}

type Option func(*Engine)

// WithSyncNarrative makes narrative attachment synchronous. Test hook.
func WithSyncNarrative() Option { return func(e *Engine) { e.syncNarrative = true } }

func New(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		risk:       deps.Risk,
		resolver:   deps.Resolver,
		timers:     deps.Timers,
		cascades:   deps.Cascades,
		ledger:     deps.Ledger,
		content:    deps.Content,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		logger:     logging.WithComponent(deps.Logger, "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActionRequest is one player action submitted to the pipeline.
type ActionRequest struct {
	ActorID         string
	ActorType       string
	ActionType      string
	TargetID        string
	BaseSuccessRate float64
	Modifiers       []outcome.Modifier

	// Payout and StatRewards are committed to the ledger on success.
	Payout      int64
	StatRewards map[string]float64

	// JailDuration, when set, jails the actor on a failure at critical
	// severity.
	JailDuration time.Duration
}

// ActionResult is everything the pipeline produced for one action.
type ActionResult struct {
	Attempt     *outcome.Attempt     `json:"attempt"`
	Profile     *risk.Profile        `json:"profile"`
	Severity    risk.Severity        `json:"severity"`
	Cascade     *cascade.Result      `json:"cascade,omitempty"`
	LedgerEntry *ledger.Entry        `json:"ledgerEntry,omitempty"`
	JailTimer   *timers.TimedState   `json:"jailTimer,omitempty"`
}

// PerformAction runs the full pipeline for one action.
func (e *Engine) PerformAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if req.ActorType == "" {
		req.ActorType = "player"
	}
	ctx, span := traces.StartSpan(ctx, "engine.PerformAction",
		traces.ActorID(req.ActorID), traces.ActionType(req.ActionType))
	defer span.End()

	profile, err := e.risk.Get(ctx, req.ActorType, req.ActorID)
	if err != nil {
		return nil, fmt.Errorf("loading risk profile: %w", err)
	}

	attempt, err := e.resolver.Resolve(ctx, outcome.Request{
		ActorID:         req.ActorID,
		ActionType:      req.ActionType,
		TargetID:        req.TargetID,
		BaseSuccessRate: req.BaseSuccessRate,
		Modifiers:       req.Modifiers,
	}, profile)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.AttemptID(attempt.ID), traces.Outcome(string(attempt.Outcome)))

	// Suspicion is applied directly; failure heat reaches the actor through
	// the cascade's depth-zero event so it is applied exactly once.
	suspicionDelta := successSuspicionDelta
	if !attempt.Succeeded() {
		suspicionDelta = failureSuspicionDelta
	}
	profile, err = e.risk.ApplyDelta(ctx, req.ActorType, req.ActorID, suspicionDelta, 0, string(attempt.Outcome)+" "+req.ActionType)
	if err != nil {
		return nil, fmt.Errorf("applying risk delta: %w", err)
	}

	result := &ActionResult{
		Attempt:  attempt,
		Profile:  profile,
		Severity: profile.Severity(),
	}

	if !attempt.Succeeded() {
		if result.Severity == risk.SeverityCritical && req.JailDuration > 0 {
			jail, err := e.timers.Schedule(ctx, timers.ScheduleRequest{
				Kind:      "jail",
				OwnerID:   req.ActorID,
				ExpiresAt: time.Now().UTC().Add(req.JailDuration),
			})
			if err != nil {
				e.logger.Error("scheduling jail timer", "error", err, "actor_id", req.ActorID)
			} else {
				result.JailTimer = jail
			}
		}

		cas, err := e.cascades.Propagate(ctx, cascade.Origin{
			ID:         attempt.ID,
			EntityType: req.ActorType,
			EntityID:   req.ActorID,
			EffectType: "heat_delta",
			Magnitude:  cascadeHeatMagnitude,
		})
		if err != nil {
			return nil, fmt.Errorf("propagating consequences: %w", err)
		}
		result.Cascade = cas
		span.SetAttributes(traces.CascadeOrigin(attempt.ID), traces.CascadeEvents(len(cas.Events)))
		if fresh, err := e.risk.Get(ctx, req.ActorType, req.ActorID); err == nil {
			profile = fresh
			result.Profile = fresh
			result.Severity = fresh.Severity()
		}
		e.publish(ctx, events.EventCascadeApplied, map[string]any{
			"originId": attempt.ID,
			"events":   len(cas.Events),
		})
	}

	if attempt.Succeeded() && (req.Payout != 0 || len(req.StatRewards) > 0) {
		entry, _, err := e.ledger.Commit(ctx, ledger.CommitRequest{
			IdempotencyKey: attempt.ID + ":reward",
			OwnerID:        req.ActorID,
			OriginID:       attempt.ID,
			MoneyDelta:     req.Payout,
			StatDeltas:     req.StatRewards,
			Reason:         req.ActionType + " payout",
		})
		if err != nil {
			return nil, fmt.Errorf("committing reward: %w", err)
		}
		result.LedgerEntry = entry
		e.publish(ctx, events.EventLedgerCommitted, map[string]any{
			"entryId": entry.ID,
			"ownerId": req.ActorID,
		})
	}

	e.publish(ctx, events.EventActionResolved, map[string]any{
		"attemptId":  attempt.ID,
		"actorId":    req.ActorID,
		"actionType": req.ActionType,
		"outcome":    attempt.Outcome,
		"severity":   result.Severity,
	})
	e.broadcast("action_resolved", result)

	e.attachNarrative(ctx, attempt, result.Severity)
	return result, nil
}

// ReduceRiskRequest is a paid suspicion-reduction command (bribes, lawyers,
// laying low).
type ReduceRiskRequest struct {
	OwnerType string
	OwnerID   string
	Amount    float64 // suspicion points to remove
	Cost      int64

	// RequestKey deduplicates retried commands. Generated when empty.
	RequestKey string
}

// ReduceRiskResult is the profile after reduction plus the debit entry.
type ReduceRiskResult struct {
	Profile  *risk.Profile `json:"profile"`
	Severity risk.Severity `json:"severity"`
	Entry    *ledger.Entry `json:"entry"`
	Replayed bool          `json:"replayed"`
}

// ReduceSuspicion debits the owner and lowers their suspicion. The funds
// check rejects before any mutation; the debit commits first under an
// idempotency key, and if the risk update fails afterwards a compensating
// rollback restores the balance.
func (e *Engine) ReduceSuspicion(ctx context.Context, req ReduceRiskRequest) (*ReduceRiskResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("reduction amount must be positive")
	}
	if req.Cost < 0 {
		return nil, fmt.Errorf("cost cannot be negative")
	}
	ctx, span := traces.StartSpan(ctx, "engine.ReduceSuspicion", traces.ActorID(req.OwnerID))
	defer span.End()

	bal, err := e.ledger.Balance(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("loading balance: %w", err)
	}
	if bal.Money < req.Cost {
		return nil, ErrInsufficientFunds
	}

	key := req.RequestKey
	if key == "" {
		key = idgen.WithPrefix("red")
	}
	entry, replayed, err := e.ledger.Commit(ctx, ledger.CommitRequest{
		IdempotencyKey: key,
		OwnerID:        req.OwnerID,
		MoneyDelta:     -req.Cost,
		Reason:         "reduce suspicion",
	})
	if err != nil {
		return nil, fmt.Errorf("debiting reduction cost: %w", err)
	}

	result := &ReduceRiskResult{Entry: entry, Replayed: replayed}
	if replayed {
		// An earlier command under this key already paid and reduced.
		profile, err := e.risk.Get(ctx, req.OwnerType, req.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("loading risk profile: %w", err)
		}
		result.Profile = profile
		result.Severity = profile.Severity()
		return result, nil
	}

	profile, err := e.risk.ApplyDelta(ctx, req.OwnerType, req.OwnerID, -req.Amount, 0, "reduce suspicion")
	if err != nil {
		if _, rbErr := e.ledger.Rollback(ctx, key, "reduce suspicion failed"); rbErr != nil {
			e.logger.Error("rolling back reduction debit", "error", rbErr, "key", key)
		}
		return nil, fmt.Errorf("applying reduction: %w", err)
	}
	result.Profile = profile
	result.Severity = profile.Severity()

	e.publish(ctx, events.EventLedgerCommitted, map[string]any{
		"entryId": entry.ID,
		"ownerId": req.OwnerID,
	})
	e.broadcast("risk_reduced", result)
	return result, nil
}

// attachNarrative asks the content service for flavor text and stores it
// against the attempt. Failures only cost the narrative.
func (e *Engine) attachNarrative(ctx context.Context, attempt *outcome.Attempt, severity risk.Severity) {
	if e.content == nil {
		return
	}
	run := func() {
		n := e.content.Generate(context.WithoutCancel(ctx), content.NarrativeRequest{
			ActionType: attempt.ActionType,
			Outcome:    string(attempt.Outcome),
			Severity:   string(severity),
			ActorName:  attempt.ActorID,
		})
		if err := e.resolver.AttachNarrative(context.WithoutCancel(ctx), attempt.ID, n.Text); err != nil {
			e.logger.Warn("attaching narrative", "error", err, "attempt_id", attempt.ID)
			return
		}
		e.broadcast("narrative_ready", map[string]string{
			"attemptId": attempt.ID,
			"narrative": n.Text,
		})
	}
	if e.syncNarrative {
		run()
		return
	}
	e.narrativeWG.Add(1)
	go func() {
		defer e.narrativeWG.Done()
		run()
	}()
}

// OnTimerExpired handles a timed state claimed by the sweeper: jail release
// cools the actor down, mission windows count as failures of opportunity.
func (e *Engine) OnTimerExpired(ctx context.Context, ts *timers.TimedState) {
	switch ts.Kind {
	case "jail":
		if _, err := e.risk.ApplyDelta(ctx, "player", ts.OwnerID, -20, -30, "jail release"); err != nil {
			e.logger.Error("applying release cooldown", "error", err, "owner_id", ts.OwnerID)
		}
	}
	e.publish(ctx, events.EventTimerExpired, map[string]any{
		"timerId": ts.ID,
		"kind":    ts.Kind,
		"ownerId": ts.OwnerID,
	})
	e.broadcast("timer_expired", ts)
}

// Drain waits for in-flight narrative goroutines. Used on shutdown.
func (e *Engine) Drain() {
	e.narrativeWG.Wait()
}

func (e *Engine) publish(ctx context.Context, t events.EventType, payload any) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Publish(ctx, t, payload); err != nil {
		e.logger.Warn("publishing event", "error", err, "type", t)
	}
}

func (e *Engine) broadcast(msgType string, payload any) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(msgType, payload)
}
