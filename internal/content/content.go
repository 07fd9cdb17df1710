// Package content calls the narrative-generation service for flavor text on
// resolved actions.
//
// The generator is advisory only: numbers it suggests are clamped before use
// and a deterministic fallback table takes over when the service is slow,
// down, or tripping the circuit breaker. Gameplay never blocks on it.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/omerta/internal/circuitbreaker"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
)

const (
	breakerKey = "narrative"

	// maxSuggestedMagnitude caps any effect magnitude the generator
	// proposes.
	maxSuggestedMagnitude = 25.0
)

var ErrUnavailable = errors.New("content service unavailable")

// NarrativeRequest describes the resolved action to narrate.
type NarrativeRequest struct {
	ActionType string            `json:"actionType"`
	Outcome    string            `json:"outcome"`
	Severity   string            `json:"severity,omitempty"`
	ActorName  string            `json:"actorName,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// SuggestedEffect is an advisory side effect proposed by the generator.
type SuggestedEffect struct {
	EffectType string  `json:"effectType"`
	Magnitude  float64 `json:"magnitude"`
}

// Narrative is generated flavor text plus optional suggested effects.
type Narrative struct {
	Text             string            `json:"text"`
	SuggestedEffects []SuggestedEffect `json:"suggestedEffects,omitempty"`
	// Fallback is true when the text came from the local table instead of
	// the generator.
	Fallback bool `json:"fallback"`
}

// Client talks to the generation service with a hard timeout and a circuit
// breaker, falling back to canned lines on any failure.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	fallback   FallbackTable
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option { return func(cl *Client) { cl.breaker = b } }

// WithFallbackTable overrides the canned narrative lines.
func WithFallbackTable(t FallbackTable) Option { return func(cl *Client) { cl.fallback = t } }

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New(5, 30*time.Second),
		fallback:   DefaultFallbackTable,
		logger:     logging.WithComponent(logger, "content"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns narrative text for a resolved action. It never returns an
// error for gameplay to handle; any failure path yields a fallback line.
func (c *Client) Generate(ctx context.Context, req NarrativeRequest) *Narrative {
	if c.baseURL == "" {
		return c.fallbackNarrative(req, "disabled")
	}
	if !c.breaker.Allow(breakerKey) {
		return c.fallbackNarrative(req, "circuit_open")
	}

	n, err := c.call(ctx, req)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		c.logger.Warn("narrative generation failed", "error", err, "action_type", req.ActionType)
		return c.fallbackNarrative(req, "error")
	}
	c.breaker.RecordSuccess(breakerKey)

	for i := range n.SuggestedEffects {
		n.SuggestedEffects[i].Magnitude = clampMagnitude(n.SuggestedEffects[i].Magnitude)
	}
	return n
}

type generateResponse struct {
	Narrative        string            `json:"narrative"`
	SuggestedEffects []SuggestedEffect `json:"suggestedEffects"`
}

func (c *Client) call(ctx context.Context, req NarrativeRequest) (*Narrative, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Narrative == "" {
		return nil, errors.New("empty narrative in response")
	}
	return &Narrative{Text: out.Narrative, SuggestedEffects: out.SuggestedEffects}, nil
}

func (c *Client) fallbackNarrative(req NarrativeRequest, reason string) *Narrative {
	metrics.ContentFallbacksTotal.WithLabelValues(reason).Inc()
	return &Narrative{Text: c.fallback.Line(req), Fallback: true}
}

func clampMagnitude(m float64) float64 {
	if m > maxSuggestedMagnitude {
		return maxSuggestedMagnitude
	}
	if m < -maxSuggestedMagnitude {
		return -maxSuggestedMagnitude
	}
	return m
}

// pick deterministically selects an index from the request identity, so the
// same action always falls back to the same line.
func pick(req NarrativeRequest, n int) int {
	h := fnv.New32a()
	h.Write([]byte(req.ActorName))
	h.Write([]byte(req.ActionType))
	h.Write([]byte(req.Outcome))
	return int(h.Sum32() % uint32(n))
}
