package provider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/telemetry"
)

// callRecorder is the subset of *services.ProviderCallService the
// Gateway needs, narrowed to an interface so tests can substitute a
// fake instead of a real database.
type callRecorder interface {
	Record(ctx context.Context, rec *models.ProviderCallRecord) error
}

// eventEmitter is the subset of *events.Sink the Gateway needs.
type eventEmitter interface {
	EmitFireAndForget(rc events.RunContext, eventType string, data any)
	EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error
}

// Gateway wraps every external provider call with logging, timing,
// retry-with-backoff, call-record persistence, and observe-only circuit
// breaker bookkeeping (spec §4.2). Stage implementations never call an
// LLMClient/STTClient/TTSClient directly — they call through a Gateway
// so none of this is bypassable.
type Gateway struct {
	calls   callRecorder
	sink    eventEmitter
	breaker *Breaker
}

// NewGateway creates a Gateway.
func NewGateway(calls callRecorder, sink eventEmitter, breaker *Breaker) *Gateway {
	return &Gateway{calls: calls, sink: sink, breaker: breaker}
}

// Attempt is what Call retries: one provider round trip. The caller
// supplies tokensIn/tokensOut/cachedTokens (zero if not applicable to
// the operation) on success so the Gateway can record and price the
// call without needing to understand each provider's response shape.
type Attempt func(ctx context.Context) (tokensIn, tokensOut, cachedTokens int64, err error)

// Call executes fn under the provider's retry policy, persisting a
// provider_calls row for every attempt (success or exhausted failure)
// and feeding the observe-only breaker. It returns the error from the
// final attempt if every attempt failed.
func (g *Gateway) Call(ctx context.Context, rc events.RunContext, op models.ProviderOperation, providerName string, providerCfg *config.ProviderConfig, retry *config.RetryConfig, fn Attempt) error {
	if retry == nil {
		retry = &config.RetryConfig{MaxAttempts: 1, CallTimeout: 60 * time.Second}
	}
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	backoff := retry.BackoffMin
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if retry.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, retry.CallTimeout)
		}

		start := time.Now()
		tokensIn, tokensOut, cachedTokens, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		duration := time.Since(start)

		g.record(ctx, rc, op, providerName, providerCfg, tokensIn, tokensOut, cachedTokens, duration, err)
		telemetry.RecordProviderCall(ctx, string(op), providerName, providerCfg.Model, duration, err == nil)
		transition := g.breaker.RecordResult(string(op), providerName, providerCfg.Model, err == nil)
		if transition.To != "" {
			g.emitCircuitEvent(ctx, rc, transition)
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == maxAttempts || ClassifyError(err) == NoRetry {
			break
		}

		slog.Warn("provider call failed, retrying", append(rc.LogAttrs(), "operation", op, "attempt", attempt, "error", err)...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(backoff, retry.BackoffMax)):
		}
		backoff *= 2
	}

	return lastErr
}

func (g *Gateway) record(ctx context.Context, rc events.RunContext, op models.ProviderOperation, providerName string, providerCfg *config.ProviderConfig, tokensIn, tokensOut, cachedTokens int64, duration time.Duration, callErr error) {
	rec := &models.ProviderCallRecord{
		ID:           uuid.NewString(),
		RunID:        rc.RunID,
		Operation:    op,
		Provider:     providerName,
		Model:        providerCfg.Model,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		CachedTokens: cachedTokens,
		DurationMS:   duration.Milliseconds(),
		Success:      callErr == nil,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	if err := g.calls.Record(ctx, rec); err != nil {
		slog.Error("failed to record provider call", append(rc.LogAttrs(), "error", err)...)
	}

	eventType := models.EventProviderCallSucceeded
	if callErr != nil {
		eventType = models.EventProviderCallFailed
	}
	g.sink.EmitFireAndForget(rc, eventType, map[string]any{
		"operation": op, "provider": providerName, "model": providerCfg.Model,
		"duration_ms": duration.Milliseconds(), "success": callErr == nil,
	})
}

func (g *Gateway) emitCircuitEvent(ctx context.Context, rc events.RunContext, t Transition) {
	eventType := models.EventCircuitOpened
	switch t.To {
	case BreakerClosed:
		eventType = models.EventCircuitClosed
	case BreakerHalfOpen:
		eventType = models.EventCircuitHalfOpen
	}
	if err := g.sink.EmitDurable(ctx, rc, eventType, map[string]any{
		"operation": t.Operation, "provider": t.Provider, "model": t.Model, "from": t.From, "to": t.To,
	}); err != nil {
		slog.Error("failed to emit circuit transition event", "error", err)
	}
}

func jittered(base, max time.Duration) time.Duration {
	if max <= 0 || max < base {
		max = base * 2
	}
	spread := max - base
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}

// ErrCircuitObservedOpen is never returned by Call — the breaker is
// observe-only and never blocks a call — but is exported so components
// that want to surface "this provider is currently degraded" in a
// non-blocking status message (e.g. a UI banner) have a sentinel to
// wrap, consistent with the kernel's error taxonomy.
var ErrCircuitObservedOpen = kernelerrors.ErrProvider
