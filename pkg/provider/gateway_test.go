package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallRecorder struct {
	mu      sync.Mutex
	records []*models.ProviderCallRecord
}

func (f *fakeCallRecorder) Record(ctx context.Context, rec *models.ProviderCallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeCallRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeEmitter struct {
	mu        sync.Mutex
	fireCount int
	durable   []string
}

func (f *fakeEmitter) EmitFireAndForget(rc events.RunContext, eventType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fireCount++
}

func (f *fakeEmitter) EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durable = append(f.durable, eventType)
	return nil
}

func testRunContext() events.RunContext {
	return events.RunContext{RunID: "run-1", RequestID: "req-1"}
}

func testProviderCfg() *config.ProviderConfig {
	return &config.ProviderConfig{Model: "claude-sonnet-4-5"}
}

func TestGatewayCallSucceedsOnFirstAttempt(t *testing.T) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	gw := NewGateway(calls, emitter, NewBreaker(3, time.Minute, 2))

	attempts := 0
	err := gw.Call(context.Background(), testRunContext(), models.OperationLLMGenerate, "anthropic-claude", testProviderCfg(), nil, func(ctx context.Context) (int64, int64, int64, error) {
		attempts++
		return 10, 20, 0, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls.count())
}

func TestGatewayCallRetriesTransientFailure(t *testing.T) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	gw := NewGateway(calls, emitter, NewBreaker(5, time.Minute, 2))

	attempts := 0
	retry := &config.RetryConfig{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, CallTimeout: time.Second}
	err := gw.Call(context.Background(), testRunContext(), models.OperationLLMGenerate, "p", testProviderCfg(), retry, func(ctx context.Context) (int64, int64, int64, error) {
		attempts++
		if attempts < 3 {
			return 0, 0, 0, errors.New("connection reset")
		}
		return 5, 5, 0, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls.count())
}

func TestGatewayCallStopsRetryingOnNonRetryableError(t *testing.T) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	gw := NewGateway(calls, emitter, NewBreaker(5, time.Minute, 2))

	attempts := 0
	retry := &config.RetryConfig{MaxAttempts: 5, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, CallTimeout: time.Second}
	err := gw.Call(context.Background(), testRunContext(), models.OperationLLMGenerate, "p", testProviderCfg(), retry, func(ctx context.Context) (int64, int64, int64, error) {
		attempts++
		return 0, 0, 0, errors.New("invalid api key")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a non-retryable classification must not be retried")
	assert.Equal(t, 1, calls.count())
}

func TestGatewayCallExhaustsMaxAttempts(t *testing.T) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	gw := NewGateway(calls, emitter, NewBreaker(5, time.Minute, 2))

	attempts := 0
	retry := &config.RetryConfig{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, CallTimeout: time.Second}
	err := gw.Call(context.Background(), testRunContext(), models.OperationLLMGenerate, "p", testProviderCfg(), retry, func(ctx context.Context) (int64, int64, int64, error) {
		attempts++
		return 0, 0, 0, errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls.count())
}

func TestGatewayCallEmitsCircuitTransitionOnOpen(t *testing.T) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	gw := NewGateway(calls, emitter, NewBreaker(1, time.Minute, 2))

	retry := &config.RetryConfig{MaxAttempts: 1, CallTimeout: time.Second}
	err := gw.Call(context.Background(), testRunContext(), models.OperationLLMGenerate, "p", testProviderCfg(), retry, func(ctx context.Context) (int64, int64, int64, error) {
		return 0, 0, 0, errors.New("invalid api key")
	})

	require.Error(t, err)
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.durable, 1)
	assert.Equal(t, string(models.EventCircuitOpened), emitter.durable[0])
}

func TestGatewayCallNeverRetriesPastContextCancellation(t *testing.T) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	gw := NewGateway(calls, emitter, NewBreaker(5, time.Minute, 2))

	attempts := 0
	retry := &config.RetryConfig{MaxAttempts: 5, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, CallTimeout: time.Second}
	err := gw.Call(context.Background(), testRunContext(), models.OperationLLMGenerate, "p", testProviderCfg(), retry, func(ctx context.Context) (int64, int64, int64, error) {
		attempts++
		return 0, 0, 0, context.Canceled
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
