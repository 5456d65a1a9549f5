package run

import (
	"context"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/services"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// eventLister is the subset of *services.EventService the aggregator
// needs, narrowed to an interface so tests substitute a fake instead of
// a database.
type eventLister interface {
	ListByRun(ctx context.Context, runID string) ([]*models.Event, error)
}

// callLister is the subset of *services.ProviderCallService the
// aggregator needs.
type callLister interface {
	ListByRun(ctx context.Context, runID string) ([]*models.ProviderCallRecord, error)
}

// aggregator is the subset of the event/provider-call services the
// Run Controller needs to compute a terminal run's aggregates.
type aggregator struct {
	events eventLister
	calls  callLister
}

// compute derives spec §4.7 step 7's aggregates — total latency, TTFT,
// TTFA, TTFC, tokens in/out, cost — from the run's emitted event log and
// provider call records, plus the per-stage summaries the Scheduler's
// Result already carries in memory.
func (a *aggregator) compute(ctx context.Context, runID string, result stage.Result) (services.RunAggregates, error) {
	events, err := a.events.ListByRun(ctx, runID)
	if err != nil {
		return services.RunAggregates{}, err
	}
	calls, err := a.calls.ListByRun(ctx, runID)
	if err != nil {
		return services.RunAggregates{}, err
	}

	agg := services.RunAggregates{Stages: stageSummaries(result)}

	var startedAt, lastAt int64
	for _, e := range events {
		ts := e.Timestamp.UnixMilli()
		if e.Type == models.EventPipelineStarted || startedAt == 0 {
			if startedAt == 0 || ts < startedAt {
				startedAt = ts
			}
		}
		if ts > lastAt {
			lastAt = ts
		}
	}
	if startedAt > 0 && lastAt >= startedAt {
		agg.TotalLatencyMS = lastAt - startedAt
	}

	var ttft, ttfa, ttfc int64
	for _, c := range calls {
		if !c.Success {
			continue
		}
		ts := c.CreatedAt.UnixMilli()
		if startedAt == 0 || ts < startedAt {
			continue
		}
		delta := ts - startedAt
		switch c.Operation {
		case models.OperationLLMGenerate, models.OperationLLMStream:
			if ttft == 0 || delta < ttft {
				ttft = delta
			}
			if ttfc == 0 || delta < ttfc {
				ttfc = delta
			}
		case models.OperationTTSSynthesize:
			if ttfa == 0 || delta < ttfa {
				ttfa = delta
			}
			if ttfc == 0 || delta < ttfc {
				ttfc = delta
			}
		}
		agg.TokensIn += c.TokensIn
		agg.TokensOut += c.TokensOut
		agg.CostCents += costForRecord(c)
	}
	agg.TimeToFirstTokenMS = ttft
	agg.TimeToFirstAudioMS = ttfa
	agg.TimeToFirstChunkMS = ttfc

	return agg, nil
}

// costForRecord prices one provider call record using the operation's
// pricing function. TTS calls repurpose TokensOut as the synthesized
// character count — the Gateway's Attempt signature only carries token
// counts, so a TTS-producing stage reports char count through that slot.
func costForRecord(c *models.ProviderCallRecord) int64 {
	switch c.Operation {
	case models.OperationLLMGenerate, models.OperationLLMStream:
		return provider.EstimateLLMCostCents(c.Provider, c.Model, c.TokensIn, c.TokensOut)
	case models.OperationSTTTranscribe:
		return provider.EstimateSTTCostCents(c.Provider, c.Model, c.DurationMS)
	case models.OperationTTSSynthesize:
		return provider.EstimateTTSCostCents(c.Provider, c.Model, c.TokensOut)
	default:
		return 0
	}
}

// stageSummaries projects the Scheduler's in-memory Result into the
// compact per-stage summaries stored on the run row.
func stageSummaries(result stage.Result) []models.StageSummary {
	summaries := make([]models.StageSummary, 0, len(result.Outputs))
	for name, out := range result.Outputs {
		s := models.StageSummary{
			Name:       name,
			Status:     string(out.Status),
			DurationMS: result.Durations[name].Milliseconds(),
		}
		if out.Error != nil {
			s.Error = out.Error.Error()
		}
		summaries = append(summaries, s)
	}
	return summaries
}
