package run

import (
	"context"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/dlq"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// ReplayFromEntry decodes a dead-letter entry's stored input data and
// starts a fresh run from it through the ordinary Start path (spec
// §4.11's reprocess operation). It deliberately does not reuse the
// failed run's ID — a replay is a new run with its own history, not a
// retry of the old row. runID is the caller's pre-allocated id for this
// new run: the caller typically needs it before Start returns, to wire a
// Streaming Bridge lane the replay's Send callbacks push into, so it
// can't be left for Start to generate internally. Ambient identifiers
// the entry itself doesn't carry (principal, tenant, requester) are
// supplied by the caller, since the admin surface that drives a
// reprocess is the one that knows who authorized it.
func (c *Controller) ReplayFromEntry(ctx context.Context, entry *models.DeadLetterEntry, runID string, ports *stage.PortBundle, principalID, tenantID, requesterID string) (stage.Result, error) {
	if len(entry.InputData) == 0 {
		return stage.Result{}, fmt.Errorf("run: replay %s: no stored input data", entry.ID)
	}
	input, err := dlq.DecodeInput(entry.InputData)
	if err != nil {
		return stage.Result{}, fmt.Errorf("run: replay %s: %w", entry.ID, err)
	}

	req := Request{
		RunID:       runID,
		Service:     entry.Service,
		RequesterID: requesterID,
		PrincipalID: principalID,
		TenantID:    tenantID,
		Topology:    input.Topology,
		Channel:     input.Channel,
		InputText:   input.InputText,
		AudioBytes:  input.AudioBytes,
		Messages:    input.Messages,
		Ports:       ports,
	}

	return c.Start(ctx, req)
}
