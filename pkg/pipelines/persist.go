package pipelines

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pipelinekit/orchestrator/pkg/applier"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/policy"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// persistStage is the terminal stage of every topology: it runs the
// assistant's output through the Agent Output Applier (spec §4.10),
// persisting whatever policy and size caps accept, then sends a
// client-facing status frame reporting what was kept. The actual
// terminal chat.complete/voice.complete frame is the Run Controller's
// responsibility (spec §4.7 step 9), not this stage's — a stage only
// ever sees its own run, never whether it was the last one to run.
type persistStage struct {
	applier *applier.Applier
}

// NewPersistStage builds the persist stage.
func NewPersistStage(ports *stage.PortBundle) (stage.Stage, error) {
	a := artifactApplier(ports)
	if a == nil {
		return nil, fmt.Errorf("pipelines: persist stage requires %s in the port bundle Extra", ExtraApplier)
	}
	return &persistStage{applier: a}, nil
}

func (s *persistStage) Name() string { return "persist" }

func (s *persistStage) Execute(ctx context.Context, in stage.Inputs) models.StageOutput {
	generated, ok := in.Upstream("llm_stream")
	if !ok || generated.Status != models.StageOK {
		return models.Fail(fmt.Errorf("persist: no llm_stream reply available"))
	}
	reply, _ := generated.Results["text"].(string)
	if reply == "" {
		return models.Fail(fmt.Errorf("persist: llm_stream produced an empty reply"))
	}

	output := models.AgentOutput{
		RunID:            in.RunContext().RunID,
		AssistantMessage: reply,
		Artifacts: []models.AgentArtifact{
			{ID: uuid.NewString(), Kind: "assistant_message", ContentType: "text/plain", Payload: []byte(reply)},
		},
	}

	rc := in.RunContext()
	applied, err := s.applier.Apply(ctx, policy.Context{
		RunID: rc.RunID, RequestID: rc.RequestID, SessionID: rc.SessionID,
		PrincipalID: rc.PrincipalID, TenantID: rc.TenantID,
		Service: in.Snapshot.Topology, Intent: "persist",
	}, output)
	if err != nil {
		return models.Fail(fmt.Errorf("persist: %w", err))
	}

	if in.Ports.Send.SendStatus != nil {
		in.Ports.Send.SendStatus("persisted", map[string]any{
			"accepted_artifacts": len(applied.AcceptedArtifacts),
			"rejected_reason":    applied.RejectedReason,
		}, false)
	}

	return models.OK(map[string]any{
		"accepted_artifacts": len(applied.AcceptedArtifacts),
		"rejected_reason":    applied.RejectedReason,
	})
}
