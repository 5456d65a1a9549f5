package pipelines

import (
	"context"
	"strings"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// routerStage picks up the run's input and decides whether the
// assessment stage downstream should run at all, by setting
// skip_assessment in its output — the field the assessment stage's
// StageSpec.ConditionField names in the accurate topologies.
type routerStage struct{}

// NewRouterStage builds the router stage. It declares no port
// dependencies.
func NewRouterStage(_ *stage.PortBundle) (stage.Stage, error) {
	return routerStage{}, nil
}

func (routerStage) Name() string { return "router" }

// shortInputWords is the word-count threshold at or below which a turn is
// judged too slight to be worth an extra assessment round trip.
const shortInputWords = 4

func (routerStage) Execute(_ context.Context, in stage.Inputs) models.StageOutput {
	text := in.Snapshot.InputText
	if transcribed, ok := in.Upstream("transcribe"); ok && transcribed.Status == models.StageOK {
		if t, ok := transcribed.Results["transcript"].(string); ok {
			text = t
		}
	}

	words := len(strings.Fields(text))
	skipAssessment := words <= shortInputWords

	return models.OK(map[string]any{
		"route":           in.Snapshot.Channel,
		"skip_assessment": skipAssessment,
		"input_words":     words,
	})
}
