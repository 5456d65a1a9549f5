package pipelines

import (
	"context"
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterSkipsAssessmentForShortInput(t *testing.T) {
	st, err := NewRouterStage(&stage.PortBundle{})
	require.NoError(t, err)

	snapshot := testSnapshot()
	snapshot.InputText = "hi"
	in := newTestInputs(snapshot, &stage.PortBundle{}, nil, &fakeEmitter{})

	out := st.Execute(context.Background(), in)

	require.Equal(t, models.StageOK, out.Status)
	assert.Equal(t, true, out.Results["skip_assessment"])
}

func TestRouterKeepsAssessmentForLongInput(t *testing.T) {
	st, err := NewRouterStage(&stage.PortBundle{})
	require.NoError(t, err)

	snapshot := testSnapshot()
	snapshot.InputText = "this is a much longer message with plenty of words in it"
	in := newTestInputs(snapshot, &stage.PortBundle{}, nil, &fakeEmitter{})

	out := st.Execute(context.Background(), in)

	assert.Equal(t, false, out.Results["skip_assessment"])
}

func TestRouterReadsTranscriptWhenUpstreamPresent(t *testing.T) {
	st, err := NewRouterStage(&stage.PortBundle{})
	require.NoError(t, err)

	snapshot := testSnapshot()
	snapshot.InputText = ""
	upstream := map[string]models.StageOutput{
		"transcribe": models.OK(map[string]any{"transcript": "a fairly long transcribed voice message here"}),
	}
	in := newTestInputs(snapshot, &stage.PortBundle{}, upstream, &fakeEmitter{})

	out := st.Execute(context.Background(), in)

	assert.Equal(t, false, out.Results["skip_assessment"])
}
