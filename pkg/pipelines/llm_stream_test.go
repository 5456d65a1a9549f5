package pipelines

import (
	"context"
	"errors"
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLLMStreamPorts(llm *fakeLLM, policies map[string]*config.PolicyConfig) *stage.PortBundle {
	gw, _, _ := testGateway()
	ports := &stage.PortBundle{
		Gateway: gw,
		LLM:     llm,
		Extra: map[string]any{
			ExtraProviders:   testProviders(),
			ExtraLLMProvider: "anthropic-claude",
		},
	}
	if policies != nil {
		ports.Extra[ExtraPolicies] = testPolicies(policies)
	}
	return ports
}

func TestLLMStreamStageStreamsTokensAndAccumulatesText(t *testing.T) {
	llm := &fakeLLM{streamChunks: []provider.LLMChunk{
		{Delta: "Hel"}, {Delta: "lo"}, {Delta: "", Done: true, TokensIn: 5, TokensOut: 2},
	}}
	ports := testLLMStreamPorts(llm, nil)
	sends := &recordedSends{}
	ports.Send = sends.funcs()

	st, err := NewLLMStreamStage(ports)
	require.NoError(t, err)

	in := newTestInputs(testSnapshot(), ports, nil, &fakeEmitter{})
	out := st.Execute(context.Background(), in)

	require.Equal(t, models.StageOK, out.Status)
	assert.Equal(t, "Hello", out.Results["text"])
	assert.Equal(t, []string{"Hel", "lo", ""}, sends.tokens)
}

func TestLLMStreamStageSkipsWhenBlockedByPolicy(t *testing.T) {
	llm := &fakeLLM{streamChunks: []provider.LLMChunk{{Delta: "should not stream", Done: true}}}
	deny := config.DecisionBlock
	ports := testLLMStreamPorts(llm, map[string]*config.PolicyConfig{
		"deny-llm": {Checkpoint: config.CheckpointPreLLM, ForceDecision: &deny},
	})
	sends := &recordedSends{}
	ports.Send = sends.funcs()

	st, err := NewLLMStreamStage(ports)
	require.NoError(t, err)

	in := newTestInputs(testSnapshot(), ports, nil, &fakeEmitter{})
	out := st.Execute(context.Background(), in)

	assert.Equal(t, models.StageSkip, out.Status)
	assert.Empty(t, sends.tokens)
}

func TestLLMStreamStagePropagatesStreamError(t *testing.T) {
	llm := &fakeLLM{streamErr: errors.New("stream exploded")}
	ports := testLLMStreamPorts(llm, nil)
	ports.Send = (&recordedSends{}).funcs()

	st, err := NewLLMStreamStage(ports)
	require.NoError(t, err)

	in := newTestInputs(testSnapshot(), ports, nil, &fakeEmitter{})
	out := st.Execute(context.Background(), in)

	assert.Equal(t, models.StageFail, out.Status)
}
