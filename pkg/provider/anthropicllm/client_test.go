package anthropicllm

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/provider"
)

// fakeMessagesClient satisfies messagesClient without talking to Anthropic,
// so Generate can be exercised without a live stream transport.
type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}

func (f *fakeMessagesClient) NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func TestNewRejectsNilMessagesClient(t *testing.T) {
	_, err := New(nil, 1024)
	require.Error(t, err)
}

func TestNewFromAPIKeyRejectsEmptyKey(t *testing.T) {
	_, err := NewFromAPIKey("", 1024)
	require.Error(t, err)
}

func TestBuildParamsRequiresMessages(t *testing.T) {
	c := &Client{maxTokens: 1024}
	_, err := c.buildParams(provider.LLMRequest{Model: "claude-sonnet-4-5"})
	require.Error(t, err)
}

func TestGenerateReturnsTextAndUsage(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			Usage: sdk.Usage{InputTokens: 12, OutputTokens: 8},
		},
	}
	c, err := New(fake, 1024)
	require.NoError(t, err)

	text, tokensIn, tokensOut, err := c.Generate(context.Background(), provider.LLMRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.EqualValues(t, 12, tokensIn)
	assert.EqualValues(t, 8, tokensOut)
}

func TestGeneratePropagatesTransportError(t *testing.T) {
	fake := &fakeMessagesClient{err: assert.AnError}
	c, err := New(fake, 1024)
	require.NoError(t, err)

	_, _, _, err = c.Generate(context.Background(), provider.LLMRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
}

func TestBuildParamsUsesRequestMaxTokensOverDefault(t *testing.T) {
	c := &Client{maxTokens: 256}
	params, err := c.buildParams(provider.LLMRequest{
		Model:     "claude-sonnet-4-5",
		Messages:  []models.Message{{Role: "user", Content: "hello"}},
		MaxTokens: 900,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 900, params.MaxTokens)
}
