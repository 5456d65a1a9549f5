// Package anthropicllm adapts the Anthropic Claude Messages API
// (github.com/anthropics/anthropic-sdk-go) to provider.LLMClient, so the
// llm_stream and assessment stages can run against a real model without
// ever importing the SDK themselves.
package anthropicllm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/pipelinekit/orchestrator/pkg/provider"
)

// messagesClient captures the subset of the Anthropic SDK client this
// adapter calls, so tests can substitute a fake instead of a live
// *sdk.MessageService.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements provider.LLMClient on top of Anthropic Claude
// Messages.
type Client struct {
	msg       messagesClient
	maxTokens int
}

// New builds a Client from an already-configured Anthropic Messages
// client. maxTokens is the completion cap used when a request doesn't
// carry its own (a provider.LLMRequest with MaxTokens > 0 overrides it);
// a non-positive maxTokens falls back to 4096.
func New(msg messagesClient, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropicllm: messages client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP
// transport, reading the key from the caller-supplied string (the
// composition root resolves it from config.ProviderConfig.APIKeyEnv).
func NewFromAPIKey(apiKey string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicllm: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, maxTokens)
}

// Generate issues a non-streaming Messages.New call and returns the
// concatenated text content plus token usage.
func (c *Client) Generate(ctx context.Context, req provider.LLMRequest) (string, int64, int64, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return "", 0, 0, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", 0, 0, fmt.Errorf("anthropicllm: messages.new: %w", err)
	}
	return textOf(msg), msg.Usage.InputTokens, msg.Usage.OutputTokens, nil
}

// Stream issues Messages.NewStreaming and forwards each text delta to
// onChunk, surfacing the final chunk's usage counts on Done.
func (c *Client) Stream(ctx context.Context, req provider.LLMRequest, onChunk func(provider.LLMChunk) error) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}
	stream := c.msg.NewStreaming(ctx, params)
	defer stream.Close()

	var tokensIn, tokensOut, cachedTokens int64
	for stream.Next() {
		event := stream.Current()
		switch delta := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if text, ok := delta.Delta.AsAny().(sdk.TextDelta); ok && text.Text != "" {
				if err := onChunk(provider.LLMChunk{Delta: text.Text}); err != nil {
					return err
				}
			}
		case sdk.MessageDeltaEvent:
			tokensIn, tokensOut = delta.Usage.InputTokens, delta.Usage.OutputTokens
			cachedTokens = delta.Usage.CacheReadInputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropicllm: stream: %w", err)
	}
	return onChunk(provider.LLMChunk{Done: true, TokensIn: tokensIn, TokensOut: tokensOut, CachedTokens: cachedTokens})
}

func (c *Client) buildParams(req provider.LLMRequest) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropicllm: at least one message is required")
	}
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		default:
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.SystemText != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemText}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params, nil
}

func textOf(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
