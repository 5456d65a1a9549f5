// Package openaiaudio implements provider.STTClient and provider.TTSClient
// against OpenAI's Whisper transcription and TTS HTTP endpoints. No SDK in
// the dependency corpus covers speech, so this talks to the REST API
// directly with net/http (see DESIGN.md for the justification).
package openaiaudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/provider"
)

const (
	transcriptionsURL = "https://api.openai.com/v1/audio/transcriptions"
	speechURL         = "https://api.openai.com/v1/audio/speech"
	defaultTimeout    = 60 * time.Second
)

// Client implements provider.STTClient and provider.TTSClient against the
// OpenAI audio endpoints.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseSTTURL string
	baseTTSURL string
}

// New builds a Client against the OpenAI production endpoints. A nil
// httpClient falls back to one with a 60-second timeout.
func New(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{apiKey: apiKey, httpClient: httpClient, baseSTTURL: transcriptionsURL, baseTTSURL: speechURL}
}

// Transcribe sends req.Audio as a multipart upload to
// /v1/audio/transcriptions and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, req provider.STTRequest) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("openaiaudio: build multipart body: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", fmt.Errorf("openaiaudio: write audio payload: %w", err)
	}
	model := req.Model
	if model == "" {
		model = "whisper-1"
	}
	_ = mw.WriteField("model", model)
	if req.Language != "" {
		_ = mw.WriteField("language", req.Language)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("openaiaudio: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseSTTURL, &body)
	if err != nil {
		return "", fmt.Errorf("openaiaudio: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openaiaudio: transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", errTranscriptionFailed(resp.StatusCode), readBody(resp.Body))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openaiaudio: decode transcription response: %w", err)
	}
	return out.Text, nil
}

// Synthesize requests speech audio for req.Text and delivers the entire
// response body as a single chunk. The upstream API is not chunked
// itself, so this satisfies the streaming TTSClient contract with one
// Done=true callback rather than faking incremental delivery.
func (c *Client) Synthesize(ctx context.Context, req provider.TTSRequest, onChunk func(provider.TTSChunk) error) error {
	model := req.Model
	if model == "" {
		model = "tts-1"
	}
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	payload, err := json.Marshal(map[string]string{
		"model": model,
		"input": req.Text,
		"voice": voice,
	})
	if err != nil {
		return fmt.Errorf("openaiaudio: marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseTTSURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("openaiaudio: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openaiaudio: speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", errSpeechFailed(resp.StatusCode), readBody(resp.Body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openaiaudio: read speech response: %w", err)
	}
	return onChunk(provider.TTSChunk{Audio: audio, Done: true})
}

func errTranscriptionFailed(status int) error {
	return fmt.Errorf("openaiaudio: transcription request failed with status %d", status)
}

func errSpeechFailed(status int) error {
	return fmt.Errorf("openaiaudio: speech request failed with status %d", status)
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return string(b)
}
