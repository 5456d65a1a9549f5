package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// RetryAction determines how the Gateway should respond to a call
// failure.
type RetryAction int

const (
	// NoRetry — the error is not recoverable (bad request, auth
	// failure, deadline exceeded).
	NoRetry RetryAction = iota
	// Retry — transient error, safe to retry with backoff.
	Retry
)

// ClassifyError determines the retry action for a provider call error,
// grounded on the same signal set (context errors, net.Error, transport
// string matching) the teacher uses for MCP operation recovery, applied
// here to LLM/STT/TTS provider calls instead of MCP tool calls.
func ClassifyError(err error) RetryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return Retry
	}

	if isTransportError(err) {
		return Retry
	}

	if isRateLimitError(err) {
		return Retry
	}

	return NoRetry
}

func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "connection closed", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
