// Package provider is an HTTP client for the external model provider,
// covering batch embedding and streaming text generation.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind int

const (
	// KindProviderFailure is a non-retryable upstream error (bad request,
	// auth, unprocessable input).
	KindProviderFailure ErrorKind = iota
	// KindProviderUnavailable is a retryable upstream error (throttling,
	// 5xx, transport failure).
	KindProviderUnavailable
	// KindCancelled means the caller's context ended the call.
	KindCancelled
	// KindParseFailure means the provider answered with a body we could
	// not decode.
	KindParseFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindCancelled:
		return "cancelled"
	case KindParseFailure:
		return "parse_failure"
	default:
		return "provider_failure"
	}
}

// Error wraps a provider call failure with its classification.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the call may be retried.
func (e *Error) Retryable() bool { return e.Kind == KindProviderUnavailable }

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}

// classifyStatus maps an HTTP status to an error kind. Throttling and
// server-side failures are retryable; other client errors are not.
func classifyStatus(status int) ErrorKind {
	if status == http.StatusTooManyRequests || status >= 500 {
		return KindProviderUnavailable
	}
	return KindProviderFailure
}

// wrapTransport converts a transport-level error, honoring cancellation.
func wrapTransport(ctx context.Context, err error) *Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCancelled, Message: err.Error(), cause: err}
	}
	return &Error{Kind: KindProviderUnavailable, Message: err.Error(), cause: err}
}

// Config holds provider connection settings.
type Config struct {
	BaseURL         string
	APIKey          string
	EmbedModel      string
	GenerateModel   string
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	Temperature     float64
	MaxOutputTokens int
}

// Usage is the provider's token accounting, interleaved at the end of a
// generation stream when available.
type Usage struct {
	PromptTokens    int `json:"promptTokens"`
	CandidateTokens int `json:"candidatesTokens"`
	TotalTokens     int `json:"totalTokens"`
}
