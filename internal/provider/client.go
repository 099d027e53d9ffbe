package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/circuitbreaker"
	"github.com/quillframe/ragcore/internal/tracing"
)

// Client talks to the model provider over HTTP with an API key header. A
// circuit breaker sits in front of the transport so a dead upstream fails
// fast instead of holding every caller for a full timeout.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
	log     *zap.Logger
}

// NewClient builds a provider client. Timeouts are enforced per call via
// context deadlines so a single http.Client can serve both operations.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.GenerateTimeout == 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: circuitbreaker.New("provider", circuitbreaker.DefaultConfig(), logger),
		log:     logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

// Embed requests vectors for a batch of texts. The returned slice is
// positionally aligned with the input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/v1/embeddings"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, err := json.Marshal(embedRequest{Texts: texts, Model: c.cfg.EmbedModel})
	if err != nil {
		return nil, 0, &Error{Kind: KindProviderFailure, Message: fmt.Sprintf("encode request: %v", err), cause: err}
	}

	resp, perr := c.do(ctx, url, body)
	if perr != nil {
		return nil, 0, perr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, c.statusError(resp)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, &Error{Kind: KindParseFailure, Message: fmt.Sprintf("decode embeddings: %v", err), cause: err}
	}
	if len(out.Embeddings) != len(texts) {
		return nil, 0, &Error{
			Kind:    KindParseFailure,
			Message: fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(out.Embeddings)),
		}
	}
	return out.Embeddings, out.Dimensions, nil
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxOutputTokens,omitempty"`
	Stream      bool    `json:"stream"`
}

// GenerateStream runs a generation call and invokes emit for each text
// fragment in arrival order. It returns the provider's usage metadata when
// the stream carried one.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, emit func(fragment string)) (Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/v1/generate"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, err := json.Marshal(generateRequest{
		Model:       c.cfg.GenerateModel,
		Prompt:      prompt,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
		Stream:      true,
	})
	if err != nil {
		return Usage{}, &Error{Kind: KindProviderFailure, Message: fmt.Sprintf("encode request: %v", err), cause: err}
	}

	resp, perr := c.do(ctx, url, body)
	if perr != nil {
		return Usage{}, perr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Usage{}, c.statusError(resp)
	}

	usage, err := parseStream(resp.Body, emit)
	if err != nil {
		if ctx.Err() != nil {
			return usage, &Error{Kind: KindCancelled, Message: ctx.Err().Error(), cause: ctx.Err()}
		}
		return usage, err
	}
	return usage, nil
}

// GenerateText collects a full generation into a single string.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, Usage, error) {
	var buf bytes.Buffer
	usage, err := c.GenerateStream(ctx, prompt, opts, func(fragment string) {
		buf.WriteString(fragment)
	})
	if err != nil {
		return "", usage, err
	}
	return buf.String(), usage, nil
}

func (c *Client) do(ctx context.Context, url string, body []byte) (*http.Response, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindProviderFailure, Message: err.Error(), cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	var resp *http.Response
	execErr := c.breaker.Execute(func() error {
		r, derr := c.http.Do(req)
		if derr != nil {
			return derr
		}
		resp = r
		// Retryable statuses count against the breaker but the response is
		// still handed back so the caller reports the real status.
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= http.StatusInternalServerError {
			return errRetryableStatus
		}
		return nil
	})
	if resp != nil {
		return resp, nil
	}
	if errors.Is(execErr, circuitbreaker.ErrOpen) || errors.Is(execErr, circuitbreaker.ErrHalfOpenSaturated) {
		return nil, &Error{Kind: KindProviderUnavailable, Message: execErr.Error(), cause: execErr}
	}
	return nil, wrapTransport(ctx, execErr)
}

// errRetryableStatus marks a 429/5xx response as a breaker failure without
// discarding the response.
var errRetryableStatus = errors.New("retryable upstream status")

func (c *Client) statusError(resp *http.Response) *Error {
	msg := readErrorBody(resp.Body)
	kind := classifyStatus(resp.StatusCode)
	c.log.Warn("Provider call failed",
		zap.Int("status", resp.StatusCode),
		zap.String("kind", kind.String()),
		zap.String("body", msg),
	)
	return &Error{Kind: kind, Status: resp.StatusCode, Message: msg}
}

// readErrorBody extracts a short diagnostic from an error response, trying
// the conventional {"error": {"message": ...}} shape first.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "empty response body"
	}
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return string(raw)
}
