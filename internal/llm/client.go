// ABOUTME: HTTP client for OpenAI-compatible chat completion endpoints
// ABOUTME: Supports streamed (SSE) and whole responses with tool calling via resty

package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	RetryCount  int
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	cfg    Config
	http   *resty.Client
	stream *resty.Client
	logger *slog.Logger

	// retryWait is the pause before a streamed request is retried.
	retryWait time.Duration
}

// NewClient creates a Client. Requests answered with 429 or a 5xx status are
// retried up to cfg.RetryCount times.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := newHTTPClient(cfg).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return false
			}
			return retryableStatus(r.StatusCode())
		})

	return &Client{
		cfg:  cfg,
		http: httpClient,
		// Streamed responses keep their raw body open, so resty must not
		// retry them; Stream closes each failed body and retries itself.
		stream:    newHTTPClient(cfg),
		logger:    logger.With("component", "llm", "model", cfg.Model),
		retryWait: time.Second,
	}
}

func newHTTPClient(cfg Config) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return c
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) buildRequest(req Request, stream bool) chatRequest {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    toWireMessages(req.System, req.Messages),
		Tools:       toWireTools(req.Tools),
		Temperature: c.cfg.Temperature,
		Stream:      stream,
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	return body
}

// Complete sends a non-streaming request.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()

	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.buildRequest(req, false)).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("calling model: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if len(result.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := result.Choices[0]
	c.logger.Debug("completion received",
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
		"duration", time.Since(start),
	)
	return &Completion{
		Message:      fromWireMessage(choice.Message),
		FinishReason: choice.FinishReason,
	}, nil
}

// Stream sends a streaming request and yields chunks as server-sent events
// arrive. It runs on the caller's goroutine.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		start := time.Now()

		resp, err := c.openStream(ctx, req)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		body := resp.RawBody()
		defer body.Close()

		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			data, _ := io.ReadAll(io.LimitReader(body, 64*1024))
			yield(Chunk{}, &APIError{StatusCode: resp.StatusCode(), Body: string(data)})
			return
		}

		acc := newAccumulator()
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Warn("skipping malformed stream chunk", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				acc.finishReason = *choice.FinishReason
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.addToolCall(tc)
			}
			if choice.Delta.Content != "" {
				acc.addText(choice.Delta.Content)
				if !yield(Chunk{Text: choice.Delta.Content}, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Chunk{}, fmt.Errorf("reading model stream: %w", err))
			return
		}

		msg := acc.message()
		c.logger.Debug("stream completed",
			"finish_reason", acc.finishReason,
			"tool_calls", len(msg.ToolCalls),
			"duration", time.Since(start),
		)
		yield(Chunk{Done: true, Message: &msg, FinishReason: acc.finishReason}, nil)
	}
}

// openStream posts a streaming request, retrying 429 and 5xx answers. The
// body of every discarded attempt is closed; the returned one is the caller's.
func (c *Client) openStream(ctx context.Context, req Request) (*resty.Response, error) {
	body := c.buildRequest(req, true)
	for attempt := 0; ; attempt++ {
		resp, err := c.stream.R().
			SetContext(ctx).
			SetHeader("Accept", "text/event-stream").
			SetBody(body).
			SetDoNotParseResponse(true).
			Post("/chat/completions")
		if err != nil {
			return nil, fmt.Errorf("calling model: %w", err)
		}
		if !retryableStatus(resp.StatusCode()) || attempt >= c.cfg.RetryCount {
			return resp, nil
		}

		resp.RawBody().Close()
		c.logger.Warn("retrying model stream", "status", resp.StatusCode(), "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("calling model: %w", ctx.Err())
		case <-time.After(c.retryWait):
		}
	}
}

var _ Model = (*Client)(nil)
