package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultInitialDelay = 500 * time.Millisecond

	systemPrompt = "You help two co-parents plan their shared week. " +
		"Be warm, brief and practical. Never use markdown headings."
)

// ClientConfig holds configuration for the HTTP provider. MaxRetries is how
// many times a failed request is retried; zero sends each request once.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
// It implements both Provider and Streamer.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	maxRetries   int
	initialDelay time.Duration
	client       *http.Client
	stream       *http.Client
	logger       *slog.Logger
}

var (
	_ Provider = (*Client)(nil)
	_ Streamer = (*Client)(nil)
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient creates a provider client. A client without an API key is valid
// but reports itself as unconfigured.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		maxRetries:   cfg.MaxRetries,
		initialDelay: defaultInitialDelay,
		client:       &http.Client{Timeout: cfg.Timeout},
		// Streams stay open as long as the caller's context allows.
		stream: &http.Client{},
		logger: logger,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Generate runs a task to completion, retrying throttled and 5xx responses.
func (c *Client) Generate(ctx context.Context, task Task) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrProviderUnavailable
	}

	body, err := json.Marshal(c.newRequest(task.Prompt, task.MaxTokens, false))
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal request: %w", ErrProvider, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.initialDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying generation request",
				"kind", task.Kind,
				"correlation_id", task.CorrelationID,
				"attempt", attempt+1,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, fmt.Errorf("%w: %w", ErrProvider, ctx.Err())
			}
		}

		text, retryable, err := c.complete(ctx, body)
		if err == nil {
			return Result{Kind: task.Kind, CorrelationID: task.CorrelationID, RawText: text}, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Result{}, fmt.Errorf("%w: %s: %w", ErrProvider, task.CorrelationID, lastErr)
}

func (c *Client) complete(ctx context.Context, body []byte) (string, bool, error) {
	resp, err := c.do(ctx, c.client, body)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close completion body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, readAPIError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", false, errors.New("completion returned no choices")
	}
	return out.Choices[0].Message.Content, false, nil
}

// Stream issues a streaming completion and yields content deltas as they are
// decoded from the server-sent event body.
func (c *Client) Stream(ctx context.Context, prompt string, maxTokens int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !c.Configured() {
			yield("", ErrProviderUnavailable)
			return
		}

		body, err := json.Marshal(c.newRequest(prompt, maxTokens, true))
		if err != nil {
			yield("", fmt.Errorf("%w: marshal request: %w", ErrProvider, err))
			return
		}

		resp, err := c.do(ctx, c.stream, body)
		if err != nil {
			yield("", fmt.Errorf("%w: stream request: %w", ErrProvider, err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("failed to close stream body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			yield("", fmt.Errorf("%w: %w", ErrProvider, readAPIError(resp)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Debug("skipping undecodable stream chunk", "error", err)
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("%w: read stream: %w", ErrProvider, err))
		}
	}
}

func (c *Client) newRequest(prompt string, maxTokens int, stream bool) chatRequest {
	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

func (c *Client) do(ctx context.Context, hc *http.Client, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return hc.Do(req)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
