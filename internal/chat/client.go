// Package chat drives one conversational turn: it streams a completion from
// an OpenAI-compatible endpoint, fans text deltas out to the transcript and
// the speech pipeline, and persists both sides of the exchange.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lectorlabs/lector/internal/reliability"
)

// ChatMessage is one entry of the completion prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamClient produces an ordered sequence of text deltas for a prompt.
// onDelta returning an error aborts the stream.
type StreamClient interface {
	StreamCompletion(ctx context.Context, messages []ChatMessage, onDelta func(delta string) error) (string, error)
}

// SSEClient streams chat completions over server-sent events.
type SSEClient struct {
	url         string
	model       string
	apiKey      string
	maxAttempts int
	client      *http.Client
}

type SSEClientOptions struct {
	// BaseURL is the service root, e.g. "http://localhost:11434/v1".
	BaseURL string
	Model   string
	APIKey  string
	// MaxDialAttempts bounds connection retries before the first byte is
	// read. Once streaming has begun there are no retries.
	MaxDialAttempts int
	Timeout         time.Duration
}

func NewSSEClient(opts SSEClientOptions) *SSEClient {
	attempts := opts.MaxDialAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SSEClient{
		url:         strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/") + "/chat/completions",
		model:       opts.Model,
		apiKey:      opts.APIKey,
		maxAttempts: attempts,
		client:      &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *SSEClient) StreamCompletion(ctx context.Context, messages []ChatMessage, onDelta func(string) error) (string, error) {
	payload, err := json.Marshal(completionRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	res, err := c.dial(ctx, payload)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	return c.consume(res.Body, onDelta)
}

// dial retries connection-level failures and retryable statuses with capped
// backoff. A stream that dies after its first byte is never retried here;
// mid-stream recovery is the caller's decision.
func (c *SSEClient) dial(ctx context.Context, payload []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		res, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return res, nil
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		lastErr = fmt.Errorf("completion service status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if !reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *SSEClient) consume(body io.Reader, onDelta func(string) error) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}
