package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls an OpenAI-compatible /v1/audio/speech endpoint and
// returns the full encoded response body.
type HTTPClient struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

type HTTPClientOptions struct {
	// BaseURL is the service root, e.g. "http://localhost:8880/v1".
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		url:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/") + "/audio/speech",
		model:  opts.Model,
		apiKey: opts.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: "wav",
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &HTTPError{Status: res.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis service returned an empty body")
	}

	return &Result{Audio: audio, Format: "wav"}, nil
}
