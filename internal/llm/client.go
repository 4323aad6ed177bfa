package llm

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

// TransportError marks failures that happened before a usable completion was
// produced: network errors, timeouts, non-2xx statuses and unreadable
// response bodies. The retry layer treats these as retryable.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm transport error: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message is one chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the result of one successful backend call. Cost is computed
// from token usage at the client's configured per-million rate.
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Latency      time.Duration
}

// Client calls a DeepSeek-compatible chat completions endpoint. Every call
// requests a JSON object response; downstream decoding is the caller's job.
type Client struct {
	apiKey               string
	baseURL              string
	model                string
	maxTokens            int
	temperature          float64
	costPerMillionTokens float64
	httpClient           *http.Client
}

// Provider and model name recorded in the call ledger.
const ProviderName = "deepseek"

// NewClient creates a backend client. The timeout bounds each individual
// call attempt end to end.
func NewClient(apiKey, baseURL, model string, maxTokens int, temperature, costPerMillionTokens float64, timeout time.Duration) *Client {
	return &Client{
		apiKey:               apiKey,
		baseURL:              strings.TrimRight(baseURL, "/"),
		model:                model,
		maxTokens:            maxTokens,
		temperature:          temperature,
		costPerMillionTokens: costPerMillionTokens,
		httpClient:           &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Temperature    float64   `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete performs one chat completions call and returns the raw content
// plus token usage and computed cost. Transport failures and non-2xx
// statuses come back as *TransportError.
func (c *Client) Complete(ctx context.Context, system, user string) (*Completion, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	reqBody.ResponseFormat.Type = "json_object"

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &TransportError{Err: fmt.Errorf("response contained no choices")}
	}

	totalTokens := parsed.Usage.PromptTokens + parsed.Usage.CompletionTokens
	return &Completion{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Cost:         float64(totalTokens) / 1_000_000 * c.costPerMillionTokens,
		Latency:      latency,
	}, nil
}
