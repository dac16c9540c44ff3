package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hivemind-dev/hivemind/internal/convo"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, DeepSeek, vLLM, ...).
type OpenAIClient struct {
	name       string
	apiKey     string
	apiBase    string
	model      string
	maxRetries int
	client     *http.Client
}

func NewOpenAIClient(name, apiKey, apiBase, model string, maxRetries, timeoutSec int) *OpenAIClient {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if timeoutSec <= 0 {
		timeoutSec = 120
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &OpenAIClient{
		name:       name,
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", c.name, err)
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("llm retry", "service", c.name, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		resp, err := c.doRequest(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrTransport, c.name, lastErr)
}

// retryableStatus marks an HTTP status worth retrying.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return true // network-level errors
}

func (c *OpenAIClient) doRequest(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return nil, &httpStatusError{status: httpResp.StatusCode, body: string(b)}
	}

	var wire openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parseResponse(&wire), nil
}

func (c *OpenAIClient) buildBody(req Request) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, e := range req.Messages {
		m := map[string]any{"role": e.Role}
		if len(e.Parts) > 0 {
			parts := make([]map[string]any, 0, len(e.Parts))
			for _, p := range e.Parts {
				switch p.Type {
				case "image_url":
					parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": p.ImageURL}})
				default:
					parts = append(parts, map[string]any{"type": "text", "text": p.Text})
				}
			}
			m["content"] = parts
		} else {
			m["content"] = e.Content
		}
		if len(e.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(e.ToolCalls))
			for _, tc := range e.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Function.Name,
						"arguments": tc.Function.Arguments,
					},
				})
			}
			m["tool_calls"] = calls
		}
		if e.ToolCallID != "" {
			m["tool_call_id"] = e.ToolCallID
		}
		msgs = append(msgs, m)
	}

	body := map[string]any{
		"model":    c.model,
		"messages": msgs,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	return body
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseResponse(wire *openAIResponse) *Response {
	resp := &Response{}
	if len(wire.Choices) > 0 {
		msg := wire.Choices[0].Message
		resp.Content = msg.Content
		resp.ReasoningContent = msg.ReasoningContent
		for _, tc := range msg.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, convo.ToolCall{
				ID: tc.ID,
				Function: convo.FunctionCall{
					Name:      strings.TrimSpace(tc.Function.Name),
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	if wire.Usage != nil {
		resp.Usage = convo.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	return resp
}
