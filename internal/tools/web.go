package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxHTTPResponseBytes = 128 * 1024

// HTTPRequestTool performs an HTTP request on behalf of the agent. Private
// and loopback addresses are refused.
type HTTPRequestTool struct {
	client *http.Client
}

func NewHTTPRequestTool(timeoutSec int) *HTTPRequestTool {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &HTTPRequestTool{
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

func (t *HTTPRequestTool) Name() string        { return "http_request" }
func (t *HTTPRequestTool) Description() string { return "Perform an HTTP request and return the response body" }
func (t *HTTPRequestTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "Request URL (http or https)"},
			"method": map[string]any{"type": "string", "description": "HTTP method (default GET)"},
			"body":   map[string]any{"type": "string", "description": "Request body (optional)"},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers as a string map",
			},
		},
		"required": []string{"url"},
	}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ErrorResult("url must use http or https")
	}
	if err := checkSSRF(rawURL); err != nil {
		return ErrorResult(err.Error())
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if b, ok := args["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, body)
	if err != nil {
		return ErrorResult(fmt.Sprintf("bad request: %v", err))
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("request failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes+1))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read response: %v", err)).WithError(err)
	}
	truncated := ""
	if len(data) > maxHTTPResponseBytes {
		data = data[:maxHTTPResponseBytes]
		truncated = "\n... (response truncated)"
	}
	return NewResult(fmt.Sprintf("HTTP %d\n%s%s", resp.StatusCode, data, truncated))
}

// checkSSRF refuses URLs that resolve to loopback, private or link-local
// addresses.
func checkSSRF(rawURL string) error {
	host := rawURL
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("cannot resolve host %s: %v", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing request to private address %s", ip)
		}
	}
	return nil
}
