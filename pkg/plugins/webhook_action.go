package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/latchflow/core/pkg/util/resiliency"
)

// WebhookActionConfig is a webhook action definition's stored config.
type WebhookActionConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// WebhookActionRuntime is Latchflow's built-in HTTP-callout action
// capability: a webhook POST is the one outbound integration every
// deployment needs without a third-party plug-in installed.
type WebhookActionRuntime struct {
	client *resiliency.EnhancedClient
	config WebhookActionConfig
}

// NewWebhookActionFactory returns an ActionFactory registering the
// webhook:post built-in capability.
func NewWebhookActionFactory() ActionFactory {
	return func(ctx context.Context, raw json.RawMessage) (ActionRuntime, error) {
		var cfg WebhookActionConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("plugins: webhook config: %w", err)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("plugins: webhook config requires url")
		}
		if cfg.Method == "" {
			cfg.Method = http.MethodPost
		}
		return &WebhookActionRuntime{client: resiliency.NewEnhancedClient(), config: cfg}, nil
	}
}

// Execute posts input to the configured URL, retrying transient failures
// per EnhancedClient's backoff/circuit-breaker policy. A transport error or
// a 5xx response is surfaced as a RetryRequest rather than a hard error,
// since webhook endpoints are expected to recover; a 4xx response is
// returned as an error.
func (r *WebhookActionRuntime) Execute(ctx context.Context, input json.RawMessage) (ActionResult, error) {
	req, err := http.NewRequestWithContext(ctx, r.config.Method, r.config.URL, bytes.NewReader(input))
	if err != nil {
		return ActionResult{}, fmt.Errorf("plugins: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return ActionResult{Retry: &RetryRequest{DelayMs: 5000, Reason: err.Error()}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ActionResult{Retry: &RetryRequest{DelayMs: 5000, Reason: fmt.Sprintf("webhook status %d", resp.StatusCode)}}, nil
	}
	if resp.StatusCode >= 400 {
		return ActionResult{}, fmt.Errorf("plugins: webhook rejected with status %d", resp.StatusCode)
	}

	return ActionResult{Output: json.RawMessage(fmt.Sprintf(`{"status":%d}`, resp.StatusCode))}, nil
}
