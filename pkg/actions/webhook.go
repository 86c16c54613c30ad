package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/petrijr/tickflow/pkg/api"
)

// IdempotencyKeyHeader carries ActionRequest.IdempotencyKey so receivers
// can drop redeliveries.
const IdempotencyKeyHeader = "Idempotency-Key"

// WebhookOptions configures a WebhookHandler.
type WebhookOptions struct {
	// Client defaults to an http.Client with Timeout.
	Client  *http.Client
	Timeout time.Duration

	// RateLimit is the sustained number of requests per second across all
	// tenants. Zero disables throttling.
	RateLimit float64
	RateBurst int
}

// WebhookHandler POSTs a JSON description of the action to the configured
// URL. Any non-2xx response is treated as a failure.
type WebhookHandler struct {
	client  *http.Client
	limiter *rate.Limiter
}

var _ api.ActionHandler = (*WebhookHandler)(nil)

func NewWebhookHandler(opts WebhookOptions) *WebhookHandler {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	h := &WebhookHandler{client: client}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return h
}

type webhookPayload struct {
	TenantID    string            `json:"tenant_id"`
	WorkflowID  string            `json:"workflow_id"`
	StateID     string            `json:"state_id"`
	NodeID      string            `json:"node_id"`
	EntityType  api.EntityType    `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	EntityEmail string            `json:"entity_email,omitempty"`
	Body        string            `json:"body,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Context     map[string]any    `json:"context,omitempty"`
}

func (h *WebhookHandler) Handle(ctx context.Context, req api.ActionRequest) (map[string]any, error) {
	if req.Config.URL == "" {
		return nil, fmt.Errorf("webhook node %s has no url", req.NodeID)
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("webhook rate limit: %w", err)
		}
	}

	body, err := json.Marshal(webhookPayload{
		TenantID:    req.TenantID,
		WorkflowID:  req.WorkflowID,
		StateID:     req.StateID,
		NodeID:      req.NodeID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		EntityEmail: req.EntityEmail,
		Body:        req.Config.Body,
		Fields:      req.Config.Fields,
		Context:     req.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Config.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(IdempotencyKeyHeader, req.IdempotencyKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return map[string]any{"status_code": resp.StatusCode}, nil
}
