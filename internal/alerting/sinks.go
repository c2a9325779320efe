package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink POSTs the event as JSON to a configured URL.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook alert sink.
func NewWebhookSink(url string, headers map[string]string) *WebhookSink {
	return &WebhookSink{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the sink name
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Deliver sends the event via webhook
func (s *WebhookSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// SlackSink posts Slack-formatted messages to an incoming webhook.
type SlackSink struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackSink creates a Slack alert sink.
func NewSlackSink(webhookURL, channel, username string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the sink name
func (s *SlackSink) Name() string {
	return "slack"
}

// Deliver sends the event to Slack
func (s *SlackSink) Deliver(ctx context.Context, event Event) error {
	fields := []map[string]interface{}{
		{
			"title": "Kind",
			"value": string(event.Kind),
			"short": true,
		},
	}
	if event.TenantID != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Tenant",
			"value": event.TenantID,
			"short": true,
		})
	}
	for key, value := range event.Payload {
		fields = append(fields, map[string]interface{}{
			"title": key,
			"value": fmt.Sprintf("%v", value),
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":     colorForKind(event.Kind),
				"title":     event.Message,
				"timestamp": event.Timestamp.Unix(),
				"fields":    fields,
			},
		},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack API returned status %d", resp.StatusCode)
	}

	return nil
}

func colorForKind(kind EventKind) string {
	switch kind {
	case EventBreakerClosed:
		return "#36a64f" // green
	case EventBudgetSoftCap, EventAgentAnomaly:
		return "#ff9500" // orange
	case EventBudgetHardCap, EventBreakerOpen:
		return "#ff0000" // red
	default:
		return "#808080" // gray
	}
}

// FuncSink wraps an arbitrary callback as a sink.
type FuncSink struct {
	name string
	fn   func(ctx context.Context, event Event) error
}

// NewFuncSink creates a sink from a callback.
func NewFuncSink(name string, fn func(ctx context.Context, event Event) error) *FuncSink {
	return &FuncSink{name: name, fn: fn}
}

// Name returns the sink name
func (s *FuncSink) Name() string {
	return s.name
}

// Deliver invokes the callback
func (s *FuncSink) Deliver(ctx context.Context, event Event) error {
	return s.fn(ctx, event)
}
