// Package slack delivers job outcome notifications to a Slack-compatible
// incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ratemate/taas/internal/observability/notify"
)

// Config captures the subset of webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers job outcome notifications to a webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	retryLimit int
	client     *http.Client
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retries := cfg.RetryLimit
	if retries < 0 {
		retries = 0
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   fallbackString(strings.TrimSpace(cfg.Username), "taas"),
		retryLimit: retries,
		client:     hc,
	}, nil
}

// SendJobOutcome posts a formatted message to the webhook.
func (c *Client) SendJobOutcome(ctx context.Context, payload notify.JobOutcomePayload) error {
	msg := c.formatMessage(payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			// Simple linear backoff to avoid thundering retries.
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

func (c *Client) formatMessage(payload notify.JobOutcomePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	text := strings.Builder{}
	writeHeader(&text, payload)
	appendField(&text, "Kind", payload.Kind)
	appendField(&text, "Test type", payload.TestType)
	appendField(&text, "Result", resultLabel(payload))
	appendField(&text, "Error", escapeText(payload.Error))
	if payload.PerfScore != nil {
		appendField(&text, "Perf score", strconv.FormatFloat(*payload.PerfScore, 'f', -1, 64))
	}
	appendAlertCounts(&text, payload)
	appendArtifacts(&text, payload.ArtifactURLs)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func writeHeader(text *strings.Builder, payload notify.JobOutcomePayload) {
	text.WriteString("*Test job ")
	text.WriteString(fallbackString(payload.Status, "finished"))
	text.WriteString("*")
	if payload.JobID != "" {
		text.WriteString(" `")
		text.WriteString(payload.JobID)
		text.WriteByte('`')
	}
	text.WriteByte('\n')
}

func resultLabel(payload notify.JobOutcomePayload) string {
	if payload.Status != "completed" {
		return ""
	}
	if payload.Passed {
		return "passed"
	}
	return "failed"
}

func appendAlertCounts(text *strings.Builder, payload notify.JobOutcomePayload) {
	if payload.AlertsHigh == nil && payload.AlertsMedium == nil {
		return
	}
	parts := make([]string, 0, 2)
	if payload.AlertsHigh != nil {
		parts = append(parts, "high="+strconv.Itoa(*payload.AlertsHigh))
	}
	if payload.AlertsMedium != nil {
		parts = append(parts, "medium="+strconv.Itoa(*payload.AlertsMedium))
	}
	appendField(text, "Security alerts", strings.Join(parts, " "))
}

func appendArtifacts(text *strings.Builder, urls []string) {
	if len(urls) == 0 {
		return
	}
	if len(urls) > notify.MaxArtifactLinks {
		urls = urls[:notify.MaxArtifactLinks]
	}
	text.WriteString("• Artifacts:\n")
	for _, u := range urls {
		text.WriteString("    • ")
		text.WriteString(u)
		text.WriteByte('\n')
	}
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func escapeText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	return drainSuccess(resp)
}

func drainSuccess(resp *http.Response) error {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain webhook response body: %w", err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain webhook response body: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("read webhook error response: %w", readErr),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("read webhook error response: %w", readErr)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return fmt.Errorf("webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}

func appendField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}
