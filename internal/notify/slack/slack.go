// Package slack announces newly opened incidents to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/incident"
)

const (
	maxBodyLen  = 3000
	maxLinks    = 5
	httpTimeout = 10 * time.Second
)

// Score bands for the header emoji.
const (
	highScore   = 0.7
	mediumScore = 0.4
)

// Notifier posts incident-opened messages to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a message about inc, opened by ev, to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, inc *incident.Incident, ev *event.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(inc, ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "incident_id", inc.ID)
	return nil
}

func buildMessage(inc *incident.Incident, ev *event.Event) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(inc, ev),
			{"type": "divider"},
			fieldsBlock(inc, ev),
			{"type": "divider"},
			detailBlock(ev),
			{"type": "divider"},
			contextBlock(inc, ev),
		},
	}
}

func incidentScore(inc *incident.Incident, ev *event.Event) float64 {
	if inc.Score != nil {
		return *inc.Score
	}
	return ev.Score
}

func headerBlock(inc *incident.Incident, ev *event.Event) map[string]any {
	text := fmt.Sprintf("%s Incident opened: %s", scoreEmoji(incidentScore(inc, ev)), ev.Title)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(inc *incident.Incident, ev *event.Event) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.3f", incidentScore(inc, ev))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Entity:* %s/%s", ev.Entity.Type, ev.Entity.ID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", ev.Source)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Type:* %s", ev.Type)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Top factor:* %s", orDash(string(ev.Explain.TopFactor)))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Events:* %d", inc.EventCount)},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailBlock(ev *event.Event) map[string]any {
	var b strings.Builder
	b.WriteString(truncate(ev.Body, maxBodyLen))
	if b.Len() == 0 {
		b.WriteString("_No details provided._")
	}
	for i, l := range ev.Links {
		if i == maxLinks {
			break
		}
		label := l.Text
		if label == "" {
			label = l.Href
		}
		fmt.Fprintf(&b, "\n<%s|%s>", l.Href, label)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Details*\n\n" + b.String(),
		},
	}
}

func contextBlock(inc *incident.Incident, ev *event.Event) map[string]any {
	ts := ev.OccurredAt
	if inc.LastEventAt != nil {
		ts = *inc.LastEventAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("signalos • incident %s • %s", inc.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func scoreEmoji(score float64) string {
	switch {
	case score >= highScore:
		return "\U0001f534" // red circle
	case score >= mediumScore:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to at most limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
