package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	evidence := "none"
	if len(event.Flags) > 0 {
		evidence = strings.Join(event.Flags, "\n")
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("toolwatch: %s risk", event.Level),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", event.Tool)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %s", event.Level)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", event.Summary)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", orDash(event.Agent))},
				},
			},
			map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": "*Evidence:*\n" + evidence},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("toolwatch %s: %s", event.Level, event.Summary),
			"severity": severityFor(event.Level),
			"source":   "toolwatch",
			"custom_details": map[string]any{
				"tool":       event.Tool,
				"record_id":  event.RecordID,
				"flags":      event.Flags,
				"session_id": event.SessionID,
				"agent":      event.Agent,
			},
		},
	}
	return json.Marshal(payload)
}

// severityFor maps a risk level to a PagerDuty severity.
func severityFor(level string) string {
	switch level {
	case "critical":
		return "critical"
	case "high":
		return "error"
	case "medium":
		return "warning"
	default:
		return "info"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
