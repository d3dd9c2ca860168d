package alert

import (
	"time"

	"github.com/ppiankov/toolwatch/internal/model"
)

// Config defines the webhook alert destination.
type Config struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL     string            `mapstructure:"url"     yaml:"url"     json:"url"`
	Format  string            `mapstructure:"format"  yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Levels  []string          `mapstructure:"levels"  yaml:"levels"  json:"levels"` // allow-list, default ["critical"]
	Headers map[string]string `mapstructure:"headers" yaml:"headers" json:"headers"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// Event is the payload sent to webhook endpoints in the generic format.
type Event struct {
	Timestamp string   `json:"timestamp"`
	RecordID  string   `json:"record_id"`
	Tool      string   `json:"tool"`
	Summary   string   `json:"summary"`
	Level     string   `json:"level"`
	Score     int      `json:"score"`
	Flags     []string `json:"flags"`
	SessionID string   `json:"session_id,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// NewEvent builds the alert payload for a classified record.
func NewEvent(rec model.Record, v model.Verdict) Event {
	flags := make([]string, 0, len(v.Flags))
	for _, f := range v.Flags {
		flags = append(flags, f.String())
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		RecordID:  rec.ID,
		Tool:      rec.Tool,
		Summary:   rec.Summary(),
		Level:     string(v.Level),
		Score:     v.Score,
		Flags:     flags,
		SessionID: rec.SessionID,
		Agent:     rec.Agent,
		Source:    rec.Source,
	}
}
