package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ppiankov/toolwatch/internal/model"
)

// Validate checks ranges and required fields. All problems are reported
// together.
func (c Config) Validate() error {
	var errs []string

	if c.Watch.Pattern != "" {
		if _, err := filepath.Match(c.Watch.Pattern, "x"); err != nil {
			errs = append(errs, fmt.Sprintf("watch.pattern: %v", err))
		}
	}
	if c.Watch.Workers < 0 {
		errs = append(errs, "watch.workers must not be negative")
	}

	if c.Detection.Window < 0 {
		errs = append(errs, "detection.window must not be negative")
	}
	if c.Detection.RecentLimit < 0 {
		errs = append(errs, "detection.recent_limit must not be negative")
	}

	if c.Delivery.Enabled {
		if err := checkURL(c.Delivery.Endpoint); err != nil {
			errs = append(errs, fmt.Sprintf("delivery.endpoint: %v", err))
		}
	}
	if c.Delivery.BatchSize < 0 || c.Delivery.MaxBuffer < 0 || c.Delivery.RequeueLimit < 0 {
		errs = append(errs, "delivery sizes must not be negative")
	}
	if c.Delivery.MaxBuffer > 0 && c.Delivery.BatchSize > c.Delivery.MaxBuffer {
		errs = append(errs, "delivery.batch_size must not exceed delivery.max_buffer")
	}

	if c.Alerts.Enabled {
		if err := checkURL(c.Alerts.URL); err != nil {
			errs = append(errs, fmt.Sprintf("alerts.url: %v", err))
		}
	}
	switch c.Alerts.Format {
	case "", "generic", "slack", "pagerduty":
	default:
		errs = append(errs, fmt.Sprintf("alerts.format: unknown format %q", c.Alerts.Format))
	}
	for _, l := range c.Alerts.Levels {
		if _, err := model.ParseLevel(l); err != nil {
			errs = append(errs, fmt.Sprintf("alerts.levels: %v", err))
		}
	}

	for _, p := range c.Redact.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("redact.patterns: %v", err))
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, "tracing.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("required when enabled")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
