package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ppiankov/toolwatch/internal/model"
)

// ErrSinkStatus is returned when the sink answers with a non-2xx status.
var ErrSinkStatus = errors.New("sink rejected batch")

// Sink accepts one batch of classified records.
type Sink interface {
	Send(ctx context.Context, batch []model.ClassifiedRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []model.ClassifiedRecord) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, batch []model.ClassifiedRecord) error {
	return f(ctx, batch)
}

// Payload is the JSON body posted to the sink.
type Payload struct {
	Source    string                   `json:"source"`
	Timestamp time.Time                `json:"timestamp"`
	Count     int                      `json:"count"`
	Entries   []model.ClassifiedRecord `json:"entries"`
}

// HTTPSink posts batches as JSON to an HTTP endpoint.
type HTTPSink struct {
	endpoint string
	apiKey   string
	source   string
	client   *http.Client
}

// NewHTTPSink creates a sink for endpoint. A non-empty apiKey is sent as a
// bearer token.
func NewHTTPSink(endpoint, apiKey, source string, timeout time.Duration) *HTTPSink {
	if source == "" {
		source = "toolwatch"
	}
	return &HTTPSink{
		endpoint: endpoint,
		apiKey:   apiKey,
		source:   source,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send posts the batch in a single request.
func (s *HTTPSink) Send(ctx context.Context, batch []model.ClassifiedRecord) error {
	body, err := json.Marshal(Payload{
		Source:    s.source,
		Timestamp: time.Now().UTC(),
		Count:     len(batch),
		Entries:   batch,
	})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrSinkStatus, resp.StatusCode)
	}
	return nil
}
