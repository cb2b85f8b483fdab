package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sink is the external executor actions are submitted to (scheduler or BMS
// side). Implementations must be idempotent-safe: the dispatch path retries
// once on transient failure.
//
// Apply blocks until the executor acknowledges or the context expires; the
// caller always bounds the context.
type Sink interface {
	Apply(ctx context.Context, c Candidate) error
	Name() string
}

// HTTPSink submits candidates as JSON to an executor endpoint. A non-2xx
// response is a failed execution.
type HTTPSink struct {
	// URL is the executor endpoint, e.g. http://bms-executor:8090/actions.
	URL string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (s *HTTPSink) Name() string { return "http" }

// Apply implements Sink.
func (s *HTTPSink) Apply(ctx context.Context, c Candidate) error {
	if s.URL == "" {
		return fmt.Errorf("http sink: URL required")
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("http sink: marshal candidate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	cli := s.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return fmt.Errorf("http sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http sink: executor returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink only logs candidates. Used in advisory deployments and tests.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Name() string { return "log" }

// Apply implements Sink. It never fails.
func (s *LogSink) Apply(_ context.Context, c Candidate) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("action (log sink)",
		"kind", c.Kind,
		"entity", c.Entity,
		"params", c.Params,
		"reason", c.Reason,
	)
	return nil
}
