package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/telempipe/errors"
)

// Sink delivers one batch of records of a single kind to an external
// endpoint. A nil error means the whole batch was accepted; any error means
// the whole batch must be redelivered.
type Sink func(ctx context.Context, batch []Record, kind Kind) error

// HTTPSinkConfig configures NewHTTPSink.
type HTTPSinkConfig struct {
	// EventsURL receives event batches.
	EventsURL string
	// MetricsURL receives metric batches.
	MetricsURL string
	// APIKey is sent in the Api-Key request header.
	APIKey string
	// Timeout bounds one delivery attempt end to end.
	Timeout time.Duration
}

// Validate checks the sink configuration.
func (c *HTTPSinkConfig) Validate() error {
	if c.EventsURL == "" && c.MetricsURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"HTTPSink", "Validate", "at least one endpoint URL required")
	}
	if c.APIKey == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"HTTPSink", "Validate", "api key required")
	}
	return nil
}

// NewHTTPSink builds a Sink that POSTs JSON batches over HTTPS. Metric
// batches use the envelope [{"metrics": [...]}]; event batches post the
// payloads as a bare JSON array. Any transport error or non-2xx response
// fails the delivery.
func NewHTTPSink(cfg HTTPSinkConfig) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, batch []Record, kind Kind) error {
		if len(batch) == 0 {
			return nil
		}

		url := cfg.EventsURL
		if kind == KindMetric {
			url = cfg.MetricsURL
		}
		if url == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"HTTPSink", "deliver", fmt.Sprintf("no endpoint configured for %s batches", kind))
		}

		body, err := encodeBatch(batch, kind)
		if err != nil {
			return errors.WrapInvalid(err, "HTTPSink", "deliver", "encode batch")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.WrapInvalid(err, "HTTPSink", "deliver", "build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Api-Key", cfg.APIKey)
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))

		resp, err := client.Do(req)
		if err != nil {
			return errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrDelivery, err),
				"HTTPSink", "deliver", "post batch")
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errors.WrapTransient(
				fmt.Errorf("%w: endpoint returned %d", errors.ErrDelivery, resp.StatusCode),
				"HTTPSink", "deliver", "post batch")
		}
		return nil
	}, nil
}

func encodeBatch(batch []Record, kind Kind) ([]byte, error) {
	payloads := make([]map[string]any, len(batch))
	for i, rec := range batch {
		payloads[i] = rec.Payload
	}

	if kind == KindMetric {
		return json.Marshal([]map[string]any{{"metrics": payloads}})
	}
	return json.Marshal(payloads)
}
