package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPAcknowledger delivers envelopes to the orchestrator's result ingest
// endpoint over HTTPS. The per-attempt timeout comes from the caller's
// context; the embedded client carries no timeout of its own.
type HTTPAcknowledger struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAcknowledger creates an acknowledger posting to url.
func NewHTTPAcknowledger(url, apiKey string) *HTTPAcknowledger {
	return &HTTPAcknowledger{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Deliver posts the envelope and parses the orchestrator acknowledgement.
func (a *HTTPAcknowledger) Deliver(ctx context.Context, envelope *Envelope) (*Ack, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver envelope: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read delivery response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("delivery endpoint returned status %d", resp.StatusCode)
	}

	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("decode acknowledgement: %w", err)
	}
	return &ack, nil
}

var _ Acknowledger = (*HTTPAcknowledger)(nil)
