package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/stream"
)

// HTTPClient is a direct HTTP client for a streaming messages endpoint.
// Stream reads carry no application-level timeout; the transport and the
// caller's context govern the connection lifetime.
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	log      *logging.Logger
}

// NewHTTPClient creates a streaming completion client.
func NewHTTPClient(endpoint, apiKey, model string, log *logging.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
		log:      log.Sub("provider"),
	}
}

// Stream sends a streaming completion request and interprets the response
// frames into canonical events. The returned channel closes after the turn's
// terminal event.
func (c *HTTPClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	payload, err := json.Marshal(c.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	events := make(chan Event)
	go c.streamRequest(ctx, req, events, payload)
	return events, nil
}

func (c *HTTPClient) buildRequestBody(req Request) map[string]any {
	body := map[string]any{
		"model":      c.model,
		"messages":   req.Messages,
		"max_tokens": req.MaxTokens,
		"stream":     true,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": json.RawMessage(t.InputSchema),
			}
		}
		body["tools"] = tools
	}
	return body
}

func (c *HTTPClient) streamRequest(ctx context.Context, req Request, events chan Event, payload []byte) {
	defer close(events)

	emit := func(evt Event) bool {
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		c.log.Error().Err(err).Msg("building stream request")
		emit(Event{Type: EventError, Err: &Error{Category: CategoryFailure}})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error().Err(err).Msg("stream request failed")
		emit(Event{Type: EventError, Err: &Error{Category: CategoryFailure}})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		name := errorName(body)
		c.log.Warn().Int("status", resp.StatusCode).Str("error", name).Msg("provider rejected request")
		emit(Event{Type: EventError, Err: Classify(name, resp.StatusCode)})
		return
	}

	in := newInterpreter(c.log, req.FallbackField, req.FallbackValue)
	dec := stream.NewDecoder(resp.Body, c.log)

	for {
		payload, err := dec.Next()
		if err == stream.ErrDone {
			// Explicit logical end without a termination frame still seals
			// the turn.
			emit(Event{Type: EventStop})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				c.log.Warn().Msg("stream closed before termination frame")
			} else {
				c.log.Error().Err(err).Msg("stream read failed")
			}
			emit(Event{Type: EventError, Err: &Error{Category: CategoryFailure}})
			return
		}

		evt, ok := in.interpret(payload)
		if !ok {
			continue
		}
		if !emit(evt) {
			return
		}
		if evt.Type == EventStop || evt.Type == EventError {
			return
		}
	}
}

// errorName pulls the machine error identifier out of a provider error body.
// The identifier feeds classification only and never reaches the user.
func errorName(body []byte) string {
	var parsed struct {
		Error *frameError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error == nil {
		return ""
	}
	return parsed.Error.Type
}
