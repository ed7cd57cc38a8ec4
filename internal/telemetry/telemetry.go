// Package telemetry emits fire-and-forget observability events to an
// external collector. Emission never blocks a caller and failures are
// swallowed: telemetry must not affect pipeline results.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

// EventType enumerates the pipeline transitions worth observing.
type EventType string

const (
	EventDetection     EventType = "detection"
	EventRenderStart   EventType = "render_start"
	EventRenderSuccess EventType = "render_success"
	EventRenderError   EventType = "render_error"
)

// Event is the wire shape sent to the collector.
type Event struct {
	Type            EventType `json:"event_type"`
	DiagramType     string    `json:"diagram_type"`
	CodeLength      int       `json:"code_length,omitempty"`
	CodePreview     string    `json:"code_preview,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DetectionMethod string    `json:"detection_method,omitempty"`
	DurationMs      int64     `json:"duration_ms,omitempty"`
}

const previewLimit = 120

// Preview truncates diagram source for inclusion in an event. The cut
// backs up to a rune boundary so the JSON payload stays valid UTF-8.
func Preview(code string) string {
	if len(code) <= previewLimit {
		return code
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(code[cut]) {
		cut--
	}
	return code[:cut]
}

// Emitter posts events to a collector URL. A nil Emitter, or one constructed
// with an empty URL, is a valid no-op.
type Emitter struct {
	client *http.Client
	logger *slog.Logger
	url    string
}

// New constructs an emitter. An empty collector URL disables emission.
func New(collectorURL string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		client: &http.Client{Timeout: 3 * time.Second},
		logger: logger.With("component", "telemetry"),
		url:    collectorURL,
	}
}

// Emit sends the event on a background goroutine and returns immediately.
func (e *Emitter) Emit(ev Event) {
	if e == nil || e.url == "" {
		return
	}
	go e.post(ev)
}

func (e *Emitter) post(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Debug("encode event failed", slog.Any("err", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		e.logger.Debug("build event request failed", slog.Any("err", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("event delivery failed", slog.Any("err", err))
		return
	}
	_ = resp.Body.Close()
}
