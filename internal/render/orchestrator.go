// Package render drives the tiered rendering pipeline: an ordered list of
// backends is attempted until one produces SVG, ending at a static
// placeholder so the caller is never left with nothing.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/telemetry"
)

// Backend is one candidate tier in the render fallback chain. TryRender
// returns (nil, err) or (nil, nil) to signal escalation to the next tier;
// a non-nil result ends the chain. Implementations must respect ctx
// cancellation: a caller that abandons a render aborts the in-flight tier.
type Backend interface {
	Name() string
	Supports(lang diagram.Language) bool
	TryRender(ctx context.Context, code string, lang diagram.Language) (*diagram.RenderResult, error)
}

// Orchestrator walks the backend list in order. Tiers are awaited fully,
// never raced: racing would duplicate backend load and make result
// selection non-deterministic.
type Orchestrator struct {
	backends []Backend
	events   *telemetry.Emitter
	logger   *slog.Logger
	memo     sync.Map // map[string]diagram.RenderResult, scoped to this instance
}

// New constructs an orchestrator over the given tiers, in order.
func New(logger *slog.Logger, events *telemetry.Emitter, backends ...Backend) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backends: backends,
		events:   events,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Render attempts each supporting backend in order and returns a uniform
// result. Invalid-but-renderable code is allowed through: failing fast here
// would discard output many renderers can still produce.
func (o *Orchestrator) Render(ctx context.Context, code string, lang diagram.Language) diagram.RenderResult {
	start := time.Now()

	if strings.TrimSpace(code) == "" {
		return o.failed(lang, "empty diagram source", start)
	}

	key := memoKey(code, lang)
	if cached, ok := o.memo.Load(key); ok {
		if result, ok := cached.(diagram.RenderResult); ok {
			return result
		}
	}

	o.events.Emit(telemetry.Event{
		Type:        telemetry.EventRenderStart,
		DiagramType: string(lang),
		CodeLength:  len(code),
		CodePreview: telemetry.Preview(code),
	})

	var lastErr string
	for _, backend := range o.backends {
		if !backend.Supports(lang) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.failed(lang, "render canceled: "+err.Error(), start)
		}

		result, err := backend.TryRender(ctx, code, lang)
		if err != nil {
			lastErr = err.Error()
			o.logger.Debug("render tier failed",
				slog.String("backend", backend.Name()),
				slog.String("language", string(lang)),
				slog.Any("err", err))
			continue
		}
		if result == nil {
			continue
		}

		result.Backend = backend.Name()
		result.RenderTime = time.Since(start)
		result.Timestamp = time.Now().UTC()
		if result.Success {
			o.memo.Store(key, *result)
			o.events.Emit(telemetry.Event{
				Type:        telemetry.EventRenderSuccess,
				DiagramType: string(lang),
				CodeLength:  len(code),
				DurationMs:  result.RenderTime.Milliseconds(),
			})
		}
		return *result
	}

	if lastErr == "" {
		lastErr = "no render backend available"
	}
	return o.failed(lang, lastErr, start)
}

func (o *Orchestrator) failed(lang diagram.Language, msg string, start time.Time) diagram.RenderResult {
	o.events.Emit(telemetry.Event{
		Type:         telemetry.EventRenderError,
		DiagramType:  string(lang),
		ErrorMessage: msg,
	})
	return diagram.RenderResult{
		Success:    false,
		Error:      msg,
		Backend:    "none",
		RenderTime: time.Since(start),
		Timestamp:  time.Now().UTC(),
	}
}

func memoKey(code string, lang diagram.Language) string {
	sum := sha256.Sum256([]byte(string(lang) + "\x00" + code))
	return hex.EncodeToString(sum[:])
}

// PlaceholderBackend is the terminal tier: it always succeeds, producing an
// inline SVG that carries the base64-encoded source so the user retains a
// copyable artifact even when every real renderer failed.
type PlaceholderBackend struct{}

// NewPlaceholder constructs the terminal fallback tier.
func NewPlaceholder() *PlaceholderBackend { return &PlaceholderBackend{} }

// Name implements Backend.
func (p *PlaceholderBackend) Name() string { return "placeholder" }

// Supports implements Backend. The placeholder accepts everything.
func (p *PlaceholderBackend) Supports(diagram.Language) bool { return true }

// TryRender implements Backend.
func (p *PlaceholderBackend) TryRender(_ context.Context, code string, lang diagram.Language) (*diagram.RenderResult, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(code))
	preview := code
	if len(preview) > 160 {
		// Back up to a rune boundary so the SVG text stays valid UTF-8.
		cut := 160
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "…"
	}

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="480" height="160" viewBox="0 0 480 160" data-source-b64=%q>`+
		`<rect x="1" y="1" width="478" height="158" rx="8" fill="#f8fafc" stroke="#cbd5e1" stroke-dasharray="6 3"/>`+
		`<text x="16" y="32" font-family="sans-serif" font-size="14" fill="#475569">%s diagram could not be rendered</text>`+
		`<text x="16" y="56" font-family="monospace" font-size="11" fill="#94a3b8">%s</text>`+
		`</svg>`,
		encoded, html.EscapeString(string(lang)), html.EscapeString(preview))

	return &diagram.RenderResult{Success: true, SVG: svg}, nil
}
