package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// remoteRequest is the render-service wire format.
type remoteRequest struct {
	Code       string            `json:"code"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReturnSVG  bool              `json:"return_svg"`
	SaveToFile bool              `json:"save_to_file"`
}

type remoteResponse struct {
	Success    bool   `json:"success"`
	SVGContent string `json:"svg_content,omitempty"`
	Validation struct {
		IsValid bool   `json:"is_valid"`
		Error   string `json:"error,omitempty"`
	} `json:"validation"`
	Metadata struct {
		RenderTime float64 `json:"render_time"`
		CodeLength int     `json:"code_length"`
		Timestamp  string  `json:"timestamp"`
	} `json:"metadata"`
	Error    string `json:"error,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// RemoteBackend posts diagram source to an external render service. SVG
// coming back crosses a trust boundary, so it is sanitized before use.
// Requests are rate limited to keep a burst of scanned diagrams from
// hammering the shared service.
type RemoteBackend struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  *bluemonday.Policy
	baseURL string
}

// NewRemote constructs the remote tier. An empty baseURL disables it: the
// backend reports every language unsupported.
func NewRemote(baseURL string, timeout time.Duration) *RemoteBackend {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RemoteBackend{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		policy:  svgPolicy(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return "remote-service" }

// Supports implements Backend.
func (b *RemoteBackend) Supports(lang diagram.Language) bool {
	return b.baseURL != "" && lang != diagram.LanguageUnknown
}

// TryRender implements Backend.
func (b *RemoteBackend) TryRender(ctx context.Context, code string, lang diagram.Language) (*diagram.RenderResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(remoteRequest{
		Code:      code,
		Metadata:  map[string]string{"diagram_type": string(lang)},
		ReturnSVG: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}

	var decoded remoteResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if !decoded.Success || decoded.SVGContent == "" {
		msg := decoded.Error
		if msg == "" {
			msg = decoded.Validation.Error
		}
		if msg == "" {
			msg = "render service returned no svg"
		}
		return nil, fmt.Errorf("remote render failed: %s", msg)
	}

	return &diagram.RenderResult{
		Success: true,
		SVG:     b.policy.Sanitize(decoded.SVGContent),
	}, nil
}

// svgPolicy builds a sanitizer that keeps the SVG vocabulary the renderers
// emit while stripping scripts and event handlers.
func svgPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"svg", "g", "defs", "style", "title", "desc", "marker", "symbol", "use",
		"rect", "circle", "ellipse", "line", "polyline", "polygon", "path",
		"text", "tspan", "textPath", "image", "clipPath", "mask", "pattern",
		"linearGradient", "radialGradient", "stop", "foreignObject",
	)
	p.AllowAttrs(
		"id", "class", "viewBox", "xmlns", "xmlns:xlink", "width", "height",
		"x", "y", "x1", "y1", "x2", "y2", "cx", "cy", "r", "rx", "ry", "d",
		"points", "transform", "fill", "stroke", "stroke-width",
		"stroke-dasharray", "stroke-linecap", "stroke-linejoin", "opacity",
		"fill-opacity", "stroke-opacity", "font-family", "font-size",
		"font-weight", "text-anchor", "dominant-baseline", "dx", "dy",
		"offset", "stop-color", "stop-opacity", "gradientUnits",
		"gradientTransform", "marker-start", "marker-mid", "marker-end",
		"refX", "refY", "markerWidth", "markerHeight", "orient",
		"preserveAspectRatio", "clip-path", "href", "xlink:href",
	).Globally()
	return p
}
