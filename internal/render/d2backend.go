package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"oss.terrastruct.com/d2/d2graph"
	"oss.terrastruct.com/d2/d2layouts/d2dagrelayout"
	"oss.terrastruct.com/d2/d2layouts/d2elklayout"
	"oss.terrastruct.com/d2/d2lib"
	"oss.terrastruct.com/d2/d2renderers/d2svg"
	"oss.terrastruct.com/d2/d2themes/d2themescatalog"
	d2log "oss.terrastruct.com/d2/lib/log"
	"oss.terrastruct.com/d2/lib/textmeasure"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// ErrEmptyDiagram is returned when the supplied diagram body is empty.
var ErrEmptyDiagram = errors.New("empty d2 diagram")

// D2Backend compiles D2 source in-process with the embedded compiler. It is
// the first tier for D2 and transpiled C4 input. Layout choices are left to
// the source diagram or environment variables such as D2_LAYOUT.
type D2Backend struct {
	logger  *slog.Logger
	timeout time.Duration
}

// D2Options configure the embedded backend.
type D2Options struct {
	Timeout time.Duration
}

// NewD2 creates the in-process D2 tier.
func NewD2(logger *slog.Logger, opts *D2Options) *D2Backend {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := 12 * time.Second
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	return &D2Backend{
		logger:  logger.With("component", "d2-backend"),
		timeout: timeout,
	}
}

// Name implements Backend.
func (b *D2Backend) Name() string { return "d2-embedded" }

// Supports implements Backend. C4 arrives here already transpiled to D2.
func (b *D2Backend) Supports(lang diagram.Language) bool {
	return lang == diagram.LanguageD2
}

// TryRender implements Backend. Compile and layout failures are reported
// with distinct prefixes: a parse error means the source needs fixing, a
// layout error usually means a layout-engine limitation.
func (b *D2Backend) TryRender(ctx context.Context, code string, _ diagram.Language) (*diagram.RenderResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyDiagram
	}

	ctx = d2log.With(ctx, b.logger)
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ruler, err := textmeasure.NewRuler()
	if err != nil {
		return nil, fmt.Errorf("init ruler: %w", err)
	}

	themeID := d2themescatalog.NeutralDefault.ID
	darkThemeID := d2themescatalog.DarkMauve.ID
	pad := int64(d2svg.DEFAULT_PADDING)
	renderOpts := &d2svg.RenderOpts{
		ThemeID:     &themeID,
		DarkThemeID: &darkThemeID,
		Pad:         &pad,
	}

	compileOpts := &d2lib.CompileOptions{
		Ruler:          ruler,
		LayoutResolver: b.layoutResolver,
	}

	d, _, err := d2lib.Compile(ctx, code, compileOpts, renderOpts)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if d == nil {
		return nil, errors.New("d2 compiler returned nil diagram")
	}

	svg, err := d2svg.Render(d, renderOpts)
	if err != nil {
		return nil, fmt.Errorf("layout error: %w", err)
	}

	return &diagram.RenderResult{Success: true, SVG: string(svg)}, nil
}

func (b *D2Backend) layoutResolver(engine string) (d2graph.LayoutGraph, error) {
	switch strings.ToLower(engine) {
	case "", "dagre":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2dagrelayout.Layout(ctx, g, nil)
		}, nil
	case "elk":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2elklayout.Layout(ctx, g, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported D2 layout %q (install plugin for advanced engines)", engine)
	}
}
