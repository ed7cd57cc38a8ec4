// Package pipeline wires the detection, correction, transpilation and
// rendering stages into the flows the server and CLI surfaces consume.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/c4"
	"github.com/euforicio/diagramflow/internal/diagram/correct"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
	"github.com/euforicio/diagramflow/internal/diagram/scan"
	"github.com/euforicio/diagramflow/internal/markdown"
	"github.com/euforicio/diagramflow/internal/render"
)

// renderConcurrency bounds how many diagrams of one document render at
// once. Renders of independent diagrams share no mutable state, so they
// may safely overlap.
const renderConcurrency = 4

// RenderMode selects which scanned occurrences get a render attempt.
type RenderMode int

const (
	// RenderNone corrects and transpiles only.
	RenderNone RenderMode = iota
	// RenderMarked honors each occurrence's disposition: repeats render,
	// first occurrences stay as source. This is the display convention
	// for chat output shown back to a reader.
	RenderMarked
	// RenderAll renders every occurrence. Batch extraction uses this: a
	// diagram that appears once still gets an image. Repeats of the same
	// text hit the orchestrator's memo, so they cost no extra render.
	RenderAll
)

func (m RenderMode) renders(occ diagram.Occurrence) bool {
	switch m {
	case RenderAll:
		return true
	case RenderMarked:
		return occ.Disposition == diagram.RenderAsDiagram
	default:
		return false
	}
}

// Outcome is the result of pushing one text span through the pipeline.
type Outcome struct {
	Candidate  diagram.Candidate        `json:"candidate"`
	Validation diagram.ValidationResult `json:"validation"`
	Transpile  *diagram.TranspileResult `json:"transpile,omitempty"`
	Render     *diagram.RenderResult    `json:"render,omitempty"`
}

// DocumentEntry pairs a scanned occurrence with its pipeline outcome.
type DocumentEntry struct {
	Occurrence diagram.Occurrence       `json:"occurrence"`
	Validation diagram.ValidationResult `json:"validation"`
	Transpile  *diagram.TranspileResult `json:"transpile,omitempty"`
	Render     *diagram.RenderResult    `json:"render,omitempty"`
}

// DocumentResult is the outcome of scanning a whole document.
type DocumentResult struct {
	HTML    string          `json:"html,omitempty"`
	Entries []DocumentEntry `json:"entries"`
}

// Pipeline owns the stage services and runs them in order.
type Pipeline struct {
	detector     *detect.Detector
	corrector    *correct.Corrector
	scanner      *scan.Scanner
	markdown     *markdown.Service
	orchestrator *render.Orchestrator
	logger       *slog.Logger
}

// New assembles a pipeline from its stages.
func New(logger *slog.Logger, detector *detect.Detector, corrector *correct.Corrector, scanner *scan.Scanner, md *markdown.Service, orchestrator *render.Orchestrator) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		detector:     detector,
		corrector:    corrector,
		scanner:      scanner,
		markdown:     md,
		orchestrator: orchestrator,
		logger:       logger.With("component", "pipeline"),
	}
}

// Process classifies, repairs and optionally renders one text span.
// Unrecognized input is not an error, just an unknown candidate. C4 input
// is transpiled to D2 and rendered as native D2 source. Correction errors
// do not stop the render attempt (fail-open).
func (p *Pipeline) Process(ctx context.Context, text, fenceLang string, doRender bool) Outcome {
	candidate := p.detector.Detect(text, fenceLang)
	outcome := Outcome{Candidate: candidate}
	if !candidate.IsDiagram() {
		return outcome
	}

	outcome.Validation = p.corrector.Correct(candidate.Text, candidate.Language)

	code := outcome.Validation.CorrectedCode
	renderLang := candidate.Language
	if candidate.Language == diagram.LanguageC4 {
		transpiled := c4.TranspileAny(code)
		outcome.Transpile = &transpiled
		code = transpiled.TargetCode
		renderLang = diagram.LanguageD2
	}

	if doRender {
		result := p.orchestrator.Render(ctx, code, renderLang)
		outcome.Render = &result
	}
	return outcome
}

// ProcessDocument scans a document for diagrams and pushes each occurrence
// through the pipeline. Markdown input is converted to HTML first; HTML
// passes straight to the scanner. The mode decides which occurrences are
// rendered (concurrently); occurrences left unrendered are still corrected
// so their fix lists can be disclosed.
func (p *Pipeline) ProcessDocument(ctx context.Context, content []byte, isMarkdown bool, mode RenderMode) (DocumentResult, error) {
	htmlContent := string(content)
	if isMarkdown {
		doc, err := p.markdown.Convert(ctx, content)
		if err != nil {
			return DocumentResult{}, fmt.Errorf("convert markdown: %w", err)
		}
		htmlContent = doc.HTML
	}

	occurrences, err := p.scanner.Scan(htmlContent)
	if err != nil {
		return DocumentResult{}, fmt.Errorf("scan document: %w", err)
	}

	entries := make([]DocumentEntry, len(occurrences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderConcurrency)

	for i, occ := range occurrences {
		g.Go(func() error {
			entry := DocumentEntry{Occurrence: occ}
			entry.Validation = p.corrector.Correct(occ.Text, occ.Language)

			code := entry.Validation.CorrectedCode
			renderLang := occ.Language
			if occ.Language == diagram.LanguageC4 {
				transpiled := c4.TranspileAny(code)
				entry.Transpile = &transpiled
				code = transpiled.TargetCode
				renderLang = diagram.LanguageD2
			}

			if mode.renders(occ) {
				result := p.orchestrator.Render(gctx, code, renderLang)
				entry.Render = &result
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DocumentResult{}, err
	}

	p.logger.Debug("document processed", slog.Int("diagrams", len(entries)))
	return DocumentResult{HTML: htmlContent, Entries: entries}, nil
}

// Markdown exposes the converter for callers that need standalone HTML.
func (p *Pipeline) Markdown() *markdown.Service { return p.markdown }

// Scanner exposes the document scanner for detection-only callers.
func (p *Pipeline) Scanner() *scan.Scanner { return p.scanner }

// Orchestrator exposes the render tier chain.
func (p *Pipeline) Orchestrator() *render.Orchestrator { return p.orchestrator }
