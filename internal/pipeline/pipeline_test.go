package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/correct"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
	"github.com/euforicio/diagramflow/internal/diagram/scan"
	"github.com/euforicio/diagramflow/internal/markdown"
	"github.com/euforicio/diagramflow/internal/pipeline"
	"github.com/euforicio/diagramflow/internal/render"
)

// newPipeline assembles a pipeline whose render chain is the placeholder
// tier only, so tests exercise the flow without external renderers.
func newPipeline() *pipeline.Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	detector := detect.New(logger, nil)
	return pipeline.New(
		logger,
		detector,
		correct.New(logger),
		scan.New(detector, logger),
		markdown.NewService(logger),
		render.New(logger, nil, render.NewPlaceholder()),
	)
}

func TestProcessMermaid(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	outcome := p.Process(context.Background(), "A --> B\nB --> C", "mermaid", true)
	if outcome.Candidate.Language != diagram.LanguageMermaid {
		t.Fatalf("expected mermaid candidate, got %s", outcome.Candidate.Language)
	}
	if !strings.HasPrefix(outcome.Validation.CorrectedCode, "flowchart TD\n") {
		t.Fatalf("expected corrected code, got %q", outcome.Validation.CorrectedCode)
	}
	if outcome.Render == nil || !outcome.Render.Success {
		t.Fatalf("expected render result, got %+v", outcome.Render)
	}
	if outcome.Render.Backend != "placeholder" {
		t.Fatalf("unexpected backend: %q", outcome.Render.Backend)
	}
}

func TestProcessC4TranspilesBeforeRender(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	code := "C4Context\nPerson(u, \"User\")\nSystem(s, \"Shop\")\nRel(u, s, \"buys from\")"
	outcome := p.Process(context.Background(), code, "c4", true)

	if outcome.Candidate.Language != diagram.LanguageC4 {
		t.Fatalf("expected c4 candidate, got %s", outcome.Candidate.Language)
	}
	if outcome.Transpile == nil {
		t.Fatal("expected transpile result for c4 input")
	}
	if outcome.Transpile.EntityCount != 2 || outcome.Transpile.RelationshipCount != 1 {
		t.Fatalf("unexpected transpile counts: %+v", outcome.Transpile)
	}
	if !strings.Contains(outcome.Transpile.TargetCode, "shape: person") {
		t.Fatalf("expected d2 target code, got:\n%s", outcome.Transpile.TargetCode)
	}
	if outcome.Render == nil || !outcome.Render.Success {
		t.Fatalf("expected render result, got %+v", outcome.Render)
	}
}

func TestProcessUnknownInput(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	outcome := p.Process(context.Background(), "ordinary prose, nothing else", "", true)
	if outcome.Candidate.IsDiagram() {
		t.Fatalf("expected unknown candidate, got %s", outcome.Candidate.Language)
	}
	if outcome.Render != nil {
		t.Fatal("unknown input must not render")
	}
}

func TestProcessSkipRender(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	outcome := p.Process(context.Background(), "graph TD\nA-->B", "mermaid", false)
	if outcome.Render != nil {
		t.Fatal("expected no render when disabled")
	}
	if outcome.Validation.CorrectedCode == "" {
		t.Fatal("correction must still run without rendering")
	}
}

func TestProcessDocument(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	content := []byte("# Chat\n\n" +
		"The model suggested this flow:\n\n" +
		"```mermaid\n" +
		"graph TD\n" +
		"A-->B\n" +
		"```\n\n" +
		"and then repeated it:\n\n" +
		"```mermaid\n" +
		"graph TD\n" +
		"A-->B\n" +
		"```\n")

	result, err := p.ProcessDocument(context.Background(), content, true, pipeline.RenderMarked)
	if err != nil {
		t.Fatalf("ProcessDocument returned error: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}

	first, second := result.Entries[0], result.Entries[1]
	if first.Occurrence.Disposition != diagram.ShowAsSource {
		t.Fatalf("first occurrence must show as source, got %s", first.Occurrence.Disposition)
	}
	if first.Render != nil {
		t.Fatal("source-only occurrence must not render")
	}
	if second.Occurrence.Disposition != diagram.RenderAsDiagram {
		t.Fatalf("repeat occurrence must render, got %s", second.Occurrence.Disposition)
	}
	if second.Render == nil || !second.Render.Success {
		t.Fatalf("expected render for repeat occurrence, got %+v", second.Render)
	}
	if result.HTML == "" || !strings.Contains(result.HTML, "language-mermaid") {
		t.Fatalf("expected converted HTML with fence markers, got %q", result.HTML)
	}
}

func TestProcessDocumentRenderAll(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	// A diagram that appears exactly once is marked show-as-source by the
	// dedup ledger; batch extraction must still render it.
	content := []byte("```mermaid\ngraph TD\nA-->B\n```\n")

	result, err := p.ProcessDocument(context.Background(), content, true, pipeline.RenderAll)
	if err != nil {
		t.Fatalf("ProcessDocument returned error: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	entry := result.Entries[0]
	if entry.Occurrence.Disposition != diagram.ShowAsSource {
		t.Fatalf("single occurrence must keep source disposition, got %s", entry.Occurrence.Disposition)
	}
	if entry.Render == nil || !entry.Render.Success {
		t.Fatalf("render-all must render a single-occurrence diagram, got %+v", entry.Render)
	}
}

func TestProcessDocumentHTMLInput(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	html := `<pre><code class="language-d2">a -&gt; b: request
b -&gt; c: forward</code></pre>`

	result, err := p.ProcessDocument(context.Background(), []byte(html), false, pipeline.RenderNone)
	if err != nil {
		t.Fatalf("ProcessDocument returned error: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	entry := result.Entries[0]
	if entry.Occurrence.Language != diagram.LanguageD2 {
		t.Fatalf("expected d2, got %s", entry.Occurrence.Language)
	}
	if !strings.HasPrefix(entry.Validation.CorrectedCode, "direction: right\n") {
		t.Fatalf("expected corrected d2 code, got %q", entry.Validation.CorrectedCode)
	}
}
