package scan_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
	"github.com/euforicio/diagramflow/internal/diagram/scan"
)

func newScanner() *scan.Scanner {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return scan.New(detect.New(logger, nil), logger)
}

func TestScanFencedBlock(t *testing.T) {
	t.Parallel()
	s := newScanner()

	html := `<p>Here is the flow:</p>
<pre><code class="language-mermaid">graph TD
A--&gt;B</code></pre>`

	found, err := s.Scan(html)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(found))
	}
	occ := found[0]
	if occ.Language != diagram.LanguageMermaid {
		t.Fatalf("expected mermaid, got %s", occ.Language)
	}
	if occ.Site != diagram.SiteFenced || occ.Confidence != diagram.ConfidenceHigh {
		t.Fatalf("expected high-confidence fenced occurrence, got %s/%s", occ.Site, occ.Confidence)
	}
	if occ.Disposition != diagram.ShowAsSource {
		t.Fatalf("first occurrence must show as source, got %s", occ.Disposition)
	}
}

func TestScanUnmarkedFence(t *testing.T) {
	t.Parallel()
	s := newScanner()

	// No language class: the structural detector must still identify the
	// content, and fenced extraction stays high confidence.
	html := `<pre><code>sequenceDiagram
participant A
A-&gt;&gt;B: hello</code></pre>`

	found, err := s.Scan(html)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(found))
	}
	if found[0].Language != diagram.LanguageMermaid || found[0].Confidence != diagram.ConfidenceHigh {
		t.Fatalf("expected high-confidence mermaid, got %s/%s", found[0].Language, found[0].Confidence)
	}
}

func TestScanInlineCode(t *testing.T) {
	t.Parallel()
	s := newScanner()

	html := `<p>Try <code>flowchart LR
Start --&gt; Finish</code> in your editor. Ignore <code>ls</code>.</p>`

	found, err := s.Scan(html)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(found))
	}
	if found[0].Site != diagram.SiteInline || found[0].Confidence != diagram.ConfidenceMedium {
		t.Fatalf("expected medium-confidence inline occurrence, got %s/%s", found[0].Site, found[0].Confidence)
	}
}

func TestScanDuplicateDisposition(t *testing.T) {
	t.Parallel()
	s := newScanner()

	block := `<pre><code class="language-d2">a -&gt; b: request
b -&gt; c: forward</code></pre>`
	html := block + "\n<p>and rendered:</p>\n" + block

	found, err := s.Scan(html)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(found))
	}
	if found[0].Disposition != diagram.ShowAsSource {
		t.Fatalf("first occurrence must show as source, got %s", found[0].Disposition)
	}
	if found[1].Disposition != diagram.RenderAsDiagram {
		t.Fatalf("repeat occurrence must render, got %s", found[1].Disposition)
	}
}

func TestScanIgnoresOrdinaryContent(t *testing.T) {
	t.Parallel()
	s := newScanner()

	html := `<p>The request -&gt; response cycle repeats endlessly.</p>
<pre><code class="language-go">func main() { fmt.Println("hi") }</code></pre>
<p>Use <code>go test ./... -run TestAll</code> to verify.</p>`

	found, err := s.Scan(html)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected no occurrences, got %d: %+v", len(found), found)
	}
}

func TestScanProseParagraph(t *testing.T) {
	t.Parallel()
	s := newScanner()

	html := `<p>sequenceDiagram
participant Client
Client --&gt; Server
Server --&gt; Client</p>`

	found, err := s.Scan(html)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(found))
	}
	if found[0].Site != diagram.SiteProse || found[0].Confidence != diagram.ConfidenceLow {
		t.Fatalf("expected low-confidence prose occurrence, got %s/%s", found[0].Site, found[0].Confidence)
	}
}
