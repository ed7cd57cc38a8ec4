package detect_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
)

func newDetector() *detect.Detector {
	return detect.New(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})), nil)
}

func TestDetectFenceMarker(t *testing.T) {
	t.Parallel()
	d := newDetector()

	tests := []struct {
		name      string
		fenceLang string
		text      string
		want      diagram.Language
	}{
		{"mermaid fence", "mermaid", "graph TD\nA-->B", diagram.LanguageMermaid},
		{"mmd alias", "mmd", "graph TD\nA-->B", diagram.LanguageMermaid},
		{"d2 fence", "d2", "a -> b", diagram.LanguageD2},
		{"plantuml fence", "plantuml", "@startuml\nPerson(u, \"U\")\n@enduml", diagram.LanguageC4},
		{"c4 fence", "c4", "Person(u, \"U\")", diagram.LanguageC4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Detect(tt.text, tt.fenceLang)
			if got.Language != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.Language)
			}
			if got.Confidence != diagram.ConfidenceHigh {
				t.Fatalf("fence marker must be high confidence, got %s", got.Confidence)
			}
		})
	}
}

func TestDetectMermaidFenceWithC4Content(t *testing.T) {
	t.Parallel()
	d := newDetector()

	// The mermaid C4 dialect must reach the transpiler, not the mermaid
	// corrector.
	got := d.Detect("C4Context\ntitle System Context\nPerson(user, \"User\")", "mermaid")
	if got.Language != diagram.LanguageC4 {
		t.Fatalf("expected c4 reclassification, got %s", got.Language)
	}
}

func TestDetectStructural(t *testing.T) {
	t.Parallel()
	d := newDetector()

	tests := []struct {
		name     string
		text     string
		wantLang diagram.Language
		wantConf diagram.Confidence
	}{
		{"sequence keyword", "sequenceDiagram\nparticipant Alice\nAlice->>Bob: hi", diagram.LanguageMermaid, diagram.ConfidenceHigh},
		{"flowchart keyword", "flowchart LR\nA --> B", diagram.LanguageMermaid, diagram.ConfidenceHigh},
		{"d2 single declaration", "server.shape: hexagon", diagram.LanguageD2, diagram.ConfidenceMedium},
		{"d2 multiple declarations", "a -> b: request\nb -> c: forward", diagram.LanguageD2, diagram.ConfidenceHigh},
		{"c4 mermaid dialect", "C4Container\nContainer(api, \"API\")", diagram.LanguageC4, diagram.ConfidenceHigh},
		{"c4 constructor pair", "Person(u, \"User\")\nSystem(s, \"Shop\")", diagram.LanguageC4, diagram.ConfidenceHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Detect(tt.text, "")
			if got.Language != tt.wantLang {
				t.Fatalf("expected %s, got %s", tt.wantLang, got.Language)
			}
			if got.Confidence != tt.wantConf {
				t.Fatalf("expected %s confidence, got %s", tt.wantConf, got.Confidence)
			}
		})
	}
}

func TestDetectPrecision(t *testing.T) {
	t.Parallel()
	d := newDetector()

	// None of these may classify: ordinary prose with arrow-like or
	// marker-like fragments is the main false-positive source.
	tests := []struct {
		name string
		text string
	}{
		{"prose with arrow", "revenue -> profit is not guaranteed in this market"},
		{"empty input", "   \n  "},
		{"shell output", "$ ls -la\ntotal 48\ndrwxr-xr-x 6 root root"},
		{"lone plantuml marker", "@startuml\nAlice -> Bob: hello\n@enduml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := d.Detect(tt.text, ""); got.IsDiagram() {
				t.Fatalf("expected unknown, got %s (%s)", got.Language, got.Confidence)
			}
		})
	}
}

func TestDetectProse(t *testing.T) {
	t.Parallel()
	d := newDetector()

	positive := "sequenceDiagram\nparticipant Client\nClient ->> Server: request\nServer -->> Client: response"
	got := d.DetectProse(positive)
	if got.Language != diagram.LanguageMermaid {
		t.Fatalf("expected mermaid, got %s", got.Language)
	}
	if got.Confidence != diagram.ConfidenceLow {
		t.Fatalf("prose detection must be low confidence, got %s", got.Confidence)
	}
	if got.Site != diagram.SiteProse {
		t.Fatalf("expected prose site, got %s", got.Site)
	}

	// A single arrow-ish sentence must not classify.
	if got := d.DetectProse("the request -> response cycle repeats"); got.IsDiagram() {
		t.Fatalf("single arrow fragment classified as %s", got.Language)
	}
}

func TestDetectProseStructuralCorroboration(t *testing.T) {
	t.Parallel()
	d := newDetector()

	// One structural declaration plus two arrow lines clears the bar.
	text := "participant A\nA --> B\nB --> C"
	if got := d.DetectProse(text); got.Language != diagram.LanguageMermaid {
		t.Fatalf("expected mermaid from corroborated structure, got %s", got.Language)
	}

	// The declaration with only one arrow line does not.
	weak := "participant A\nA --> B"
	if got := d.DetectProse(weak); got.IsDiagram() {
		t.Fatalf("under-corroborated text classified as %s", got.Language)
	}
}
