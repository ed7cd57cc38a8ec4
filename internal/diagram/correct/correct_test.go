package correct_test

import (
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/correct"
)

func newCorrector() *correct.Corrector {
	return correct.New(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestMermaidMissingTypeDeclaration(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("A --> B\nB --> C", diagram.LanguageMermaid)
	if !result.IsValid {
		t.Fatalf("expected valid result, errors: %v", result.Errors)
	}
	if !strings.HasPrefix(result.CorrectedCode, "flowchart TD\n") {
		t.Fatalf("expected flowchart declaration prepended, got %q", result.CorrectedCode)
	}
	if len(result.Corrections) != 1 || result.Corrections[0] != "Added missing diagram type declaration" {
		t.Fatalf("unexpected corrections: %v", result.Corrections)
	}
}

func TestMermaidTypeInference(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	tests := []struct {
		name string
		code string
		want string
	}{
		{"sequence from participants", "participant A\nA->>B: hello", "sequenceDiagram"},
		{"class from inheritance", "Animal <|-- Dog", "classDiagram"},
		{"state from initial marker", "[*] --> Idle", "stateDiagram-v2"},
		{"flowchart default", "A --> B", "flowchart TD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := c.Correct(tt.code, diagram.LanguageMermaid)
			first := strings.SplitN(result.CorrectedCode, "\n", 2)[0]
			if first != tt.want {
				t.Fatalf("expected %q as first line, got %q", tt.want, first)
			}
		})
	}
}

func TestMermaidExistingTypeUntouched(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	code := "sequenceDiagram\nparticipant A\nA->>B: hi"
	result := c.Correct(code, diagram.LanguageMermaid)
	if result.CorrectedCode != code {
		t.Fatalf("expected code unchanged, got %q", result.CorrectedCode)
	}
	if len(result.Corrections) != 0 {
		t.Fatalf("expected no corrections, got %v", result.Corrections)
	}
}

func TestMermaidArrowNormalization(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"split dash arrow", "flowchart TD\nA - -> B", "A --> B"},
		{"split tail arrow", "flowchart TD\nA -- > B", "A --> B"},
		{"split sequence arrow", "sequenceDiagram\nA -> > B", "A ->> B"},
		{"split thick arrow", "flowchart TD\nA = => B", "A ==> B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := c.Correct(tt.in, diagram.LanguageMermaid)
			if !strings.Contains(result.CorrectedCode, tt.want) {
				t.Fatalf("expected %q in corrected code, got %q", tt.want, result.CorrectedCode)
			}
		})
	}
}

func TestMermaidLabelQuoting(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("flowchart TD\nA[Call api(x); retry] --> B[Done]", diagram.LanguageMermaid)
	if !strings.Contains(result.CorrectedCode, `A["Call api(x); retry"]`) {
		t.Fatalf("expected quoted label, got %q", result.CorrectedCode)
	}
	if strings.Contains(result.CorrectedCode, `B["Done"]`) {
		t.Fatalf("plain label should stay unquoted, got %q", result.CorrectedCode)
	}
}

func TestMermaidBlockBalancing(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("flowchart TD\nsubgraph one\nA --> B\nsubgraph two\nC --> D\nend", diagram.LanguageMermaid)
	if !result.IsValid {
		t.Fatalf("expected valid, errors: %v", result.Errors)
	}
	if got := strings.Count(result.CorrectedCode, "\nend"); got != 2 {
		t.Fatalf("expected 2 end keywords, got %d in %q", got, result.CorrectedCode)
	}

	excess := c.Correct("flowchart TD\nA --> B\nend", diagram.LanguageMermaid)
	if excess.IsValid {
		t.Fatal("expected unmatched end to be an error")
	}
	if len(excess.Errors) != 1 || !strings.Contains(excess.Errors[0], "unmatched 'end'") {
		t.Fatalf("unexpected errors: %v", excess.Errors)
	}
}

func TestMermaidReservedWordWarning(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("flowchart TD\nend[Finish] --> A", diagram.LanguageMermaid)
	if !result.IsValid {
		t.Fatalf("reserved identifiers must warn, not fail: %v", result.Errors)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], `"end"`) {
		t.Fatalf("expected reserved-word warning, got %v", result.Warnings)
	}
}

func TestD2BraceBalancing(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("a: {\n  b: {\n    c: {\n      label: x\n}", diagram.LanguageD2)
	if !result.IsValid {
		t.Fatalf("expected valid result, errors: %v", result.Errors)
	}
	opens := strings.Count(result.CorrectedCode, "{")
	closes := strings.Count(result.CorrectedCode, "}")
	if opens != closes {
		t.Fatalf("expected balanced braces, got %d opens vs %d closes in %q", opens, closes, result.CorrectedCode)
	}
	found := false
	for _, corr := range result.Corrections {
		if corr == "Added 2 missing closing brace(s)" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected single brace correction entry, got %v", result.Corrections)
	}
}

func TestD2ExcessClosingBraces(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("a -> b\n}\n}", diagram.LanguageD2)
	if result.IsValid {
		t.Fatal("expected excess closers to be an error")
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "2 unmatched closing brace(s)") {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	// Later rules still run on the unbalanced text.
	if !strings.HasPrefix(result.CorrectedCode, "direction: right\n") {
		t.Fatalf("expected default direction despite brace error, got %q", result.CorrectedCode)
	}
}

func TestD2JSONShorthandRewrite(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"shape first", `api: { shape: hexagon; label: "API Server" }`, `api: "API Server" {shape: hexagon}`},
		{"label first", `api: { label: "API Server", shape: hexagon }`, `api: "API Server" {shape: hexagon}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := c.Correct(tt.in, diagram.LanguageD2)
			if !strings.Contains(result.CorrectedCode, tt.want) {
				t.Fatalf("expected %q, got %q", tt.want, result.CorrectedCode)
			}
		})
	}
}

func TestD2StyleBlockFlattening(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("box: {\n  style: { fill: red; stroke: blue }\n}", diagram.LanguageD2)
	if !strings.Contains(result.CorrectedCode, "style.fill: red") ||
		!strings.Contains(result.CorrectedCode, "style.stroke: blue") {
		t.Fatalf("expected dotted style properties, got %q", result.CorrectedCode)
	}
	if strings.Contains(result.CorrectedCode, "style: {") {
		t.Fatalf("nested style block survived: %q", result.CorrectedCode)
	}
}

func TestD2ConnectionLabelQuoting(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("a -> b: sends data", diagram.LanguageD2)
	if !strings.Contains(result.CorrectedCode, `a -> b: "sends data"`) {
		t.Fatalf("expected quoted connection label, got %q", result.CorrectedCode)
	}

	already := c.Correct("direction: right\na -> b: \"sends data\"", diagram.LanguageD2)
	if len(already.Corrections) != 0 {
		t.Fatalf("quoted label must not be re-quoted: %v", already.Corrections)
	}
}

func TestD2StrayPropertyCommenting(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("direction: right\na -> b\ncolor: red", diagram.LanguageD2)
	if !strings.Contains(result.CorrectedCode, "# color: red") {
		t.Fatalf("expected stray property commented out, got %q", result.CorrectedCode)
	}
	found := false
	for _, corr := range result.Corrections {
		if strings.Contains(corr, `Commented out stray property line: "color: red"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("stray-property removal must be recorded, got %v", result.Corrections)
	}
}

func TestD2DefaultDirection(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("a -> b", diagram.LanguageD2)
	if !strings.HasPrefix(result.CorrectedCode, "direction: right\n") {
		t.Fatalf("expected default direction, got %q", result.CorrectedCode)
	}

	declared := c.Correct("direction: down\na -> b", diagram.LanguageD2)
	if strings.Count(declared.CorrectedCode, "direction:") != 1 {
		t.Fatalf("declared direction must not be duplicated: %q", declared.CorrectedCode)
	}

	noConn := c.Correct("standalone: \"Just a box\"", diagram.LanguageD2)
	if strings.Contains(noConn.CorrectedCode, "direction:") {
		t.Fatalf("direction must not be added without connections: %q", noConn.CorrectedCode)
	}
}

func TestC4MissingEnduml(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	result := c.Correct("@startuml\nPerson(user, \"User\")\nSystem(app, \"App\")", diagram.LanguageC4)
	if !strings.HasSuffix(result.CorrectedCode, "@enduml") {
		t.Fatalf("expected @enduml appended, got %q", result.CorrectedCode)
	}
}

func TestUnknownLanguagePassesThrough(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	code := "just some ordinary text"
	result := c.Correct(code, diagram.LanguageUnknown)
	if !result.IsValid || result.CorrectedCode != code {
		t.Fatalf("unknown language must pass through untouched, got %+v", result)
	}
}

// Correcting already-corrected code must be a no-op: every rule's canonical
// output must not re-match its own trigger.
func TestCorrectionIdempotence(t *testing.T) {
	t.Parallel()
	c := newCorrector()

	tests := []struct {
		name string
		code string
		lang diagram.Language
	}{
		{"mermaid repairs", "A - -> B\nsubgraph grp\nC -- > D", diagram.LanguageMermaid},
		{"mermaid labels", "flowchart LR\nA[load(cfg)] --> B", diagram.LanguageMermaid},
		{"d2 repairs", "server: { shape: hexagon; label: \"Server\" }\nserver - > db: writes to\nextra: value", diagram.LanguageD2},
		{"d2 braces", "outer: {\n  inner: {\n    label: deep\n}", diagram.LanguageD2},
		{"c4 repairs", "@startuml\nPerson(u, \"User\")\nSystem(s, \"Sys\")\nRel(u, s, \"uses\")", diagram.LanguageC4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			first := c.Correct(tt.code, tt.lang)
			second := c.Correct(first.CorrectedCode, tt.lang)
			if second.CorrectedCode != first.CorrectedCode {
				t.Fatalf("second pass changed code:\nfirst:  %q\nsecond: %q", first.CorrectedCode, second.CorrectedCode)
			}
			if len(second.Corrections) != 0 {
				t.Fatalf("second pass reported corrections: %v", second.Corrections)
			}
			if !reflect.DeepEqual(first.Errors, second.Errors) {
				t.Fatalf("error list drifted between passes: %v vs %v", first.Errors, second.Errors)
			}
		})
	}
}
