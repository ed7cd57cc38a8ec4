package correct

import (
	"fmt"
	"regexp"
	"strings"
)

// mermaidRules repair flow/sequence/state/class notation. Order matters:
// the type declaration must exist before block balancing makes sense.
var mermaidRules = []rule{
	{name: "type-declaration", apply: ensureMermaidType},
	{name: "arrows", apply: normalizeMermaidArrows},
	{name: "quote-labels", apply: quoteMermaidLabels},
	{name: "balance-blocks", apply: balanceMermaidBlocks},
	{name: "reserved-words", apply: flagMermaidReserved},
}

var mermaidTypeRe = regexp.MustCompile(`^\s*(graph\s+(?:TB|TD|BT|LR|RL)\b|flowchart\s+(?:TB|TD|BT|LR|RL)\b|flowchart\b|sequenceDiagram\b|classDiagram\b|stateDiagram(?:-v2)?\b|erDiagram\b|gantt\b|journey\b|mindmap\b|timeline\b|gitGraph\b|pie\b)`)

var (
	sequenceHintRe = regexp.MustCompile(`(?m)(->>|-->>|^\s*participant\s+|^\s*actor\s+|^\s*activate\s+|^\s*[Nn]ote\s+(over|left|right)\b)`)
	classHintRe    = regexp.MustCompile(`(?m)(^\s*class\s+\w+|<\|--|--\|>|\*--|o--)`)
	stateHintRe    = regexp.MustCompile(`\[\*\]`)
)

// ensureMermaidType prepends a diagram type declaration when the first
// significant line carries none, inferring the most likely type from body
// content. Sequence markers win over class markers; flowchart is the
// top-down default.
func ensureMermaidType(st *state) {
	for _, line := range strings.Split(st.code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%%") {
			continue
		}
		if mermaidTypeRe.MatchString(trimmed) {
			return
		}
		break
	}

	decl := "flowchart TD"
	switch {
	case sequenceHintRe.MatchString(st.code):
		decl = "sequenceDiagram"
	case classHintRe.MatchString(st.code):
		decl = "classDiagram"
	case stateHintRe.MatchString(st.code):
		decl = "stateDiagram-v2"
	}
	st.rewrite(decl+"\n"+st.code, "Added missing diagram type declaration")
}

var mermaidArrowFixes = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`-\s+-\s*>>`), "-->>"},
	{regexp.MustCompile(`-\s+-\s*>`), "-->"},
	{regexp.MustCompile(`--\s+>>`), "-->>"},
	{regexp.MustCompile(`--\s+>`), "-->"},
	{regexp.MustCompile(`->\s+>`), "->>"},
	{regexp.MustCompile(`=\s+=\s*>`), "==>"},
	{regexp.MustCompile(`==\s+>`), "==>"},
	{regexp.MustCompile(`-\s+>`), "->"},
}

// normalizeMermaidArrows collapses split arrow tokens ("- ->", "-- >",
// "= =>") into their canonical forms. Canonical arrows contain no interior
// whitespace, so a second pass finds nothing to do.
func normalizeMermaidArrows(st *state) {
	code := st.code
	for _, fix := range mermaidArrowFixes {
		code = fix.re.ReplaceAllString(code, fix.replacement)
	}
	st.rewrite(code, "Normalized malformed arrow syntax")
}

// bracketLabelRe matches unquoted node labels carrying punctuation that
// breaks mermaid tokenization. Quoted labels are excluded.
var bracketLabelRe = regexp.MustCompile(`(\w+)\[([^\[\]"\n]*[(){};,][^\[\]"\n]*)\]`)

func quoteMermaidLabels(st *state) {
	count := 0
	code := bracketLabelRe.ReplaceAllStringFunc(st.code, func(m string) string {
		parts := bracketLabelRe.FindStringSubmatch(m)
		count++
		return parts[1] + `["` + parts[2] + `"]`
	})
	if count > 0 {
		st.rewrite(code, fmt.Sprintf("Quoted %d node label(s) containing special characters", count))
	}
}

var blockOpenerRe = regexp.MustCompile(`^(subgraph|loop|alt|opt|par|rect|critical|break|box)\b`)

// balanceMermaidBlocks appends missing "end" keywords. Excess closers are
// reported as an error rather than silently dropped: removing an "end"
// could corrupt an unrelated block.
func balanceMermaidBlocks(st *state) {
	opens, closes := 0, 0
	for _, line := range strings.Split(st.code, "\n") {
		trimmed := strings.TrimSpace(line)
		if blockOpenerRe.MatchString(trimmed) {
			opens++
		} else if trimmed == "end" {
			closes++
		}
	}

	switch {
	case opens > closes:
		missing := opens - closes
		code := strings.TrimRight(st.code, "\n") + "\n" + strings.TrimSuffix(strings.Repeat("end\n", missing), "\n")
		st.rewrite(code, fmt.Sprintf("Added %d missing 'end' keyword(s)", missing))
	case closes > opens:
		st.fail(fmt.Sprintf("%d unmatched 'end' keyword(s) with no opening block", closes-opens))
	}
}

var reservedIdentRe = regexp.MustCompile(`(?m)^\s*(end|graph|subgraph|style|class|classDef|click|linkStyle)\s*[\[(]`)

// flagMermaidReserved warns about identifiers that collide with mermaid's
// own control words. These frequently render but behave surprisingly, so
// they are warnings, not hard errors.
func flagMermaidReserved(st *state) {
	seen := map[string]bool{}
	for _, m := range reservedIdentRe.FindAllStringSubmatch(st.code, -1) {
		word := m[1]
		if seen[word] {
			continue
		}
		seen[word] = true
		st.warn(fmt.Sprintf("identifier %q collides with a reserved keyword", word))
	}
}

// c4Rules repair the C4 dialects ahead of transpilation. The constructor
// call syntax needs little fixing beyond block terminators.
var c4Rules = []rule{
	{name: "balance-braces", apply: balanceBraces},
	{name: "close-startuml", apply: closeStartUML},
}

func closeStartUML(st *state) {
	if strings.Contains(st.code, "@startuml") && !strings.Contains(st.code, "@enduml") {
		st.rewrite(strings.TrimRight(st.code, "\n")+"\n@enduml", "Added missing @enduml terminator")
	}
}
