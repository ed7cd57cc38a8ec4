package correct

import (
	"fmt"
	"regexp"
	"strings"
)

// d2Rules repair the declarative graph notation. The JSON-ish shorthand
// rewrites run first so the later structural rules see canonical forms;
// the default direction is inserted last, once connections are known to
// survive the other rules.
var d2Rules = []rule{
	{name: "json-shorthand", apply: rewriteJSONShorthand},
	{name: "style-blocks", apply: flattenStyleBlocks},
	{name: "balance-braces", apply: balanceBraces},
	{name: "arrows", apply: normalizeD2Arrows},
	{name: "quote-connection-labels", apply: quoteConnectionLabels},
	{name: "stray-properties", apply: commentStrayProperties},
	{name: "default-direction", apply: ensureDirection},
}

var (
	shapeLabelRe = regexp.MustCompile(`(?m)^(\s*[\w-]+)\s*:\s*\{\s*shape\s*:\s*([\w-]+)\s*[,;]\s*label\s*:\s*"([^"]*)"\s*[,;]?\s*\}\s*$`)
	labelShapeRe = regexp.MustCompile(`(?m)^(\s*[\w-]+)\s*:\s*\{\s*label\s*:\s*"([^"]*)"\s*[,;]\s*shape\s*:\s*([\w-]+)\s*[,;]?\s*\}\s*$`)
)

// rewriteJSONShorthand converts object-literal-looking declarations the
// model borrowed from JSON into the canonical `name: "label" { shape: x }`
// form.
func rewriteJSONShorthand(st *state) {
	code := shapeLabelRe.ReplaceAllString(st.code, `$1: "$3" {shape: $2}`)
	code = labelShapeRe.ReplaceAllString(code, `$1: "$2" {shape: $3}`)
	st.rewrite(code, "Rewrote JSON-style object shorthand to canonical declarations")
}

var styleBlockRe = regexp.MustCompile(`(?s)style\s*:\s*\{([^{}]*)\}`)

// flattenStyleBlocks converts nested style blocks into dotted-property
// assignments (`style: { fill: c }` becomes `style.fill: c`).
func flattenStyleBlocks(st *state) {
	code := styleBlockRe.ReplaceAllStringFunc(st.code, func(m string) string {
		body := styleBlockRe.FindStringSubmatch(m)[1]
		var props []string
		for _, part := range regexp.MustCompile(`[;,\n]`).Split(body, -1) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, value, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			props = append(props, fmt.Sprintf("style.%s: %s", strings.TrimSpace(key), strings.TrimSpace(value)))
		}
		return strings.Join(props, "; ")
	})
	st.rewrite(code, "Flattened nested style blocks into dotted properties")
}

// countBraces tallies braces outside quoted strings and # comments.
func countBraces(code string) (opens, closes int) {
	inQuote := false
	inComment := false
	for i := 0; i < len(code); i++ {
		switch c := code[i]; {
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '#':
			inComment = true
		case c == '{':
			opens++
		case c == '}':
			closes++
		}
	}
	return opens, closes
}

// balanceBraces appends missing closing braces. Extra closers are never
// removed: deleting a closing brace can corrupt an unrelated block, so the
// excess is reported as an error and later rules continue on the
// unbalanced text.
func balanceBraces(st *state) {
	opens, closes := countBraces(st.code)
	switch {
	case opens > closes:
		missing := opens - closes
		code := strings.TrimRight(st.code, "\n") + "\n" + strings.TrimSuffix(strings.Repeat("}\n", missing), "\n")
		st.rewrite(code, fmt.Sprintf("Added %d missing closing brace(s)", missing))
	case closes > opens:
		st.fail(fmt.Sprintf("%d unmatched closing brace(s)", closes-opens))
	}
}

var (
	splitRightArrowRe = regexp.MustCompile(`-\s+>`)
	splitLeftArrowRe  = regexp.MustCompile(`<\s+-`)
)

func normalizeD2Arrows(st *state) {
	code := splitRightArrowRe.ReplaceAllString(st.code, "->")
	code = splitLeftArrowRe.ReplaceAllString(code, "<-")
	st.rewrite(code, "Normalized malformed arrow syntax")
}

// connLabelRe matches a connection whose trailing label is unquoted. Labels
// that are already quoted or that open a block are excluded.
var connLabelRe = regexp.MustCompile(`(?m)^(\s*[\w."-]+(?:\s*(?:<->|->|<-|--)\s*[\w."-]+)+)\s*:\s*([^"{\s][^{\n]*?)\s*$`)

func quoteConnectionLabels(st *state) {
	count := 0
	code := connLabelRe.ReplaceAllStringFunc(st.code, func(m string) string {
		parts := connLabelRe.FindStringSubmatch(m)
		count++
		return parts[1] + `: "` + parts[2] + `"`
	})
	if count > 0 {
		st.rewrite(code, fmt.Sprintf("Quoted %d connection label(s)", count))
	}
}

// d2KnownKeys are directives valid as bare top-level properties.
var d2KnownKeys = map[string]bool{
	"direction": true, "vars": true, "classes": true, "style": true,
	"label": true, "shape": true, "icon": true, "near": true,
	"width": true, "height": true, "grid-rows": true, "grid-columns": true,
	"tooltip": true, "link": true,
}

var bareScalarRe = regexp.MustCompile(`^([\w-]+)\s*:\s*([^"{][^{]*)$`)

// commentStrayProperties comments out top-level `key: value` lines that are
// neither connections, quoted-label declarations, block openers, nor known
// directives. Each removal is recorded as a correction, never silent.
func commentStrayProperties(st *state) {
	lines := strings.Split(st.code, "\n")
	depth := 0
	var commented []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		opens, closes := countBraces(line)
		if depth == 0 && trimmed != "" && !strings.HasPrefix(trimmed, "#") && !isConnectionLine(trimmed) {
			if m := bareScalarRe.FindStringSubmatch(trimmed); m != nil && !d2KnownKeys[m[1]] {
				lines[i] = "# " + line
				commented = append(commented, trimmed)
			}
		}
		depth += opens - closes
	}
	if len(commented) == 0 {
		return
	}
	st.code = strings.Join(lines, "\n")
	for _, line := range commented {
		st.corrections = append(st.corrections, fmt.Sprintf("Commented out stray property line: %q", line))
	}
}

var connTokenRe = regexp.MustCompile(`(<->|->|<-|\s--\s)`)

func isConnectionLine(line string) bool {
	return connTokenRe.MatchString(line)
}

var directionLineRe = regexp.MustCompile(`(?m)^\s*direction\s*:`)

// ensureDirection inserts a default layout direction as the first line when
// connections exist but no direction was declared.
func ensureDirection(st *state) {
	if directionLineRe.MatchString(st.code) {
		return
	}
	hasConnection := false
	for _, line := range strings.Split(st.code, "\n") {
		if isConnectionLine(line) {
			hasConnection = true
			break
		}
	}
	if !hasConnection {
		return
	}
	st.rewrite("direction: right\n"+st.code, "Added default layout direction")
}
