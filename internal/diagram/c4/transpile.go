// Package c4 transpiles C4 architecture notation, in either the Mermaid
// dialect or the PlantUML-style call dialect, into D2 source. The parse is
// line-oriented and best-effort rather than grammatical: unusual input
// should still produce something renderable.
package c4

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// ErrNoEntities is returned when the structural parse recognized nothing.
var ErrNoEntities = errors.New("c4 transpile produced no entities")

var (
	levelRe       = regexp.MustCompile(`^\s*C4(Context|Container|Component|Dynamic|Deployment)\b`)
	titleRe       = regexp.MustCompile(`^\s*title\s+(.+)$`)
	boundaryRe    = regexp.MustCompile(`^\s*(System_Boundary|Container_Boundary|Enterprise_Boundary|Boundary)\s*\((.*)\)\s*\{?\s*$`)
	constructorRe = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z_]*)\s*\((.*)\)\s*\{?\s*$`)
	relKeywordRe  = regexp.MustCompile(`^(Rel|BiRel|Rel_U|Rel_D|Rel_L|Rel_R|Rel_Back|Rel_Neighbor)$`)
	skipLineRe    = regexp.MustCompile(`^\s*(@startuml|@enduml|!include|'|%%|LAYOUT_|SHOW_|UpdateElementStyle|UpdateRelStyle|AddElementTag|AddRelTag|SHOW_LEGEND)`)
)

type relationship struct {
	from, to, label, technology string
	bidirectional               bool
}

// Transpile converts C4 source into D2 using the structural parser. It
// maintains an explicit stack of open boundaries; identifiers declared
// inside a boundary are namespaced under it unless already dot-qualified.
func Transpile(code string) (diagram.TranspileResult, error) {
	var (
		out      strings.Builder
		stack    []string          // open boundary ids, outermost first
		index    = map[string]string{} // bare id -> qualified id
		rels     []relationship
		entities int
		title    string
		level    string
	)

	indent := func() string { return strings.Repeat("  ", len(stack)) }
	qualify := func(id string) string {
		if len(stack) == 0 {
			return id
		}
		return strings.Join(stack, ".") + "." + id
	}

	var body strings.Builder
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || skipLineRe.MatchString(trimmed):
			continue
		case trimmed == "}":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
				body.WriteString(indent() + "}\n")
			}
			continue
		}

		if m := levelRe.FindStringSubmatch(trimmed); m != nil {
			level = strings.ToLower(m[1])
			continue
		}
		if m := titleRe.FindStringSubmatch(trimmed); m != nil {
			title = strings.Trim(strings.TrimSpace(m[1]), `"`)
			continue
		}

		if m := boundaryRe.FindStringSubmatch(trimmed); m != nil {
			args := splitArgs(m[2])
			if len(args) == 0 {
				continue
			}
			id := args[0]
			label := id
			if len(args) > 1 {
				label = args[1]
			}
			body.WriteString(fmt.Sprintf("%s%s: %q {\n", indent(), id, label))
			stack = append(stack, id)
			// Boundaries render as dashed, transparent containers.
			body.WriteString(indent() + "style.stroke-dash: 3\n")
			body.WriteString(indent() + "style.fill: transparent\n")
			continue
		}

		m := constructorRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		keyword, rawArgs := m[1], m[2]

		if relKeywordRe.MatchString(keyword) {
			args := splitArgs(rawArgs)
			if len(args) < 2 {
				continue
			}
			rel := relationship{
				from:          args[0],
				to:            args[1],
				bidirectional: keyword == "BiRel",
			}
			if len(args) > 2 {
				rel.label = args[2]
			}
			if len(args) > 3 {
				rel.technology = args[3]
			}
			rels = append(rels, rel)
			continue
		}

		kind := strings.ToLower(keyword)
		if _, known := shapeTable[kind]; !known {
			// Unknown constructors are ignored, not fatal.
			continue
		}
		args := splitArgs(rawArgs)
		if len(args) == 0 {
			continue
		}
		id := args[0]
		label := id
		if len(args) > 1 {
			label = args[1]
		}
		index[id] = qualify(id)
		entities++

		desc := shapeTable[kind]
		body.WriteString(fmt.Sprintf("%s%s: %q {\n", indent(), id, label))
		inner := indent() + "  "
		body.WriteString(fmt.Sprintf("%sshape: %s\n", inner, desc.Shape))
		for _, key := range sortedKeys(desc.Style) {
			body.WriteString(fmt.Sprintf("%sstyle.%s: %q\n", inner, key, desc.Style[key]))
		}
		if tooltip := entityTooltip(kind, args); tooltip != "" {
			body.WriteString(fmt.Sprintf("%stooltip: %q\n", inner, tooltip))
		}
		body.WriteString(indent() + "}\n")
	}

	// Close any boundaries the input never terminated.
	for len(stack) > 0 {
		stack = stack[:len(stack)-1]
		body.WriteString(indent() + "}\n")
	}

	if entities == 0 {
		return diagram.TranspileResult{}, ErrNoEntities
	}

	if title != "" {
		out.WriteString("# " + title + "\n")
	}
	if level != "" {
		out.WriteString("# C4 level: " + level + "\n")
	}
	out.WriteString("direction: right\n\n")
	out.WriteString(body.String())

	if len(rels) > 0 {
		out.WriteString("\n")
	}
	for _, rel := range rels {
		from := resolveRef(index, rel.from)
		to := resolveRef(index, rel.to)
		arrow := "->"
		if rel.bidirectional {
			arrow = "<->"
		}
		caption := rel.label
		if rel.technology != "" {
			caption = rel.label + `\n[` + rel.technology + `]`
		}
		if caption != "" {
			out.WriteString(fmt.Sprintf("%s %s %s: \"%s\"\n", from, arrow, to, caption))
		} else {
			out.WriteString(fmt.Sprintf("%s %s %s\n", from, arrow, to))
		}
	}

	return diagram.TranspileResult{
		TargetCode:        out.String(),
		EntityCount:       entities,
		RelationshipCount: len(rels),
	}, nil
}

var (
	simpleEntityRe = regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z_]*)\s*\(\s*([\w.-]+)\s*,\s*"([^"]*)"[^)]*\)`)
	simpleRelRe    = regexp.MustCompile(`(?m)^\s*(?:Rel|BiRel|Rel_U|Rel_D|Rel_L|Rel_R|Rel_Back|Rel_Neighbor)\s*\(\s*([\w.-]+)\s*,\s*([\w.-]+)\s*(?:,\s*"([^"]*)")?[^)]*\)`)
)

// TranspileSimple is the fallback transpiler: direct token substitution
// with no nesting support, for input the structural parser cannot use.
func TranspileSimple(code string) diagram.TranspileResult {
	var out strings.Builder
	entities, relCount := 0, 0

	for _, m := range simpleEntityRe.FindAllStringSubmatch(code, -1) {
		kind := strings.ToLower(m[1])
		if relKeywordRe.MatchString(m[1]) {
			continue
		}
		desc, known := shapeTable[kind]
		if !known {
			continue
		}
		out.WriteString(fmt.Sprintf("%s: {label: %q; shape: %s}\n", m[2], m[3], desc.Shape))
		entities++
	}
	for _, m := range simpleRelRe.FindAllStringSubmatch(code, -1) {
		if m[3] != "" {
			out.WriteString(fmt.Sprintf("%s -> %s: %q\n", m[1], m[2], m[3]))
		} else {
			out.WriteString(fmt.Sprintf("%s -> %s\n", m[1], m[2]))
		}
		relCount++
	}

	return diagram.TranspileResult{
		TargetCode:        out.String(),
		EntityCount:       entities,
		RelationshipCount: relCount,
	}
}

// TranspileAny tries the structural transpiler first and falls back to the
// simplified one when it errors or yields nothing.
func TranspileAny(code string) diagram.TranspileResult {
	result, err := Transpile(code)
	if err != nil || strings.TrimSpace(result.TargetCode) == "" {
		return TranspileSimple(code)
	}
	return result
}

// splitArgs splits a constructor argument list on top-level commas,
// respecting quoted strings, and strips surrounding quotes.
func splitArgs(raw string) []string {
	var (
		args    []string
		current strings.Builder
		inQuote bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			current.WriteByte(c)
		case c == ',' && !inQuote:
			args = append(args, cleanArg(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		args = append(args, cleanArg(current.String()))
	}
	return args
}

func cleanArg(raw string) string {
	arg := strings.TrimSpace(raw)
	// Named arguments ($label="x") reduce to their value.
	if strings.HasPrefix(arg, "$") {
		if _, value, ok := strings.Cut(arg, "="); ok {
			arg = strings.TrimSpace(value)
		}
	}
	return strings.Trim(arg, `"`)
}

// entityTooltip picks the description argument: for containers and
// components the third quoted argument is technology, description comes
// after; for persons and systems it is the description itself.
func entityTooltip(kind string, args []string) string {
	descIdx := 2
	if strings.HasPrefix(kind, "container") || strings.HasPrefix(kind, "component") {
		descIdx = 3
	}
	if len(args) > descIdx {
		return args[descIdx]
	}
	return ""
}

func resolveRef(index map[string]string, ref string) string {
	if strings.Contains(ref, ".") {
		return ref
	}
	if qualified, ok := index[ref]; ok {
		return qualified
	}
	return ref
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
