// Package detect classifies text spans as diagram source. Detection is
// heuristic by design: the input is noisy model output, not a closed
// language, so the detector trades recall for precision on unmarked text.
package detect

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/telemetry"
)

// Detection methods reported through telemetry.
const (
	methodFenceMarker = "fence_marker"
	methodKeyword     = "keyword"
	methodStructural  = "structural"
	methodLenient     = "lenient"
)

// language is one notation's detection heuristics. Implementations are
// consulted in a fixed order; keeping them separate keeps the per-language
// rules independently testable.
type language interface {
	name() diagram.Language
	// strict reports how confident a structural scan of the text is.
	strict(text string) diagram.Confidence
	// lenient reports whether prose-embedded text carries enough
	// corroborating evidence to classify without a fence.
	lenient(text string) bool
}

// Detector classifies text spans into diagram languages.
type Detector struct {
	logger    *slog.Logger
	events    *telemetry.Emitter
	languages []language
}

// New constructs a detector. Both arguments may be nil.
func New(logger *slog.Logger, events *telemetry.Emitter) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger: logger.With("component", "detector"),
		events: events,
		// C4 is consulted before mermaid: the mermaid C4 dialect would
		// otherwise be swallowed by generic mermaid keywords.
		languages: []language{c4Language{}, mermaidLanguage{}, d2Language{}},
	}
}

// Detect classifies a fenced or standalone text span. A recognized fence
// language marker wins outright; otherwise each language's strict structural
// scan runs in order.
func (d *Detector) Detect(text, fenceLang string) diagram.Candidate {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return unknown(text, diagram.SiteFenced)
	}

	if lang := diagram.ParseLanguage(strings.ToLower(strings.TrimSpace(fenceLang))); lang != diagram.LanguageUnknown {
		// The mermaid fence may carry C4-dialect content; reclassify so
		// the transpiler sees it.
		if lang == diagram.LanguageMermaid && (c4Language{}).strict(trimmed) != diagram.ConfidenceNone {
			lang = diagram.LanguageC4
		}
		return d.found(text, lang, diagram.SiteFenced, diagram.ConfidenceHigh, methodFenceMarker)
	}

	for _, l := range d.languages {
		if conf := l.strict(trimmed); conf != diagram.ConfidenceNone {
			method := methodKeyword
			if l.name() == diagram.LanguageD2 {
				method = methodStructural
			}
			return d.found(text, l.name(), diagram.SiteFenced, conf, method)
		}
	}
	return unknown(text, diagram.SiteFenced)
}

// DetectProse applies the lenient scorer to unmarked prose. A single
// arrow-like substring must not trigger: either an explicit keyword or at
// least two independent structural matches are required.
func (d *Detector) DetectProse(text string) diagram.Candidate {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return unknown(text, diagram.SiteProse)
	}

	for _, l := range d.languages {
		if l.lenient(trimmed) {
			return d.found(text, l.name(), diagram.SiteProse, diagram.ConfidenceLow, methodLenient)
		}
	}
	return unknown(text, diagram.SiteProse)
}

func (d *Detector) found(text string, lang diagram.Language, site diagram.SourceSite, conf diagram.Confidence, method string) diagram.Candidate {
	d.events.Emit(telemetry.Event{
		Type:            telemetry.EventDetection,
		DiagramType:     string(lang),
		CodeLength:      len(text),
		DetectionMethod: method,
	})
	d.logger.Debug("diagram detected",
		slog.String("language", string(lang)),
		slog.String("method", method),
		slog.Int("length", len(text)))
	return diagram.Candidate{Text: text, Language: lang, Site: site, Confidence: conf}
}

func unknown(text string, site diagram.SourceSite) diagram.Candidate {
	return diagram.Candidate{Text: text, Language: diagram.LanguageUnknown, Site: site, Confidence: diagram.ConfidenceNone}
}

// --- mermaid ---

// mermaidKeywords are diagram-type declarations. A collision with ordinary
// prose is judged near-impossible, so a single hit is high confidence.
var mermaidKeywordRe = regexp.MustCompile(`(?m)^\s*(graph\s+(?:TB|TD|BT|LR|RL)\b|flowchart\s+(?:TB|TD|BT|LR|RL)\b|sequenceDiagram\b|classDiagram\b|stateDiagram(?:-v2)?\b|erDiagram\b|gantt\b|journey\b|mindmap\b|timeline\b|gitGraph\b|pie(\s+title\b|\s*$))`)

// mermaidStructuralRe matches participant/state/class declaration lines.
var mermaidStructuralRe = regexp.MustCompile(`(?m)^\s*(participant\s+\S+|actor\s+\S+|subgraph\s+\S+|class\s+\w+\s*\{|state\s+\S+)`)

// arrowLineRe matches generic arrow-connection lines, the weakest signal.
var arrowLineRe = regexp.MustCompile(`(?m)^\s*[\w"\[\]()]+\s*(-->|---|->>|-->>|==>|-\.->)\s*\S`)

type mermaidLanguage struct{}

func (mermaidLanguage) name() diagram.Language { return diagram.LanguageMermaid }

func (mermaidLanguage) strict(text string) diagram.Confidence {
	if mermaidKeywordRe.MatchString(text) {
		return diagram.ConfidenceHigh
	}
	return diagram.ConfidenceNone
}

func (m mermaidLanguage) lenient(text string) bool {
	if m.strict(text) != diagram.ConfidenceNone {
		return true
	}
	// One structural declaration plus two or more arrow-like lines is
	// accepted; a lone "a -> b" substring in running text is not.
	if mermaidStructuralRe.MatchString(text) && len(arrowLineRe.FindAllString(text, -1)) >= 2 {
		return true
	}
	return false
}

// --- d2 ---

// D2 has no reserved keywords, only a small connector/property grammar, so
// detection requires whole-line declaration matches.
var (
	d2ConnectionRe = regexp.MustCompile(`(?m)^\s*[\w."'-]+\s*(<->|->|<-|--)\s*[\w."'-]+\s*(:.*)?$`)
	d2PropertyRe   = regexp.MustCompile(`(?m)^\s*(?:[\w-]+\.)+(?:shape|label|icon|near|width|height|style(?:\.[\w-]+)?)\s*:\s*\S|^\s*direction\s*:\s*(?:up|down|left|right)\s*$`)
	d2BlockOpenRe  = regexp.MustCompile(`(?m)^\s*[\w-]+\s*:\s*(?:"[^"]*"\s*)?\{\s*$`)
)

type d2Language struct{}

func (d2Language) name() diagram.Language { return diagram.LanguageD2 }

func (d2Language) strict(text string) diagram.Confidence {
	// PlantUML-marked text is never D2, even when its arrow lines happen
	// to parse as connections.
	if plantUMLMarkerRe.MatchString(text) {
		return diagram.ConfidenceNone
	}
	matches := len(d2ConnectionRe.FindAllString(text, -1)) +
		len(d2PropertyRe.FindAllString(text, -1)) +
		len(d2BlockOpenRe.FindAllString(text, -1))
	switch {
	case matches >= 2:
		return diagram.ConfidenceHigh
	case matches == 1:
		return diagram.ConfidenceMedium
	default:
		return diagram.ConfidenceNone
	}
}

func (d d2Language) lenient(text string) bool {
	// Prose has no explicit D2 keyword to lean on, so require two
	// independent structural matches.
	return d.strict(text) == diagram.ConfidenceHigh
}

// --- c4 ---

var (
	c4MermaidKeywordRe = regexp.MustCompile(`(?m)^\s*C4(Context|Container|Component|Dynamic|Deployment)\b`)
	plantUMLMarkerRe   = regexp.MustCompile(`(?m)^\s*(@startuml|@enduml|!include\b)`)
	c4ConstructorRe    = regexp.MustCompile(`(?m)^\s*(Person|Person_Ext|System|System_Ext|SystemDb|SystemDb_Ext|SystemQueue|SystemQueue_Ext|Container|Container_Ext|ContainerDb|ContainerQueue|Component|Component_Ext|ComponentDb|ComponentQueue|System_Boundary|Container_Boundary|Enterprise_Boundary|Boundary|Rel|BiRel|Rel_U|Rel_D|Rel_L|Rel_R|Rel_Back|Rel_Neighbor)\s*\(`)
)

type c4Language struct{}

func (c4Language) name() diagram.Language { return diagram.LanguageC4 }

func (c4Language) strict(text string) diagram.Confidence {
	if c4MermaidKeywordRe.MatchString(text) {
		return diagram.ConfidenceHigh
	}
	// A PlantUML marker alone is insufficient: generic PlantUML is not C4.
	// It must co-occur with at least one entity constructor call.
	if plantUMLMarkerRe.MatchString(text) && c4ConstructorRe.MatchString(text) {
		return diagram.ConfidenceHigh
	}
	// Bare constructor calls without markers still identify the dialect
	// when more than one appears.
	if len(c4ConstructorRe.FindAllString(text, -1)) >= 2 {
		return diagram.ConfidenceHigh
	}
	return diagram.ConfidenceNone
}

func (c c4Language) lenient(text string) bool {
	return c.strict(text) != diagram.ConfidenceNone
}
