// Package diagram defines the shared vocabulary for the diagram pipeline:
// languages, candidates, validation and render results.
package diagram

import "time"

// Language identifies one of the supported diagram notations.
type Language string

const (
	// LanguageMermaid is the flowchart/sequence/state/class notation.
	LanguageMermaid Language = "mermaid"
	// LanguageD2 is the declarative graph-layout notation.
	LanguageD2 Language = "d2"
	// LanguageC4 is the C4 architecture notation, in either the Mermaid
	// dialect or the PlantUML-style call dialect.
	LanguageC4 Language = "c4"
	// LanguageUnknown marks text that no detector tier recognized.
	LanguageUnknown Language = "unknown"
)

// ParseLanguage maps a fence-language marker to a Language. Unrecognized
// markers map to LanguageUnknown.
func ParseLanguage(tag string) Language {
	switch tag {
	case "mermaid", "mmd":
		return LanguageMermaid
	case "d2":
		return LanguageD2
	case "c4", "plantuml", "puml":
		return LanguageC4
	default:
		return LanguageUnknown
	}
}

// Confidence grades how sure a detection is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// SourceSite records where in a document a candidate was extracted from.
type SourceSite string

const (
	SiteFenced SourceSite = "fenced"
	SiteInline SourceSite = "inline"
	SiteProse  SourceSite = "prose"
)

// Candidate is a text span suspected of being diagram source. Candidates are
// ephemeral: produced per scan or detect call and consumed once by the
// corrector. They carry no persistent identity.
type Candidate struct {
	Text       string     `json:"text"`
	Language   Language   `json:"language"`
	Site       SourceSite `json:"source_site"`
	Confidence Confidence `json:"confidence"`
}

// IsDiagram reports whether the candidate was recognized as any language.
func (c Candidate) IsDiagram() bool {
	return c.Language != LanguageUnknown && c.Language != ""
}

// ValidationResult is the corrector's outcome. Corrections lists applied
// fixes; Errors lists unresolved structural problems. Correction does not
// imply validity: the pipeline may still render invalid code (fail-open).
type ValidationResult struct {
	IsValid       bool     `json:"is_valid"`
	CorrectedCode string   `json:"corrected_code"`
	Errors        []string `json:"errors,omitempty"`
	Corrections   []string `json:"corrections,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// TranspileResult is produced for C4 input only. TargetCode is D2 source the
// render orchestrator consumes as if it were native.
type TranspileResult struct {
	TargetCode        string `json:"target_code"`
	EntityCount       int    `json:"entity_count"`
	RelationshipCount int    `json:"relationship_count"`
}

// RenderResult is the terminal artifact returned to the caller.
type RenderResult struct {
	Success    bool          `json:"success"`
	SVG        string        `json:"svg,omitempty"`
	Error      string        `json:"error,omitempty"`
	Backend    string        `json:"backend_used"`
	RenderTime time.Duration `json:"render_time_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Disposition encodes the LLM output convention for repeated diagrams: the
// first occurrence of a given text is presented as source, later identical
// occurrences are rendered visually.
type Disposition string

const (
	ShowAsSource    Disposition = "source"
	RenderAsDiagram Disposition = "render"
)

// Occurrence is a scanner-classified candidate plus its display disposition.
type Occurrence struct {
	Candidate
	Disposition Disposition `json:"disposition"`
}
