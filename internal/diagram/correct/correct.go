// Package correct repairs the syntax mistakes language models commonly make
// in diagram source. Each language runs an ordered rule pipeline; rules are
// individually idempotent and the pipeline converges after one pass, so
// correcting already-corrected code reports no new corrections.
//
// The corrector never fails: it always returns a ValidationResult, even when
// structural errors remain. Rendering invalid code is the caller's call
// (fail-open) because many renderers succeed despite residual errors.
package correct

import (
	"log/slog"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// rule is one rewrite step. A rule either rewrites code (recording a
// correction) or appends to the error list; it must be idempotent.
type rule struct {
	name  string
	apply func(st *state)
}

type state struct {
	code        string
	corrections []string
	errors      []string
	warnings    []string
}

func (st *state) rewrite(code, correction string) {
	if code == st.code {
		return
	}
	st.code = code
	st.corrections = append(st.corrections, correction)
}

func (st *state) fail(msg string) {
	st.errors = append(st.errors, msg)
}

func (st *state) warn(msg string) {
	st.warnings = append(st.warnings, msg)
}

// Corrector applies per-language repair pipelines.
type Corrector struct {
	logger *slog.Logger
}

// New constructs a corrector. The logger may be nil.
func New(logger *slog.Logger) *Corrector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrector{logger: logger.With("component", "corrector")}
}

// Correct runs the rule pipeline for the given language. Unknown languages
// pass through untouched and valid.
func (c *Corrector) Correct(code string, lang diagram.Language) diagram.ValidationResult {
	var rules []rule
	switch lang {
	case diagram.LanguageMermaid:
		rules = mermaidRules
	case diagram.LanguageD2:
		rules = d2Rules
	case diagram.LanguageC4:
		rules = c4Rules
	default:
		return diagram.ValidationResult{IsValid: true, CorrectedCode: code}
	}

	st := &state{code: code}
	for _, r := range rules {
		r.apply(st)
	}

	if len(st.corrections) > 0 {
		c.logger.Debug("applied corrections",
			slog.String("language", string(lang)),
			slog.Int("count", len(st.corrections)))
	}

	return diagram.ValidationResult{
		IsValid:       len(st.errors) == 0,
		CorrectedCode: st.code,
		Errors:        st.errors,
		Corrections:   st.corrections,
		Warnings:      st.warnings,
	}
}
