// Package scan walks rendered HTML looking for diagram-candidate text in
// code blocks, inline code spans and plain paragraphs. The scanner only
// classifies; it never renders.
package scan

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
)

// minInlineLength filters trivially short inline code spans ("`ls`", "`x`")
// that cannot plausibly hold a diagram.
const minInlineLength = 24

// Scanner extracts diagram candidates from rendered HTML.
type Scanner struct {
	detector *detect.Detector
	logger   *slog.Logger
}

// New constructs a scanner around the given detector.
func New(detector *detect.Detector, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		detector: detector,
		logger:   logger.With("component", "scanner"),
	}
}

// Scan extracts candidates in priority order: fenced code blocks, then
// standalone inline code spans, then paragraph text through the lenient
// detector. Repeated occurrences of the same normalized diagram text are
// deduplicated through a ledger local to this call: the first occurrence is
// shown as source, every later identical occurrence renders as a diagram.
// This encodes the model-output convention of presenting code immediately
// followed by its rendered form.
func (s *Scanner) Scan(htmlContent string) ([]diagram.Occurrence, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	ledger := map[string]int{}
	var found []diagram.Occurrence

	doc.Find("pre > code").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		candidate := s.detector.Detect(text, fenceLanguage(sel))
		if !candidate.IsDiagram() {
			return
		}
		// Fenced extraction is high confidence whether the fence carried
		// a marker or the pattern match identified the language.
		candidate.Site = diagram.SiteFenced
		candidate.Confidence = diagram.ConfidenceHigh
		found = append(found, classify(ledger, candidate))
	})

	doc.Find("code").Each(func(_ int, sel *goquery.Selection) {
		if sel.ParentsFiltered("pre").Length() > 0 {
			return
		}
		text := sel.Text()
		if len(strings.TrimSpace(text)) < minInlineLength {
			return
		}
		candidate := s.detector.Detect(text, "")
		if !candidate.IsDiagram() {
			return
		}
		candidate.Site = diagram.SiteInline
		candidate.Confidence = diagram.ConfidenceMedium
		found = append(found, classify(ledger, candidate))
	})

	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		// Paragraph-level text, minus any inline code already visited.
		clone := sel.Clone()
		clone.Find("code").Remove()
		candidate := s.detector.DetectProse(clone.Text())
		if !candidate.IsDiagram() {
			return
		}
		candidate.Site = diagram.SiteProse
		candidate.Confidence = diagram.ConfidenceLow
		found = append(found, classify(ledger, candidate))
	})

	s.logger.Debug("scan complete", slog.Int("candidates", len(found)))
	return found, nil
}

// classify consults the occurrence ledger and assigns the disposition.
func classify(ledger map[string]int, candidate diagram.Candidate) diagram.Occurrence {
	key := strings.TrimSpace(candidate.Text)
	count := ledger[key]
	ledger[key] = count + 1

	disposition := diagram.ShowAsSource
	if count > 0 {
		disposition = diagram.RenderAsDiagram
	}
	return diagram.Occurrence{Candidate: candidate, Disposition: disposition}
}

// fenceLanguage pulls the language marker from a highlighted code block's
// class list ("language-d2" and chroma's "language-d2 chroma" both count).
func fenceLanguage(sel *goquery.Selection) string {
	class, _ := sel.Attr("class")
	for _, part := range strings.Fields(class) {
		if lang, ok := strings.CutPrefix(part, "language-"); ok {
			return lang
		}
	}
	// Some renderers put the class on the enclosing <pre>.
	if parent := sel.Parent(); parent.Length() > 0 {
		class, _ = parent.Attr("class")
		for _, part := range strings.Fields(class) {
			if lang, ok := strings.CutPrefix(part, "language-"); ok {
				return lang
			}
		}
		if lang, ok := parent.Attr("data-lang"); ok {
			return lang
		}
	}
	return ""
}
