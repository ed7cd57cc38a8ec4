package render

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// Completion marker classes the render route sets on its result container.
// The headless tier polls the dumped DOM for these.
const (
	MarkerComplete = "render-complete"
	MarkerError    = "render-error"
)

// HeadlessBackend drives a headless browser against the render-only route
// served by this process (or a sibling). The route performs the same
// detect→correct→transpile→render steps and flags completion through a DOM
// marker class; the tier extracts the resulting inline SVG from the dumped
// document.
type HeadlessBackend struct {
	browser string
	baseURL string
	timeout time.Duration
}

// NewHeadless constructs the tier. An empty browser binary or base URL
// disables it.
func NewHeadless(browser, baseURL string, timeout time.Duration) *HeadlessBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HeadlessBackend{
		browser: browser,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// Name implements Backend.
func (b *HeadlessBackend) Name() string { return "headless-browser" }

// Supports implements Backend.
func (b *HeadlessBackend) Supports(lang diagram.Language) bool {
	return b.browser != "" && b.baseURL != "" && lang != diagram.LanguageUnknown
}

// TryRender implements Backend.
func (b *HeadlessBackend) TryRender(ctx context.Context, code string, lang diagram.Language) (*diagram.RenderResult, error) {
	bin, err := exec.LookPath(b.browser)
	if err != nil {
		return nil, fmt.Errorf("headless browser %s not found: %w", b.browser, err)
	}

	target := fmt.Sprintf("%s/render?type=%s&code=%s",
		b.baseURL, url.QueryEscape(string(lang)), url.QueryEscape(code))

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--virtual-time-budget=10000",
		"--dump-dom",
		target,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("headless render failed: %w", err)
	}

	return extractRenderedSVG(string(output))
}

// extractRenderedSVG pulls the inline SVG out of a dumped render-route DOM,
// honoring the completion marker protocol.
func extractRenderedSVG(dom string) (*diagram.RenderResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom))
	if err != nil {
		return nil, fmt.Errorf("parse headless dom: %w", err)
	}

	if errNode := doc.Find("." + MarkerError).First(); errNode.Length() > 0 {
		msg := strings.TrimSpace(errNode.Text())
		if msg == "" {
			msg = "render route reported an error"
		}
		return nil, fmt.Errorf("headless render: %s", msg)
	}

	container := doc.Find("." + MarkerComplete).First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("render route never completed")
	}

	svg, err := goquery.OuterHtml(container.Find("svg").First())
	if err != nil || strings.TrimSpace(svg) == "" {
		return nil, fmt.Errorf("render route completed without svg output")
	}

	return &diagram.RenderResult{Success: true, SVG: svg}, nil
}
