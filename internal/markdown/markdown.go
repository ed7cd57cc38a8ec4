// Package markdown converts model-produced markdown to HTML ahead of the
// diagram scanner, with caching and syntax highlighting.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// Document represents a converted markdown source.
type Document struct {
	HTML     string
	Metadata Metadata
	Modified time.Time
	Raw      string
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

// Service renders markdown into HTML with caching by path and modification
// time. Diagram fences survive conversion untouched so the scanner can find
// them; all other code blocks are syntax highlighted.
type Service struct {
	md     goldmark.Markdown
	logger *slog.Logger
	cache  sync.Map // map[string]cacheEntry
}

// NewService constructs the markdown converter. GFM extensions, YAML
// frontmatter and chroma highlighting follow GitHub conventions; raw HTML
// passes through because transcript content is trusted local input.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle("github-dark"),
		highlighting.WithFormatOptions(
			chromahtml.WithLineNumbers(false),
			chromahtml.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(diagramFenceWrapper()),
	)

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{
				Position: anchor.After,
			},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
		),
		goldmark.WithRendererOptions(
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
		),
	)

	return &Service{
		md:     md,
		logger: logger.With("component", "markdown"),
	}
}

// Render converts markdown content to HTML, caching by path and mod time.
// An empty path skips the cache, for one-shot conversions of request
// bodies.
func (s *Service) Render(_ context.Context, path string, modTime time.Time, content []byte) (Document, error) {
	if path != "" {
		if entry, ok := s.cache.Load(path); ok {
			if cached, ok := entry.(cacheEntry); ok {
				if !cached.modTime.IsZero() && modTime.Equal(cached.modTime) {
					return cached.doc, nil
				}
			}
		}
	}

	parserCtx := parser.NewContext()
	buf := bytes.NewBuffer(nil)
	if err := s.md.Convert(content, buf, parser.WithContext(parserCtx)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	doc := Document{
		HTML:     buf.String(),
		Metadata: extractMetadata(parserCtx),
		Modified: modTime,
		Raw:      string(content),
	}

	if path != "" {
		s.cache.Store(path, cacheEntry{modTime: modTime, doc: doc})
	}
	return doc, nil
}

// Convert is the cache-free entry point for ad-hoc content.
func (s *Service) Convert(ctx context.Context, content []byte) (Document, error) {
	return s.Render(ctx, "", time.Time{}, content)
}

// Invalidate removes the cached entry for the given path.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(path)
}

// diagramFenceWrapper emits diagram-language fences as plain
// <pre><code class="language-X"> blocks instead of highlighting them, so
// the downstream scanner sees the raw source with its fence marker intact.
func diagramFenceWrapper() highlighting.WrapperRenderer {
	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		if ctx.Highlighted() {
			return
		}

		lang, _ := ctx.Language()
		normalized := strings.TrimSpace(strings.ToLower(string(lang)))

		if entering {
			_, _ = w.WriteString("<pre><code")
			if normalized != "" {
				_, _ = w.WriteString(` class="language-`)
				_, _ = w.Write(util.EscapeHTML([]byte(normalized)))
				_, _ = w.WriteString(`"`)
			}
			_, _ = w.WriteString(">")
			return
		}
		_, _ = w.WriteString("</code></pre>\n")
	}
}

// IsDiagramFence reports whether a fence language marker names one of the
// supported notations.
func IsDiagramFence(lang string) bool {
	return diagram.ParseLanguage(strings.ToLower(strings.TrimSpace(lang))) != diagram.LanguageUnknown
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if raw == nil {
		return meta
	}

	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "description", "summary":
			if str, ok := toString(v); ok {
				meta.Description = str
			}
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}
	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
