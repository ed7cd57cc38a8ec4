// Package export turns a transcript's diagram fences into embedded images
// and writes whole transcripts out as markdown or PDF reports.
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"strings"

	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/euforicio/diagramflow/internal/markdown"
	"github.com/euforicio/diagramflow/internal/pipeline"
)

// Exporter rewrites diagram fences through the render pipeline. If a
// diagram fails to render its fence is left intact so the reader still
// gets the source.
type Exporter struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// New constructs an exporter around the pipeline.
func New(p *pipeline.Pipeline, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		pipeline: p,
		logger:   logger.With("component", "export"),
	}
}

// ExportMarkdown returns the transcript with every renderable diagram
// fence replaced by a PNG data-URI image tag.
func (e *Exporter) ExportMarkdown(ctx context.Context, raw []byte) ([]byte, error) {
	return e.encode(ctx, raw)
}

// ExportPDF renders the transcript, diagrams included, to PDF.
func (e *Exporter) ExportPDF(ctx context.Context, raw []byte, w io.Writer) error {
	encoded, err := e.encode(ctx, raw)
	if err != nil {
		return err
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			meta.Meta,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRenderer(pdf.New()),
	)

	if err := md.Convert(encoded, w); err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	return nil
}

// encode rewrites diagram fences into Markdown image tags with embedded
// PNG data.
func (e *Exporter) encode(ctx context.Context, raw []byte) ([]byte, error) {
	var (
		out          bytes.Buffer
		scanner      = bufio.NewScanner(bytes.NewReader(raw))
		inFence      bool
		fenceMarker  string
		fenceLang    string
		diagramLines bytes.Buffer
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if marker, lang, ok := parseFenceStart(trimmed); ok {
				inFence = true
				fenceMarker = marker
				fenceLang = lang
				diagramLines.Reset()
				// Preserve non-diagram fences verbatim
				if !markdown.IsDiagramFence(lang) {
					writeLine(&out, line)
				}
				continue
			}

			writeLine(&out, line)
			continue
		}

		// inside a fenced block
		if isFenceEnd(trimmed, fenceMarker) {
			if markdown.IsDiagramFence(fenceLang) {
				if err := e.flushDiagram(ctx, &out, fenceLang, diagramLines.String()); err != nil {
					e.logger.Warn("diagram export failed, keeping source",
						slog.String("language", fenceLang), slog.Any("err", err))
					writeLine(&out, fenceMarker+fenceLang)
					out.Write(diagramLines.Bytes())
					writeLine(&out, fenceMarker)
				}
			} else {
				writeLine(&out, line)
			}
			inFence = false
			fenceMarker = ""
			fenceLang = ""
			continue
		}

		if markdown.IsDiagramFence(fenceLang) {
			writeLine(&diagramLines, line)
		} else {
			writeLine(&out, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Unclosed fence: emit buffered content as-is
	if inFence {
		writeLine(&out, fenceMarker+fenceLang)
		out.Write(diagramLines.Bytes())
	}

	return out.Bytes(), nil
}

func (e *Exporter) flushDiagram(ctx context.Context, out *bytes.Buffer, lang, source string) error {
	if strings.TrimSpace(source) == "" {
		return nil
	}

	outcome := e.pipeline.Process(ctx, source, lang, true)
	if outcome.Render == nil || !outcome.Render.Success {
		msg := "no render result"
		if outcome.Render != nil {
			msg = outcome.Render.Error
		}
		return fmt.Errorf("render %s: %s", lang, msg)
	}

	pngData, err := SVGToPNG([]byte(outcome.Render.SVG))
	if err != nil {
		return fmt.Errorf("rasterize svg: %w", err)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
	_, err = fmt.Fprintf(out, "![%s diagram](%s)\n\n", lang, dataURI)
	return err
}

func parseFenceStart(line string) (marker, lang string, ok bool) {
	if strings.HasPrefix(line, "```") {
		marker = line[:leadingCount(line, '`')]
		lang = strings.TrimSpace(strings.TrimPrefix(line, marker))
		ok = len(marker) >= 3
		return
	}

	if strings.HasPrefix(line, "~~~") {
		marker = line[:leadingCount(line, '~')]
		lang = strings.TrimSpace(strings.TrimPrefix(line, marker))
		ok = len(marker) >= 3
		return
	}

	return "", "", false
}

func isFenceEnd(line, marker string) bool {
	if marker == "" {
		return false
	}
	close := strings.Repeat(string(marker[0]), len(marker))
	return line == close
}

func leadingCount(line string, char rune) int {
	count := 0
	for _, r := range line {
		if r == char {
			count++
			continue
		}
		break
	}
	return count
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}

// SVGToPNG rasterizes an SVG into a PNG byte slice suitable for embedding
// as a data URI or writing to disk.
func SVGToPNG(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	viewbox := icon.ViewBox
	width := int(math.Ceil(viewbox.W))
	height := int(math.Ceil(viewbox.H))
	if width <= 0 || height <= 0 {
		// Sensible default to avoid zero-sized canvases
		width, height = 800, 600
	}

	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
