// Package main provides the diagram-extract batch CLI: it pulls every
// diagram out of transcript markdown files, writes the repaired source and
// rendered images to disk, and prints a summary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/euforicio/diagramflow/internal/buildinfo"
	"github.com/euforicio/diagramflow/internal/config"
	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/correct"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
	"github.com/euforicio/diagramflow/internal/diagram/scan"
	"github.com/euforicio/diagramflow/internal/export"
	"github.com/euforicio/diagramflow/internal/markdown"
	"github.com/euforicio/diagramflow/internal/pipeline"
	"github.com/euforicio/diagramflow/internal/render"
	"github.com/euforicio/diagramflow/internal/telemetry"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("diagram-extract", pflag.ExitOnError)
	outDir := flags.StringP("out", "o", "diagrams", "output directory for extracted diagrams")
	writePNG := flags.Bool("png", false, "also rasterize rendered SVGs to PNG")
	noRender := flags.Bool("no-render", false, "extract and repair sources only, skip rendering")
	flags.StringVar(&cfg.MermaidCLI, "mermaid-cli", cfg.MermaidCLI, "mermaid CLI binary used for local mermaid rendering")
	flags.StringVar(&cfg.RemoteRenderURL, "remote-render", cfg.RemoteRenderURL, "base URL of the remote render service (empty = disabled)")
	flags.DurationVar(&cfg.RenderTimeout, "render-timeout", cfg.RenderTimeout, "per-tier render timeout")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging")
	versionFlag := flags.Bool("version", false, "Print version information and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		println(buildinfo.Summary())
		os.Exit(0)
	}
	if flags.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: diagram-extract [flags] <transcript.md> [more.md ...]")
		os.Exit(2)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("starting diagram-extract", slog.String("version", buildinfo.Summary()))

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Error("create output directory", slog.Any("err", err))
		os.Exit(1)
	}

	p := buildPipeline(cfg, logger)
	ctx := context.Background()

	// Extraction renders every diagram it finds, not just the repeats the
	// display convention marks: a one-shot diagram still gets its image.
	mode := pipeline.RenderAll
	if *noRender {
		mode = pipeline.RenderNone
	}

	var total, rendered, failed int
	for _, path := range flags.Args() {
		t, r, f, err := extractFile(ctx, p, path, *outDir, *writePNG, mode, logger)
		if err != nil {
			logger.Error("extract failed", slog.String("path", path), slog.Any("err", err))
			os.Exit(1)
		}
		total += t
		rendered += r
		failed += f
	}

	fmt.Printf("extracted %d diagram(s) from %d file(s): %d rendered, %d failed\n",
		total, flags.NArg(), rendered, failed)
}

func buildPipeline(cfg config.Config, logger *slog.Logger) *pipeline.Pipeline {
	events := telemetry.New(cfg.TelemetryURL, logger)
	detector := detect.New(logger, events)
	corrector := correct.New(logger)
	scanner := scan.New(detector, logger)
	md := markdown.NewService(logger)

	backends := []render.Backend{
		render.NewD2(logger, &render.D2Options{Timeout: cfg.RenderTimeout}),
		render.NewMermaidCLI(cfg.MermaidCLI, cfg.RenderTimeout),
	}
	if cfg.RemoteRenderURL != "" {
		backends = append(backends, render.NewRemote(cfg.RemoteRenderURL, cfg.RenderTimeout))
	}
	backends = append(backends, render.NewPlaceholder())

	orchestrator := render.New(logger, events, backends...)
	return pipeline.New(logger, detector, corrector, scanner, md, orchestrator)
}

// extractFile processes one transcript and writes its diagrams to outDir.
// Returns (total, rendered, failed) counts.
func extractFile(ctx context.Context, p *pipeline.Pipeline, path, outDir string, writePNG bool, mode pipeline.RenderMode, logger *slog.Logger) (int, int, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read transcript: %w", err)
	}

	result, err := p.ProcessDocument(ctx, raw, true, mode)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("process transcript: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var rendered, failed int
	for i, entry := range result.Entries {
		base := filepath.Join(outDir, fmt.Sprintf("%s-%02d", stem, i+1))

		source := entry.Validation.CorrectedCode
		ext := sourceExt(entry.Occurrence.Language)
		if entry.Transpile != nil {
			// C4 input: keep the repaired original and the transpiled form
			if err := os.WriteFile(base+".c4.txt", []byte(source), 0o644); err != nil {
				return 0, 0, 0, err
			}
			source = entry.Transpile.TargetCode
			ext = ".d2"
		}
		if err := os.WriteFile(base+ext, []byte(source), 0o644); err != nil {
			return 0, 0, 0, err
		}

		if entry.Render == nil {
			continue
		}
		if !entry.Render.Success {
			failed++
			logger.Warn("diagram render failed",
				slog.String("file", base+ext),
				slog.String("err", entry.Render.Error))
			continue
		}
		rendered++
		if err := os.WriteFile(base+".svg", []byte(entry.Render.SVG), 0o644); err != nil {
			return 0, 0, 0, err
		}
		if writePNG {
			png, err := export.SVGToPNG([]byte(entry.Render.SVG))
			if err != nil {
				logger.Warn("rasterize failed", slog.String("file", base+".svg"), slog.Any("err", err))
				continue
			}
			if err := os.WriteFile(base+".png", png, 0o644); err != nil {
				return 0, 0, 0, err
			}
		}
	}

	return len(result.Entries), rendered, failed, nil
}

func sourceExt(lang diagram.Language) string {
	switch lang {
	case diagram.LanguageMermaid:
		return ".mmd"
	case diagram.LanguageD2:
		return ".d2"
	case diagram.LanguageC4:
		return ".c4.txt"
	default:
		return ".txt"
	}
}
