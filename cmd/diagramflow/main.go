// Package main provides the diagramflow render server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/euforicio/diagramflow/internal/buildinfo"
	"github.com/euforicio/diagramflow/internal/config"
	"github.com/euforicio/diagramflow/internal/diagram/correct"
	"github.com/euforicio/diagramflow/internal/diagram/detect"
	"github.com/euforicio/diagramflow/internal/diagram/scan"
	"github.com/euforicio/diagramflow/internal/markdown"
	"github.com/euforicio/diagramflow/internal/pipeline"
	"github.com/euforicio/diagramflow/internal/render"
	"github.com/euforicio/diagramflow/internal/server"
	"github.com/euforicio/diagramflow/internal/telemetry"
	"github.com/euforicio/diagramflow/internal/transcripts"
)

func main() {
	cfg := config.Default()

	flags := pflag.NewFlagSet("diagramflow", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	configPath := flags.String("config", "", "path to a TOML configuration file")
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		println(buildinfo.Summary())
		os.Exit(0)
	}

	// File sets the base, env overrides the file, explicit flags win.
	fileCfg := config.Default()
	if err := config.LoadFile(*configPath, &fileCfg); err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	config.ApplyEnvOverrides(&fileCfg)
	mergeUnsetFlags(flags, &cfg, fileCfg)

	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "diagramflow")
	slog.SetDefault(logger)
	logger.Log(context.Background(), slog.LevelInfo-1, "starting diagramflow", slog.String("version", buildinfo.Summary()))

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events := telemetry.New(cfg.TelemetryURL, logger)
	p := buildPipeline(cfg, logger, events)

	var transcriptSvc *transcripts.Service
	if cfg.TranscriptsDir != "" {
		var err error
		transcriptSvc, err = transcripts.NewService(ctx, cfg.TranscriptsDir, p.Markdown(), p.Scanner(), logger)
		if err != nil {
			cancel()
			logger.Error("transcripts service init failed", slog.Any("err", err))
			//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
			os.Exit(1)
		}
		defer func() {
			if err := transcriptSvc.Close(); err != nil {
				logger.Error("close transcripts service", slog.Any("err", err))
			}
		}()
	}

	srv, err := server.New(cfg, logger, p, transcriptSvc)
	if err != nil {
		cancel()
		logger.Error("server init failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")
			return
		}
		logger.Error("server error", slog.Any("err", err))
		os.Exit(1)
	}
}

// buildPipeline assembles the stage services and the render tier chain in
// fallback order.
func buildPipeline(cfg config.Config, logger *slog.Logger, events *telemetry.Emitter) *pipeline.Pipeline {
	detector := detect.New(logger, events)
	corrector := correct.New(logger)
	scanner := scan.New(detector, logger)
	md := markdown.NewService(logger)

	var backends []render.Backend
	if !cfg.DisableEmbedded {
		backends = append(backends, render.NewD2(logger, &render.D2Options{Timeout: cfg.RenderTimeout}))
	}
	backends = append(backends, render.NewMermaidCLI(cfg.MermaidCLI, cfg.RenderTimeout))
	if cfg.RemoteRenderURL != "" {
		backends = append(backends, render.NewRemote(cfg.RemoteRenderURL, cfg.RenderTimeout))
	}
	// The headless tier drives a browser against this server's own render
	// route, so it needs a stable port to point at.
	if cfg.HeadlessBrowser != "" && cfg.Port > 0 {
		baseURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
		backends = append(backends, render.NewHeadless(cfg.HeadlessBrowser, baseURL, cfg.RenderTimeout))
	}
	backends = append(backends, render.NewPlaceholder())

	orchestrator := render.New(logger, events, backends...)
	return pipeline.New(logger, detector, corrector, scanner, md, orchestrator)
}

// mergeUnsetFlags copies file/env values into cfg for every option the user
// did not set explicitly on the command line.
func mergeUnsetFlags(flags *pflag.FlagSet, cfg *config.Config, fallback config.Config) {
	if !flags.Changed("transcripts") {
		cfg.TranscriptsDir = fallback.TranscriptsDir
	}
	if !flags.Changed("port") {
		cfg.Port = fallback.Port
	}
	if !flags.Changed("remote-render") {
		cfg.RemoteRenderURL = fallback.RemoteRenderURL
	}
	if !flags.Changed("telemetry") {
		cfg.TelemetryURL = fallback.TelemetryURL
	}
	if !flags.Changed("mermaid-cli") {
		cfg.MermaidCLI = fallback.MermaidCLI
	}
	if !flags.Changed("headless-browser") {
		cfg.HeadlessBrowser = fallback.HeadlessBrowser
	}
	if !flags.Changed("render-timeout") {
		cfg.RenderTimeout = fallback.RenderTimeout
	}
	if !flags.Changed("no-embedded") {
		cfg.DisableEmbedded = fallback.DisableEmbedded
	}
	if !flags.Changed("verbose") {
		cfg.Verbose = fallback.Verbose
	}
}
