package server

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/euforicio/diagramflow/internal/pipeline"
	"github.com/euforicio/diagramflow/internal/render"
)

const maxRequestBody = 2 << 20 // 2 MB of diagram source is plenty

// renderRequest is the render-service wire format. SaveToFile is accepted
// for compatibility with older clients but the server never writes files
// on their behalf.
type renderRequest struct {
	Code       string            `json:"code"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReturnSVG  bool              `json:"return_svg"`
	SaveToFile bool              `json:"save_to_file"`
}

type renderValidation struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
}

type renderMetadata struct {
	RenderTime float64 `json:"render_time"`
	CodeLength int     `json:"code_length"`
	Timestamp  string  `json:"timestamp"`
}

type renderResponse struct {
	Success    bool             `json:"success"`
	SVGContent string           `json:"svg_content,omitempty"`
	Validation renderValidation `json:"validation"`
	Metadata   renderMetadata   `json:"metadata"`
	Error      string           `json:"error,omitempty"`
	FilePath   string           `json:"file_path,omitempty"`
}

type scanRequest struct {
	Content string `json:"content"`
	Format  string `json:"format,omitempty"` // "markdown" (default) or "html"
	Render  bool   `json:"render"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSONError(w, http.StatusBadRequest, "code must not be empty")
		return
	}

	start := time.Now()
	outcome := s.pipeline.Process(r.Context(), req.Code, req.Metadata["diagram_type"], true)

	resp := renderResponse{
		Metadata: renderMetadata{
			RenderTime: time.Since(start).Seconds(),
			CodeLength: len(req.Code),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		},
	}

	if !outcome.Candidate.IsDiagram() {
		resp.Validation = renderValidation{IsValid: false, Error: "input was not recognized as diagram source"}
		resp.Error = "unrecognized diagram language"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Validation.IsValid = outcome.Validation.IsValid
	if !outcome.Validation.IsValid && len(outcome.Validation.Errors) > 0 {
		resp.Validation.Error = strings.Join(outcome.Validation.Errors, "; ")
	}

	if outcome.Render == nil {
		resp.Error = "render produced no result"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Success = outcome.Render.Success
	if outcome.Render.Success && req.ReturnSVG {
		resp.SVGContent = outcome.Render.SVG
	}
	if !outcome.Render.Success {
		resp.Error = outcome.Render.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	isMarkdown := true
	switch strings.ToLower(req.Format) {
	case "", "markdown", "md":
	case "html":
		isMarkdown = false
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", req.Format))
		return
	}

	mode := pipeline.RenderNone
	if req.Render {
		mode = pipeline.RenderMarked
	}
	result, err := s.pipeline.ProcessDocument(r.Context(), []byte(req.Content), isMarkdown, mode)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "document scan failed", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "document scan failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRenderPage serves a self-contained HTML page whose result container
// carries a completion marker class. The headless render tier dumps this
// page's DOM and looks for the marker.
func (s *Server) handleRenderPage(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	langTag := r.URL.Query().Get("type")
	if strings.TrimSpace(code) == "" {
		http.Error(w, "code query parameter is required", http.StatusBadRequest)
		return
	}

	outcome := s.pipeline.Process(r.Context(), code, langTag, true)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>diagram</title></head>\n<body>\n")
	switch {
	case outcome.Render != nil && outcome.Render.Success:
		fmt.Fprintf(&b, "<div class=%q>%s</div>\n", render.MarkerComplete, outcome.Render.SVG)
	case outcome.Render != nil:
		fmt.Fprintf(&b, "<div class=%q>%s</div>\n", render.MarkerError, html.EscapeString(outcome.Render.Error))
	default:
		fmt.Fprintf(&b, "<div class=%q>%s</div>\n", render.MarkerError, "input was not recognized as diagram source")
	}
	b.WriteString("</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, b.String())
}

func (s *Server) handleTranscriptList(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeJSONError(w, http.StatusNotFound, "no transcripts directory configured")
		return
	}
	writeJSON(w, http.StatusOK, s.transcripts.List())
}

func (s *Server) handleTranscriptDetail(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeJSONError(w, http.StatusNotFound, "no transcripts directory configured")
		return
	}
	rel := r.PathValue("path")
	entry, ok := s.transcripts.Get(rel)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("transcript %q not found", rel))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeJSONError(w, http.StatusNotFound, "no transcripts directory configured")
		return
	}
	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeJSONError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	if _, ok := s.transcripts.Get(rel); !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("transcript %q not found", rel))
		return
	}

	raw, err := os.ReadFile(filepath.Join(s.transcripts.Root(), filepath.FromSlash(rel)))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "read transcript failed")
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "markdown", "md":
		out, err := s.exporter.ExportMarkdown(r.Context(), raw)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "markdown export failed", slog.String("path", rel), slog.Any("err", err))
			writeJSONError(w, http.StatusInternalServerError, "export failed")
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(rel, ".md")))
		_, _ = w.Write(out)
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(rel, ".pdf")))
		if err := s.exporter.ExportPDF(r.Context(), raw, w); err != nil {
			s.logger.ErrorContext(r.Context(), "pdf export failed", slog.String("path", rel), slog.Any("err", err))
		}
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}
}

func exportName(rel, ext string) string {
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	if base == "" {
		base = "transcript"
	}
	return base + ext
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
