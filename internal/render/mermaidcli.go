package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/euforicio/diagramflow/internal/diagram"
)

// MermaidCLIBackend renders mermaid source through the local mmdc binary,
// the first tier for mermaid input. mmdc drives its own bundled browser, so
// no network hop is involved.
type MermaidCLIBackend struct {
	binary  string
	timeout time.Duration
}

// NewMermaidCLI constructs the tier. An empty binary name defaults to
// "mmdc" resolved through PATH.
func NewMermaidCLI(binary string, timeout time.Duration) *MermaidCLIBackend {
	if binary == "" {
		binary = "mmdc"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MermaidCLIBackend{binary: binary, timeout: timeout}
}

// Name implements Backend.
func (b *MermaidCLIBackend) Name() string { return "mermaid-cli" }

// Supports implements Backend.
func (b *MermaidCLIBackend) Supports(lang diagram.Language) bool {
	return lang == diagram.LanguageMermaid
}

// TryRender implements Backend.
func (b *MermaidCLIBackend) TryRender(ctx context.Context, code string, _ diagram.Language) (*diagram.RenderResult, error) {
	bin, err := exec.LookPath(b.binary)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", b.binary, err)
	}

	tmpDir, err := os.MkdirTemp("", "mermaid-cli-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "diagram.svg")

	if err := os.WriteFile(inPath, []byte(code), 0o644); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-i", inPath,
		"-o", outPath,
		"-b", "transparent",
		"--quiet",
	)
	// mmdc writes temp files next to input; keep cwd in tmpdir
	cmd.Dir = tmpDir

	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("mmdc failed: %w; output: %s", err, string(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("mmdc produced empty svg")
	}

	return &diagram.RenderResult{Success: true, SVG: string(data)}, nil
}
