// Package transcripts watches a directory of model-conversation markdown
// files and keeps an index of the diagrams found in each, so repeated
// requests don't re-scan unchanged transcripts.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/diagramflow/internal/diagram"
	"github.com/euforicio/diagramflow/internal/diagram/scan"
	"github.com/euforicio/diagramflow/internal/markdown"
)

// Summary describes one indexed transcript.
type Summary struct {
	Path        string               `json:"path"`
	Modified    time.Time            `json:"modified"`
	Diagrams    int                  `json:"diagrams"`
	Occurrences []diagram.Occurrence `json:"occurrences,omitempty"`
}

// Service indexes transcripts and refreshes entries when files change.
// Scanning on change is detection-only; rendering stays on demand because
// it is the expensive step.
type Service struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	markdown *markdown.Service
	scanner  *scan.Scanner
	root     string

	mu    sync.RWMutex
	index map[string]Summary
}

// NewService builds the index for root and starts watching for changes.
func NewService(parentCtx context.Context, root string, md *markdown.Service, scanner *scan.Scanner, logger *slog.Logger) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if md == nil || scanner == nil {
		return nil, errors.New("markdown service and scanner must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("transcripts root %s is not a directory", absRoot)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "transcripts"),
		markdown: md,
		scanner:  scanner,
		root:     absRoot,
		index:    map[string]Summary{},
	}

	if err := svc.rebuild(); err != nil {
		cancel()
		return nil, err
	}
	if err := svc.startWatcher(); err != nil {
		cancel()
		return nil, err
	}
	return svc, nil
}

// Close stops the watcher.
func (s *Service) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// List returns summaries (without occurrence detail) sorted by path.
func (s *Service) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.index))
	for _, entry := range s.index {
		entry.Occurrences = nil
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Get returns the full summary for one transcript path.
func (s *Service) Get(rel string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.index[rel]
	return entry, ok
}

// Root returns the watched directory.
func (s *Service) Root() string { return s.root }

func (s *Service) rebuild() error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if isMarkdown(path) {
			s.refresh(path)
		}
		return nil
	})
}

func (s *Service) refresh(absPath string) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	info, err := os.Stat(absPath)
	if err != nil {
		s.drop(rel)
		return
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		s.logger.Warn("read transcript failed", slog.String("path", rel), slog.Any("err", err))
		return
	}

	doc, err := s.markdown.Render(s.ctx, rel, info.ModTime(), raw)
	if err != nil {
		s.logger.Warn("render transcript failed", slog.String("path", rel), slog.Any("err", err))
		return
	}
	occurrences, err := s.scanner.Scan(doc.HTML)
	if err != nil {
		s.logger.Warn("scan transcript failed", slog.String("path", rel), slog.Any("err", err))
		return
	}

	s.mu.Lock()
	s.index[rel] = Summary{
		Path:        rel,
		Modified:    info.ModTime(),
		Diagrams:    len(occurrences),
		Occurrences: occurrences,
	}
	s.mu.Unlock()

	s.logger.Debug("transcript indexed",
		slog.String("path", rel),
		slog.Int("diagrams", len(occurrences)))
}

func (s *Service) drop(rel string) {
	s.mu.Lock()
	delete(s.index, rel)
	s.mu.Unlock()
	s.markdown.Invalidate(rel)
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	if err := s.watchRecursive(s.root); err != nil {
		return err
	}
	go s.runWatcher()
	return nil
}

func (s *Service) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return s.watcher.Add(path)
		}
		return nil
	})
}

func (s *Service) runWatcher() {
	// Editors fire bursts of events per save; coalesce them briefly.
	pending := map[string]struct{}{}
	var timer *time.Timer
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event, pending)
			if len(pending) > 0 && timer == nil {
				timer = time.NewTimer(200 * time.Millisecond)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-timerC():
			timer = nil
			for path := range pending {
				delete(pending, path)
				if _, err := os.Stat(path); err != nil {
					if rel, relErr := filepath.Rel(s.root, path); relErr == nil {
						s.drop(filepath.ToSlash(rel))
					}
					continue
				}
				s.refresh(path)
			}
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event, pending map[string]struct{}) {
	op := event.Op
	if op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watchRecursive(event.Name)
			return
		}
	}
	if !isMarkdown(event.Name) {
		return
	}
	if op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		pending[event.Name] = struct{}{}
	}
}

func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}
