package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// --- JSON Sink ---

// JSONSink writes each snapshot as one indented JSON document, replacing
// the previous file.
type JSONSink struct {
	path   string
	mu     sync.Mutex
	writes int
	logger *slog.Logger
}

// NewJSONSink creates a JSON file sink.
func NewJSONSink(outputPath string, logger *slog.Logger) (*JSONSink, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &JSONSink{
		path:   outputPath,
		logger: logger.With("component", "json_sink"),
	}, nil
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Write(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := writeAtomic(s.path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	})
	if err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	s.writes++
	s.logger.Info("JSON written", "path", s.path, "articles", len(snap.Articles))
	return nil
}

func (s *JSONSink) Close() error {
	s.logger.Debug("json sink closing", "writes", s.writes)
	return nil
}

// --- JSONL Sink ---

// JSONLSink writes the articles of each snapshot one object per line.
type JSONLSink struct {
	path   string
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLSink creates a JSONL file sink.
func NewJSONLSink(outputPath string, logger *slog.Logger) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &JSONLSink{
		path:   outputPath,
		logger: logger.With("component", "jsonl_sink"),
	}, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Write(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := writeAtomic(s.path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		for i := range snap.Articles {
			if err := enc.Encode(&snap.Articles[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write JSONL: %w", err)
	}
	s.count += len(snap.Articles)
	s.logger.Info("JSONL written", "path", s.path, "articles", len(snap.Articles))
	return nil
}

func (s *JSONLSink) Close() error {
	s.logger.Debug("jsonl sink closing", "total_articles", s.count)
	return nil
}

// writeAtomic writes through a temp file in the target directory and
// renames it over path, so readers never see a half-written export.
func writeAtomic(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// jsonlPath derives the JSONL file name from the configured output path.
func jsonlPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".jsonl"
}
