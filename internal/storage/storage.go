// Package storage holds the in-memory snapshot served by the API and the
// export sinks a refresh is written to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

// Sink is the interface for all export backends.
type Sink interface {
	// Write exports one snapshot.
	Write(ctx context.Context, snap *Snapshot) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the backend identifier.
	Name() string
}

// MultiSink writes a snapshot to several backends. A failing backend is
// logged and counted; the others still run.
type MultiSink struct {
	sinks   []Sink
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewMultiSink creates a sink that fans out to sinks.
func NewMultiSink(sinks []Sink, metrics *observability.Metrics, logger *slog.Logger) *MultiSink {
	return &MultiSink{
		sinks:   sinks,
		metrics: metrics,
		logger:  logger.With("component", "multi_sink"),
	}
}

// NewSinks builds the sinks named in cfg.Sinks. A backend that cannot be
// opened is logged and left out.
func NewSinks(cfg config.StorageConfig, metrics *observability.Metrics, logger *slog.Logger) *MultiSink {
	var sinks []Sink
	for _, name := range cfg.Sinks {
		s, err := openSink(name, cfg, logger)
		if err != nil {
			logger.Error("sink unavailable", "backend", name, "error", err)
			metrics.IncSinkError(name)
			continue
		}
		sinks = append(sinks, s)
	}
	return NewMultiSink(sinks, metrics, logger)
}

func openSink(name string, cfg config.StorageConfig, logger *slog.Logger) (Sink, error) {
	switch name {
	case "json":
		return NewJSONSink(cfg.OutputPath, logger)
	case "jsonl":
		return NewJSONLSink(jsonlPath(cfg.OutputPath), logger)
	case "mongodb":
		return NewMongoSink(cfg.Mongo, logger)
	case "redis":
		return NewRedisSink(cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported sink: %s", name)
	}
}

func (m *MultiSink) Name() string { return "multi" }

// Len reports how many backends are attached.
func (m *MultiSink) Len() int { return len(m.sinks) }

// Write exports snap to every backend. The returned error joins the
// backend failures; callers log it and carry on.
func (m *MultiSink) Write(ctx context.Context, snap *Snapshot) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, snap); err != nil {
			m.logger.Error("sink write failed", "backend", s.Name(), "error", err)
			m.metrics.IncSinkError(s.Name())
			errs = append(errs, &types.StorageError{Backend: s.Name(), Err: err})
			continue
		}
		m.logger.Debug("snapshot exported", "backend", s.Name(), "articles", len(snap.Articles))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, &types.StorageError{Backend: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
