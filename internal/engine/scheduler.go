package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

// SiteReport summarizes one site's part in a refresh.
type SiteReport struct {
	Site        string        `json:"site"`
	Articles    int           `json:"articles"`
	Failures    int           `json:"failures"`
	Feeds       []string      `json:"feeds,omitempty"`
	UsedBrowser bool          `json:"used_browser"`
	Duration    time.Duration `json:"duration"`
}

// Result is the outcome of one refresh over all sites. Each refresh returns
// fresh slices; nothing is shared with earlier results.
type Result struct {
	Articles  []types.Article     `json:"articles"`
	Failures  []types.SiteFailure `json:"failures"`
	Sites     []SiteReport        `json:"sites"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
}

// siteProcessor is the per-site task the scheduler fans out.
type siteProcessor interface {
	ProcessSite(ctx context.Context, site types.SiteDescriptor) SiteResult
}

// Scheduler runs the site task for every site behind a concurrency gate.
type Scheduler struct {
	processor siteProcessor
	dedup     *Deduplicator
	cfg       *config.Config
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler driving e.
func NewScheduler(e *Engine, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		processor: e,
		dedup:     e.Deduplicator(),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With("component", "scheduler"),
	}
}

// FetchAll processes every site and waits for all of them. A failing or
// panicking site contributes what it collected (often nothing) and a failure
// record; it never stops the others. The merged articles are deduplicated
// across sites before returning.
func (s *Scheduler) FetchAll(ctx context.Context, sites []types.SiteDescriptor) *Result {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "medfeed.refresh",
		trace.WithAttributes(attribute.Int("sites", len(sites))))
	defer span.End()

	concurrency := s.cfg.Scheduler.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	gate := semaphore.NewWeighted(int64(concurrency))

	s.logger.Info("refresh starting",
		"sites", len(sites),
		"concurrency", concurrency,
		"site_budget", s.cfg.SiteBudget(),
	)

	results := make([]SiteResult, len(sites))
	var g errgroup.Group
	for i, site := range sites {
		g.Go(func() error {
			results[i] = s.runSite(ctx, gate, site)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		Failures:  []types.SiteFailure{},
		Sites:     make([]SiteReport, 0, len(results)),
		StartedAt: start,
	}
	var merged []types.Article
	for _, sr := range results {
		merged = append(merged, sr.Articles...)
		res.Failures = append(res.Failures, sr.Failures...)
		res.Sites = append(res.Sites, SiteReport{
			Site:        sr.Site,
			Articles:    len(sr.Articles),
			Failures:    len(sr.Failures),
			Feeds:       sr.Feeds,
			UsedBrowser: sr.UsedBrowser,
			Duration:    sr.Duration,
		})
		for _, f := range sr.Failures {
			s.metrics.IncSiteFailure(f.Stage, f.Kind)
		}
	}

	res.Articles = s.dedup.Dedupe(merged)
	s.metrics.AddDedupRemoved("batch", len(merged)-len(res.Articles))

	res.Duration = time.Since(start)
	s.metrics.ObserveRefresh(res.Duration, len(res.Articles), time.Now())
	span.SetAttributes(
		attribute.Int("articles", len(res.Articles)),
		attribute.Int("failures", len(res.Failures)),
	)

	s.logger.Info("refresh finished",
		"sites", len(sites),
		"articles", len(res.Articles),
		"duplicates", len(merged)-len(res.Articles),
		"failures", len(res.Failures),
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res
}

// runSite is the task boundary: it holds a gate slot, applies the site
// deadline and turns panics into failure records.
func (s *Scheduler) runSite(ctx context.Context, gate *semaphore.Weighted, site types.SiteDescriptor) (res SiteResult) {
	name := site.DisplayName()
	start := time.Now()

	if err := gate.Acquire(ctx, 1); err != nil {
		return SiteResult{
			Site:     name,
			Failures: []types.SiteFailure{types.NewSiteFailure(name, types.StageDeadline, site.Homepage, err)},
		}
	}
	defer gate.Release(1)

	siteCtx, cancel := context.WithTimeoutCause(ctx, s.cfg.SiteBudget(), types.ErrSiteDeadline)
	defer cancel()

	siteCtx, span := observability.Tracer().Start(siteCtx, "medfeed.site",
		trace.WithAttributes(attribute.String("site", name)))
	defer span.End()

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		var inv *types.InvariantError
		if err, ok := rec.(error); ok && errors.As(err, &inv) && s.cfg.Scheduler.StrictInvariants {
			panic(rec)
		}

		s.logger.Error("site task panicked",
			"site", name,
			"panic", rec,
			"stack", string(debug.Stack()),
		)
		f := types.NewSiteFailure(name, types.StagePanic, site.Homepage, panicError(rec))
		if inv == nil {
			f.Kind = types.KindPanic
		}
		res = SiteResult{
			Site:     name,
			Failures: append(res.Failures, f),
			Duration: time.Since(start),
		}
		span.SetStatus(codes.Error, "panic")
	}()

	res = s.processor.ProcessSite(siteCtx, site)

	if errors.Is(context.Cause(siteCtx), types.ErrSiteDeadline) {
		res.Failures = append(res.Failures,
			types.NewSiteFailure(name, types.StageDeadline, site.Homepage, types.ErrSiteDeadline))
	}

	span.SetAttributes(
		attribute.Int("articles", len(res.Articles)),
		attribute.Int("failures", len(res.Failures)),
	)
	if len(res.Articles) == 0 && len(res.Failures) > 0 {
		span.SetStatus(codes.Error, res.Failures[0].Error)
	}

	s.logger.Info("site processed",
		"site", name,
		"articles", len(res.Articles),
		"failures", len(res.Failures),
		"browser", res.UsedBrowser,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", rec)
}
