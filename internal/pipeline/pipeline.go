// Package pipeline runs each article through an ordered chain of
// middleware before it leaves a site task.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/IshaanNene/medfeed/internal/entity"
	"github.com/IshaanNene/medfeed/internal/types"
)

// Middleware processes an article and returns the (possibly modified) article.
// Return nil to drop the article from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms an article. Return nil to drop it.
	Process(a *types.Article) (*types.Article, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// ForSite builds the standard chain run on every site's articles.
func ForSite(site types.SiteContext, extractor *entity.Extractor, logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&RequireLinkMiddleware{})
	p.Use(&SanitizeMiddleware{})
	p.Use(&DefaultSourceMiddleware{Site: site})
	p.Use(&FutureDateMiddleware{Skew: 48 * time.Hour})
	if extractor != nil {
		p.Use(&EnrichMiddleware{Extractor: extractor})
	}
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the article through all middleware in order.
func (p *Pipeline) Process(a *types.Article) (*types.Article, error) {
	current := a

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage: mw.Name(),
				Link:  current.Link,
				Err:   err,
			}
		}
		if result == nil {
			p.logger.Debug("article dropped", "stage", mw.Name(), "link", a.Link)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// ProcessAll runs every article through the chain. Dropped articles and
// articles that fail a stage are left out; failures are logged.
func (p *Pipeline) ProcessAll(articles []types.Article) []types.Article {
	out := make([]types.Article, 0, len(articles))
	for i := range articles {
		a := articles[i].Clone()
		result, err := p.Process(&a)
		if err != nil {
			p.logger.Warn("pipeline rejected article", "error", err)
			continue
		}
		if result != nil {
			out = append(out, *result)
		}
	}
	return out
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}
