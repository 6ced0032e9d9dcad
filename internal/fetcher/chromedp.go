package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/guard"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

// ChromedpRenderer renders pages through chromedp, one tab per render.
type ChromedpRenderer struct {
	cfg         *config.BrowserConfig
	guard       *guard.Guard
	client      *http.Client
	stealthCfg  *StealthConfig
	metrics     *observability.Metrics
	logger      *slog.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	closeOnce   sync.Once
	slots       chan struct{}
}

// NewChromedpRenderer starts a browser process and opens its first target,
// which fails fast when Chrome is missing. Every request a tab makes is
// loaded through client; nil means a guarded client built from g.
func NewChromedpRenderer(cfg *config.BrowserConfig, g *guard.Guard, client *http.Client, metrics *observability.Metrics, logger *slog.Logger) (*ChromedpRenderer, error) {
	if client == nil {
		client = NewGuardedClient(g, 10, cfg.NavTimeout)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("dns-prefetch-disable", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	r := &ChromedpRenderer{
		cfg:     cfg,
		guard:   g,
		client:  client,
		metrics: metrics,
		logger:  logger.With("component", "chromedp_renderer"),
		slots:   make(chan struct{}, max(1, cfg.PoolSize)),
	}
	if cfg.Stealth {
		r.stealthCfg = DefaultStealthConfig()
		opts = append(opts, chromedp.WindowSize(r.stealthCfg.ViewportWidth, r.stealthCfg.ViewportHeight))
	}

	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, _ := chromedp.NewContext(r.allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		r.allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	r.browserCtx = browserCtx

	r.logger.Info("chromedp renderer ready", "pool_size", cap(r.slots), "stealth", r.stealthCfg != nil)
	return r, nil
}

// Available reports true while the browser process is alive.
func (r *ChromedpRenderer) Available() bool {
	return r.browserCtx != nil && r.browserCtx.Err() == nil
}

// Render opens a new tab, loads rawURL and returns its outer HTML.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (resp *types.Response, err error) {
	if err := r.guard.Validate(ctx, rawURL); err != nil {
		return nil, err
	}
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, &types.ValidationError{URL: rawURL, Reason: guard.ReasonMalformed, Err: err}
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.slots }()

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.metrics.ObserveRender("chromedp", outcome)
	}()

	start := time.Now()
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.cfg.NavTimeout)
	defer cancelTimeout()

	// Tie the tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go r.handlePaused(tabCtx, paused)
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
	}
	if r.stealthCfg != nil {
		js := r.stealthCfg.StealthJS()
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(js).Do(ctx)
			return err
		}))
	}

	var html, finalURL string
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.RenderDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, &types.NetworkError{URL: rawURL, Attempts: 1, Err: err}
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	if err := r.guard.Validate(ctx, finalURL); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	r.logger.Debug("chromedp render complete", "url", rawURL, "final_url", finalURL, "size", len(html), "duration", duration)
	return types.NewBrowserResponse(req, []byte(html), finalURL, duration), nil
}

// handlePaused answers one intercepted request: heavy resources and
// anything the guarded client refuses fail, the rest are fulfilled with
// the client's response.
func (r *ChromedpRenderer) handlePaused(tabCtx context.Context, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(tabCtx, c.Target)

	if blockedResource(string(ev.ResourceType)) {
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
		return
	}

	header := make(http.Header, len(ev.Request.Headers))
	for k, v := range ev.Request.Headers {
		header.Set(k, fmt.Sprint(v))
	}
	resp, err := loadIntercepted(ctx, r.client, ev.Request.Method, ev.Request.URL, header, maxInterceptedBody)
	if err != nil {
		r.logger.Debug("browser request refused", "url", ev.Request.URL, "error", err)
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonAccessDenied).Do(ctx)
		return
	}

	entries := make([]*fetch.HeaderEntry, 0, len(resp.Header))
	for k, vs := range resp.Header {
		for _, v := range vs {
			entries = append(entries, &fetch.HeaderEntry{Name: k, Value: v})
		}
	}
	_ = fetch.FulfillRequest(ev.RequestID, int64(resp.Status)).
		WithResponseHeaders(entries).
		WithBody(base64.StdEncoding.EncodeToString(resp.Body)).
		Do(ctx)
}

// Close stops the browser process.
func (r *ChromedpRenderer) Close() error {
	r.closeOnce.Do(func() {
		if r.browserCtx != nil {
			_ = chromedp.Cancel(r.browserCtx)
		}
		r.allocCancel()
	})
	return nil
}
