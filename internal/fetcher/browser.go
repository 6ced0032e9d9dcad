package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/guard"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

// BrowserFetcher renders pages in headless Chromium via Rod.
type BrowserFetcher struct {
	browser    *rod.Browser
	cfg        *config.BrowserConfig
	guard      *guard.Guard
	client     *http.Client
	stealthCfg *StealthConfig
	metrics    *observability.Metrics
	logger     *slog.Logger
	slots      chan struct{}
	pagePool   chan *rod.Page
	maxPages   int
	closeOnce  sync.Once
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithStealth enables stealth mode with the given configuration.
func WithStealth(cfg *StealthConfig) BrowserOption {
	return func(bf *BrowserFetcher) { bf.stealthCfg = cfg }
}

// WithHTTPClient sets the guarded client that loads every browser request.
func WithHTTPClient(c *http.Client) BrowserOption {
	return func(bf *BrowserFetcher) { bf.client = c }
}

// WithMaxPages sets the maximum number of concurrent browser pages.
func WithMaxPages(n int) BrowserOption {
	return func(bf *BrowserFetcher) { bf.maxPages = n }
}

// NewBrowserFetcher launches Chromium and connects to it.
func NewBrowserFetcher(cfg *config.BrowserConfig, g *guard.Guard, metrics *observability.Metrics, logger *slog.Logger, opts ...BrowserOption) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:      cfg,
		guard:    g,
		metrics:  metrics,
		logger:   logger.With("component", "browser_fetcher"),
		maxPages: cfg.PoolSize,
	}

	for _, opt := range opts {
		opt(bf)
	}
	if bf.maxPages < 1 {
		bf.maxPages = 1
	}
	if bf.client == nil {
		bf.client = NewGuardedClient(g, 10, cfg.NavTimeout)
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	bf.browser = browser
	bf.slots = make(chan struct{}, bf.maxPages)
	bf.pagePool = make(chan *rod.Page, bf.maxPages)

	bf.logger.Info("browser fetcher ready",
		"max_pages", bf.maxPages,
		"stealth", bf.stealthCfg != nil,
	)

	return bf, nil
}

// launchBrowser starts a Chromium instance with appropriate flags.
func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("dns-prefetch-disable").
		Set("disable-blink-features", "AutomationControlled")

	if bf.stealthCfg != nil && bf.stealthCfg.WindowSize != "" {
		l = l.Set("window-size", bf.stealthCfg.WindowSize)
	}

	return l.Launch()
}

// Available reports true once the browser is connected.
func (bf *BrowserFetcher) Available() bool {
	return bf.browser != nil
}

// Render navigates to rawURL and returns the rendered outer HTML.
func (bf *BrowserFetcher) Render(ctx context.Context, rawURL string) (*types.Response, error) {
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, &types.ValidationError{URL: rawURL, Reason: guard.ReasonMalformed, Err: err}
	}
	return bf.Fetch(ctx, req)
}

// Fetch implements Fetcher.
func (bf *BrowserFetcher) Fetch(ctx context.Context, req *types.Request) (resp *types.Response, err error) {
	rawURL := req.URLString()
	if err := bf.guard.Validate(ctx, rawURL); err != nil {
		return nil, err
	}

	select {
	case bf.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-bf.slots }()

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		bf.metrics.ObserveRender("rod", outcome)
	}()

	start := time.Now()
	page, err := bf.getPage()
	if err != nil {
		return nil, &types.NetworkError{URL: rawURL, Attempts: 1, Err: err}
	}
	defer bf.putPage(page)

	timeout := bf.cfg.NavTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	p := page.Context(ctx).Timeout(timeout)

	if err := p.Navigate(rawURL); err != nil {
		return nil, &types.NetworkError{URL: rawURL, Attempts: 1, Err: err}
	}
	if err := p.WaitLoad(); err != nil {
		bf.logger.Warn("page load wait failed, continuing", "url", rawURL, "error", err)
	}
	if bf.cfg.RenderDelay > 0 {
		if err := sleepCtx(ctx, bf.cfg.RenderDelay); err != nil {
			return nil, &types.NetworkError{URL: rawURL, Attempts: 1, Err: err}
		}
	}

	html, err := p.HTML()
	if err != nil {
		return nil, &types.NetworkError{URL: rawURL, Attempts: 1, Err: err}
	}

	finalURL := rawURL
	if info, err := p.Info(); err == nil && info != nil {
		finalURL = info.URL
	}
	if err := bf.guard.Validate(ctx, finalURL); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	bf.logger.Debug("browser fetch complete",
		"url", rawURL,
		"final_url", finalURL,
		"size", len(html),
		"duration", duration,
	)
	return types.NewBrowserResponse(req, []byte(html), finalURL, duration), nil
}

// Close shuts down the browser and releases resources.
func (bf *BrowserFetcher) Close() error {
	var err error
	bf.closeOnce.Do(func() {
		close(bf.pagePool)
		for page := range bf.pagePool {
			_ = page.Close()
		}
		if bf.browser != nil {
			err = bf.browser.Close()
		}
	})
	return err
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}

// getPage retrieves a page from the pool or creates a new one.
func (bf *BrowserFetcher) getPage() (*rod.Page, error) {
	select {
	case page := <-bf.pagePool:
		return page, nil
	default:
	}

	var (
		page *rod.Page
		err  error
	)
	if bf.stealthCfg != nil {
		page, err = stealth.Page(bf.browser)
		if err == nil {
			_, err = page.EvalOnNewDocument(bf.stealthCfg.StealthJS())
		}
		if err == nil {
			err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
				Width:  bf.stealthCfg.ViewportWidth,
				Height: bf.stealthCfg.ViewportHeight,
			})
		}
	} else {
		page, err = bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, err
	}

	bf.interceptRequests(page)
	return page, nil
}

// interceptRequests takes over every request the page makes. Heavy
// resources are dropped; the rest are loaded through the guarded client so
// dials and redirects pass the same checks as plain fetches.
func (bf *BrowserFetcher) interceptRequests(page *rod.Page) {
	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if blockedResource(string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		rawURL := h.Request.URL().String()
		resp, err := loadIntercepted(context.Background(), bf.client, h.Request.Method(), rawURL, h.Request.Req().Header, maxInterceptedBody)
		if err != nil {
			bf.logger.Debug("browser request refused", "url", rawURL, "error", err)
			h.Response.Fail(proto.NetworkErrorReasonAccessDenied)
			return
		}
		h.Response.Payload().ResponseCode = resp.Status
		for k, vs := range resp.Header {
			for _, v := range vs {
				h.Response.SetHeader(k, v)
			}
		}
		h.Response.SetBody(resp.Body)
	})
	go router.Run()
}

// putPage returns a page to the pool.
func (bf *BrowserFetcher) putPage(page *rod.Page) {
	// Navigate to blank to free memory from the last page
	_ = page.Navigate("about:blank")

	defer func() {
		// pagePool is closed once Close has run
		if recover() != nil {
			_ = page.Close()
		}
	}()
	select {
	case bf.pagePool <- page:
	default:
		_ = page.Close()
	}
}
