// Package render drives a headless Chromium via rod to fetch candidate
// websites and distill them into fact sheets for the verifier. Sessions are
// bounded by a weighted semaphore and behave like a human: rotated user
// agents, navigator spoofing, randomized pauses.
package render

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/semaphore"

	"prospector/internal/metrics"
)

// ErrorKind classifies render failures.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindNavigationFailed ErrorKind = "navigation-failed"
	KindBotWall          ErrorKind = "blocked-by-bot-wall"
)

// RenderError is the only error type Render returns.
type RenderError struct {
	Kind ErrorKind
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
	}
	return "render " + string(e.Kind)
}

func (e *RenderError) Unwrap() error { return e.Err }

// AsRenderError unwraps err to a *RenderError when possible.
func AsRenderError(err error) (*RenderError, bool) {
	var re *RenderError
	ok := errors.As(err, &re)
	return re, ok
}

// defaultUserAgents rotate across sessions; config can override the pool.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.97",
}

// stealthJS is injected before navigation; it papers over the obvious
// headless tells that common bot checks probe.
const stealthJS = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

const maxCrawlDelay = 3 * time.Second

// Options configures a Renderer.
type Options struct {
	BrowserURL    string
	Timeout       time.Duration
	MaxConcurrent int
	PoolWait      time.Duration
	UserAgents    []string
	ScreenshotDir string
	RespectRobots bool
}

// Renderer is the shared browser pool. Safe for concurrent use.
type Renderer struct {
	opts   Options
	sem    *semaphore.Weighted
	robots *robotsCache

	mu  sync.Mutex
	rng *rand.Rand
}

func New(opts Options) *Renderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.PoolWait <= 0 {
		opts.PoolWait = 10 * time.Second
	}
	if len(opts.UserAgents) < 5 {
		opts.UserAgents = defaultUserAgents
	}
	return &Renderer{
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		robots: newRobotsCache(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Render fetches one URL with the full browser and extracts page facts.
func (r *Renderer) Render(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &RenderError{Kind: KindNavigationFailed, Err: fmt.Errorf("bad url %q", rawURL)}
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	// Session slot: bounded pool, bounded wait.
	acquireCtx, cancel := context.WithTimeout(ctx, r.opts.PoolWait)
	err = r.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		return nil, &RenderError{Kind: KindTimeout, Err: fmt.Errorf("browser pool: %w", err)}
	}
	defer r.sem.Release(1)

	userAgent := r.pickUserAgent()

	robotsDisallow, crawlDelay := r.robots.check(ctx, u, userAgent)
	if r.opts.RespectRobots && crawlDelay > 0 {
		if crawlDelay > maxCrawlDelay {
			crawlDelay = maxCrawlDelay
		}
		if err := sleepCtx(ctx, crawlDelay); err != nil {
			return nil, &RenderError{Kind: KindTimeout, Err: err}
		}
	}

	ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	page, err := r.fetch(ctx, u, userAgent)
	metrics.RecordStageDuration("render", time.Since(start).Milliseconds())
	if err != nil {
		return nil, err
	}
	page.RobotsDisallow = robotsDisallow
	if page.BotWall {
		return nil, &RenderError{Kind: KindBotWall, Err: fmt.Errorf("bot wall at %s", page.FinalURL)}
	}
	return page, nil
}

func (r *Renderer) fetch(ctx context.Context, u *url.URL, userAgent string) (*Page, error) {
	browser := rod.New().Context(ctx)
	if r.opts.BrowserURL != "" {
		browser = browser.ControlURL(r.opts.BrowserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, &RenderError{Kind: KindNavigationFailed, Err: fmt.Errorf("browser connect: %w", err)}
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, &RenderError{Kind: KindNavigationFailed, Err: err}
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		return nil, &RenderError{Kind: KindNavigationFailed, Err: err}
	}
	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		return nil, &RenderError{Kind: KindNavigationFailed, Err: err}
	}

	if err := page.Navigate(u.String()); err != nil {
		return nil, classifyNavError(ctx, err)
	}
	if err := r.pause(ctx); err != nil {
		return nil, &RenderError{Kind: KindTimeout, Err: err}
	}
	if err := page.WaitLoad(); err != nil {
		return nil, classifyNavError(ctx, err)
	}
	if err := r.pause(ctx); err != nil {
		return nil, &RenderError{Kind: KindTimeout, Err: err}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, classifyNavError(ctx, err)
	}

	finalURL := u.String()
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	facts := ExtractFacts(html, finalURL)

	if r.opts.ScreenshotDir != "" && !facts.BotWall {
		if shot, err := page.Screenshot(false, nil); err == nil {
			facts.ScreenshotRef = r.saveScreenshot(shot)
		}
	}
	return facts, nil
}

// pause sleeps a random 200-1500ms, the human-ish gap between actions.
func (r *Renderer) pause(ctx context.Context) error {
	r.mu.Lock()
	d := 200*time.Millisecond + time.Duration(r.rng.Int63n(int64(1300*time.Millisecond)))
	r.mu.Unlock()
	return sleepCtx(ctx, d)
}

func (r *Renderer) pickUserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.UserAgents[r.rng.Intn(len(r.opts.UserAgents))]
}

func (r *Renderer) saveScreenshot(data []byte) string {
	ref := uuid.New().String() + ".png"
	if err := os.MkdirAll(r.opts.ScreenshotDir, 0o755); err != nil {
		return ""
	}
	if err := os.WriteFile(filepath.Join(r.opts.ScreenshotDir, ref), data, 0o644); err != nil {
		return ""
	}
	return ref
}

func classifyNavError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &RenderError{Kind: KindTimeout, Err: err}
	}
	return &RenderError{Kind: KindNavigationFailed, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// robotsCache fetches and caches robots.txt per host. Advisory only: the
// disallow flag is recorded on the page facts, and the crawl delay is
// honored up to a cap, but a disallow never blocks the fetch.
type robotsCache struct {
	mu      sync.Mutex
	entries map[string]*robotstxt.RobotsData
	client  *http.Client
}

func newRobotsCache() *robotsCache {
	return &robotsCache{
		entries: make(map[string]*robotstxt.RobotsData),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (rc *robotsCache) check(ctx context.Context, u *url.URL, userAgent string) (disallow bool, delay time.Duration) {
	data := rc.fetch(ctx, u)
	if data == nil {
		return false, 0
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return false, 0
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return !group.Test(path), group.CrawlDelay
}

func (rc *robotsCache) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	if data, ok := rc.entries[host]; ok {
		rc.mu.Unlock()
		return data
	}
	rc.mu.Unlock()

	var data *robotstxt.RobotsData
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err == nil {
		if resp, err := rc.client.Do(req); err == nil {
			data, _ = robotstxt.FromResponse(resp)
			resp.Body.Close()
		}
	}

	rc.mu.Lock()
	rc.entries[host] = data
	rc.mu.Unlock()
	return data
}
