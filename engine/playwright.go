package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/models"
)

// defaultActionMs is the playwright timeout used when ctx has no deadline.
const defaultActionMs = 30_000

// PlaywrightDriver drives Chromium through the Playwright server. Each
// session is a fresh browser context; video is recorded natively as WebM.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     config.BrowserConfig
	logger  *slog.Logger
}

// NewPlaywrightDriver starts the Playwright server and launches Chromium.
func NewPlaywrightDriver(cfg config.BrowserConfig, logger *slog.Logger) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to start playwright", err)
	}

	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-first-run",
		"--disable-default-apps",
		"--disable-extensions",
	}
	if cfg.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     args,
	}
	if cfg.BrowserBin != "" {
		opts.ExecutablePath = playwright.String(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		opts.Proxy = &playwright.Proxy{Server: cfg.Proxy}
	}

	browser, err := pw.Chromium.Launch(opts)
	if err != nil {
		_ = pw.Stop()
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	logger.Info("browser launched", "engine", "playwright", "version", browser.Version())

	return &PlaywrightDriver{pw: pw, browser: browser, cfg: cfg, logger: logger}, nil
}

func (d *PlaywrightDriver) Name() string { return "playwright" }

func (d *PlaywrightDriver) NewSession(_ context.Context, opts models.SessionOptions) (Session, error) {
	ctxOpts := playwright.BrowserNewContextOptions{
		ExtraHttpHeaders: opts.Headers,
		Permissions:      opts.Permissions,
	}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		ctxOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.Timezone != "" {
		ctxOpts.TimezoneId = playwright.String(opts.Timezone)
	}
	if g := opts.Geolocation; g != nil {
		ctxOpts.Geolocation = &playwright.Geolocation{
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			Accuracy:  playwright.Float(g.Accuracy),
		}
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}

	var videoDir string
	if opts.RecordVideo {
		dir, err := os.MkdirTemp("", "glance-video-*")
		if err != nil {
			return nil, fmt.Errorf("create video dir: %w", err)
		}
		videoDir = dir
		ctxOpts.RecordVideo = &playwright.RecordVideo{Dir: dir}
		if ctxOpts.Viewport != nil {
			ctxOpts.RecordVideo.Size = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
		}
	}

	bctx, err := d.browser.NewContext(ctxOpts)
	if err != nil {
		removeDir(videoDir)
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to create browser context", err)
	}

	s := &pwSession{ctx: bctx, videoDir: videoDir, logger: d.logger}

	if opts.Stealth {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealth.JS)}); err != nil {
			d.logger.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if opts.BlockAds {
		if err := bctx.Route("**/*", func(route playwright.Route) {
			if isAdURL(route.Request().URL()) {
				_ = route.Abort("blockedbyclient")
				return
			}
			_ = route.Continue()
		}); err != nil {
			_ = s.Close()
			return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to install request filter", err)
		}
	}
	return s, nil
}

func (d *PlaywrightDriver) Close() error {
	d.logger.Info("closing browser", "engine", "playwright")
	err := d.browser.Close()
	if serr := d.pw.Stop(); err == nil {
		err = serr
	}
	return err
}

// pwSession owns one browser context. The page is opened lazily and reopened
// after a recording is finalised, since Playwright writes a video only when
// its page closes.
type pwSession struct {
	ctx      playwright.BrowserContext
	page     playwright.Page
	videoDir string
	logger   *slog.Logger
	closed   bool
}

func (s *pwSession) currentPage() (playwright.Page, error) {
	if s.page != nil {
		return s.page, nil
	}
	page, err := s.ctx.NewPage()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	s.page = page
	return page, nil
}

func (s *pwSession) Navigate(ctx context.Context, url string, wait models.WaitOptions) (*Response, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	if wait.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait.Timeout)
		defer cancel()
	}
	timeout := timeoutMs(ctx)

	waitUntil := playwright.WaitUntilStateLoad
	if wait.Strategy == models.WaitNetworkIdle {
		waitUntil = playwright.WaitUntilStateNetworkidle
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(timeout),
	})
	if err != nil {
		return nil, mapTimeout(err)
	}

	if wait.Strategy == models.WaitSelector {
		if err := page.Locator(wait.Selector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(timeoutMs(ctx)),
		}); err != nil {
			return nil, fmt.Errorf("wait for selector %q: %w", wait.Selector, mapTimeout(err))
		}
	}

	// A nil response means a same-document navigation.
	if resp == nil {
		return &Response{OK: true, URL: page.URL()}, nil
	}
	return &Response{OK: resp.Ok(), Status: resp.Status(), URL: page.URL()}, nil
}

func (s *pwSession) Interact(ctx context.Context, in models.Interaction) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, actionTimeout+in.Settle)
	defer cancel()

	switch in.Kind {
	case models.InteractNone, "":
		return nil
	case models.InteractScroll:
		if _, err := page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		return sleepCtx(ctx, in.Settle)
	case models.InteractSearch:
		box := page.Locator(in.Selector).First()
		opts := playwright.LocatorFillOptions{Timeout: playwright.Float(timeoutMs(ctx))}
		if err := box.Fill(in.Query, opts); err != nil {
			return fmt.Errorf("fill search input %q: %w", in.Selector, mapTimeout(err))
		}
		if err := box.Press("Enter"); err != nil {
			return fmt.Errorf("submit search: %w", err)
		}
		if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateLoad,
			Timeout: playwright.Float(timeoutMs(ctx)),
		}); err != nil {
			s.logger.Debug("page did not settle after search", "error", err)
		}
		return sleepCtx(ctx, in.Settle)
	case models.InteractReload:
		if _, err := page.Reload(playwright.PageReloadOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   playwright.Float(timeoutMs(ctx)),
		}); err != nil {
			return fmt.Errorf("reload: %w", mapTimeout(err))
		}
		return nil
	default:
		return fmt.Errorf("%w: interaction %q", ErrUnsupported, in.Kind)
	}
}

func (s *pwSession) HTML(context.Context) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	return page.Content()
}

func (s *pwSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	return page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
		Timeout:  playwright.Float(timeoutMs(ctx)),
	})
}

// StartRecording requires RecordVideo on the session; the recording then
// spans the current page's whole lifetime.
func (s *pwSession) StartRecording(context.Context) (Recorder, error) {
	if s.videoDir == "" {
		return nil, fmt.Errorf("%w: session created without video recording", ErrUnsupported)
	}
	if _, err := s.currentPage(); err != nil {
		return nil, err
	}
	return &pwRecorder{s: s}, nil
}

func (s *pwSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.ctx.Close()
	removeDir(s.videoDir)
	return err
}

type pwRecorder struct {
	s *pwSession
}

// Stop closes the recorded page so Playwright flushes the file, then reads
// it back and deletes it.
func (r *pwRecorder) Stop(context.Context) (*Recording, error) {
	page := r.s.page
	if page == nil {
		return nil, errors.New("playwright: recorded page already closed")
	}
	video := page.Video()
	r.s.page = nil
	if err := page.Close(); err != nil {
		return nil, fmt.Errorf("close recorded page: %w", err)
	}
	if video == nil {
		return nil, errors.New("playwright: page has no video")
	}
	path, err := video.Path()
	if err != nil {
		return nil, fmt.Errorf("video path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	_ = video.Delete()
	return &Recording{Data: data, Ext: ".webm"}, nil
}

// timeoutMs converts the remaining ctx budget to Playwright milliseconds.
func timeoutMs(ctx context.Context) float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultActionMs
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return ms
}

func mapTimeout(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func removeDir(dir string) {
	if dir != "" {
		_ = os.RemoveAll(dir)
	}
}
