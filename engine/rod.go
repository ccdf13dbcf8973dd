package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/models"
	"github.com/ysmood/gson"
)

// actionTimeout bounds a single interaction on top of its settle delay.
const actionTimeout = 10 * time.Second

// RodDriver runs every session in its own incognito context of one
// Chromium process. It is safe for concurrent use.
type RodDriver struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
	logger  *slog.Logger
}

// NewRodDriver launches a headless browser with stealth launch flags.
func NewRodDriver(cfg config.BrowserConfig, logger *slog.Logger) (*RodDriver, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("hide-scrollbars"))
	l.Set(flags.Flag("mute-audio"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	logger.Info("browser launched", "engine", "rod", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &RodDriver{browser: browser, cfg: cfg, logger: logger}, nil
}

func (d *RodDriver) Name() string { return "rod" }

// NewSession opens an incognito browser context with one page and applies
// the session emulation before any navigation happens.
//
// The context and page are not bound to ctx so Close still works after the
// task deadline has passed.
func (d *RodDriver) NewSession(ctx context.Context, opts models.SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	incognito, err := d.browser.Incognito()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to create browser context", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}

	s := &rodSession{
		root:      d.browser,
		incognito: incognito,
		page:      page,
		opts:      opts,
		logger:    d.logger,
	}
	if err := s.emulate(d.cfg.BlockedResourceTypes); err != nil {
		_ = s.Close()
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to configure session", err)
	}
	return s, nil
}

// Close kills the browser process.
func (d *RodDriver) Close() error {
	d.logger.Info("closing browser", "engine", "rod")
	return d.browser.Close()
}

type rodSession struct {
	root      *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	opts      models.SessionOptions
	logger    *slog.Logger
	closeOnce sync.Once
}

// emulate applies the session options. Stealth and hijacking must be in
// place before the first navigation to take effect.
func (s *rodSession) emulate(blockedTypes []string) error {
	p := s.page
	o := s.opts

	// ── 1. Stealth injection ──────────────────────────────────────────
	if o.Stealth {
		if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
			s.logger.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	// ── 2. Identity: user agent and language ─────────────────────────
	headers := make(map[string]string, len(o.Headers)+1)
	if o.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      o.UserAgent,
			AcceptLanguage: acceptLanguage(o.Locale),
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	} else if o.Locale != "" {
		headers["Accept-Language"] = acceptLanguage(o.Locale)
	}
	for k, v := range o.Headers {
		headers[k] = v
	}
	if len(headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}).Call(p); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	// ── 3. Device: viewport, locale, timezone, position ──────────────
	if o.Viewport.Width > 0 && o.Viewport.Height > 0 {
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             o.Viewport.Width,
			Height:            o.Viewport.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if o.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: o.Locale}).Call(p); err != nil {
			s.logger.Warn("locale override rejected", "locale", o.Locale, "error", err)
		}
	}
	if o.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: o.Timezone}).Call(p); err != nil {
			return fmt.Errorf("set timezone %q: %w", o.Timezone, err)
		}
	}
	if g := o.Geolocation; g != nil {
		if err := (proto.EmulationSetGeolocationOverride{
			Latitude:  f64(g.Latitude),
			Longitude: f64(g.Longitude),
			Accuracy:  f64(g.Accuracy),
		}).Call(p); err != nil {
			return fmt.Errorf("set geolocation: %w", err)
		}
	}

	// ── 4. Permission grants for this context only ───────────────────
	if len(o.Permissions) > 0 {
		perms := make([]proto.BrowserPermissionType, len(o.Permissions))
		for i, name := range o.Permissions {
			perms[i] = proto.BrowserPermissionType(name)
		}
		if err := (proto.BrowserGrantPermissions{
			Permissions:      perms,
			BrowserContextID: s.incognito.BrowserContextID,
		}).Call(s.root); err != nil {
			return fmt.Errorf("grant permissions %v: %w", o.Permissions, err)
		}
	}

	// ── 5. Request blocking ──────────────────────────────────────────
	s.router = setupHijack(p, blockedTypes, o.BlockAds)
	return nil
}

// Navigate loads url and waits according to wait.
func (s *rodSession) Navigate(ctx context.Context, url string, wait models.WaitOptions) (*Response, error) {
	if wait.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait.Timeout)
		defer cancel()
	}
	p := s.page.Context(ctx)

	// The idle listener must be registered before Navigate or in-flight
	// requests are missed. It conflicts with the hijack router's Fetch domain.
	var waitIdle func()
	if wait.Strategy == models.WaitNetworkIdle && s.router == nil {
		waitIdle = p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	}

	if err := p.Navigate(url); err != nil {
		return nil, err
	}

	switch wait.Strategy {
	case models.WaitSelector:
		if err := p.WaitLoad(); err != nil {
			return nil, err
		}
		if err := p.WaitElementsMoreThan(wait.Selector, 0); err != nil {
			return nil, fmt.Errorf("wait for selector %q: %w", wait.Selector, err)
		}
	case models.WaitNetworkIdle:
		if waitIdle != nil {
			waitIdle()
		} else if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			s.logger.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
		}
	default:
		if err := p.WaitLoad(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := navigationStatus(p)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = url
	}
	return &Response{OK: statusOK(status), Status: status, URL: finalURL}, nil
}

func (s *rodSession) Interact(ctx context.Context, in models.Interaction) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout+in.Settle)
	defer cancel()
	p := s.page.Context(ctx)

	switch in.Kind {
	case models.InteractNone, "":
		return nil
	case models.InteractScroll:
		if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		return sleepCtx(ctx, in.Settle)
	case models.InteractSearch:
		el, err := p.Element(in.Selector)
		if err != nil {
			return fmt.Errorf("search input %q not found: %w", in.Selector, err)
		}
		if err := el.Input(in.Query); err != nil {
			return fmt.Errorf("fill search input: %w", err)
		}
		if err := el.Type(input.Enter); err != nil {
			return fmt.Errorf("submit search: %w", err)
		}
		if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			s.logger.Debug("page did not settle after search", "error", err)
		}
		return sleepCtx(ctx, in.Settle)
	case models.InteractReload:
		if err := p.Reload(); err != nil {
			return fmt.Errorf("reload: %w", err)
		}
		return p.WaitLoad()
	default:
		return fmt.Errorf("%w: interaction %q", ErrUnsupported, in.Kind)
	}
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// StartRecording captures the page with the CDP screencast; Stop encodes
// the frames as an animated GIF.
func (s *rodSession) StartRecording(ctx context.Context) (Recorder, error) {
	return startScreencast(ctx, s.page, s.opts.Viewport.Width)
}

func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Stop()
		}
		if cerr := s.page.Close(); cerr != nil {
			s.logger.Debug("page close failed", "error", cerr)
		}
		// Disposes the incognito context with its cookies and storage.
		err = s.incognito.Close()
	})
	return err
}

// navigationStatus reads the main document status via the Performance API,
// which needs no CDP network listeners.
func navigationStatus(p *rod.Page) int {
	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

func f64(v float64) *float64 { return &v }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
