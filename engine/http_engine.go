package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/glance/cleaner"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/models"
	"golang.org/x/net/html"
)

// maxBody caps how much of a response the HTTP driver keeps.
const maxBody = 10 << 20

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// HTTPDriver fetches pages without rendering. It supports navigation,
// reload and HTML extraction; screenshots and video are unsupported.
type HTTPDriver struct {
	transport *http.Transport
	logger    *slog.Logger
}

// NewHTTPDriver creates an HTTPDriver with a Chrome-like TLS fingerprint.
func NewHTTPDriver(cfg config.BrowserConfig, logger *slog.Logger) *HTTPDriver {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http driver: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPDriver{transport: transport, logger: logger}
}

func (d *HTTPDriver) Name() string { return "http" }

// NewSession returns a session with its own cookie jar.
func (d *HTTPDriver) NewSession(_ context.Context, opts models.SessionOptions) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &httpSession{
		client: &http.Client{
			Transport: d.transport,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		opts:   opts,
		logger: d.logger,
	}, nil
}

func (d *HTTPDriver) Close() error {
	d.transport.CloseIdleConnections()
	return nil
}

type httpSession struct {
	client *http.Client
	opts   models.SessionOptions
	logger *slog.Logger

	mu   sync.Mutex
	url  string
	wait models.WaitOptions
	body string
}

func (s *httpSession) Navigate(ctx context.Context, rawURL string, wait models.WaitOptions) (*Response, error) {
	if wait.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http driver: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguage(s.opts.Locale))
	req.Header.Set("Accept-Encoding", "identity")
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http driver: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("http driver: read body: %w", err)
	}

	if wait.Strategy == models.WaitSelector && wait.Selector != "" {
		if err := requireSelector(string(body), wait.Selector); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("page fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"title", extractTitle(string(body)),
	)

	s.mu.Lock()
	s.url = rawURL
	s.wait = wait
	s.body = string(body)
	s.mu.Unlock()

	return &Response{
		OK:     statusOK(resp.StatusCode),
		Status: resp.StatusCode,
		URL:    resp.Request.URL.String(),
	}, nil
}

// Interact supports reload only; there is no DOM to scroll or type into.
func (s *httpSession) Interact(ctx context.Context, in models.Interaction) error {
	switch in.Kind {
	case models.InteractNone, "":
		return nil
	case models.InteractReload:
		s.mu.Lock()
		u, wait := s.url, s.wait
		s.mu.Unlock()
		if u == "" {
			return fmt.Errorf("http driver: reload before navigation")
		}
		_, err := s.Navigate(ctx, u, wait)
		return err
	default:
		return fmt.Errorf("%w: %s interaction without a browser", ErrUnsupported, in.Kind)
	}
}

func (s *httpSession) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.url == "" {
		return "", fmt.Errorf("http driver: no page loaded")
	}
	return s.body, nil
}

func (s *httpSession) Screenshot(context.Context, bool) ([]byte, error) {
	return nil, fmt.Errorf("%w: screenshot without a browser", ErrUnsupported)
}

func (s *httpSession) StartRecording(context.Context) (Recorder, error) {
	return nil, fmt.Errorf("%w: video without a browser", ErrUnsupported)
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// requireSelector fails unless the static document contains a match.
func requireSelector(body, selector string) error {
	sel, err := cleaner.CompileSelector(selector)
	if err != nil {
		return err
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("http driver: parse body: %w", err)
	}
	if sel.MatchFirst(doc) == nil {
		return fmt.Errorf("http driver: wait selector %q not present in document", selector)
	}
	return nil
}

// acceptLanguage turns "pt-BR" into "pt-BR,pt;q=0.9".
func acceptLanguage(locale string) string {
	if locale == "" {
		return "en-US,en;q=0.9"
	}
	lang, _, _ := strings.Cut(locale, "-")
	if lang == locale {
		return locale
	}
	return locale + "," + lang + ";q=0.9"
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
