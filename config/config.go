package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/use-agent/glance/models"
)

// Version is reported by the CLI and the health endpoint.
const Version = "0.1.0"

// DefaultTitleSelector matches issue and pull request rows on a forge list page.
const DefaultTitleSelector = ".js-issue-row a.h4, .js-issue-row .h4 a, .js-issue-row .js-issue-title"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Session   SessionConfig
	Capture   CaptureConfig
	Targets   TargetsConfig
	Output    OutputConfig
	Run       RunConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig

	// ProfilesFile is the YAML file holding named profiles.
	ProfilesFile string
	// Profile selects a profile from ProfilesFile; empty means none.
	Profile string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// MaxRunTargets caps the targets accepted by one API run.
	MaxRunTargets int // default: 100
}

// BrowserConfig controls the browser process shared by all sessions.
type BrowserConfig struct {
	// Engine is "rod", "playwright" or "http".
	Engine string // default: "rod"

	Headless   bool // default: true
	NoSandbox  bool // default: false
	BrowserBin string
	Proxy      string

	// BlockedResourceTypes lists resource types the rod engine refuses to load.
	BlockedResourceTypes []string
}

// SessionConfig is the per-session emulation applied to every target.
type SessionConfig struct {
	// UserAgent overrides UserAgentFile when set.
	UserAgent     string
	UserAgentFile string // default: "config/useragent.txt"

	Locale      string
	Timezone    string
	Geolocation *models.Geolocation
	Permissions []string
	Viewport    models.Viewport // default: 1280x720
	Headers     map[string]string
	Stealth     bool // default: true
	BlockAds    bool
}

// CaptureConfig controls what each fetch task records.
type CaptureConfig struct {
	Wait              string        // default: "networkidle"
	WaitSelector      string
	NavigationTimeout time.Duration // default: 30s

	Interaction    string // default: "none"
	SearchSelector string
	SearchQuery    string
	ScrollSettle   time.Duration // default: 2s

	Screenshot  bool // default: true
	FullPage    bool // default: true
	Imprint     bool
	Video       bool
	VideoWindow time.Duration // default: 5s

	Extract       string // "auto", "on", "off"; default: "auto"
	TitleSelector string
	Markdown      bool
}

// TargetsConfig names where targets come from.
type TargetsConfig struct {
	// List takes precedence over File when non-empty.
	List []string
	File string // default: "config/repos.txt"
}

// OutputConfig controls the artifact directory layout.
type OutputConfig struct {
	Dir         string // default: "reports"
	SplitByKind bool
}

// RunConfig controls the task driver.
type RunConfig struct {
	Concurrency int           // default: 1
	RatePerSec  float64       // default: 0 (unpaced)
	TaskTimeout time.Duration // default: 2m
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool // default: true
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file (GLANCE_ENV_FILE, default ".env") is read first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := LoadDotEnv(envOr("GLANCE_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:          envOr("GLANCE_HOST", "0.0.0.0"),
			Port:          envIntOr("GLANCE_PORT", 8080),
			Mode:          envOr("GLANCE_MODE", "release"),
			MaxRunTargets: envIntOr("GLANCE_MAX_RUN_TARGETS", 100),
		},
		Browser: BrowserConfig{
			Engine:               envOr("GLANCE_ENGINE", "rod"),
			Headless:             envBoolOr("GLANCE_HEADLESS", true),
			NoSandbox:            envBoolOr("GLANCE_NO_SANDBOX", false),
			BrowserBin:           os.Getenv("GLANCE_BROWSER_BIN"),
			Proxy:                os.Getenv("GLANCE_PROXY"),
			BlockedResourceTypes: envSliceOr("GLANCE_BLOCKED_RESOURCES", nil),
		},
		Session: SessionConfig{
			UserAgent:     os.Getenv("GLANCE_USER_AGENT"),
			UserAgentFile: envOr("GLANCE_USER_AGENT_FILE", "config/useragent.txt"),
			Locale:        os.Getenv("GLANCE_LOCALE"),
			Timezone:      os.Getenv("GLANCE_TIMEZONE"),
			Geolocation:   envGeolocation("GLANCE_GEO_LAT", "GLANCE_GEO_LON"),
			Permissions:   envSliceOr("GLANCE_PERMISSIONS", nil),
			Viewport: models.Viewport{
				Width:  envIntOr("GLANCE_VIEWPORT_WIDTH", 1280),
				Height: envIntOr("GLANCE_VIEWPORT_HEIGHT", 720),
			},
			Headers:  envMapOr("GLANCE_HEADERS", nil),
			Stealth:  envBoolOr("GLANCE_STEALTH", true),
			BlockAds: envBoolOr("GLANCE_BLOCK_ADS", false),
		},
		Capture: CaptureConfig{
			Wait:              envOr("GLANCE_WAIT", string(models.WaitNetworkIdle)),
			WaitSelector:      os.Getenv("GLANCE_WAIT_SELECTOR"),
			NavigationTimeout: envDurationOr("GLANCE_NAV_TIMEOUT", 30*time.Second),
			Interaction:       envOr("GLANCE_INTERACTION", string(models.InteractNone)),
			SearchSelector:    os.Getenv("GLANCE_SEARCH_SELECTOR"),
			SearchQuery:       os.Getenv("GLANCE_SEARCH_QUERY"),
			ScrollSettle:      envDurationOr("GLANCE_SCROLL_SETTLE", 2*time.Second),
			Screenshot:        envBoolOr("GLANCE_SCREENSHOT", true),
			FullPage:          envBoolOr("GLANCE_FULL_PAGE", true),
			Imprint:           envBoolOr("GLANCE_IMPRINT", false),
			Video:             envBoolOr("GLANCE_VIDEO", false),
			VideoWindow:       envDurationOr("GLANCE_VIDEO_WINDOW", 5*time.Second),
			Extract:           envOr("GLANCE_EXTRACT", string(models.ExtractAuto)),
			TitleSelector:     envOr("GLANCE_TITLE_SELECTOR", DefaultTitleSelector),
			Markdown:          envBoolOr("GLANCE_MARKDOWN", false),
		},
		Targets: TargetsConfig{
			List: envSliceOr("GLANCE_TARGETS", nil),
			File: envOr("GLANCE_TARGETS_FILE", "config/repos.txt"),
		},
		Output: OutputConfig{
			Dir:         envOr("GLANCE_OUTPUT_DIR", "reports"),
			SplitByKind: envBoolOr("GLANCE_SPLIT_BY_KIND", false),
		},
		Run: RunConfig{
			Concurrency: envIntOr("GLANCE_CONCURRENCY", 1),
			RatePerSec:  envFloatOr("GLANCE_RATE_RPS", 0),
			TaskTimeout: envDurationOr("GLANCE_TASK_TIMEOUT", 2*time.Minute),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("GLANCE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("GLANCE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("GLANCE_RATE_LIMIT_RPS", 5.0),
			Burst:             envIntOr("GLANCE_RATE_LIMIT_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("GLANCE_LOG_LEVEL", "info"),
			Format: envOr("GLANCE_LOG_FORMAT", "text"),
		},
		ProfilesFile: envOr("GLANCE_PROFILES_FILE", "config/profiles.yaml"),
		Profile:      os.Getenv("GLANCE_PROFILE"),
	}

	if cfg.Profile != "" {
		if err := cfg.ApplyProfile(cfg.Profile); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return models.NewFetchError(models.ErrCodeConfig, "failed to load env file "+path, err)
	}
	return nil
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return models.NewFetchError(models.ErrCodeConfig, msg, nil)
	}
	switch c.Browser.Engine {
	case "rod", "playwright", "http":
	default:
		return invalid("unknown engine " + strconv.Quote(c.Browser.Engine))
	}
	switch models.WaitStrategy(c.Capture.Wait) {
	case models.WaitLoad, models.WaitNetworkIdle:
	case models.WaitSelector:
		if c.Capture.WaitSelector == "" {
			return invalid("wait strategy selector requires a wait selector")
		}
	default:
		return invalid("unknown wait strategy " + strconv.Quote(c.Capture.Wait))
	}
	switch models.InteractionKind(c.Capture.Interaction) {
	case models.InteractNone, models.InteractScroll, models.InteractReload:
	case models.InteractSearch:
		if c.Capture.SearchSelector == "" {
			return invalid("search interaction requires a search selector")
		}
	default:
		return invalid("unknown interaction " + strconv.Quote(c.Capture.Interaction))
	}
	switch models.ExtractMode(c.Capture.Extract) {
	case models.ExtractAuto, models.ExtractOn, models.ExtractOff:
	default:
		return invalid("unknown extract mode " + strconv.Quote(c.Capture.Extract))
	}
	if c.Session.Viewport.Width <= 0 || c.Session.Viewport.Height <= 0 {
		return invalid("viewport dimensions must be positive")
	}
	if c.Output.Dir == "" {
		return invalid("output directory must not be empty")
	}
	return nil
}

// WarnVideoFormat logs which video format the configured engine produces
// when video capture is on. It reports whether a warning was logged.
func WarnVideoFormat(logger *slog.Logger, c *Config) bool {
	if !c.Capture.Video {
		return false
	}
	switch c.Browser.Engine {
	case "", "rod":
		logger.Warn("rod engine records video as animated GIF; use -engine playwright (GLANCE_ENGINE=playwright) for WebM",
			"engine", "rod")
	case "http":
		logger.Warn("http engine cannot record video; use -engine playwright for WebM", "engine", "http")
	default:
		return false
	}
	return true
}

// SessionOptions builds the session options for a run with the resolved user agent.
func (c *Config) SessionOptions(userAgent string) models.SessionOptions {
	return models.SessionOptions{
		UserAgent:   userAgent,
		Locale:      c.Session.Locale,
		Timezone:    c.Session.Timezone,
		Geolocation: c.Session.Geolocation,
		Permissions: c.Session.Permissions,
		Viewport:    c.Session.Viewport,
		Headers:     c.Session.Headers,
		Stealth:     c.Session.Stealth,
		BlockAds:    c.Session.BlockAds,
		RecordVideo: c.Capture.Video,
	}
}

// CaptureOptions builds the per-task capture options.
func (c *Config) CaptureOptions() models.CaptureOptions {
	return models.CaptureOptions{
		Wait: models.WaitOptions{
			Strategy: models.WaitStrategy(c.Capture.Wait),
			Selector: c.Capture.WaitSelector,
			Timeout:  c.Capture.NavigationTimeout,
		},
		Interaction: models.Interaction{
			Kind:     models.InteractionKind(c.Capture.Interaction),
			Selector: c.Capture.SearchSelector,
			Query:    c.Capture.SearchQuery,
			Settle:   c.Capture.ScrollSettle,
		},
		Screenshot:    c.Capture.Screenshot,
		FullPage:      c.Capture.FullPage,
		Imprint:       c.Capture.Imprint,
		Video:         c.Capture.Video,
		VideoWindow:   c.Capture.VideoWindow,
		Extract:       models.ExtractMode(c.Capture.Extract),
		TitleSelector: c.Capture.TitleSelector,
		Markdown:      c.Capture.Markdown,
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envMapOr parses "Key: Value" pairs separated by commas.
func envMapOr(key string, fallback map[string]string) map[string]string {
	pairs := envSliceOr(key, nil)
	if len(pairs) == 0 {
		return fallback
	}
	result := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			result[k] = strings.TrimSpace(v)
		}
	}
	return result
}

// envGeolocation returns nil unless both coordinates parse.
func envGeolocation(latKey, lonKey string) *models.Geolocation {
	lat, errLat := strconv.ParseFloat(os.Getenv(latKey), 64)
	lon, errLon := strconv.ParseFloat(os.Getenv(lonKey), 64)
	if errLat != nil || errLon != nil {
		return nil
	}
	return &models.Geolocation{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  envFloatOr("GLANCE_GEO_ACCURACY", 100),
	}
}
