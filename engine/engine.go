// Package engine wraps headless browsers behind a small session interface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/models"
)

// ErrUnsupported is returned for operations a driver cannot perform.
var ErrUnsupported = errors.New("engine: operation not supported")

// Driver owns a browser process (or equivalent) shared by all sessions of a run.
type Driver interface {
	// Name returns the engine identifier ("rod", "playwright", "http").
	Name() string

	// NewSession opens an isolated session: its own cookies, storage and
	// emulation settings.
	NewSession(ctx context.Context, opts models.SessionOptions) (Session, error)

	// Close releases the browser process.
	Close() error
}

// Session is one isolated browsing context holding a single page.
type Session interface {
	Navigate(ctx context.Context, url string, wait models.WaitOptions) (*Response, error)
	Interact(ctx context.Context, in models.Interaction) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	StartRecording(ctx context.Context) (Recorder, error)

	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Recorder is an in-progress video capture.
type Recorder interface {
	Stop(ctx context.Context) (*Recording, error)
}

// Response describes the main document of a navigation.
type Response struct {
	OK     bool
	Status int
	URL    string
}

// Recording is an encoded video and the file extension for it.
type Recording struct {
	Data []byte
	Ext  string
}

// New launches the driver named by cfg.Engine.
func New(cfg config.BrowserConfig, logger *slog.Logger) (Driver, error) {
	switch cfg.Engine {
	case "", "rod":
		return NewRodDriver(cfg, logger)
	case "playwright":
		return NewPlaywrightDriver(cfg, logger)
	case "http":
		return NewHTTPDriver(cfg, logger), nil
	default:
		return nil, models.NewFetchError(models.ErrCodeConfig, fmt.Sprintf("unknown engine %q", cfg.Engine), nil)
	}
}

// statusOK treats an unknown status (0) as success; some drivers cannot
// observe it for cached or same-document navigations.
func statusOK(status int) bool {
	return status == 0 || (status >= 200 && status < 300)
}
