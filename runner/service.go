package runner

import (
	"context"
	"log/slog"

	"github.com/use-agent/glance/artifact"
	"github.com/use-agent/glance/cleaner"
	"github.com/use-agent/glance/engine"
	"github.com/use-agent/glance/models"
	"github.com/use-agent/glance/task"
)

// Service couples a launched driver with the server-wide capture defaults.
// Each run gets a fresh task built from the defaults plus its overrides;
// all runs share one Runner pool.
type Service struct {
	driver  engine.Driver
	store   *artifact.Store
	cleaner *cleaner.Cleaner
	session models.SessionOptions
	capture models.CaptureOptions
	runner  *Runner
}

// NewService creates a Service.
func NewService(driver engine.Driver, store *artifact.Store, session models.SessionOptions, capture models.CaptureOptions, opts Options, logger *slog.Logger) *Service {
	cl := cleaner.NewCleaner()
	s := &Service{
		driver:  driver,
		store:   store,
		cleaner: cl,
		session: session,
		capture: capture,
	}
	s.runner = New(task.New(driver, store, session, capture, cl), opts, logger)
	return s
}

// Run executes targets with the given overrides applied to the defaults.
func (s *Service) Run(ctx context.Context, targets []models.Target, overrides models.RunOptions, onDone func(int, models.Outcome)) models.Report {
	session, capture := ApplyOverrides(s.session, s.capture, overrides)
	exec := task.New(s.driver, s.store, session, capture, s.cleaner)
	return s.runner.RunWith(ctx, exec, targets, onDone)
}

// Check reports whether overrides leave the capture settings runnable.
func (s *Service) Check(overrides models.RunOptions) error {
	_, capture := ApplyOverrides(s.session, s.capture, overrides)
	return CheckCapture(capture)
}

// CheckCapture rejects capture settings that would fail every task.
func CheckCapture(capture models.CaptureOptions) error {
	in := capture.Interaction
	if in.Kind == models.InteractSearch {
		if in.Selector == "" {
			return models.NewFetchError(models.ErrCodeInvalidInput, "search interaction requires a search selector (search_selector or GLANCE_SEARCH_SELECTOR)", nil)
		}
		if in.Query == "" {
			return models.NewFetchError(models.ErrCodeInvalidInput, "search interaction requires a search query", nil)
		}
	}
	if capture.Wait.Strategy == models.WaitSelector && capture.Wait.Selector == "" {
		return models.NewFetchError(models.ErrCodeInvalidInput, "selector wait requires a wait selector", nil)
	}
	return nil
}

// Engine returns the driver name.
func (s *Service) Engine() string { return s.driver.Name() }

// Stats returns a snapshot of the pool.
func (s *Service) Stats() models.RunnerStats {
	return models.RunnerStats{
		Concurrency: s.runner.Concurrency(),
		ActiveTasks: s.runner.Active(),
	}
}

// ApplyOverrides returns copies of the defaults with every set override
// field applied.
func ApplyOverrides(session models.SessionOptions, capture models.CaptureOptions, o models.RunOptions) (models.SessionOptions, models.CaptureOptions) {
	if o.Screenshot != nil {
		capture.Screenshot = *o.Screenshot
	}
	if o.FullPage != nil {
		capture.FullPage = *o.FullPage
	}
	if o.Video != nil {
		capture.Video = *o.Video
		session.RecordVideo = *o.Video
	}
	if o.Markdown != nil {
		capture.Markdown = *o.Markdown
	}
	if o.Extract != "" {
		capture.Extract = models.ExtractMode(o.Extract)
	}
	if o.TitleSelector != "" {
		capture.TitleSelector = o.TitleSelector
	}
	if o.Interaction != "" {
		capture.Interaction.Kind = models.InteractionKind(o.Interaction)
	}
	if o.SearchSelector != "" {
		capture.Interaction.Selector = o.SearchSelector
	}
	if o.SearchQuery != "" {
		capture.Interaction.Query = o.SearchQuery
	}
	if o.Wait != "" {
		capture.Wait.Strategy = models.WaitStrategy(o.Wait)
	}
	if o.WaitSelector != "" {
		capture.Wait.Selector = o.WaitSelector
	}
	if o.Locale != "" {
		session.Locale = o.Locale
	}
	if o.UserAgent != "" {
		session.UserAgent = o.UserAgent
	}
	return session, capture
}
