// Package task implements the fetch task: one scoped browser session per
// target that loads each page, optionally interacts with it, and persists
// screenshots, video, extracted titles and Markdown snapshots.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/use-agent/glance/artifact"
	"github.com/use-agent/glance/cleaner"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/engine"
	"github.com/use-agent/glance/models"
)

// Task is a configured fetch task. It holds no per-target state, so one
// Task may run many targets concurrently.
type Task struct {
	driver  engine.Driver
	store   *artifact.Store
	session models.SessionOptions
	capture models.CaptureOptions
	cleaner *cleaner.Cleaner
}

// New creates a Task. A nil cleaner is replaced by a fresh one.
func New(driver engine.Driver, store *artifact.Store, session models.SessionOptions, capture models.CaptureOptions, cl *cleaner.Cleaner) *Task {
	if capture.TitleSelector == "" {
		capture.TitleSelector = config.DefaultTitleSelector
	}
	if cl == nil {
		cl = cleaner.NewCleaner()
	}
	return &Task{
		driver:  driver,
		store:   store,
		session: session,
		capture: capture,
		cleaner: cl,
	}
}

// Run executes the task for one target. Failures, panics included, are
// reported on the Outcome and never propagate.
func (t *Task) Run(ctx context.Context, target models.Target, logger *slog.Logger) (out models.Outcome) {
	start := time.Now()
	logger = logger.With("target", target.Name)
	m := newMachine()
	out = models.Outcome{
		Target:    target,
		Artifacts: []models.Artifact{},
		Pages:     []models.PageStatus{},
	}

	var sess engine.Session
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			out.Err = models.NewFetchError(models.ErrCodeInternal, fmt.Sprintf("panic: %v", r), nil)
		}
		if out.Err != nil {
			m.fail()
		}
		if sess != nil {
			if err := sess.Close(); err != nil {
				logger.Warn("session close failed", "error", err)
			}
			_ = m.to(models.StateSessionClosed)
		}
		_ = m.to(models.StateDone)

		out.States = m.states()
		out.Duration = time.Since(start)
		if out.Err != nil {
			logger.Error("task failed",
				"code", out.Err.Code,
				"error", out.Err,
				"duration_ms", out.Duration.Milliseconds(),
			)
			return
		}
		logger.Info("task completed",
			"artifacts", len(out.Artifacts),
			"duration_ms", out.Duration.Milliseconds(),
		)
	}()

	if len(target.Pages) == 0 {
		out.Err = models.NewFetchError(models.ErrCodeInvalidInput, "target has no pages", nil)
		return out
	}

	// ── 1. Session ──────────────────────────────────────────────────
	s, err := t.driver.NewSession(ctx, t.session)
	if err != nil {
		out.Err = categorizeError(err, models.ErrCodeBrowserCrash, "failed to open session")
		return out
	}
	sess = s
	if err := m.to(models.StateSessionOpen); err != nil {
		out.Err = models.NewFetchError(models.ErrCodeInternal, "task state", err)
		return out
	}

	// ── 2. Pages ────────────────────────────────────────────────────
	extract := t.capture.ExtractFor(target)
	result := models.ScrapeResult{Issues: []string{}, PRs: []string{}}

	for _, page := range target.Pages {
		if err := ctx.Err(); err != nil {
			out.Err = categorizeError(err, models.ErrCodeTimeout, "task aborted")
			return out
		}

		pr, err := t.capturePage(ctx, sess, m, target, page, extract, logger.With("page", page.URL))
		out.Artifacts = append(out.Artifacts, pr.artifacts...)
		if pr.status != nil {
			out.Pages = append(out.Pages, *pr.status)
		}
		if err != nil {
			out.Err = err
			return out
		}

		if extract {
			if page.Label == models.PagePulls {
				result.PRs = append(result.PRs, pr.titles...)
			} else {
				result.Issues = append(result.Issues, pr.titles...)
			}
		}
	}

	// ── 3. Results record ───────────────────────────────────────────
	if extract {
		if result.Empty() {
			logger.Warn("no titles extracted", "selector", t.capture.TitleSelector)
		}
		arts, err := t.store.WriteResults(artifact.Sanitize(target.Name), result)
		if err != nil {
			logger.Error("failed to write results", "error", err)
		}
		out.Artifacts = append(out.Artifacts, arts...)
		out.Result = &result
	}

	if err := m.to(models.StateSessionClosed); err != nil {
		out.Err = models.NewFetchError(models.ErrCodeInternal, "task state", err)
		return out
	}
	closeErr := sess.Close()
	sess = nil
	if closeErr != nil {
		logger.Warn("session close failed", "error", closeErr)
	}
	return out
}

type pageResult struct {
	status    *models.PageStatus
	artifacts []models.Artifact
	titles    []string
}

// capturePage runs one page through navigate, interact and capture. Only
// navigation errors are returned; capture problems are logged and the
// artifact is skipped.
func (t *Task) capturePage(ctx context.Context, sess engine.Session, m *machine, target models.Target, page models.Page, extract bool, logger *slog.Logger) (pageResult, *models.FetchError) {
	var res pageResult
	base := artifact.BaseName(target, page)

	// ── 1. Navigate ─────────────────────────────────────────────────
	resp, err := sess.Navigate(ctx, page.URL, t.capture.Wait)
	if err != nil {
		return res, categorizeError(err, models.ErrCodeNavigation, "navigation failed: "+page.URL)
	}
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = page.URL
	}
	res.status = &models.PageStatus{
		Label:      page.Label,
		URL:        page.URL,
		FinalURL:   finalURL,
		StatusCode: resp.Status,
		OK:         resp.OK,
	}
	if !resp.OK {
		logger.Warn("page returned non-success status", "status", resp.Status, "final_url", finalURL)
	}
	if finalURL != page.URL {
		logger.Warn("page redirected", "final_url", finalURL)
	}
	if err := m.to(models.StateNavigated); err != nil {
		return res, models.NewFetchError(models.ErrCodeInternal, "task state", err)
	}

	// ── 2. Recording ────────────────────────────────────────────────
	var rec engine.Recorder
	var recStart time.Time
	if t.capture.Video {
		rec, err = sess.StartRecording(ctx)
		if err != nil {
			logger.Warn("video recording unavailable", "error", err)
			rec = nil
		}
		recStart = time.Now()
	}

	// ── 3. Interaction ──────────────────────────────────────────────
	if in := t.capture.Interaction; in.Kind != "" && in.Kind != models.InteractNone {
		if err := sess.Interact(ctx, in); err != nil {
			logger.Warn("interaction failed, continuing", "interaction", in.Kind, "error", err)
		}
		if err := m.to(models.StateInteracted); err != nil {
			return res, models.NewFetchError(models.ErrCodeInternal, "task state", err)
		}
	}

	// ── 4. Title extraction ─────────────────────────────────────────
	var html string
	if extract {
		res.titles = []string{}
		html, err = sess.HTML(ctx)
		if err != nil {
			logger.Warn("failed to read page HTML, recording no titles", "error", err)
		} else {
			titles, err := cleaner.ExtractTitles(html, t.capture.TitleSelector)
			switch {
			case errors.Is(err, cleaner.ErrNoMatch):
				logger.Warn("title selector matched nothing", "selector", t.capture.TitleSelector)
			case err != nil:
				logger.Error("title extraction failed", "error", err)
			}
			res.titles = titles
		}
	}

	// ── 5. Screenshot ───────────────────────────────────────────────
	if t.capture.Screenshot {
		if art, err := t.screenshot(ctx, sess, base, finalURL, logger); err != nil {
			logger.Warn("screenshot failed", "error", err)
		} else {
			art.Page = page.URL
			res.artifacts = append(res.artifacts, art)
		}
	}

	// ── 6. Markdown snapshot ────────────────────────────────────────
	if t.capture.Markdown {
		if art, err := t.snapshot(ctx, sess, html, base, finalURL, logger); err != nil {
			logger.Warn("markdown snapshot failed", "error", err)
		} else {
			art.Page = page.URL
			res.artifacts = append(res.artifacts, art)
		}
	}

	if err := m.to(models.StateCaptured); err != nil {
		return res, models.NewFetchError(models.ErrCodeInternal, "task state", err)
	}

	// ── 7. Video ────────────────────────────────────────────────────
	if rec != nil {
		if art, err := t.finishVideo(ctx, rec, recStart, base); err != nil {
			logger.Warn("video capture failed", "error", err)
		} else {
			art.Page = page.URL
			res.artifacts = append(res.artifacts, art)
		}
	}

	return res, nil
}

func (t *Task) screenshot(ctx context.Context, sess engine.Session, base, pageURL string, logger *slog.Logger) (models.Artifact, error) {
	data, err := sess.Screenshot(ctx, t.capture.FullPage)
	if err != nil {
		return models.Artifact{}, err
	}
	if t.capture.Imprint {
		if stamped, err := artifact.Imprint(data, pageURL); err != nil {
			logger.Warn("imprint failed, keeping plain screenshot", "error", err)
		} else {
			data = stamped
		}
	}
	return t.store.Write(models.ArtifactScreenshot, base, ".png", data)
}

func (t *Task) snapshot(ctx context.Context, sess engine.Session, html, base, pageURL string, logger *slog.Logger) (models.Artifact, error) {
	if html == "" {
		var err error
		if html, err = sess.HTML(ctx); err != nil {
			return models.Artifact{}, err
		}
	}
	md, err := t.cleaner.Snapshot(logger, html, pageURL)
	if err != nil {
		return models.Artifact{}, err
	}
	return t.store.Write(models.ArtifactPage, base, ".md", []byte(md))
}

// finishVideo waits out the rest of the recording window, then stops the
// recorder and writes the file.
func (t *Task) finishVideo(ctx context.Context, rec engine.Recorder, started time.Time, base string) (models.Artifact, error) {
	if remaining := t.capture.VideoWindow - time.Since(started); remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	// Stopping must still work when the task context is already done.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	recording, err := rec.Stop(stopCtx)
	if err != nil {
		return models.Artifact{}, err
	}
	return t.store.Write(models.ArtifactVideo, base, recording.Ext, recording.Data)
}

// categorizeError maps an error to a FetchError, keeping codes that are
// already set and classifying context errors as timeouts.
func categorizeError(err error, code, message string) *models.FetchError {
	var fe *models.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewFetchError(models.ErrCodeTimeout, message+": timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewFetchError(models.ErrCodeTimeout, message+": cancelled", err)
	default:
		return models.NewFetchError(code, message, err)
	}
}
