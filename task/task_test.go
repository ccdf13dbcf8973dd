package task

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/glance/artifact"
	"github.com/use-agent/glance/engine"
	"github.com/use-agent/glance/models"
)

const issuesHTML = `<html><head><title>Issues</title></head><body>
<div class="js-issue-row"><a class="h4">Crash on start</a></div>
<div class="js-issue-row"><a class="h4">  Typo   in docs </a></div>
</body></html>`

const pullsHTML = `<html><body>
<div class="js-issue-row"><a class="js-issue-title">Add feature</a></div>
</body></html>`

type fakeDriver struct {
	sessErr error
	pages   map[string]string
	status  map[string]int
	navErr  map[string]error
	panicOn string

	mu       sync.Mutex
	sessions []*fakeSession
}

func (d *fakeDriver) Name() string { return "fake" }
func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) NewSession(_ context.Context, opts models.SessionOptions) (engine.Session, error) {
	if d.sessErr != nil {
		return nil, d.sessErr
	}
	s := &fakeSession{d: d, opts: opts}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

type fakeSession struct {
	d        *fakeDriver
	opts     models.SessionOptions
	url      string
	visited  []string
	interact []models.InteractionKind
	closed   int
}

func (s *fakeSession) Navigate(_ context.Context, url string, _ models.WaitOptions) (*engine.Response, error) {
	if url == s.d.panicOn {
		panic("renderer exploded")
	}
	if err := s.d.navErr[url]; err != nil {
		return nil, err
	}
	s.url = url
	s.visited = append(s.visited, url)
	status := 200
	if code, ok := s.d.status[url]; ok {
		status = code
	}
	return &engine.Response{OK: status < 300, Status: status, URL: url}, nil
}

func (s *fakeSession) Interact(_ context.Context, in models.Interaction) error {
	s.interact = append(s.interact, in.Kind)
	if in.Kind == models.InteractSearch {
		return errors.New("search input not found")
	}
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	return s.d.pages[s.url], nil
}

func (s *fakeSession) Screenshot(context.Context, bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *fakeSession) StartRecording(context.Context) (engine.Recorder, error) {
	return fakeRecorder{}, nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeRecorder struct{}

func (fakeRecorder) Stop(context.Context) (*engine.Recording, error) {
	return &engine.Recording{Data: []byte("GIF89a"), Ext: ".gif"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func githubTarget() models.Target {
	return models.Target{
		Name: "octocat/Hello-World",
		Kind: models.TargetGitHub,
		Pages: []models.Page{
			{Label: models.PageIssues, URL: "https://github.com/octocat/Hello-World/issues"},
			{Label: models.PagePulls, URL: "https://github.com/octocat/Hello-World/pulls"},
		},
	}
}

func newFixture(t *testing.T) (*fakeDriver, *artifact.Store) {
	t.Helper()
	d := &fakeDriver{
		pages: map[string]string{
			"https://github.com/octocat/Hello-World/issues": issuesHTML,
			"https://github.com/octocat/Hello-World/pulls":  pullsHTML,
		},
	}
	return d, artifact.NewStore(t.TempDir(), false, artifact.NewNamer())
}

func countKind(arts []models.Artifact, kind models.ArtifactKind) int {
	n := 0
	for _, a := range arts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func TestRun_GitHubTarget(t *testing.T) {
	d, store := newFixture(t)
	tk := New(d, store, models.SessionOptions{UserAgent: "ua"}, models.CaptureOptions{
		Screenshot: true,
		Extract:    models.ExtractAuto,
	}, nil)

	out := tk.Run(context.Background(), githubTarget(), testLogger())
	if !out.Success() {
		t.Fatalf("unexpected failure: %v", out.Err)
	}

	if out.Result == nil {
		t.Fatal("expected extraction result")
	}
	if got := strings.Join(out.Result.Issues, "|"); got != "Crash on start|Typo in docs" {
		t.Errorf("issues = %q", got)
	}
	if got := strings.Join(out.Result.PRs, "|"); got != "Add feature" {
		t.Errorf("prs = %q", got)
	}

	if n := countKind(out.Artifacts, models.ArtifactScreenshot); n != 2 {
		t.Errorf("screenshots = %d, want 2", n)
	}
	if n := countKind(out.Artifacts, models.ArtifactResults); n != 2 {
		t.Errorf("results files = %d, want 2 (json + txt)", n)
	}
	for _, a := range out.Artifacts {
		if _, err := os.Stat(a.Path); err != nil {
			t.Errorf("artifact missing on disk: %v", err)
		}
	}
	if len(out.Pages) != 2 || !out.Pages[0].OK {
		t.Errorf("pages = %+v", out.Pages)
	}

	want := []models.TaskState{
		models.StateIdle, models.StateSessionOpen,
		models.StateNavigated, models.StateCaptured,
		models.StateNavigated, models.StateCaptured,
		models.StateSessionClosed, models.StateDone,
	}
	if !equalStates(out.States, want) {
		t.Errorf("states = %v, want %v", out.States, want)
	}

	if len(d.sessions) != 1 || d.sessions[0].closed != 1 {
		t.Errorf("session not closed exactly once")
	}
	if d.sessions[0].opts.UserAgent != "ua" {
		t.Errorf("session options not passed through")
	}
}

func TestRun_ResultsFileContents(t *testing.T) {
	d, store := newFixture(t)
	tk := New(d, store, models.SessionOptions{}, models.CaptureOptions{Extract: models.ExtractOn}, nil)

	out := tk.Run(context.Background(), githubTarget(), testLogger())
	if !out.Success() {
		t.Fatal(out.Err)
	}
	for _, a := range out.Artifacts {
		if filepath.Ext(a.Path) != ".txt" {
			continue
		}
		data, err := os.ReadFile(a.Path)
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := artifact.ParseText(string(data))
		if err != nil {
			t.Fatal(err)
		}
		if len(parsed.Issues) != 2 || len(parsed.PRs) != 1 {
			t.Errorf("parsed = %+v", parsed)
		}
		return
	}
	t.Fatal("no text results written")
}

func TestRun_NoMatchRecordsEmpty(t *testing.T) {
	d, store := newFixture(t)
	d.pages["https://github.com/octocat/Hello-World/issues"] = "<html><body>nothing</body></html>"
	d.pages["https://github.com/octocat/Hello-World/pulls"] = "<html><body>nothing</body></html>"

	tk := New(d, store, models.SessionOptions{}, models.CaptureOptions{Extract: models.ExtractAuto}, nil)
	out := tk.Run(context.Background(), githubTarget(), testLogger())
	if !out.Success() {
		t.Fatal(out.Err)
	}
	if out.Result == nil || out.Result.Issues == nil || out.Result.PRs == nil || !out.Result.Empty() {
		t.Errorf("result = %+v, want empty non-nil lists", out.Result)
	}
}

func TestRun_NonSuccessStatusContinues(t *testing.T) {
	d, store := newFixture(t)
	d.status = map[string]int{"https://github.com/octocat/Hello-World/issues": 404}

	tk := New(d, store, models.SessionOptions{}, models.CaptureOptions{Screenshot: true}, nil)
	out := tk.Run(context.Background(), githubTarget(), testLogger())
	if !out.Success() {
		t.Fatalf("soft failure should not fail the task: %v", out.Err)
	}
	if out.Pages[0].OK || out.Pages[0].StatusCode != 404 {
		t.Errorf("page status = %+v", out.Pages[0])
	}
	if n := countKind(out.Artifacts, models.ArtifactScreenshot); n != 2 {
		t.Errorf("screenshots = %d, want 2", n)
	}
}

func TestRun_NavigationFailure(t *testing.T) {
	d, store := newFixture(t)
	d.navErr = map[string]error{"https://github.com/octocat/Hello-World/pulls": errors.New("net::ERR_NAME_NOT_RESOLVED")}

	tk := New(d, store, models.SessionOptions{}, models.CaptureOptions{Screenshot: true}, nil)
	out := tk.Run(context.Background(), githubTarget(), testLogger())
	if out.Success() {
		t.Fatal("expected failure")
	}
	if out.Err.Code != models.ErrCodeNavigation {
		t.Errorf("code = %s", out.Err.Code)
	}
	if n := countKind(out.Artifacts, models.ArtifactScreenshot); n != 1 {
		t.Errorf("artifacts from the first page should be kept, got %d screenshots", n)
	}
	last := out.States[len(out.States)-3:]
	want := []models.TaskState{models.StateFailed, models.StateSessionClosed, models.StateDone}
	if !equalStates(last, want) {
		t.Errorf("final states = %v, want %v", last, want)
	}
	if d.sessions[0].closed != 1 {
		t.Error("session not closed after failure")
	}
}

func TestRun_TimeoutCategorized(t *testing.T) {
	d, store := newFixture(t)
	d.navErr = map[string]error{"https://github.com/octocat/Hello-World/issues": context.DeadlineExceeded}

	out := New(d, store, models.SessionOptions{}, models.CaptureOptions{}, nil).
		Run(context.Background(), githubTarget(), testLogger())
	if out.Err == nil || out.Err.Code != models.ErrCodeTimeout {
		t.Fatalf("err = %v, want SCRAPE_TIMEOUT", out.Err)
	}
}

func TestRun_SessionFailure(t *testing.T) {
	d, store := newFixture(t)
	d.sessErr = errors.New("browser gone")

	out := New(d, store, models.SessionOptions{}, models.CaptureOptions{}, nil).
		Run(context.Background(), githubTarget(), testLogger())
	if out.Err == nil || out.Err.Code != models.ErrCodeBrowserCrash {
		t.Fatalf("err = %v, want BROWSER_CRASH", out.Err)
	}
	want := []models.TaskState{models.StateIdle, models.StateFailed, models.StateDone}
	if !equalStates(out.States, want) {
		t.Errorf("states = %v, want %v", out.States, want)
	}
}

func TestRun_PanicIsContained(t *testing.T) {
	d, store := newFixture(t)
	d.panicOn = "https://github.com/octocat/Hello-World/issues"

	out := New(d, store, models.SessionOptions{}, models.CaptureOptions{}, nil).
		Run(context.Background(), githubTarget(), testLogger())
	if out.Err == nil || out.Err.Code != models.ErrCodeInternal {
		t.Fatalf("err = %v, want INTERNAL_ERROR", out.Err)
	}
	if d.sessions[0].closed != 1 {
		t.Error("session not closed after panic")
	}
	if out.States[len(out.States)-1] != models.StateDone {
		t.Errorf("last state = %s", out.States[len(out.States)-1])
	}
}

func TestRun_InteractionFailureContinues(t *testing.T) {
	d, store := newFixture(t)
	target := models.Target{
		Name:  "example.com",
		Kind:  models.TargetURL,
		Pages: []models.Page{{URL: "https://example.com"}},
	}
	d.pages["https://example.com"] = "<html><body><h1>Hi</h1></body></html>"

	tk := New(d, store, models.SessionOptions{}, models.CaptureOptions{
		Screenshot:  true,
		Interaction: models.Interaction{Kind: models.InteractSearch, Selector: "#q", Query: "go"},
		Extract:     models.ExtractAuto,
	}, nil)
	out := tk.Run(context.Background(), target, testLogger())
	if !out.Success() {
		t.Fatal(out.Err)
	}
	if out.Result != nil {
		t.Error("url targets should not extract titles in auto mode")
	}
	if countKind(out.Artifacts, models.ArtifactScreenshot) != 1 {
		t.Error("screenshot missing after failed interaction")
	}
	if !containsState(out.States, models.StateInteracted) {
		t.Errorf("states = %v, want interacted", out.States)
	}
}

func TestRun_VideoAndMarkdown(t *testing.T) {
	d, store := newFixture(t)
	target := models.Target{
		Name:  "example.com/docs",
		Kind:  models.TargetURL,
		Pages: []models.Page{{URL: "https://example.com/docs"}},
	}
	d.pages["https://example.com/docs"] = `<html><head><title>Docs</title></head><body><article><h1>Docs</h1><p>Read the manual before filing issues.</p></article></body></html>`

	tk := New(d, store, models.SessionOptions{RecordVideo: true}, models.CaptureOptions{
		Video:       true,
		VideoWindow: 10 * time.Millisecond,
		Markdown:    true,
	}, nil)
	out := tk.Run(context.Background(), target, testLogger())
	if !out.Success() {
		t.Fatal(out.Err)
	}

	var video, page *models.Artifact
	for i := range out.Artifacts {
		switch out.Artifacts[i].Kind {
		case models.ArtifactVideo:
			video = &out.Artifacts[i]
		case models.ArtifactPage:
			page = &out.Artifacts[i]
		}
	}
	if video == nil || filepath.Ext(video.Path) != ".gif" {
		t.Fatalf("video artifact = %+v", video)
	}
	if !strings.HasPrefix(filepath.Base(video.Path), "example.com_docs_video_") {
		t.Errorf("video name = %s", filepath.Base(video.Path))
	}
	if page == nil {
		t.Fatal("markdown artifact missing")
	}
	md, err := os.ReadFile(page.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "Source: https://example.com/docs") {
		t.Errorf("markdown = %s", md)
	}
}

func TestRun_NoPages(t *testing.T) {
	d, store := newFixture(t)
	out := New(d, store, models.SessionOptions{}, models.CaptureOptions{}, nil).
		Run(context.Background(), models.Target{Name: "empty"}, testLogger())
	if out.Err == nil || out.Err.Code != models.ErrCodeInvalidInput {
		t.Fatalf("err = %v", out.Err)
	}
	if len(d.sessions) != 0 {
		t.Error("no session should be opened for a target without pages")
	}
}

func TestMachine_RejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		path []models.TaskState
		ok   bool
	}{
		{[]models.TaskState{models.StateSessionOpen, models.StateNavigated, models.StateCaptured, models.StateSessionClosed, models.StateDone}, true},
		{[]models.TaskState{models.StateSessionOpen, models.StateNavigated, models.StateInteracted, models.StateCaptured, models.StateNavigated}, true},
		{[]models.TaskState{models.StateFailed, models.StateDone}, true},
		{[]models.TaskState{models.StateNavigated}, false},
		{[]models.TaskState{models.StateSessionOpen, models.StateCaptured}, false},
		{[]models.TaskState{models.StateSessionOpen, models.StateSessionClosed}, false},
		{[]models.TaskState{models.StateSessionOpen, models.StateNavigated, models.StateCaptured, models.StateInteracted}, false},
	}
	for _, tt := range tests {
		m := newMachine()
		var err error
		for _, s := range tt.path {
			if err = m.to(s); err != nil {
				break
			}
		}
		if (err == nil) != tt.ok {
			t.Errorf("path %v: err = %v, want ok=%v", tt.path, err, tt.ok)
		}
	}
}

func TestMachine_FailIsIdempotent(t *testing.T) {
	m := newMachine()
	m.fail()
	m.fail()
	if m.state() != models.StateFailed {
		t.Fatalf("state = %s", m.state())
	}
	if got := len(m.states()); got != 2 {
		t.Errorf("visited %d states, want 2", got)
	}
}

func equalStates(a, b []models.TaskState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsState(states []models.TaskState, s models.TaskState) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}
