package cleaner

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/use-agent/glance/config"
)

const issueListHTML = `<html><body>
<div class="js-issue-row"><div class="h4"><a href="/o/r/issues/2">  Fix   crash on start </a></div></div>
<div class="js-issue-row"><a class="js-issue-title" href="/o/r/issues/1">Add dark mode</a></div>
<div class="js-issue-row"><div class="h4"><a href="/o/r/issues/0">   </a></div></div>
<div class="other"><a class="js-issue-title">Not in a row</a></div>
</body></html>`

func TestExtractTitles(t *testing.T) {
	got, err := ExtractTitles(issueListHTML, ".js-issue-row .h4 a, .js-issue-row .js-issue-title")
	if err != nil {
		t.Fatalf("ExtractTitles: %v", err)
	}
	want := []string{"Fix crash on start", "Add dark mode"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("titles = %q, want %q", got, want)
	}
}

func TestExtractTitles_DefaultSelectorMarkupVariants(t *testing.T) {
	html := `<html><body>
<div class="js-issue-row"><a class="h4" href="/o/r/issues/3">Crash on start</a></div>
<div class="js-issue-row"><div class="h4"><a href="/o/r/issues/2">Nested link title</a></div></div>
<div class="js-issue-row"><a class="js-issue-title" href="/o/r/pull/1">Add feature</a></div>
<div class="js-issue-row"><a class="h4 js-issue-title" href="/o/r/pull/0">Matched once</a></div>
</body></html>`

	got, err := ExtractTitles(html, config.DefaultTitleSelector)
	if err != nil {
		t.Fatalf("ExtractTitles: %v", err)
	}
	want := []string{"Crash on start", "Nested link title", "Add feature", "Matched once"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("titles = %q, want %q", got, want)
	}
}

func TestExtractTitles_NoMatch(t *testing.T) {
	got, err := ExtractTitles("<html><body><p>nothing</p></body></html>", ".js-issue-row a")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("titles = %v, want empty non-nil slice", got)
	}
}

func TestExtractTitles_InvalidSelector(t *testing.T) {
	_, err := ExtractTitles(issueListHTML, "div[[")
	if err == nil || errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected selector compile error, got %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	html := `<html><head><title>Docs</title></head><body>
<h1>Getting started</h1><p>See <a href="/install">the install guide</a> for details.</p>
</body></html>`

	md, err := NewCleaner().Snapshot(logger, html, "https://example.com/docs")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !strings.Contains(md, "Source: https://example.com/docs") {
		t.Errorf("missing source line:\n%s", md)
	}
	if !strings.Contains(md, "https://example.com/install") {
		t.Errorf("relative link not resolved:\n%s", md)
	}
	if strings.Contains(md, "<p>") {
		t.Errorf("html leaked into markdown:\n%s", md)
	}
}

func TestOrigin(t *testing.T) {
	if got := origin("https://example.com:8443/a/b?q=1"); got != "https://example.com:8443" {
		t.Errorf("origin = %q", got)
	}
	if got := origin("not a url"); got != "" {
		t.Errorf("origin of garbage = %q", got)
	}
}

func TestPruneBoilerplate(t *testing.T) {
	html := `<html><head><title> Release notes </title><script>var x=1</script></head><body>
<nav class="menu"><a href="/">Home</a> <a href="/blog">Blog</a> <a href="/about">About</a></nav>
<main><p>Version 2.0 ships a new scheduler and drops support for the legacy config format.</p></main>
<footer id="footer"><a href="/privacy">Privacy</a></footer>
</body></html>`

	content, title := pruneBoilerplate(html)
	if title != "Release notes" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(content, "new scheduler") {
		t.Errorf("main content dropped:\n%s", content)
	}
	if strings.Contains(content, "Privacy") || strings.Contains(content, "/blog") {
		t.Errorf("boilerplate kept:\n%s", content)
	}
}

func TestPruneBoilerplate_NoQualifyingBlock(t *testing.T) {
	content, _ := pruneBoilerplate(`<html><body><nav><a href="/">Home</a></nav></body></html>`)
	if !strings.Contains(content, "Home") {
		t.Errorf("expected whole body fallback, got %q", content)
	}
}
