package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/use-agent/glance/config"
)

// isolate points every file-based setting at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GLANCE_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("GLANCE_USER_AGENT_FILE", filepath.Join(dir, "missing-ua.txt"))
	t.Setenv("GLANCE_TARGETS_FILE", filepath.Join(dir, "missing-repos.txt"))
	t.Setenv("GLANCE_PROFILES_FILE", filepath.Join("..", "..", "config", "profiles.yaml"))
	t.Setenv("GLANCE_PROFILE", "")
	t.Setenv("GLANCE_TARGETS", "")
	return dir
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stdout.String(), config.Version) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no targets", []string{"-engine", "http"}},
		{"unknown engine", []string{"-engine", "netscape", "-t", "example.com"}},
		{"unknown profile", []string{"-profile", "nope", "-t", "example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != 1 {
				t.Errorf("exit = %d, want 1; stderr=%s", code, stderr.String())
			}
		})
	}
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
}

func TestRun_HTTPEngineEndToEnd(t *testing.T) {
	dir := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Library</title></head><body><article><h1>Library</h1><p>Opening hours are nine to five on weekdays.</p></article></body></html>`)
	}))
	defer srv.Close()

	out := filepath.Join(dir, "reports")
	args := []string{"-t", srv.URL, "-engine", "http", "-o", out, "-markdown"}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "1 succeeded, 0 failed") {
		t.Errorf("summary = %q", stdout.String())
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	var md int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".md" {
			md++
		}
	}
	if md != 1 {
		t.Errorf("markdown files = %d, want 1 (entries: %v)", md, entries)
	}
	if !strings.Contains(stderr.String(), "level=WARN") {
		t.Error("expected warnings for the missing user agent file and unsupported screenshot")
	}
}

func TestCLIFlags_TargetListSplitting(t *testing.T) {
	isolate(t)
	f, fs, err := parseFlags([]string{"-t", " octocat/Hello-World, ,example.com ", "-c", "4", "-video"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.apply(fs, cfg); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(cfg.Targets.List, "|"); got != "octocat/Hello-World|example.com" {
		t.Errorf("targets = %q", got)
	}
	if cfg.Run.Concurrency != 4 || !cfg.Capture.Video {
		t.Errorf("cfg = %+v %+v", cfg.Run, cfg.Capture)
	}
}
