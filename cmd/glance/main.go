// Command glance captures screenshots, video, issue and pull request titles
// and Markdown snapshots for a list of targets, one browser session each.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/use-agent/glance/artifact"
	"github.com/use-agent/glance/cleaner"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/engine"
	"github.com/use-agent/glance/models"
	"github.com/use-agent/glance/runner"
	"github.com/use-agent/glance/targets"
	"github.com/use-agent/glance/task"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliFlags struct {
	targets     string
	list        string
	profile     string
	engine      string
	concurrency int
	output      string
	video       bool
	markdown    bool
	version     bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("glance", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &cliFlags{}
	fs.StringVar(&f.targets, "t", "", "comma-separated targets (owner/repo or URL); overrides -l")
	fs.StringVar(&f.list, "l", "", "file with one target per line")
	fs.StringVar(&f.profile, "profile", "", "named profile from the profiles file")
	fs.StringVar(&f.engine, "engine", "", "browser engine: rod, playwright or http")
	fs.IntVar(&f.concurrency, "c", 0, "number of targets processed at once")
	fs.StringVar(&f.output, "o", "", "output directory")
	fs.BoolVar(&f.video, "video", false, "record a video of each page")
	fs.BoolVar(&f.markdown, "markdown", false, "write a Markdown snapshot of each page")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return f, fs, nil
}

// apply overlays explicitly set flags onto cfg.
func (f *cliFlags) apply(fs *flag.FlagSet, cfg *config.Config) error {
	if f.profile != "" {
		if err := cfg.ApplyProfile(f.profile); err != nil {
			return err
		}
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if f.targets != "" {
		var list []string
		for _, t := range strings.Split(f.targets, ",") {
			if t = strings.TrimSpace(t); t != "" {
				list = append(list, t)
			}
		}
		cfg.Targets.List = list
	}
	if f.list != "" {
		cfg.Targets.File = f.list
		if f.targets == "" {
			cfg.Targets.List = nil
		}
	}
	if f.engine != "" {
		cfg.Browser.Engine = f.engine
	}
	if f.concurrency > 0 {
		cfg.Run.Concurrency = f.concurrency
	}
	if f.output != "" {
		cfg.Output.Dir = f.output
	}
	if set["video"] {
		cfg.Capture.Video = f.video
	}
	if set["markdown"] {
		cfg.Capture.Markdown = f.markdown
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// ── 1. Flags and configuration ──────────────────────────────────
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if f.version {
		fmt.Fprintf(stdout, "glance %s\n", config.Version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	if err := f.apply(fs, cfg); err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}

	logger := config.NewLogger(cfg.Log, stderr)
	logger.Info("glance starting",
		"engine", cfg.Browser.Engine,
		"concurrency", cfg.Run.Concurrency,
		"output", cfg.Output.Dir,
		"profile", cfg.Profile,
	)
	config.WarnVideoFormat(logger, cfg)

	// ── 2. Targets ──────────────────────────────────────────────────
	list := targets.Enumerate(logger, targets.Source{List: cfg.Targets.List, File: cfg.Targets.File})
	if len(list) == 0 {
		logger.Error("no targets to process")
		return 1
	}

	// ── 3. Browser ──────────────────────────────────────────────────
	driver, err := engine.New(cfg.Browser, logger)
	if err != nil {
		logger.Error("failed to launch browser", "engine", cfg.Browser.Engine, "error", err)
		return 1
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("browser close failed", "error", err)
		}
	}()

	// ── 4. Run ──────────────────────────────────────────────────────
	store := artifact.NewStore(cfg.Output.Dir, cfg.Output.SplitByKind, artifact.NewNamer())
	tk := task.New(driver, store, cfg.SessionOptions(cfg.UserAgent(logger)), cfg.CaptureOptions(), cleaner.NewCleaner())
	r := runner.New(tk, runner.Options{
		Concurrency:   cfg.Run.Concurrency,
		RatePerSecond: cfg.Run.RatePerSec,
		TaskTimeout:   cfg.Run.TaskTimeout,
	}, logger)

	report := r.Run(ctx, list, nil)

	// ── 5. Summary ──────────────────────────────────────────────────
	printSummary(stdout, report)
	return 0
}

func printSummary(w io.Writer, report models.Report) {
	fmt.Fprintf(w, "\n%d targets: %d succeeded, %d failed (%s)\n",
		len(report.Outcomes), report.Succeeded, report.Failed, report.Duration.Round(time.Millisecond))
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "  FAIL %s: %s\n", o.Target.Name, o.Err.Message)
			continue
		}
		fmt.Fprintf(w, "  OK   %s\n", o.Target.Name)
		for _, a := range o.Artifacts {
			fmt.Fprintf(w, "         %s\n", a.Path)
		}
	}
}
