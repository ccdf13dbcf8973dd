package cleaner

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/use-agent/glance/models"
)

// Cleaner turns rendered pages into Markdown snapshots. The converter is
// created once and shared across tasks (goroutine-safe).
type Cleaner struct {
	mdConverter *converter.Converter
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown converter.
func NewCleaner() *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
	}
}

// Snapshot renders the main content of a page as Markdown.
//
// Flow:
//  1. go-readability extracts the main content (raw HTML on fallback).
//  2. html-to-markdown converts it, resolving links against the page origin.
//  3. A title heading and source line are prepended.
func (c *Cleaner) Snapshot(logger *slog.Logger, rawHTML, pageURL string) (string, error) {
	// ── 1. Content extraction ───────────────────────────────────────
	article, _ := ExtractContent(logger, rawHTML, pageURL)

	// ── 2. Markdown conversion ──────────────────────────────────────
	md, err := ToMarkdown(c.mdConverter, article.Content, origin(pageURL))
	if err != nil {
		return "", models.NewFetchError(models.ErrCodeExtraction, "markdown conversion failed", err)
	}

	// ── 3. Header ───────────────────────────────────────────────────
	var sb strings.Builder
	if article.Title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", article.Title)
	}
	fmt.Fprintf(&sb, "Source: %s\n\n", pageURL)
	sb.WriteString(strings.TrimSpace(md))
	sb.WriteString("\n")
	return sb.String(), nil
}

func origin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
