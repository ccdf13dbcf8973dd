package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum TextContent length (in characters) for
// readability output to be considered valid.
const minContentLength = 50

// ExtractContent runs the Mozilla Readability algorithm on rawHTML.
//
// Fallback behaviour (a snapshot is still written when readability chokes):
//   - If URL parsing fails          → pruned body in Content
//   - If readability.FromReader errs → pruned body in Content
//   - If extracted TextContent < 50  → pruned body in Content
//
// The boolean result reports whether readability succeeded.
func ExtractContent(logger *slog.Logger, rawHTML string, sourceURL string) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		logger.Warn("readability: invalid source URL, falling back to pruned body",
			"url", sourceURL, "error", err,
		)
		return fallbackArticle(rawHTML), false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		logger.Warn("readability: extraction failed, falling back to pruned body",
			"url", sourceURL, "error", err,
		)
		return fallbackArticle(rawHTML), false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		logger.Debug("readability: extracted content too short, falling back to pruned body",
			"url", sourceURL, "length", len(article.TextContent),
		)
		return fallbackArticle(rawHTML), false
	}

	return article, true
}

func fallbackArticle(rawHTML string) readability.Article {
	content, title := pruneBoilerplate(rawHTML)
	return readability.Article{
		Title:   title,
		Content: content,
	}
}
