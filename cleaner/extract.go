package cleaner

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/glance/models"
)

// ErrNoMatch is returned when the selector matched no element with text.
var ErrNoMatch = errors.New("selector matched no elements")

// ExtractTitles returns the trimmed, non-empty text of every element
// matching selector, in document order. The result is never nil.
func ExtractTitles(rawHTML, selector string) ([]string, error) {
	titles := []string{}

	sel, err := CompileSelector(selector)
	if err != nil {
		return titles, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return titles, models.NewFetchError(models.ErrCodeExtraction, "failed to parse page HTML", err)
	}

	doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			titles = append(titles, text)
		}
	})

	if len(titles) == 0 {
		return titles, ErrNoMatch
	}
	return titles, nil
}
