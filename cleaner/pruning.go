package cleaner

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Block scoring weights. A top-level body block is kept when its weighted
// score is above zero.
const (
	wTextDensity = 3.0
	wLinkDensity = -2.0
	wTag         = 1.5
	wClassID     = 1.0
	wTextLength  = 0.5
)

var contentHints = []string{
	"content", "article", "post", "entry", "body", "main", "text", "readme", "markdown",
}

var boilerplateHints = []string{
	"sidebar", "ad", "widget", "nav", "menu", "footer", "header", "banner",
	"popup", "modal", "cookie", "social", "share", "related", "promo", "toolbar",
}

// pruneBoilerplate keeps the body blocks that look like page content and
// drops navigation, footers and similar chrome. It also reports the
// document <title>. The whole body is returned when no block qualifies.
func pruneBoilerplate(rawHTML string) (content, title string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML, ""
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())

	body := doc.Find("body")
	if body.Length() == 0 {
		return rawHTML, title
	}
	body.Find("script, style, noscript, template").Remove()

	var kept []string
	body.Children().Each(func(_ int, el *goquery.Selection) {
		if blockScore(el) <= 0 {
			return
		}
		if html, err := goquery.OuterHtml(el); err == nil {
			kept = append(kept, html)
		}
	})

	if len(kept) == 0 {
		html, err := body.Html()
		if err != nil {
			return rawHTML, title
		}
		return html, title
	}
	return strings.Join(kept, "\n"), title
}

func blockScore(el *goquery.Selection) float64 {
	outer, err := goquery.OuterHtml(el)
	if err != nil || outer == "" {
		return 0
	}

	text := strings.TrimSpace(el.Text())
	textLen := len(text)

	linkLen := 0
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkLen += len(strings.TrimSpace(a.Text()))
	})

	textDensity := float64(textLen) / float64(len(outer))
	linkDensity := 0.0
	if textLen > 0 {
		linkDensity = float64(linkLen) / float64(textLen)
	}

	return textDensity*wTextDensity +
		linkDensity*wLinkDensity +
		tagScore(el)*wTag +
		classIDScore(el)*wClassID +
		math.Log10(float64(textLen)+1)*wTextLength
}

func tagScore(el *goquery.Selection) float64 {
	switch goquery.NodeName(el) {
	case "article", "main", "section":
		return 5
	case "nav", "footer", "aside", "header":
		return -5
	}
	return 0
}

// classIDScore counts at most one hint in each direction.
func classIDScore(el *goquery.Selection) float64 {
	class, _ := el.Attr("class")
	id, _ := el.Attr("id")
	attrs := strings.ToLower(class + " " + id)

	score := 0.0
	for _, h := range contentHints {
		if strings.Contains(attrs, h) {
			score += 3
			break
		}
	}
	for _, h := range boilerplateHints {
		if strings.Contains(attrs, h) {
			score -= 3
			break
		}
	}
	return score
}
