package artifact

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/use-agent/glance/models"
)

const (
	issuesHeader = "Issues:"
	pullsHeader  = "Pull Requests:"
	noIssues     = "No issues found."
	noPulls      = "No pull requests found."
)

// MarshalResults renders r as JSON with a 4-space indent. Nil lists are
// written as empty arrays.
func MarshalResults(r models.ScrapeResult) ([]byte, error) {
	if r.Issues == nil {
		r.Issues = []string{}
	}
	if r.PRs == nil {
		r.PRs = []string{}
	}
	return json.MarshalIndent(r, "", "    ")
}

// RenderText renders r in the flattened text form:
//
//	Issues:
//	<one title per line, or "No issues found.">
//
//	Pull Requests:
//	<one title per line, or "No pull requests found.">
func RenderText(r models.ScrapeResult) string {
	var sb strings.Builder
	writeSection(&sb, issuesHeader, noIssues, r.Issues)
	sb.WriteString("\n")
	writeSection(&sb, pullsHeader, noPulls, r.PRs)
	return sb.String()
}

func writeSection(sb *strings.Builder, header, none string, titles []string) {
	sb.WriteString(header + "\n")
	if len(titles) == 0 {
		sb.WriteString(none + "\n")
		return
	}
	for _, t := range titles {
		sb.WriteString(t + "\n")
	}
}

// ParseText reverses RenderText. Titles never contain newlines and are never
// blank, so the blank line before the pull request header is unambiguous.
//
// The text form is lossy in one case: a section holding the single title
// "No issues found." (or "No pull requests found.") renders the same as an
// empty section and parses back empty. ReadResults uses the JSON twin and
// has no such collision.
func ParseText(text string) (models.ScrapeResult, error) {
	res := models.ScrapeResult{Issues: []string{}, PRs: []string{}}

	body, ok := strings.CutPrefix(text, issuesHeader+"\n")
	if !ok {
		return res, models.NewFetchError(models.ErrCodeInvalidInput, "missing issues header", nil)
	}
	issuesPart, pullsPart, ok := strings.Cut(body, "\n\n"+pullsHeader+"\n")
	if !ok {
		return res, models.NewFetchError(models.ErrCodeInvalidInput, "missing pull requests header", nil)
	}

	res.Issues = parseSection(issuesPart, noIssues)
	res.PRs = parseSection(pullsPart, noPulls)
	return res, nil
}

func parseSection(part, none string) []string {
	titles := []string{}
	for _, line := range strings.Split(part, "\n") {
		if line == "" {
			continue
		}
		titles = append(titles, line)
	}
	if len(titles) == 1 && titles[0] == none {
		return []string{}
	}
	return titles
}

// WriteResults persists r as {base}_results_{ts}.json and a .txt twin with
// the same stem.
func (s *Store) WriteResults(base string, r models.ScrapeResult) ([]models.Artifact, error) {
	js, err := MarshalResults(r)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeCapture, "failed to encode results", err)
	}
	return s.writeSet(models.ArtifactResults, base,
		[]string{".json", ".txt"},
		[][]byte{js, []byte(RenderText(r))},
	)
}

// ReadResults loads a results record from its JSON file and checks that the
// .txt twin with the same stem agrees with it.
func ReadResults(jsonPath string) (models.ScrapeResult, error) {
	var res models.ScrapeResult
	js, err := os.ReadFile(jsonPath)
	if err != nil {
		return res, models.NewFetchError(models.ErrCodeInvalidInput, "failed to read results "+jsonPath, err)
	}
	if err := json.Unmarshal(js, &res); err != nil {
		return res, models.NewFetchError(models.ErrCodeInvalidInput, "failed to decode results "+jsonPath, err)
	}
	if res.Issues == nil {
		res.Issues = []string{}
	}
	if res.PRs == nil {
		res.PRs = []string{}
	}

	textPath := strings.TrimSuffix(jsonPath, ".json") + ".txt"
	text, err := os.ReadFile(textPath)
	if err != nil {
		return res, models.NewFetchError(models.ErrCodeInvalidInput, "failed to read results "+textPath, err)
	}
	if !bytes.Equal(text, []byte(RenderText(res))) {
		return res, models.NewFetchError(models.ErrCodeInvalidInput, "results text does not match "+jsonPath, nil)
	}
	return res, nil
}
