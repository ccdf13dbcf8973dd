// Package targets turns repository identifiers and URLs into fetch targets.
package targets

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/use-agent/glance/models"
)

// Source names where identifiers come from. List wins over File when non-empty.
type Source struct {
	List []string
	File string
}

// repoPattern matches "owner/repo" forge identifiers.
var repoPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})/[A-Za-z0-9._-]+$`)

// GitHubURLs returns the issues and pull request list URLs for "owner/repo".
func GitHubURLs(repo string) (issues, pulls string) {
	base := "https://github.com/" + repo
	return base + "/issues", base + "/pulls"
}

// ReadLines returns the trimmed non-blank lines of path, skipping "#" comments.
// A missing file or one without usable lines is a configuration error.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeConfig, "failed to open targets file "+path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, models.NewFetchError(models.ErrCodeConfig, "failed to read targets file "+path, err)
	}
	if len(lines) == 0 {
		return nil, models.NewFetchError(models.ErrCodeConfig, "targets file "+path+" is empty", nil)
	}
	return lines, nil
}

// Parse classifies a single identifier.
//
//	https://host/path  -> url target
//	owner/repo         -> github target (issues + pulls pages)
//	host.tld[/path]    -> url target with https:// prepended
func Parse(identifier string) (models.Target, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return models.Target{}, models.NewFetchError(models.ErrCodeInvalidInput, "empty target", nil)
	}

	if strings.Contains(id, "://") {
		return parseURL(id)
	}

	if repoPattern.MatchString(id) && !looksLikeHost(id) {
		issues, pulls := GitHubURLs(id)
		return models.Target{
			Name: id,
			Kind: models.TargetGitHub,
			Pages: []models.Page{
				{Label: models.PageIssues, URL: issues},
				{Label: models.PagePulls, URL: pulls},
			},
		}, nil
	}

	return parseURL("https://" + id)
}

func parseURL(raw string) (models.Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return models.Target{}, models.NewFetchError(models.ErrCodeInvalidInput, "invalid target URL "+raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.Target{}, models.NewFetchError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported scheme %q in %s", u.Scheme, raw), nil)
	}
	if u.Host == "" {
		return models.Target{}, models.NewFetchError(models.ErrCodeInvalidInput, "target URL has no host: "+raw, nil)
	}

	name := u.Host + strings.TrimSuffix(u.Path, "/")
	return models.Target{
		Name:  name,
		Kind:  models.TargetURL,
		Pages: []models.Page{{URL: u.String()}},
	}, nil
}

// looksLikeHost reports whether the part before the slash is a dotted host name,
// so "example.com/docs" is not mistaken for a repository.
func looksLikeHost(id string) bool {
	owner, _, _ := strings.Cut(id, "/")
	return strings.Contains(owner, ".")
}

// Enumerate builds the ordered targets for a run. Read failures are logged
// and yield an empty slice; unparseable identifiers are logged and skipped.
func Enumerate(logger *slog.Logger, src Source) []models.Target {
	ids := src.List
	if len(ids) == 0 {
		lines, err := ReadLines(src.File)
		if err != nil {
			logger.Error("no targets to process", "file", src.File, "error", err)
			return []models.Target{}
		}
		ids = lines
	}

	targets := make([]models.Target, 0, len(ids))
	for _, id := range ids {
		t, err := Parse(id)
		if err != nil {
			logger.Error("skipping invalid target", "target", id, "error", err)
			continue
		}
		targets = append(targets, t)
	}
	logger.Info("targets enumerated", "count", len(targets))
	return targets
}
