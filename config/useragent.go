package config

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
)

// DefaultUserAgent is used when no user-agent file is readable.
const DefaultUserAgent = "Mozilla/5.0 (Linux; Android 10; SM-G975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/88.0.4324.93 Mobile Safari/537.36"

// ResolveUserAgent returns the trimmed first line of the file at path.
// A missing, unreadable or blank-first-line file yields DefaultUserAgent.
func ResolveUserAgent(logger *slog.Logger, path string) string {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("user agent file unavailable, using default", "path", path, "error", err)
		return DefaultUserAgent
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			logger.Warn("user agent file unreadable, using default", "path", path, "error", err)
		} else {
			logger.Warn("user agent file is empty, using default", "path", path)
		}
		return DefaultUserAgent
	}

	ua := strings.TrimSpace(sc.Text())
	if ua == "" {
		logger.Warn("user agent file has an empty first line, using default", "path", path)
		return DefaultUserAgent
	}
	return ua
}

// UserAgent resolves the user agent for c: the explicit value wins over the file.
func (c *Config) UserAgent(logger *slog.Logger) string {
	if c.Session.UserAgent != "" {
		return c.Session.UserAgent
	}
	return ResolveUserAgent(logger, c.Session.UserAgentFile)
}
