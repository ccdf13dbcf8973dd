// Package artifact names and persists the files produced by fetch tasks.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/glance/models"
)

// TimestampLayout is the second-granularity timestamp embedded in file names.
const TimestampLayout = "2006-01-02_15-04-05"

// Namer issues artifact path stems that are unique for the life of the process.
// Two requests for the same stem in the same second get "-2", "-3", ... suffixes.
type Namer struct {
	mu     sync.Mutex
	now    func() time.Time
	issued map[string]int
}

// NewNamer returns a Namer using the wall clock.
func NewNamer() *Namer {
	return NewNamerWithClock(time.Now)
}

// NewNamerWithClock returns a Namer reading time from now.
func NewNamerWithClock(now func() time.Time) *Namer {
	return &Namer{now: now, issued: make(map[string]int)}
}

// Next returns dir/{base}_{kind}_{timestamp}[-N] without an extension.
func (n *Namer) Next(dir, base string, kind models.ArtifactKind) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	stem := fmt.Sprintf("%s_%s_%s", base, kind, n.now().Format(TimestampLayout))
	key := filepath.Join(dir, stem)
	n.issued[key]++
	if c := n.issued[key]; c > 1 {
		key = fmt.Sprintf("%s-%d", key, c)
	}
	return key
}

// Sanitize turns a target name into a file-name-safe fragment:
// every rune outside [A-Za-z0-9._-] becomes "_", runs are collapsed and
// leading or trailing underscores trimmed.
func Sanitize(name string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range name {
		ok := r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		sb.WriteRune(r)
	}
	s := strings.Trim(sb.String(), "_.")
	if s == "" {
		return "target"
	}
	return s
}

// BaseName is the file name prefix for one page of a target.
func BaseName(target models.Target, page models.Page) string {
	base := Sanitize(target.Name)
	if page.Label != "" {
		base += "_" + Sanitize(page.Label)
	}
	return base
}
