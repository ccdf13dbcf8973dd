package models

import "time"

// ArtifactKind names the kind of file a task writes.
type ArtifactKind string

const (
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactVideo      ArtifactKind = "video"
	ArtifactResults    ArtifactKind = "results"
	ArtifactPage       ArtifactKind = "page"
)

// Artifact is a file persisted by a fetch task. Write-once.
type Artifact struct {
	Kind  ArtifactKind `json:"kind"`
	Path  string       `json:"path"`
	Page  string       `json:"page,omitempty"`
	Bytes int64        `json:"bytes"`
}

// ScrapeResult is the extracted issue and pull request titles of a repository.
type ScrapeResult struct {
	Issues []string `json:"issues"`
	PRs    []string `json:"prs"`
}

// Empty reports whether neither list holds a title.
func (r ScrapeResult) Empty() bool {
	return len(r.Issues) == 0 && len(r.PRs) == 0
}

// TaskState is a step of the fetch task lifecycle.
type TaskState string

const (
	StateIdle          TaskState = "idle"
	StateSessionOpen   TaskState = "session_open"
	StateNavigated     TaskState = "navigated"
	StateInteracted    TaskState = "interacted"
	StateCaptured      TaskState = "captured"
	StateFailed        TaskState = "failed"
	StateSessionClosed TaskState = "session_closed"
	StateDone          TaskState = "done"
)

// PageStatus records how a single page load went.
type PageStatus struct {
	Label      string `json:"label,omitempty"`
	URL        string `json:"url"`
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
	OK         bool   `json:"ok"`
}

// Outcome is the result of one fetch task.
type Outcome struct {
	Target    Target        `json:"target"`
	Artifacts []Artifact    `json:"artifacts"`
	Pages     []PageStatus  `json:"pages"`
	Result    *ScrapeResult `json:"result,omitempty"`
	States    []TaskState   `json:"states"`
	Err       *FetchError   `json:"-"`
	Duration  time.Duration `json:"-"`
}

// Success reports whether the task finished without a fatal error.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Report summarises a whole run. Outcomes are in target order.
type Report struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Duration  time.Duration
}
