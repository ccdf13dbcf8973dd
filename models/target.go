package models

// TargetKind distinguishes forge repositories from plain page URLs.
type TargetKind string

const (
	TargetURL    TargetKind = "url"
	TargetGitHub TargetKind = "github"
)

// Page labels used for forge repository targets.
const (
	PageIssues = "issues"
	PagePulls  = "prs"
)

// Page is a single URL belonging to a target.
type Page struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// Target is one unit of work. It is immutable once enumerated.
type Target struct {
	// Name is the identifier as given ("owner/repo" or the URL host+path).
	Name  string     `json:"name"`
	Kind  TargetKind `json:"kind"`
	Pages []Page     `json:"pages"`
}
