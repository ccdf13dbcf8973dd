package models

// RunRequest is the payload for POST /api/v1/runs.
type RunRequest struct {
	// Targets holds "owner/repo" identifiers or URLs. Required.
	Targets []string `json:"targets" binding:"required,min=1"`

	// Options override the server's capture defaults for this run.
	Options RunOptions `json:"options"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// RunOptions are per-run overrides. Unset fields keep the server defaults.
type RunOptions struct {
	Screenshot     *bool  `json:"screenshot,omitempty"`
	FullPage       *bool  `json:"full_page,omitempty"`
	Video          *bool  `json:"video,omitempty"`
	Markdown       *bool  `json:"markdown,omitempty"`
	Extract        string `json:"extract,omitempty" binding:"omitempty,oneof=auto on off"`
	TitleSelector  string `json:"title_selector,omitempty"`
	Interaction    string `json:"interaction,omitempty" binding:"omitempty,oneof=none scroll search reload"`
	SearchSelector string `json:"search_selector,omitempty"`
	SearchQuery    string `json:"search_query,omitempty"`
	Wait           string `json:"wait,omitempty" binding:"omitempty,oneof=load networkidle selector"`
	WaitSelector   string `json:"wait_selector,omitempty"`
	Locale         string `json:"locale,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

// RunResponse is the immediate response for POST /api/v1/runs.
type RunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// TargetResult is the API view of one Outcome.
type TargetResult struct {
	Target     string        `json:"target"`
	Success    bool          `json:"success"`
	Artifacts  []Artifact    `json:"artifacts"`
	Pages      []PageStatus  `json:"pages,omitempty"`
	Result     *ScrapeResult `json:"result,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Error      *ErrorDetail  `json:"error,omitempty"`
}

// NewTargetResult converts an Outcome for API responses and webhooks.
func NewTargetResult(o Outcome) *TargetResult {
	return &TargetResult{
		Target:     o.Target.Name,
		Success:    o.Success(),
		Artifacts:  o.Artifacts,
		Pages:      o.Pages,
		Result:     o.Result,
		DurationMs: o.Duration.Milliseconds(),
		Error:      o.Err.ToDetail(),
	}
}

// RunStatusResponse is the response for GET /api/v1/runs/:id.
type RunStatusResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Results   []*TargetResult `json:"results,omitempty"`
}

// Run statuses.
const (
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunPartial    = "partial"
	RunFailed     = "failed"
)
