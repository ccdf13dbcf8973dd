package models

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string      `json:"status"`
	Uptime      string      `json:"uptime"`
	Engine      string      `json:"engine"`
	RunnerStats RunnerStats `json:"runner"`
	Version     string      `json:"version"`
}

// RunnerStats is a snapshot of task concurrency.
type RunnerStats struct {
	Concurrency int `json:"concurrency"`
	ActiveTasks int `json:"active_tasks"`
}

// APIError wraps an ErrorDetail for JSON error bodies.
type APIError struct {
	Error *ErrorDetail `json:"error"`
}
