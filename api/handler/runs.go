package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/glance/models"
	"github.com/use-agent/glance/targets"
	"github.com/use-agent/glance/webhook"
)

// runTTL is how long finished and in-flight runs stay queryable.
const runTTL = time.Hour

// RunService executes targets in the background. runner.Service satisfies it.
type RunService interface {
	Run(ctx context.Context, targets []models.Target, overrides models.RunOptions, onDone func(int, models.Outcome)) models.Report
	Check(overrides models.RunOptions) error
	Stats() models.RunnerStats
	Engine() string
}

// runStore holds all in-flight and completed runs.
var runStore sync.Map

func init() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			expireRuns(time.Now().Add(-runTTL))
		}
	}()
}

func expireRuns(cutoff time.Time) {
	runStore.Range(func(key, value any) bool {
		if value.(*runJob).createdAt.Before(cutoff) {
			runStore.Delete(key)
		}
		return true
	})
}

type runJob struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	status    string
	completed int
	results   []*models.TargetResult
}

func (j *runJob) record(idx int, o models.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[idx] = models.NewTargetResult(o)
	j.completed++
}

func (j *runJob) finish(report models.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case report.Failed > 0 && report.Failed == len(report.Outcomes):
		j.status = models.RunFailed
	case report.Failed > 0:
		j.status = models.RunPartial
	default:
		j.status = models.RunCompleted
	}
}

func (j *runJob) snapshot() models.RunStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	results := make([]*models.TargetResult, 0, len(j.results))
	for _, r := range j.results {
		if r != nil {
			results = append(results, r)
		}
	}
	return models.RunStatusResponse{
		ID:        j.id,
		Status:    j.status,
		Completed: j.completed,
		Total:     len(j.results),
		Results:   results,
	}
}

// PostRun returns a handler for POST /api/v1/runs.
// It validates the request, registers the run and executes it in the
// background under ctx, which the server cancels on shutdown.
func PostRun(ctx context.Context, svc RunService, maxTargets int, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "invalid request: "+err.Error())
			return
		}

		if maxTargets > 0 && len(req.Targets) > maxTargets {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput,
				fmt.Sprintf("maximum %d targets per run", maxTargets))
			return
		}
		if req.Options.Interaction == string(models.InteractSearch) && req.Options.SearchQuery == "" {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "search interaction requires search_query")
			return
		}
		if err := svc.Check(req.Options); err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error())
			return
		}

		parsed := make([]models.Target, 0, len(req.Targets))
		for _, id := range req.Targets {
			t, err := targets.Parse(id)
			if err != nil {
				respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error())
				return
			}
			parsed = append(parsed, t)
		}

		job := &runJob{
			id:        "run-" + uuid.NewString(),
			createdAt: time.Now(),
			status:    models.RunProcessing,
			results:   make([]*models.TargetResult, len(parsed)),
		}
		runStore.Store(job.id, job)

		go executeRun(ctx, svc, job, parsed, req, logger.With("run_id", job.id))

		c.JSON(http.StatusOK, models.RunResponse{
			ID:     job.id,
			Status: models.RunProcessing,
			Total:  len(parsed),
		})
	}
}

// GetRun returns a handler for GET /api/v1/runs/:id.
func GetRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := runStore.Load(c.Param("id"))
		if !ok {
			respondError(c, http.StatusNotFound, models.ErrCodeInvalidInput, "run not found")
			return
		}
		c.JSON(http.StatusOK, val.(*runJob).snapshot())
	}
}

func executeRun(ctx context.Context, svc RunService, job *runJob, parsed []models.Target, req models.RunRequest, logger *slog.Logger) {
	report := svc.Run(ctx, parsed, req.Options, job.record)
	job.finish(report)

	snap := job.snapshot()
	logger.Info("run job finished",
		"status", snap.Status,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"total", snap.Total,
	)

	if req.WebhookURL != "" {
		webhook.DeliverAsync(logger, req.WebhookURL, req.WebhookSecret, &webhook.Event{
			Type:      webhook.EventRunCompleted,
			RunID:     job.id,
			Timestamp: time.Now().Unix(),
			Data:      snap,
		})
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.APIError{
		Error: &models.ErrorDetail{Code: code, Message: message},
	})
}
