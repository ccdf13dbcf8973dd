package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/models"
)

func main() {
	apiURL := os.Getenv("GLANCE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("GLANCE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GLANCE_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"glance",
		config.Version,
		server.WithToolCapabilities(false),
	)

	captureTool := mcp.NewTool("capture_targets",
		mcp.WithDescription("Open each target in an isolated headless browser session and capture screenshots, optional video, issue/PR titles for owner/repo targets, and Markdown page snapshots. Waits for the run to finish and lists the artifacts written."),
		mcp.WithArray("targets",
			mcp.Required(),
			mcp.Description("Targets: 'owner/repo' for GitHub repositories, or page URLs"),
		),
		mcp.WithBoolean("video",
			mcp.Description("Record a short video of each page (default: server setting)"),
		),
		mcp.WithBoolean("markdown",
			mcp.Description("Write a Markdown snapshot of each page (default: server setting)"),
		),
		mcp.WithString("extract",
			mcp.Description("Title extraction: 'auto' (GitHub targets only), 'on' or 'off'"),
			mcp.Enum("auto", "on", "off"),
		),
		mcp.WithString("interaction",
			mcp.Description("Interaction after load: 'none', 'scroll', 'search' or 'reload'"),
			mcp.Enum("none", "scroll", "search", "reload"),
		),
		mcp.WithString("search_selector",
			mcp.Description("CSS selector of the search input for the 'search' interaction"),
		),
		mcp.WithString("search_query",
			mcp.Description("Query typed into the search input"),
		),
		mcp.WithString("locale",
			mcp.Description("Browser locale, e.g. 'pt-BR'"),
		),
	)
	s.AddTool(captureTool, handleCaptureTargets(apiURL, apiKey))

	statusTool := mcp.NewTool("run_status",
		mcp.WithDescription("Fetch the current status and results of a capture run by ID."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Run ID returned by capture_targets"),
		),
	)
	s.AddTool(statusTool, handleRunStatus(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the Glance API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// apiGet sends a GET request to the Glance API and returns the response body.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a run endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string, interval time.Duration) ([]byte, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiGet(ctx, client, apiURL, apiKey, endpoint)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			// Quick check if still processing.
			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != models.RunProcessing {
				return body, nil
			}
		}
	}
}

func handleCaptureTargets(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		targets, err := request.RequireStringSlice("targets")
		if err != nil {
			return mcp.NewToolResultError("targets is required and must be an array of strings"), nil
		}

		payload := models.RunRequest{
			Targets: targets,
			Options: buildOptions(request),
		}

		// POST to create the run.
		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/runs", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run request failed: %v", err)), nil
		}

		var runResp struct {
			models.RunResponse
			Error *models.ErrorDetail `json:"error"`
		}
		if err := json.Unmarshal(respBody, &runResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse run response: %v", err)), nil
		}
		if runResp.ID == "" {
			msg := "run creation failed"
			if runResp.Error != nil {
				msg = fmt.Sprintf("[%s] %s", runResp.Error.Code, runResp.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}

		// Poll for completion.
		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/runs/"+runResp.ID, 2*time.Second)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling run %s failed: %v", runResp.ID, err)), nil
		}

		var status models.RunStatusResponse
		if err := json.Unmarshal(resultBody, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse run status: %v", err)), nil
		}
		return mcp.NewToolResultText(formatRunStatus(status)), nil
	}
}

func handleRunStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/runs/"+id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status request failed: %v", err)), nil
		}

		var status struct {
			models.RunStatusResponse
			Error *models.ErrorDetail `json:"error"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse run status: %v", err)), nil
		}
		if status.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", status.Error.Code, status.Error.Message)), nil
		}
		return mcp.NewToolResultText(formatRunStatus(status.RunStatusResponse)), nil
	}
}

func buildOptions(request mcp.CallToolRequest) models.RunOptions {
	var opts models.RunOptions
	args := request.GetArguments()
	if _, ok := args["video"]; ok {
		v := request.GetBool("video", false)
		opts.Video = &v
	}
	if _, ok := args["markdown"]; ok {
		v := request.GetBool("markdown", false)
		opts.Markdown = &v
	}
	opts.Extract = request.GetString("extract", "")
	opts.Interaction = request.GetString("interaction", "")
	opts.SearchSelector = request.GetString("search_selector", "")
	opts.SearchQuery = request.GetString("search_query", "")
	opts.Locale = request.GetString("locale", "")
	return opts
}

func formatRunStatus(status models.RunStatusResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s: %s (%d/%d completed)\n\n", status.ID, status.Status, status.Completed, status.Total)

	for i, r := range status.Results {
		if r == nil {
			continue
		}
		if !r.Success {
			msg := "unknown error"
			if r.Error != nil {
				msg = fmt.Sprintf("[%s] %s", r.Error.Code, r.Error.Message)
			}
			fmt.Fprintf(&sb, "--- [%d] %s FAILED: %s ---\n\n", i+1, r.Target, msg)
			continue
		}

		fmt.Fprintf(&sb, "--- [%d] %s ---\n", i+1, r.Target)
		for _, a := range r.Artifacts {
			fmt.Fprintf(&sb, "%s: %s\n", a.Kind, a.Path)
		}
		if r.Result != nil {
			fmt.Fprintf(&sb, "Issues: %d, Pull Requests: %d\n", len(r.Result.Issues), len(r.Result.PRs))
			for _, title := range r.Result.Issues {
				fmt.Fprintf(&sb, "  issue: %s\n", title)
			}
			for _, title := range r.Result.PRs {
				fmt.Fprintf(&sb, "  pr: %s\n", title)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
