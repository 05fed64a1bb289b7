// Package tasks provides the task-tracker collaborator (Vikunja-compatible
// REST API) used for dynamic step options and task resolutions.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/taliahq/talia/internal/models"
)

// DefaultTimeout bounds every tracker call so a slow tracker never stalls an
// event handler indefinitely.
const DefaultTimeout = 15 * time.Second

// Opts holds configuration options for the tracker client.
type Opts struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option defines a configuration option for the tracker client.
type Option func(*Opts)

// WithBaseURL sets the tracker API base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithToken sets the bearer token used for authentication.
func WithToken(t string) Option {
	return func(o *Opts) { o.Token = t }
}

// WithHTTPClient injects an HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is a thin JSON client over the tracker REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a tracker client, falling back to the TASKS_API_URL and
// TASKS_API_TOKEN environment variables when options are not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("TASKS_API_URL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TASKS_API_TOKEN")
	}
	slog.Debug("Tasks client config loaded", "baseURL_set", cfg.BaseURL != "", "token_set", cfg.Token != "")

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tracker base URL must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    cfg.HTTPClient,
	}, nil
}

// do performs one authenticated JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrExternalFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: tracker returned %d: %s", models.ErrExternalFetch, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode tracker response: %w", err)
	}
	return nil
}

// ListProjects returns all projects visible to the configured token.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		slog.Error("Tasks ListProjects failed", "error", err)
		return nil, err
	}
	slog.Debug("Tasks ListProjects succeeded", "count", len(projects))
	return projects, nil
}

// ListTasks returns the tasks under one project.
func (c *Client) ListTasks(ctx context.Context, projectID int64) ([]models.Task, error) {
	var tasks []models.Task
	path := fmt.Sprintf("/projects/%d/tasks", projectID)
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		slog.Error("Tasks ListTasks failed", "error", err, "projectID", projectID)
		return nil, err
	}
	slog.Debug("Tasks ListTasks succeeded", "projectID", projectID, "count", len(tasks))
	return tasks, nil
}

// CreateTask creates one task in the given project.
func (c *Client) CreateTask(ctx context.Context, projectID int64, title string) (*models.Task, error) {
	body := map[string]interface{}{"title": title, "project_id": projectID}
	var task models.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", body, &task); err != nil {
		slog.Error("Tasks CreateTask failed", "error", err, "projectID", projectID)
		return nil, err
	}
	slog.Info("Tasks CreateTask succeeded", "taskID", task.ID, "projectID", projectID)
	return &task, nil
}

// UpdateTask updates the status or comment of an existing task.
func (c *Client) UpdateTask(ctx context.Context, taskID int64, update models.TaskUpdate) error {
	path := fmt.Sprintf("/tasks/%d", taskID)
	if err := c.do(ctx, http.MethodPost, path, update, nil); err != nil {
		slog.Error("Tasks UpdateTask failed", "error", err, "taskID", taskID)
		return err
	}
	slog.Info("Tasks UpdateTask succeeded", "taskID", taskID)
	return nil
}
