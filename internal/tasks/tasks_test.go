package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taliahq/talia/internal/models"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(WithBaseURL(srv.URL), WithToken("secret"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return srv, c
}

func TestListProjects(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode([]models.Project{{ID: 1, Title: "Inbox"}, {ID: 2, Title: "Website"}})
	})

	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 || projects[1].Title != "Website" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}

func TestListTasksScopedPath(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/7/tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.Task{{ID: 9, Title: "Fix header", ProjectID: 7}})
	})

	tasks, err := c.ListTasks(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != 9 {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}

func TestCreateTask(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["title"] != "Fix sink" || body["project_id"].(float64) != 4 {
			t.Errorf("unexpected body: %v", body)
		}
		json.NewEncoder(w).Encode(models.Task{ID: 33, Title: "Fix sink", ProjectID: 4})
	})

	task, err := c.CreateTask(context.Background(), 4, "Fix sink")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != 33 {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestServerErrorSurfacesAsExternalFetch(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.ListProjects(context.Background())
	if !errors.Is(err, models.ErrExternalFetch) {
		t.Fatalf("expected ErrExternalFetch, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Setenv("TASKS_API_URL", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without base URL")
	}
}
