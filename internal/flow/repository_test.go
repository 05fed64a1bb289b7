package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taliahq/talia/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestRepositoryLoadMixedDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "admin_create_task.json", `{
		"id": "admin_create_task",
		"name": "Create Task",
		"role": "admin",
		"trigger_command": "/task",
		"steps": [
			{"step_id": 1, "question": "Which project?", "variable": "project_id",
			 "options_source": {"kind": "projects"}},
			{"step_id": 2, "question": "Task title?", "variable": "task_title"},
			{"step_id": 3, "input_type": "resolution_create_task"}
		]
	}`)
	writeFile(t, dir, "client_sales.yaml", `
id: client_sales
role: client
trigger_automatic: true
steps:
  - step_id: 1
    question: "What's your name?"
    variable: name
  - step_id: 2
    question: "Tell me about your project."
    variable: query
  - step_id: 3
    input_type: resolution_sales_inquiry
`)
	// Malformed documents must be skipped, never abort the load.
	writeFile(t, dir, "broken.json", `{"id": "broken", "role":`)
	writeFile(t, dir, "no_steps.json", `{"id": "empty", "role": "crew", "steps": []}`)
	writeFile(t, dir, "notes.txt", "not a flow")

	repo := NewRepository()
	if err := repo.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(repo.Flows()); got != 2 {
		t.Fatalf("expected 2 loaded flows, got %d", got)
	}

	if f := repo.Find("admin_create_task"); f == nil {
		t.Error("JSON flow not indexed by id")
	}
	if f := repo.Find("client_sales"); f == nil {
		t.Error("YAML flow not indexed by id")
	}
	if f := repo.Find("empty"); f != nil {
		t.Error("flow without steps should be rejected")
	}
}

func TestRepositoryTriggerLookup(t *testing.T) {
	repo := NewRepository()
	err := repo.Add(models.Flow{
		ID: "crew_request", Role: models.RoleCrew, TriggerButton: "propose_activity",
		Steps: []models.Step{{StepID: 1, Question: "Describe it", Variable: "description"}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if f := repo.FindTrigger("propose_activity", models.RoleCrew); f == nil || f.ID != "crew_request" {
		t.Errorf("trigger lookup failed: %+v", f)
	}
	// Exact match only, and scoped by role.
	if f := repo.FindTrigger("propose", models.RoleCrew); f != nil {
		t.Error("partial trigger value should not match")
	}
	if f := repo.FindTrigger("propose_activity", models.RoleAdmin); f != nil {
		t.Error("trigger should not match across roles")
	}
	if f := repo.FindTrigger("", models.RoleCrew); f != nil {
		t.Error("empty trigger value should never match")
	}
}

func TestRepositoryRejectsDuplicateTrigger(t *testing.T) {
	repo := NewRepository()
	steps := []models.Step{{StepID: 1, Question: "Q", Variable: "v"}}
	if err := repo.Add(models.Flow{ID: "first", Role: models.RoleAdmin, TriggerCommand: "/go", Steps: steps}); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	err := repo.Add(models.Flow{ID: "second", Role: models.RoleAdmin, TriggerCommand: "/go", Steps: steps})
	if err == nil {
		t.Fatal("expected duplicate trigger rejection")
	}
	// The first claimant stays indexed.
	if f := repo.FindTrigger("/go", models.RoleAdmin); f == nil || f.ID != "first" {
		t.Errorf("first flow should keep the trigger, got %+v", f)
	}

	// The same trigger value is fine under a different role.
	if err := repo.Add(models.Flow{ID: "third", Role: models.RoleCrew, TriggerCommand: "/go", Steps: steps}); err != nil {
		t.Errorf("same trigger under another role should load: %v", err)
	}
}

func TestRepositoryAutomaticFlows(t *testing.T) {
	repo := NewRepository()
	steps := []models.Step{{StepID: 1, Question: "Q", Variable: "v"}}
	if err := repo.Add(models.Flow{ID: "welcome", Role: models.RoleClient, TriggerAutomatic: true, Steps: steps}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if f := repo.Automatic(models.RoleClient); f == nil || f.ID != "welcome" {
		t.Errorf("expected automatic flow for client, got %+v", f)
	}
	if f := repo.Automatic(models.RoleAdmin); f != nil {
		t.Error("no automatic flow registered for admin")
	}
	// Only one automatic flow per role.
	if err := repo.Add(models.Flow{ID: "welcome2", Role: models.RoleClient, TriggerAutomatic: true, Steps: steps}); err == nil {
		t.Error("second automatic flow for the same role should be rejected")
	}
}
