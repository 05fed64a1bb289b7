// Package flow implements the conversational flow engine: the repository of
// authored flow documents, the per-user state machine, step rendering, and
// resolution dispatch.
package flow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/taliahq/talia/internal/models"
	"gopkg.in/yaml.v3"
)

// triggerKey indexes a trigger value within one role's namespace.
type triggerKey struct {
	value string
	role  models.Role
}

// Repository holds the flow definitions loaded at startup. It is read-only
// after Load and safe to share across all concurrent operations.
type Repository struct {
	flows     []models.Flow
	byID      map[string]*models.Flow
	byTrigger map[triggerKey]*models.Flow
	automatic map[models.Role]*models.Flow
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		byID:      make(map[string]*models.Flow),
		byTrigger: make(map[triggerKey]*models.Flow),
		automatic: make(map[models.Role]*models.Flow),
	}
}

// Load scans a directory of declarative flow documents (.json, .yaml, .yml)
// and indexes the valid ones. A malformed document is skipped with a logged
// diagnostic and never aborts loading of the rest. Directory entries are
// processed in sorted order so duplicate-trigger resolution is deterministic:
// the first flow claiming a trigger wins and later claimants are rejected.
func (r *Repository) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Error("Repository failed to read flows directory", "error", err, "dir", dir)
		return fmt.Errorf("failed to read flows directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		flow, err := parseFlowDocument(path)
		if err != nil {
			if err == errNotAFlowDocument {
				continue
			}
			slog.Error("Repository skipping malformed flow document", "error", err, "file", name)
			continue
		}
		if err := r.Add(*flow); err != nil {
			slog.Error("Repository rejecting flow document", "error", err, "file", name, "flowID", flow.ID)
			continue
		}
		slog.Debug("Repository loaded flow", "flowID", flow.ID, "role", flow.Role, "steps", len(flow.Steps))
	}

	slog.Info("Repository load complete", "flows", len(r.flows), "dir", dir)
	return nil
}

var errNotAFlowDocument = fmt.Errorf("not a flow document")

// parseFlowDocument decodes one flow document by extension.
func parseFlowDocument(path string) (*models.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	var flow models.Flow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &flow); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidFlowDefinition, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &flow); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidFlowDefinition, err)
		}
	default:
		return nil, errNotAFlowDocument
	}
	return &flow, nil
}

// Add validates and indexes a single flow definition. It rejects duplicate
// ids, duplicate triggers within a role, and a second automatic flow for the
// same role.
func (r *Repository) Add(flow models.Flow) error {
	if err := flow.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidFlowDefinition, err)
	}
	if _, exists := r.byID[flow.ID]; exists {
		return fmt.Errorf("%w: flow id %q already loaded", models.ErrInvalidFlowDefinition, flow.ID)
	}

	var keys []triggerKey
	if flow.TriggerCommand != "" {
		keys = append(keys, triggerKey{flow.TriggerCommand, flow.Role})
	}
	if flow.TriggerButton != "" {
		keys = append(keys, triggerKey{flow.TriggerButton, flow.Role})
	}
	for _, k := range keys {
		if other, exists := r.byTrigger[k]; exists {
			return fmt.Errorf("%w: trigger %q for role %s already claimed by flow %q",
				models.ErrDuplicateTrigger, k.value, k.role, other.ID)
		}
	}
	if flow.TriggerAutomatic {
		if other, exists := r.automatic[flow.Role]; exists {
			return fmt.Errorf("%w: automatic trigger for role %s already claimed by flow %q",
				models.ErrDuplicateTrigger, flow.Role, other.ID)
		}
	}

	r.flows = append(r.flows, flow)
	stored := &r.flows[len(r.flows)-1]
	r.byID[flow.ID] = stored
	for _, k := range keys {
		r.byTrigger[k] = stored
	}
	if flow.TriggerAutomatic {
		r.automatic[flow.Role] = stored
	}
	return nil
}

// Find returns the flow with the given id, or nil.
func (r *Repository) Find(flowID string) *models.Flow {
	return r.byID[flowID]
}

// FindTrigger returns the flow whose command or button trigger exactly matches
// the given value within the role, or nil.
func (r *Repository) FindTrigger(value string, role models.Role) *models.Flow {
	if value == "" {
		return nil
	}
	return r.byTrigger[triggerKey{value, role}]
}

// Automatic returns the flow that starts automatically for the role, or nil.
func (r *Repository) Automatic(role models.Role) *models.Flow {
	return r.automatic[role]
}

// Flows returns all loaded flow definitions in load order.
func (r *Repository) Flows() []models.Flow {
	return r.flows
}
