// Package models defines the core data structures for Talia.
//
// It includes flow definitions, per-user conversation state, and the resolution
// payloads produced when a flow completes. These types are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies which group of users a flow is authored for.
type Role string

const (
	// RoleAdmin is the business owner / operator role.
	RoleAdmin Role = "admin"
	// RoleCrew is the staff / team-member role.
	RoleCrew Role = "crew"
	// RoleClient is the external customer role.
	RoleClient Role = "client"
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleCrew, RoleClient:
		return true
	default:
		return false
	}
}

// ResolutionPrefix is the reserved input_type prefix that marks a step as a
// resolution step. The full input_type value names the resolution kind.
const ResolutionPrefix = "resolution_"

// Validation constants for flow documents.
const (
	// MaxQuestionLength defines the maximum allowed length for a step question.
	MaxQuestionLength = 4096
	// MaxOptionLength defines the maximum allowed length for a static option label.
	MaxOptionLength = 100
)

// Error variables for better error handling and testability.
var (
	ErrNoActiveConversation  = errors.New("no active conversation")
	ErrInvalidFlow           = errors.New("invalid flow")
	ErrFlowNotFound          = errors.New("flow not found")
	ErrInvalidFlowDefinition = errors.New("invalid flow definition")
	ErrDuplicateTrigger      = errors.New("duplicate trigger")
	ErrEmptyFlowID           = errors.New("flow id cannot be empty")
	ErrInvalidRole           = errors.New("invalid role")
	ErrNoSteps               = errors.New("flow has no steps")
	ErrDuplicateStepID       = errors.New("duplicate step id")
	ErrEmptyUserID           = errors.New("user id cannot be empty")
	ErrExternalFetch         = errors.New("external fetch failed")
	ErrPersistence           = errors.New("persistence failure")
)

// OptionsSource describes where a step's selectable options are fetched from at
// render time. Kind names the external collection; ScopeVar optionally names a
// previously collected variable that scopes the fetch (e.g. a project id).
type OptionsSource struct {
	Kind     string `json:"kind" yaml:"kind"`
	ScopeVar string `json:"scope_variable,omitempty" yaml:"scope_variable,omitempty"`
}

// Recognized dynamic option source kinds.
const (
	OptionsSourceProjects = "projects"
	OptionsSourceTasks    = "tasks"
)

// Step is one turn of a flow: a question, optionally with selectable options,
// and a variable name under which the answer is stored.
type Step struct {
	StepID        int            `json:"step_id" yaml:"step_id"`
	Question      string         `json:"question,omitempty" yaml:"question,omitempty"`
	Variable      string         `json:"variable,omitempty" yaml:"variable,omitempty"`
	InputType     string         `json:"input_type,omitempty" yaml:"input_type,omitempty"`
	Options       []string       `json:"options,omitempty" yaml:"options,omitempty"`
	OptionsSource *OptionsSource `json:"options_source,omitempty" yaml:"options_source,omitempty"`
	Resolution    bool           `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

// IsResolution reports whether the step terminates the flow when reached.
func (s Step) IsResolution() bool {
	return s.Resolution || strings.HasPrefix(s.InputType, ResolutionPrefix)
}

// Silent reports whether the step carries no question of its own. A silent
// resolution step is never presented to the user; reaching it completes the
// flow immediately.
func (s Step) Silent() bool {
	return s.Question == ""
}

// ResponseKey returns the key under which the answer to this step is recorded.
// Steps without a declared variable still record the raw response under a key
// synthesized from the step id, so no answer is silently dropped.
func (s Step) ResponseKey() string {
	if s.Variable != "" {
		return s.Variable
	}
	return fmt.Sprintf("step_%d_response", s.StepID)
}

// Kind returns the resolution kind declared by the step's input_type, or
// ResolutionDefault when the step is only marked terminal without a kind.
func (s Step) Kind() ResolutionKind {
	if strings.HasPrefix(s.InputType, ResolutionPrefix) {
		return ResolutionKind(s.InputType)
	}
	return ResolutionDefault
}

// Flow is a named, role-scoped, ordered sequence of dialogue steps ending in a
// resolution. Flows are loaded once at startup and immutable thereafter.
type Flow struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name,omitempty" yaml:"name,omitempty"`
	Role             Role   `json:"role" yaml:"role"`
	TriggerCommand   string `json:"trigger_command,omitempty" yaml:"trigger_command,omitempty"`
	TriggerButton    string `json:"trigger_button,omitempty" yaml:"trigger_button,omitempty"`
	TriggerAutomatic bool   `json:"trigger_automatic,omitempty" yaml:"trigger_automatic,omitempty"`
	Steps            []Step `json:"steps" yaml:"steps"`
}

// Validate performs validation on a flow document.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return ErrEmptyFlowID
	}
	if !IsValidRole(f.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, f.Role)
	}
	if len(f.Steps) == 0 {
		return ErrNoSteps
	}
	seen := make(map[int]bool, len(f.Steps))
	for _, s := range f.Steps {
		if seen[s.StepID] {
			return fmt.Errorf("%w: %d", ErrDuplicateStepID, s.StepID)
		}
		seen[s.StepID] = true
		if len(s.Question) > MaxQuestionLength {
			return fmt.Errorf("step %d question exceeds maximum length", s.StepID)
		}
		for _, opt := range s.Options {
			if len(opt) > MaxOptionLength {
				return fmt.Errorf("step %d option exceeds maximum length", s.StepID)
			}
		}
	}
	return nil
}

// StepIndex returns the position of the step with the given id in the ordered
// sequence, or -1 if absent. Advancement always works on positions; step ids
// need not be contiguous.
func (f *Flow) StepIndex(stepID int) int {
	for i, s := range f.Steps {
		if s.StepID == stepID {
			return i
		}
	}
	return -1
}

// StepAt returns the step at the given position, or nil if out of range.
func (f *Flow) StepAt(pos int) *Step {
	if pos < 0 || pos >= len(f.Steps) {
		return nil
	}
	return &f.Steps[pos]
}

// Option is a selectable choice presented with a rendered step. Value is the
// literal string the transport sends back when the option is chosen; Label is
// what the user sees.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// RenderedStep is a step's presentable content after static options are copied
// and dynamic options are fetched.
type RenderedStep struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
}

// User is a registered chat participant with a resolved role.
type User struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Name       string `json:"name,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

// InboundEvent is one user turn as delivered by the chat transport: a text
// message, a button press, or a voice note.
type InboundEvent struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role,omitempty"`
	Text   string `json:"text,omitempty"`
	Button string `json:"button,omitempty"`
	Audio  []byte `json:"audio,omitempty"`
	Time   int64  `json:"time,omitempty"`
}

// Reply is the user-facing outcome of one handled event.
type Reply struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
	Done    bool     `json:"done,omitempty"`
}

// Project is an external task-tracker project.
type Project struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Task is an external task-tracker task.
type Task struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id,omitempty"`
	Title     string `json:"title"`
	Done      bool   `json:"done,omitempty"`
}

// TaskUpdate carries a status change or comment for an existing task.
type TaskUpdate struct {
	Done    bool   `json:"done,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Event is a calendar event as seen by the core.
type Event struct {
	ID        string   `json:"id,omitempty"`
	Title     string   `json:"title"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Attendees []string `json:"attendees,omitempty"`
}

// PrintConfirmation is an asynchronous status update for a submitted print job,
// keyed by the correlation id assigned at send time.
type PrintConfirmation struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Subject       string `json:"subject,omitempty"`
}

// Print job confirmation statuses parsed from the printer mailbox.
const (
	PrintStatusReceived  = "received"
	PrintStatusCompleted = "completed"
	PrintStatusFailed    = "failed"
)
