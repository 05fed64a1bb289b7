package models

import (
	"errors"
	"testing"
)

func TestFlowValidate(t *testing.T) {
	valid := Flow{
		ID:   "onboarding",
		Role: RoleClient,
		Steps: []Step{
			{StepID: 1, Question: "What is your name?", Variable: "name"},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name string
		flow Flow
		want error
	}{
		{"missing id", Flow{Role: RoleAdmin, Steps: valid.Steps}, ErrEmptyFlowID},
		{"bad role", Flow{ID: "f", Role: "manager", Steps: valid.Steps}, ErrInvalidRole},
		{"no steps", Flow{ID: "f", Role: RoleCrew}, ErrNoSteps},
		{"dup step id", Flow{ID: "f", Role: RoleCrew, Steps: []Step{{StepID: 2}, {StepID: 2}}}, ErrDuplicateStepID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.flow.Validate()
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStepResponseKey(t *testing.T) {
	withVar := Step{StepID: 3, Variable: "quest"}
	if got := withVar.ResponseKey(); got != "quest" {
		t.Errorf("expected quest, got %q", got)
	}
	withoutVar := Step{StepID: 7}
	if got := withoutVar.ResponseKey(); got != "step_7_response" {
		t.Errorf("expected synthesized key, got %q", got)
	}
}

func TestStepIsResolutionAndKind(t *testing.T) {
	plain := Step{StepID: 1, InputType: "text"}
	if plain.IsResolution() {
		t.Error("plain step should not be a resolution step")
	}
	byPrefix := Step{StepID: 2, InputType: "resolution_create_task"}
	if !byPrefix.IsResolution() {
		t.Error("resolution_ input_type should mark a resolution step")
	}
	if byPrefix.Kind() != ResolutionCreateTask {
		t.Errorf("expected create task kind, got %s", byPrefix.Kind())
	}
	byFlag := Step{StepID: 3, Question: "Color?", Variable: "color", Resolution: true}
	if !byFlag.IsResolution() {
		t.Error("resolution flag should mark a resolution step")
	}
	if byFlag.Kind() != ResolutionDefault {
		t.Errorf("flag without kind should default, got %s", byFlag.Kind())
	}
}

func TestFlowStepIndex(t *testing.T) {
	f := Flow{Steps: []Step{{StepID: 1}, {StepID: 5}, {StepID: 9}}}
	if got := f.StepIndex(5); got != 1 {
		t.Errorf("expected position 1, got %d", got)
	}
	if got := f.StepIndex(2); got != -1 {
		t.Errorf("expected -1 for unknown id, got %d", got)
	}
	if s := f.StepAt(2); s == nil || s.StepID != 9 {
		t.Errorf("expected step 9 at position 2, got %+v", s)
	}
	if s := f.StepAt(3); s != nil {
		t.Errorf("expected nil past end, got %+v", s)
	}
}

func TestResolutionPayloadGet(t *testing.T) {
	p := ResolutionPayload{Data: map[string]string{"task_title": "Fix sink"}}
	if got := p.Get(DataKeyTaskTitle, DataKeyTitle); got != "Fix sink" {
		t.Errorf("expected first key match, got %q", got)
	}
	if got := p.Get(DataKeyTitle); got != "" {
		t.Errorf("expected empty for absent keys, got %q", got)
	}
}
