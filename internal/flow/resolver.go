package flow

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/taliahq/talia/internal/models"
)

// ProjectDirectory is the slice of the task tracker the resolver needs to
// populate dynamic options.
type ProjectDirectory interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	ListTasks(ctx context.Context, projectID int64) ([]models.Task, error)
}

// Messages used when a dynamic fetch cannot produce options. The user stays on
// the same step and may answer again or abandon via reset.
const (
	msgFetchFailed = "I couldn't fetch the options right now. Please try again in a moment, or type cancel to stop."
	msgNoItems     = "There is nothing to choose from at the moment. Please try again later, or type cancel to stop."
)

// StepResolver renders a step's presentable content. Static options are copied
// verbatim; dynamic options are fetched from the external directory, scoped by
// previously collected values when the source requires it.
type StepResolver struct {
	dir ProjectDirectory
}

// NewStepResolver creates a resolver over the given project directory. A nil
// directory renders dynamic steps with the fetch-failed fallback.
func NewStepResolver(dir ProjectDirectory) *StepResolver {
	return &StepResolver{dir: dir}
}

// Render produces the presentable content for a step. It never mutates
// conversation state: a failed or empty dynamic fetch yields explanatory text
// with no options, and the caller leaves the stored position untouched.
func (r *StepResolver) Render(ctx context.Context, step models.Step, collected map[string]string) models.RenderedStep {
	rendered := models.RenderedStep{Text: step.Question}

	if len(step.Options) > 0 {
		rendered.Options = make([]models.Option, 0, len(step.Options))
		for _, opt := range step.Options {
			rendered.Options = append(rendered.Options, models.Option{Label: opt, Value: opt})
		}
		return rendered
	}

	if step.OptionsSource == nil {
		return rendered
	}

	options, ok := r.fetchOptions(ctx, step, collected)
	if !ok {
		rendered.Text = msgFetchFailed
		return rendered
	}
	if len(options) == 0 {
		rendered.Text = msgNoItems
		return rendered
	}
	rendered.Options = options
	return rendered
}

// fetchOptions resolves a dynamic option source. The second return value is
// false when the external call failed or the source is unusable.
func (r *StepResolver) fetchOptions(ctx context.Context, step models.Step, collected map[string]string) ([]models.Option, bool) {
	if r.dir == nil {
		slog.Error("StepResolver no directory configured", "stepID", step.StepID, "source", step.OptionsSource.Kind)
		return nil, false
	}

	switch step.OptionsSource.Kind {
	case models.OptionsSourceProjects:
		projects, err := r.dir.ListProjects(ctx)
		if err != nil {
			slog.Error("StepResolver project fetch failed", "error", err, "stepID", step.StepID)
			return nil, false
		}
		options := make([]models.Option, 0, len(projects))
		for _, p := range projects {
			options = append(options, models.Option{Label: p.Title, Value: strconv.FormatInt(p.ID, 10)})
		}
		return options, true

	case models.OptionsSourceTasks:
		scope := collected[step.OptionsSource.ScopeVar]
		projectID, err := strconv.ParseInt(scope, 10, 64)
		if err != nil {
			slog.Error("StepResolver task scope missing or invalid", "stepID", step.StepID, "scopeVar", step.OptionsSource.ScopeVar, "value", scope)
			return nil, false
		}
		tasks, err := r.dir.ListTasks(ctx, projectID)
		if err != nil {
			slog.Error("StepResolver task fetch failed", "error", err, "stepID", step.StepID, "projectID", projectID)
			return nil, false
		}
		options := make([]models.Option, 0, len(tasks))
		for _, t := range tasks {
			options = append(options, models.Option{Label: t.Title, Value: strconv.FormatInt(t.ID, 10)})
		}
		return options, true

	default:
		slog.Error("StepResolver unknown options source", "stepID", step.StepID, "kind", step.OptionsSource.Kind)
		return nil, false
	}
}
