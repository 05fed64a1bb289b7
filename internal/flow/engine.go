package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taliahq/talia/internal/models"
	"github.com/taliahq/talia/internal/store"
)

// TurnResult is the outcome of one handled response: either the next step to
// render (in progress) or the resolution payload (complete).
type TurnResult struct {
	Step       *models.Step
	Resolution *models.ResolutionPayload
}

// Complete reports whether the flow finished on this turn.
func (r TurnResult) Complete() bool {
	return r.Resolution != nil
}

// Engine is the per-user conversation state machine. It holds references to
// the flow repository and the conversation store; one engine value is
// constructed at startup and shared by every event handler.
type Engine struct {
	repo  *Repository
	store store.Store

	// mu guards locks; each user's operations serialize on their own mutex so
	// concurrent events for different users never block each other.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine over the given repository and store.
func NewEngine(repo *Repository, st store.Store) *Engine {
	return &Engine{
		repo:  repo,
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing operations for one user.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// StartFlow begins the given flow for a user, replacing any conversation the
// user already had. It returns the first step for rendering.
func (e *Engine) StartFlow(ctx context.Context, userID, flowID string) (*models.Step, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	flow := e.repo.Find(flowID)
	if flow == nil {
		slog.Error("Engine StartFlow unknown flow", "userID", userID, "flowID", flowID)
		return nil, fmt.Errorf("%w: %s", models.ErrFlowNotFound, flowID)
	}
	first := flow.StepAt(0)
	if first == nil {
		return nil, fmt.Errorf("%w: flow %s has no steps", models.ErrInvalidFlow, flowID)
	}

	now := time.Now()
	state := models.ConversationState{
		UserID:        userID,
		FlowID:        flowID,
		CurrentStepID: first.StepID,
		CollectedData: make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.SaveConversation(state); err != nil {
		slog.Error("Engine StartFlow save failed", "error", err, "userID", userID, "flowID", flowID)
		return nil, err
	}

	slog.Info("Engine started flow", "userID", userID, "flowID", flowID, "stepID", first.StepID)
	return first, nil
}

// HandleResponse records the user's answer for the current step and advances
// the conversation. Advancement always uses the step's position in the ordered
// sequence, never arithmetic on step identifiers. When the flow is finished
// the conversation record is deleted before the payload is returned, so a
// failing side effect can never resurrect it.
func (e *Engine) HandleResponse(ctx context.Context, userID, response string) (TurnResult, error) {
	if userID == "" {
		return TurnResult{}, models.ErrEmptyUserID
	}
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.store.GetConversation(userID)
	if err != nil {
		slog.Error("Engine HandleResponse load failed", "error", err, "userID", userID)
		return TurnResult{}, err
	}
	if state == nil {
		slog.Debug("Engine HandleResponse no active conversation", "userID", userID)
		return TurnResult{}, models.ErrNoActiveConversation
	}

	flow := e.repo.Find(state.FlowID)
	if flow == nil {
		// The record references a flow that is no longer loaded. Drop it so
		// the user is not stuck mid-conversation forever.
		slog.Error("Engine HandleResponse stored flow missing", "userID", userID, "flowID", state.FlowID)
		if delErr := e.store.DeleteConversation(userID); delErr != nil {
			slog.Error("Engine HandleResponse cleanup failed", "error", delErr, "userID", userID)
		}
		return TurnResult{}, fmt.Errorf("%w: %s", models.ErrFlowNotFound, state.FlowID)
	}

	pos := flow.StepIndex(state.CurrentStepID)
	if pos < 0 {
		slog.Error("Engine HandleResponse stored step missing", "userID", userID, "flowID", state.FlowID, "stepID", state.CurrentStepID)
		if delErr := e.store.DeleteConversation(userID); delErr != nil {
			slog.Error("Engine HandleResponse cleanup failed", "error", delErr, "userID", userID)
		}
		return TurnResult{}, fmt.Errorf("%w: step %d not in flow %s", models.ErrInvalidFlow, state.CurrentStepID, state.FlowID)
	}

	current := flow.Steps[pos]
	if state.CollectedData == nil {
		state.CollectedData = make(map[string]string)
	}
	state.CollectedData[current.ResponseKey()] = response

	// Answering a presented resolution step is terminal: its answer is kept
	// and its declared kind drives the dispatch.
	if current.IsResolution() {
		return e.complete(userID, flow.ID, current.Kind(), state.CollectedData)
	}

	next := flow.StepAt(pos + 1)
	if next == nil {
		// A flow whose final entry is an ordinary step still completes.
		return e.complete(userID, flow.ID, models.ResolutionDefault, state.CollectedData)
	}
	if next.IsResolution() && next.Silent() {
		return e.complete(userID, flow.ID, next.Kind(), state.CollectedData)
	}

	state.CurrentStepID = next.StepID
	state.UpdatedAt = time.Now()
	if err := e.store.SaveConversation(*state); err != nil {
		slog.Error("Engine HandleResponse save failed", "error", err, "userID", userID, "flowID", flow.ID)
		return TurnResult{}, err
	}

	slog.Debug("Engine advanced conversation", "userID", userID, "flowID", flow.ID, "stepID", next.StepID)
	return TurnResult{Step: next}, nil
}

// complete deletes the conversation and builds the resolution payload.
func (e *Engine) complete(userID, flowID string, kind models.ResolutionKind, data map[string]string) (TurnResult, error) {
	if err := e.store.DeleteConversation(userID); err != nil {
		slog.Error("Engine complete delete failed", "error", err, "userID", userID, "flowID", flowID)
		return TurnResult{}, err
	}
	slog.Info("Engine flow completed", "userID", userID, "flowID", flowID, "kind", kind)
	return TurnResult{Resolution: &models.ResolutionPayload{
		Kind:   kind,
		UserID: userID,
		FlowID: flowID,
		Data:   data,
	}}, nil
}

// Reset unconditionally deletes any conversation the user has. It always
// succeeds when there is nothing to delete.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.DeleteConversation(userID); err != nil {
		slog.Error("Engine Reset delete failed", "error", err, "userID", userID)
		return err
	}
	slog.Info("Engine reset conversation", "userID", userID)
	return nil
}

// CurrentStep returns the step the user's conversation is positioned at, or
// nil when the user is idle. Used to re-render after a failed dynamic fetch.
func (e *Engine) CurrentStep(ctx context.Context, userID string) (*models.Step, error) {
	state, err := e.store.GetConversation(userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	flow := e.repo.Find(state.FlowID)
	if flow == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrFlowNotFound, state.FlowID)
	}
	pos := flow.StepIndex(state.CurrentStepID)
	return flow.StepAt(pos), nil
}

// CollectedData returns a copy of the data gathered so far for the user's
// active conversation, or nil when the user is idle.
func (e *Engine) CollectedData(ctx context.Context, userID string) (map[string]string, error) {
	state, err := e.store.GetConversation(userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	return state.CollectedData, nil
}
