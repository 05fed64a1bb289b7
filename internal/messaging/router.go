package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taliahq/talia/internal/flow"
	"github.com/taliahq/talia/internal/models"
)

const (
	// defaultAck answers inbound messages that match no trigger and belong
	// to no active conversation.
	defaultAck = "Hi! I didn't catch that. Send a command to get started."

	// resetConfirmation answers an explicit cancel command.
	resetConfirmation = "Okay, I've cancelled that. What would you like to do next?"

	msgTranscriptionFailed = "Sorry, I couldn't understand that voice message. Could you type it instead?"
)

// resetCommands abort the active conversation when received as a message.
var resetCommands = map[string]bool{
	"/cancel": true,
	"/reset":  true,
	"cancel":  true,
}

// RouterOpts holds configuration options for the event router.
type RouterOpts struct {
	Transcriber    Transcriber
	Notifier       *Notifier
	DefaultMessage string
}

// RouterOption defines a configuration option for the event router.
type RouterOption func(*RouterOpts)

// WithTranscriber enables voice message transcription.
func WithTranscriber(t Transcriber) RouterOption {
	return func(o *RouterOpts) { o.Transcriber = t }
}

// WithNotifier enables webhook notifications on flow completion.
func WithNotifier(n *Notifier) RouterOption {
	return func(o *RouterOpts) { o.Notifier = n }
}

// WithDefaultMessage overrides the fallback reply for unrecognized input.
func WithDefaultMessage(msg string) RouterOption {
	return func(o *RouterOpts) { o.DefaultMessage = msg }
}

// Router turns inbound chat events into replies. It feeds responses to the
// conversation engine, starts flows on trigger matches, renders steps with
// live options, and dispatches resolutions when a flow completes.
type Router struct {
	engine      *flow.Engine
	repo        *flow.Repository
	resolver    *flow.StepResolver
	dispatcher  *flow.Dispatcher
	transcriber Transcriber
	notifier    *Notifier
	defaultMsg  string
}

// NewRouter creates an event router over the given engine, repository,
// resolver, and dispatcher.
func NewRouter(engine *flow.Engine, repo *flow.Repository, resolver *flow.StepResolver, dispatcher *flow.Dispatcher, opts ...RouterOption) *Router {
	var cfg RouterOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DefaultMessage == "" {
		cfg.DefaultMessage = defaultAck
	}
	return &Router{
		engine:      engine,
		repo:        repo,
		resolver:    resolver,
		dispatcher:  dispatcher,
		transcriber: cfg.Transcriber,
		notifier:    cfg.Notifier,
		defaultMsg:  cfg.DefaultMessage,
	}
}

// HandleEvent processes one inbound event and returns the reply to send.
// Routing order: an active conversation consumes the input as a step
// response; otherwise the input is matched against flow triggers; otherwise
// the role's automatic flow starts; otherwise the default acknowledgement
// is returned.
func (r *Router) HandleEvent(ctx context.Context, ev models.InboundEvent) (models.Reply, error) {
	if ev.UserID == "" {
		return models.Reply{}, models.ErrEmptyUserID
	}

	input, err := r.resolveInput(ctx, ev)
	if err != nil {
		return models.Reply{Text: msgTranscriptionFailed, Done: true}, nil
	}

	if resetCommands[strings.ToLower(strings.TrimSpace(input))] {
		if err := r.engine.Reset(ctx, ev.UserID); err != nil {
			slog.Error("Router reset failed", "error", err, "userID", ev.UserID)
			return models.Reply{}, err
		}
		return models.Reply{Text: resetConfirmation, Done: true}, nil
	}

	result, err := r.engine.HandleResponse(ctx, ev.UserID, input)
	switch {
	case err == nil:
		return r.replyForTurn(ctx, ev, result)
	case errors.Is(err, models.ErrNoActiveConversation):
		return r.startForInput(ctx, ev, input)
	default:
		slog.Error("Router engine turn failed", "error", err, "userID", ev.UserID)
		return models.Reply{}, err
	}
}

// Reset abandons the user's active conversation, if any.
func (r *Router) Reset(ctx context.Context, userID string) error {
	return r.engine.Reset(ctx, userID)
}

// resolveInput picks the effective input for the event: button payloads win,
// then transcribed audio, then plain text.
func (r *Router) resolveInput(ctx context.Context, ev models.InboundEvent) (string, error) {
	if ev.Button != "" {
		return ev.Button, nil
	}
	if len(ev.Audio) > 0 {
		if r.transcriber == nil {
			slog.Warn("Router received voice message but no transcriber configured", "userID", ev.UserID)
			return "", fmt.Errorf("no transcriber configured")
		}
		text, err := r.transcriber.Transcribe(ctx, ev.Audio, "voice.ogg")
		if err != nil {
			slog.Error("Router transcription failed", "error", err, "userID", ev.UserID)
			return "", fmt.Errorf("failed to transcribe voice message: %w", err)
		}
		slog.Info("Router transcribed voice message", "userID", ev.UserID, "length", len(text))
		return text, nil
	}
	return ev.Text, nil
}

// startForInput matches the input against flow triggers, falling back to the
// role's automatic flow, then to the default acknowledgement.
func (r *Router) startForInput(ctx context.Context, ev models.InboundEvent, input string) (models.Reply, error) {
	f := r.repo.FindTrigger(input, ev.Role)
	if f == nil {
		f = r.repo.Automatic(ev.Role)
	}
	if f == nil {
		slog.Debug("Router no flow for input", "userID", ev.UserID, "role", ev.Role)
		return models.Reply{Text: r.defaultMsg, Done: true}, nil
	}

	step, err := r.engine.StartFlow(ctx, ev.UserID, f.ID)
	if err != nil {
		slog.Error("Router flow start failed", "error", err, "userID", ev.UserID, "flowID", f.ID)
		return models.Reply{}, err
	}
	if step.IsResolution() && step.Silent() {
		// A flow whose first step is a silent resolution completes on the
		// spot; the engine handles the delete-then-dispatch ordering.
		result, err := r.engine.HandleResponse(ctx, ev.UserID, "")
		if err != nil {
			return models.Reply{}, err
		}
		return r.replyForTurn(ctx, ev, result)
	}
	return r.renderStep(ctx, ev.UserID, *step)
}

// replyForTurn renders the next step, or dispatches the resolution when the
// flow has completed.
func (r *Router) replyForTurn(ctx context.Context, ev models.InboundEvent, result flow.TurnResult) (models.Reply, error) {
	if result.Complete() {
		text := r.dispatcher.Dispatch(ctx, *result.Resolution)
		if r.notifier != nil {
			if err := r.notifier.Notify(ctx, completionEvent(*result.Resolution)); err != nil {
				slog.Warn("Router completion webhook failed", "error", err, "flowID", result.Resolution.FlowID)
			}
		}
		return models.Reply{Text: text, Done: true}, nil
	}
	return r.renderStep(ctx, ev.UserID, *result.Step)
}

// renderStep resolves the step's options against collected data and builds
// the outbound reply.
func (r *Router) renderStep(ctx context.Context, userID string, step models.Step) (models.Reply, error) {
	collected, err := r.engine.CollectedData(ctx, userID)
	if err != nil {
		slog.Error("Router collected data load failed", "error", err, "userID", userID)
		collected = map[string]string{}
	}
	rendered := r.resolver.Render(ctx, step, collected)
	return models.Reply{Text: rendered.Text, Options: rendered.Options}, nil
}

// completionEvent shapes the webhook payload for a completed flow.
func completionEvent(payload models.ResolutionPayload) map[string]any {
	return map[string]any{
		"event":        "flow_completed",
		"user_id":      payload.UserID,
		"flow_id":      payload.FlowID,
		"resolution":   string(payload.Kind),
		"data":         payload.Data,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
}
