package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taliahq/talia/internal/flow"
	"github.com/taliahq/talia/internal/models"
	"github.com/taliahq/talia/internal/store"
)

func questFlow() models.Flow {
	return models.Flow{
		ID:             "quest",
		Name:           "Quest intake",
		Role:           models.RoleClient,
		TriggerCommand: "/quest",
		Steps: []models.Step{
			{StepID: 1, Question: "What is your name?", Variable: "name"},
			{StepID: 2, Question: "What is your quest?", Variable: "quest"},
			{StepID: 3, Question: "What is your favorite color?", Variable: "color", Resolution: true},
		},
	}
}

func newTestRouter(t *testing.T, flows []models.Flow, opts ...RouterOption) *Router {
	t.Helper()
	repo := flow.NewRepository()
	for _, f := range flows {
		if err := repo.Add(f); err != nil {
			t.Fatalf("Add(%s) failed: %v", f.ID, err)
		}
	}
	engine := flow.NewEngine(repo, store.NewInMemoryStore())
	resolver := flow.NewStepResolver(nil)
	dispatcher := flow.NewDispatcher(flow.Dependencies{})
	return NewRouter(engine, repo, resolver, dispatcher, opts...)
}

func TestRouterTriggerStartsFlow(t *testing.T) {
	r := newTestRouter(t, []models.Flow{questFlow()})

	reply, err := r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "user1", Role: models.RoleClient, Text: "/quest",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if reply.Text != "What is your name?" {
		t.Errorf("expected first question, got %q", reply.Text)
	}
	if reply.Done {
		t.Error("reply should not be marked done while the flow is in progress")
	}
}

func TestRouterConversationToCompletion(t *testing.T) {
	r := newTestRouter(t, []models.Flow{questFlow()})
	ctx := context.Background()
	ev := func(text string) models.InboundEvent {
		return models.InboundEvent{UserID: "user1", Role: models.RoleClient, Text: text}
	}

	if _, err := r.HandleEvent(ctx, ev("/quest")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	reply, err := r.HandleEvent(ctx, ev("Lancelot"))
	if err != nil {
		t.Fatalf("first answer failed: %v", err)
	}
	if reply.Text != "What is your quest?" {
		t.Errorf("expected second question, got %q", reply.Text)
	}

	if _, err := r.HandleEvent(ctx, ev("The Grail")); err != nil {
		t.Fatalf("second answer failed: %v", err)
	}

	reply, err = r.HandleEvent(ctx, ev("Blue"))
	if err != nil {
		t.Fatalf("final answer failed: %v", err)
	}
	if !reply.Done {
		t.Error("final reply should be marked done")
	}
	if reply.Text == "" {
		t.Error("final reply should carry a completion message")
	}

	// A fresh message must not be treated as a step response anymore.
	reply, err = r.HandleEvent(ctx, ev("hello again"))
	if err != nil {
		t.Fatalf("post-completion event failed: %v", err)
	}
	if reply.Text != defaultAck {
		t.Errorf("expected default acknowledgement after completion, got %q", reply.Text)
	}
}

func TestRouterButtonWinsOverText(t *testing.T) {
	f := questFlow()
	f.TriggerCommand = ""
	f.TriggerButton = "start_quest"
	r := newTestRouter(t, []models.Flow{f})

	reply, err := r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "user1", Role: models.RoleClient,
		Text:   "ignored free text",
		Button: "start_quest",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if reply.Text != "What is your name?" {
		t.Errorf("button should have triggered the flow, got %q", reply.Text)
	}
}

func TestRouterResetCommand(t *testing.T) {
	r := newTestRouter(t, []models.Flow{questFlow()})
	ctx := context.Background()

	if _, err := r.HandleEvent(ctx, models.InboundEvent{UserID: "user1", Role: models.RoleClient, Text: "/quest"}); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	reply, err := r.HandleEvent(ctx, models.InboundEvent{UserID: "user1", Role: models.RoleClient, Text: "/cancel"})
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if reply.Text != resetConfirmation {
		t.Errorf("expected reset confirmation, got %q", reply.Text)
	}

	// The abandoned conversation must be gone: the next message routes as a
	// fresh event, not a step response.
	reply, err = r.HandleEvent(ctx, models.InboundEvent{UserID: "user1", Role: models.RoleClient, Text: "Lancelot"})
	if err != nil {
		t.Fatalf("post-reset event failed: %v", err)
	}
	if reply.Text != defaultAck {
		t.Errorf("expected default acknowledgement after reset, got %q", reply.Text)
	}
}

func TestRouterDefaultAckForUnknownInput(t *testing.T) {
	r := newTestRouter(t, []models.Flow{questFlow()})

	reply, err := r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "user1", Role: models.RoleClient, Text: "what is the weather",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if reply.Text != defaultAck {
		t.Errorf("expected default acknowledgement, got %q", reply.Text)
	}
	if !reply.Done {
		t.Error("default acknowledgement should be marked done")
	}
}

func TestRouterAutomaticFlowFallback(t *testing.T) {
	auto := models.Flow{
		ID:               "greeting",
		Name:             "Client greeting",
		Role:             models.RoleClient,
		TriggerAutomatic: true,
		Steps: []models.Step{
			{StepID: 1, Question: "Hi! How can I help you today?", Variable: "need"},
			{StepID: 2, Resolution: true, InputType: "resolution_sales_inquiry"},
		},
	}
	r := newTestRouter(t, []models.Flow{questFlow(), auto})

	reply, err := r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "client7", Role: models.RoleClient, Text: "hello there",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if reply.Text != "Hi! How can I help you today?" {
		t.Errorf("expected automatic flow greeting, got %q", reply.Text)
	}

	// A crew member gets no client automatic flow.
	reply, err = r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "crew1", Role: models.RoleCrew, Text: "hello there",
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if reply.Text != defaultAck {
		t.Errorf("expected default acknowledgement for crew, got %q", reply.Text)
	}
}

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	f.got = audio
	return f.text, f.err
}

func TestRouterTranscribesVoice(t *testing.T) {
	tr := &fakeTranscriber{text: "/quest"}
	r := newTestRouter(t, []models.Flow{questFlow()}, WithTranscriber(tr))

	reply, err := r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "user1", Role: models.RoleClient, Audio: []byte("oggdata"),
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if string(tr.got) != "oggdata" {
		t.Error("transcriber did not receive the audio payload")
	}
	if reply.Text != "What is your name?" {
		t.Errorf("transcribed command should have triggered the flow, got %q", reply.Text)
	}
}

func TestRouterTranscriptionFailure(t *testing.T) {
	tr := &fakeTranscriber{err: fmt.Errorf("model unavailable")}
	r := newTestRouter(t, []models.Flow{questFlow()}, WithTranscriber(tr))

	reply, err := r.HandleEvent(context.Background(), models.InboundEvent{
		UserID: "user1", Role: models.RoleClient, Audio: []byte("oggdata"),
	})
	if err != nil {
		t.Fatalf("HandleEvent should not fail the whole event: %v", err)
	}
	if !strings.Contains(reply.Text, "voice message") {
		t.Errorf("expected transcription apology, got %q", reply.Text)
	}
}

func TestRouterNotifiesOnCompletion(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("webhook body decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNotifier(WithPrimaryURL(srv.URL))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	r := newTestRouter(t, []models.Flow{questFlow()}, WithNotifier(n))
	ctx := context.Background()
	ev := func(text string) models.InboundEvent {
		return models.InboundEvent{UserID: "user1", Role: models.RoleClient, Text: text}
	}

	for _, text := range []string{"/quest", "Lancelot", "The Grail", "Blue"} {
		if _, err := r.HandleEvent(ctx, ev(text)); err != nil {
			t.Fatalf("HandleEvent(%q) failed: %v", text, err)
		}
	}

	if got == nil {
		t.Fatal("webhook was never called")
	}
	if got["event"] != "flow_completed" {
		t.Errorf("expected flow_completed event, got %v", got["event"])
	}
	if got["flow_id"] != "quest" {
		t.Errorf("expected flow_id quest, got %v", got["flow_id"])
	}
}

func TestRouterEmptyUserID(t *testing.T) {
	r := newTestRouter(t, []models.Flow{questFlow()})
	if _, err := r.HandleEvent(context.Background(), models.InboundEvent{Text: "/quest"}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}
