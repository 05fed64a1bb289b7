package flow

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/taliahq/talia/internal/models"
)

// Collaborator interfaces consumed by the dispatcher. Each handler performs at
// most one externally visible side effect and reports the outcome in the final
// user-facing message.

// TaskWriter creates and updates tasks in the external tracker.
type TaskWriter interface {
	CreateTask(ctx context.Context, projectID int64, title string) (*models.Task, error)
	UpdateTask(ctx context.Context, taskID int64, update models.TaskUpdate) error
}

// EventScheduler writes calendar events.
type EventScheduler interface {
	CreateEvent(ctx context.Context, title string, start, end time.Time, attendees []string) (*models.Event, error)
}

// DocumentSender submits a document to the print service.
type DocumentSender interface {
	Send(ctx context.Context, attachment []byte, filename, correlationID string) error
}

// TextGenerator produces one generated-text response.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// PitchWriter assembles a personalized sales pitch from an inquiry and the
// collected client profile.
type PitchWriter interface {
	Pitch(ctx context.Context, query string, collected map[string]string) (string, error)
}

// Final messages. Handler failures are terminal: the conversation record is
// already gone, so the user gets an apology and may start over.
const (
	msgCompleted      = "All done. Thank you!"
	msgHandlerFailed  = "Sorry, something went wrong while finishing your request. Please start over."
	msgNotConfigured  = "Sorry, this action isn't available right now."
	msgMissingDetails = "Sorry, I couldn't complete this because some details were missing. Please start over."
)

// Default parameters applied when a flow did not collect them.
const (
	defaultProjectID           = 1
	defaultAppointmentDuration = 30 * time.Minute
	defaultLLMSystemPrompt     = "You are Talia, a helpful business assistant. Answer concisely."
)

// Dependencies carries the side-effecting collaborators a dispatcher routes
// to. Any of them may be nil; the matching kinds then report unavailability.
type Dependencies struct {
	Tasks    TaskWriter
	Calendar EventScheduler
	Printer  DocumentSender
	GenAI    TextGenerator
	Sales    PitchWriter
}

// Dispatcher maps a terminal step's declared resolution kind to its handler.
// The kind set is closed and matched exhaustively; an unknown kind falls
// through to the generic completion acknowledgment rather than failing.
type Dispatcher struct {
	deps             Dependencies
	defaultProjectID int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDefaultProjectID sets the tracker project used when a flow did not
// collect one.
func WithDefaultProjectID(id int64) DispatcherOption {
	return func(d *Dispatcher) { d.defaultProjectID = id }
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(deps Dependencies, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{deps: deps, defaultProjectID: defaultProjectID}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes the side effect for the payload's kind and returns the
// final user-facing message. It never returns an error: failures are terminal
// and reported in the message, and the engine performs no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, payload models.ResolutionPayload) string {
	slog.Info("Dispatcher handling resolution", "kind", payload.Kind, "userID", payload.UserID, "flowID", payload.FlowID)

	switch payload.Kind {
	case models.ResolutionCreateTask:
		return d.createTask(ctx, payload)
	case models.ResolutionUpdateTask:
		return d.updateTask(ctx, payload)
	case models.ResolutionScheduleAppointment:
		return d.scheduleAppointment(ctx, payload)
	case models.ResolutionPrintDocument:
		return d.printDocument(ctx, payload)
	case models.ResolutionSalesInquiry:
		return d.salesInquiry(ctx, payload)
	case models.ResolutionLLMPrompt:
		return d.llmPrompt(ctx, payload)
	case models.ResolutionDefault:
		return msgCompleted
	default:
		slog.Warn("Dispatcher unknown resolution kind", "kind", payload.Kind, "flowID", payload.FlowID)
		return msgCompleted
	}
}

func (d *Dispatcher) createTask(ctx context.Context, payload models.ResolutionPayload) string {
	if d.deps.Tasks == nil {
		slog.Error("Dispatcher task tracker not configured", "flowID", payload.FlowID)
		return msgNotConfigured
	}
	title := payload.Get(models.DataKeyTaskTitle, models.DataKeyTitle)
	if title == "" {
		slog.Error("Dispatcher create task missing title", "flowID", payload.FlowID)
		return msgMissingDetails
	}
	projectID := d.defaultProjectID
	if raw := payload.Get(models.DataKeyProjectID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Error("Dispatcher create task invalid project id", "value", raw, "flowID", payload.FlowID)
			return msgMissingDetails
		}
		projectID = id
	}

	task, err := d.deps.Tasks.CreateTask(ctx, projectID, title)
	if err != nil {
		slog.Error("Dispatcher create task failed", "error", err, "projectID", projectID, "flowID", payload.FlowID)
		return msgHandlerFailed
	}
	return fmt.Sprintf("Task created: %s", task.Title)
}

func (d *Dispatcher) updateTask(ctx context.Context, payload models.ResolutionPayload) string {
	if d.deps.Tasks == nil {
		slog.Error("Dispatcher task tracker not configured", "flowID", payload.FlowID)
		return msgNotConfigured
	}
	raw := payload.Get(models.DataKeyTaskID)
	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Error("Dispatcher update task missing or invalid task id", "value", raw, "flowID", payload.FlowID)
		return msgMissingDetails
	}
	update := models.TaskUpdate{
		Done:    payload.Get(models.DataKeyTaskStatus) == "done",
		Comment: payload.Get(models.DataKeyTaskComment),
	}
	if err := d.deps.Tasks.UpdateTask(ctx, taskID, update); err != nil {
		slog.Error("Dispatcher update task failed", "error", err, "taskID", taskID, "flowID", payload.FlowID)
		return msgHandlerFailed
	}
	return "Task updated."
}

func (d *Dispatcher) scheduleAppointment(ctx context.Context, payload models.ResolutionPayload) string {
	if d.deps.Calendar == nil {
		slog.Error("Dispatcher calendar not configured", "flowID", payload.FlowID)
		return msgNotConfigured
	}
	start, err := parseAppointmentTime(payload)
	if err != nil {
		slog.Error("Dispatcher appointment time invalid", "error", err, "flowID", payload.FlowID)
		return msgMissingDetails
	}
	title := payload.Get(models.DataKeyTitle)
	if title == "" {
		title = "Appointment"
	}
	var attendees []string
	if email := payload.Get(models.DataKeyEmail); email != "" {
		attendees = append(attendees, email)
	}

	event, err := d.deps.Calendar.CreateEvent(ctx, title, start, start.Add(defaultAppointmentDuration), attendees)
	if err != nil {
		slog.Error("Dispatcher create event failed", "error", err, "flowID", payload.FlowID)
		return msgHandlerFailed
	}
	return fmt.Sprintf("Appointment booked: %s at %s", event.Title, start.Format("Mon Jan 2 15:04"))
}

// parseAppointmentTime accepts either a combined RFC 3339 datetime or separate
// date and time answers.
func parseAppointmentTime(payload models.ResolutionPayload) (time.Time, error) {
	if raw := payload.Get(models.DataKeyDateTime); raw != "" {
		return time.Parse(time.RFC3339, raw)
	}
	date := payload.Get(models.DataKeyDate)
	clock := payload.Get(models.DataKeyTime)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("no datetime collected")
	}
	return time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.Local)
}

func (d *Dispatcher) printDocument(ctx context.Context, payload models.ResolutionPayload) string {
	if d.deps.Printer == nil {
		slog.Error("Dispatcher printer not configured", "flowID", payload.FlowID)
		return msgNotConfigured
	}
	encoded := payload.Get(models.DataKeyDocument)
	if encoded == "" {
		slog.Error("Dispatcher print missing document", "flowID", payload.FlowID)
		return msgMissingDetails
	}
	attachment, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		slog.Error("Dispatcher print document decode failed", "error", err, "flowID", payload.FlowID)
		return msgMissingDetails
	}
	filename := payload.Get(models.DataKeyFilename)
	if filename == "" {
		filename = "document.pdf"
	}

	correlationID := uuid.NewString()
	if err := d.deps.Printer.Send(ctx, attachment, filename, correlationID); err != nil {
		slog.Error("Dispatcher print send failed", "error", err, "filename", filename, "flowID", payload.FlowID)
		return msgHandlerFailed
	}
	return fmt.Sprintf("Your file %q was sent to the printer. You'll be notified when its status changes (job %s).", filename, correlationID)
}

func (d *Dispatcher) salesInquiry(ctx context.Context, payload models.ResolutionPayload) string {
	if d.deps.Sales == nil {
		slog.Error("Dispatcher sales module not configured", "flowID", payload.FlowID)
		return msgNotConfigured
	}
	query := payload.Get(models.DataKeyQuery, "project_description", "need")
	if query == "" {
		slog.Error("Dispatcher sales inquiry missing query", "flowID", payload.FlowID)
		return msgMissingDetails
	}
	pitch, err := d.deps.Sales.Pitch(ctx, query, payload.Data)
	if err != nil {
		slog.Error("Dispatcher sales pitch failed", "error", err, "flowID", payload.FlowID)
		return msgHandlerFailed
	}
	return pitch
}

func (d *Dispatcher) llmPrompt(ctx context.Context, payload models.ResolutionPayload) string {
	if d.deps.GenAI == nil {
		slog.Error("Dispatcher language model not configured", "flowID", payload.FlowID)
		return msgNotConfigured
	}
	prompt := payload.Get(models.DataKeyPrompt, models.DataKeyQuery)
	if prompt == "" {
		slog.Error("Dispatcher llm prompt missing", "flowID", payload.FlowID)
		return msgMissingDetails
	}
	text, err := d.deps.GenAI.Generate(ctx, defaultLLMSystemPrompt, prompt)
	if err != nil {
		slog.Error("Dispatcher llm generate failed", "error", err, "flowID", payload.FlowID)
		return msgHandlerFailed
	}
	return text
}
