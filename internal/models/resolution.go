// Package models defines the resolution payloads produced at flow completion.
package models

// ResolutionKind tags the side effect executed when a flow completes. The set
// is closed: the dispatcher matches kinds exhaustively and routes anything it
// does not recognize to a generic completion acknowledgment.
type ResolutionKind string

const (
	// ResolutionDefault acknowledges completion without a side effect.
	ResolutionDefault ResolutionKind = "resolution_default"
	// ResolutionCreateTask creates one task in the external tracker.
	ResolutionCreateTask ResolutionKind = "resolution_create_task"
	// ResolutionUpdateTask updates the status or comment of an existing task.
	ResolutionUpdateTask ResolutionKind = "resolution_update_task"
	// ResolutionScheduleAppointment writes one calendar event.
	ResolutionScheduleAppointment ResolutionKind = "resolution_schedule_appointment"
	// ResolutionPrintDocument mails one document to the print service.
	ResolutionPrintDocument ResolutionKind = "resolution_print_document"
	// ResolutionSalesInquiry generates a personalized sales pitch.
	ResolutionSalesInquiry ResolutionKind = "resolution_sales_inquiry"
	// ResolutionLLMPrompt generates one language-model response.
	ResolutionLLMPrompt ResolutionKind = "resolution_llm_prompt"
)

// Well-known collected-data keys the dispatcher extracts parameters from.
const (
	DataKeyProjectID   = "project_id"
	DataKeyTaskID      = "task_id"
	DataKeyTaskTitle   = "task_title"
	DataKeyTaskStatus  = "task_status"
	DataKeyTaskComment = "task_comment"
	DataKeyTitle       = "title"
	DataKeyDate        = "date"
	DataKeyTime        = "time"
	DataKeyDateTime    = "datetime"
	DataKeyEmail       = "email"
	DataKeyDocument    = "document_b64"
	DataKeyFilename    = "filename"
	DataKeyQuery       = "query"
	DataKeyPrompt      = "prompt"
)

// ResolutionPayload is produced exactly once when a flow reaches its terminal
// step and is consumed immediately by the dispatcher. It carries the declared
// kind and the full collected-data mapping.
type ResolutionPayload struct {
	Kind   ResolutionKind    `json:"kind"`
	UserID string            `json:"user_id"`
	FlowID string            `json:"flow_id"`
	Data   map[string]string `json:"data,omitempty"`
}

// Get returns the value for the first present key, or "" when none is set.
func (p ResolutionPayload) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := p.Data[k]; ok && v != "" {
			return v
		}
	}
	return ""
}
