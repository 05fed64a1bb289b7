// Package models defines conversation state structures for Talia flows.
package models

import "time"

// ConversationState is the single in-flight conversation a user may have. It is
// created by StartFlow, rewritten on every handled response, and deleted when
// the flow resolves or is reset.
type ConversationState struct {
	UserID        string            `json:"user_id"`
	FlowID        string            `json:"flow_id"`
	CurrentStepID int               `json:"current_step_id"`
	CollectedData map[string]string `json:"collected_data,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
