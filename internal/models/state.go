package models

import "time"

// FlowState represents where a user currently is in a conversation flow.
type FlowState struct {
	UserID       string            `json:"user_id"`
	FlowType     string            `json:"flow_type"`
	CurrentState string            `json:"current_state"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
