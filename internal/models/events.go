package models

import "github.com/google/uuid"

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StageEvent struct {
	RunID   uuid.UUID `json:"run_id"`
	Step    int       `json:"step"`
	Stage   string    `json:"stage"`
	Message string    `json:"message,omitempty"`
}

type CompletedEvent struct {
	RunID   uuid.UUID `json:"run_id"`
	Outcome string    `json:"outcome"`
	Success bool      `json:"success"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
