package models

// Response represents an incoming message from a user.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"` // transport-assigned id, used for de-duplication
}

// Choice is one selectable option of an outbound keyboard.
type Choice struct {
	Label   string `json:"label"`   // text shown to the user
	Payload string `json:"payload"` // value delivered back when selected
}

// Prompt is an outbound message with an optional choice keyboard.
type Prompt struct {
	Text     string   `json:"text"`
	Keyboard []Choice `json:"keyboard,omitempty"`
}

// APIStatus is the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
