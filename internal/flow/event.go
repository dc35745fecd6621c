package flow

import "github.com/ethangolledge/vapebot/internal/models"

// EventKind distinguishes the shapes of inbound events.
type EventKind int

const (
	EventCommand EventKind = iota + 1
	EventText
	EventButton
)

// Command names understood by the wizard.
const (
	CommandStart  = "start"
	CommandHelp   = "help"
	CommandSetup  = "setup"
	CommandCancel = "cancel"
)

// Event is one inbound user action.
type Event struct {
	Kind    EventKind
	Command string // EventCommand: name without the leading slash
	Text    string // EventText: the message body
	Payload string // EventButton: callback payload of the selected choice
}

// CommandEvent returns a command event.
func CommandEvent(name string) Event {
	return Event{Kind: EventCommand, Command: name}
}

// TextEvent returns a free-text reply event.
func TextEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

// ButtonEvent returns a keyboard selection event.
func ButtonEvent(payload string) Event {
	return Event{Kind: EventButton, Payload: payload}
}

// Reply is what the wizard wants sent back for one event.
type Reply struct {
	// Handled is false when the event is not part of any conversation.
	Handled bool
	// Ack acknowledges a button selection; empty for other events.
	Ack string
	// Prompts are sent in order.
	Prompts []models.Prompt
	// State is the user's wizard state after the event.
	State State
}
