package session

import (
	"github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/service/detection"
)

// EventType names a state change pushed to the UI.
type EventType string

const (
	EventMessageAppended    EventType = "message.appended"
	EventMessageUpdated     EventType = "message.updated"
	EventBalanceUpdated     EventType = "balance.updated"
	EventIntimacyUpdated    EventType = "intimacy.updated"
	EventDetectionUpdated   EventType = "detection.updated"
	EventSuggestionsUpdated EventType = "suggestions.updated"
	EventTurnFailed         EventType = "turn.failed"
	EventFundsInsufficient  EventType = "funds.insufficient"
)

// Event is one state change on the session event stream. Only the fields
// relevant to its type are populated.
type Event struct {
	Type        EventType                  `json:"type"`
	Message     *conversation.Message      `json:"message,omitempty"`
	Balance     *int                       `json:"balance,omitempty"`
	Intimacy    *int                       `json:"intimacy,omitempty"`
	Detection   *detection.Snapshot        `json:"detection,omitempty"`
	Suggestions []conversation.ReplyOption `json:"suggestions,omitempty"`
	Error       string                     `json:"error,omitempty"`
}
