// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types for the support routing bus.
// Messages are organized by domain.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// TICKET LIFECYCLE EVENTS
// =============================================================================

// TicketReceived is emitted when a customer message enters the routing loop.
// Subscribers: telemetry, analytics relay.
type TicketReceived struct {
	SessionID      string `json:"session_id"`
	ExternalUserID string `json:"external_user_id,omitempty"`
	NewSession     bool   `json:"new_session"`
	MessagePreview string `json:"message_preview,omitempty"`
}

// Category implements the Message interface.
func (m *TicketReceived) Category() string { return string(MessageCategoryEvent) }

// SessionResolved is emitted when a session reaches the resolved terminal state.
type SessionResolved struct {
	SessionID  string `json:"session_id"`
	IssueType  string `json:"issue_type"`
	Urgency    string `json:"urgency"`
	Hops       int    `json:"hops"`
	DurationMS int    `json:"duration_ms"`
}

// Category implements the Message interface.
func (m *SessionResolved) Category() string { return string(MessageCategoryEvent) }

// SessionEscalated is emitted when a session reaches the escalated terminal state.
type SessionEscalated struct {
	SessionID  string  `json:"session_id"`
	IssueType  string  `json:"issue_type"`
	Urgency    string  `json:"urgency"`
	Confidence float64 `json:"confidence"`
	Hops       int     `json:"hops"`
	DurationMS int     `json:"duration_ms"`
}

// Category implements the Message interface.
func (m *SessionEscalated) Category() string { return string(MessageCategoryEvent) }

// RoutingFailed is emitted when a routing run aborts without a terminal outcome.
// The session stays open for manual retry.
type RoutingFailed struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"` // "routing_exhausted", "collaborator_failure", "invalid_transition"
	Error     string `json:"error,omitempty"`
	Hops      int    `json:"hops"`
}

// Category implements the Message interface.
func (m *RoutingFailed) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// STAGE LIFECYCLE EVENTS
// =============================================================================

// StageStarted is emitted when a stage begins processing a session.
// Subscribers: telemetry, analytics relay.
type StageStarted struct {
	Stage     string `json:"stage"`
	SessionID string `json:"session_id"`
	Hop       int    `json:"hop"`
}

// Category implements the Message interface.
func (m *StageStarted) Category() string { return string(MessageCategoryEvent) }

// StageCompleted is emitted when a stage finishes processing.
type StageCompleted struct {
	Stage      string  `json:"stage"`
	SessionID  string  `json:"session_id"`
	Hop        int     `json:"hop"`
	Status     string  `json:"status"` // "success", "error"
	Signal     string  `json:"signal,omitempty"`
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *StageCompleted) Category() string { return string(MessageCategoryEvent) }

// RoutingDecided is emitted for every router decision, including terminals.
type RoutingDecided struct {
	SessionID string `json:"session_id"`
	Signal    string `json:"signal"`
	NextStage string `json:"next_stage,omitempty"`
	Terminal  string `json:"terminal,omitempty"`
	Hop       int    `json:"hop"`
}

// Category implements the Message interface.
func (m *RoutingDecided) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// SESSION QUERIES
// =============================================================================

// GetSessionStatus queries the current status of a ticket session.
type GetSessionStatus struct {
	SessionID string `json:"session_id"`
}

// Category implements the Message interface.
func (m *GetSessionStatus) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetSessionStatus) IsQuery() {}

// SessionStatusResponse is the response for GetSessionStatus.
type SessionStatusResponse struct {
	SessionID string `json:"session_id"`
	Found     bool   `json:"found"`
	Status    string `json:"status,omitempty"`
	IssueType string `json:"issue_type,omitempty"`
	Urgency   string `json:"urgency,omitempty"`
	Messages  int    `json:"messages"`
}

// GetRoutingStats queries aggregate routing counters since process start.
type GetRoutingStats struct{}

// Category implements the Message interface.
func (m *GetRoutingStats) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetRoutingStats) IsQuery() {}

// RoutingStatsResponse is the response for GetRoutingStats.
type RoutingStatsResponse struct {
	SessionsStarted int `json:"sessions_started"`
	Resolved        int `json:"resolved"`
	Escalated       int `json:"escalated"`
	Failed          int `json:"failed"`
}

// =============================================================================
// PREFERENCE COMMANDS
// =============================================================================

// InvalidatePreferenceCache is a command to drop a customer's cached
// preference record, forcing the next read to hit durable storage. Sent
// when preferences are edited outside the routing loop.
type InvalidatePreferenceCache struct {
	UserID string `json:"user_id"`
}

// Category implements the Message interface.
func (m *InvalidatePreferenceCache) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *TicketReceived:
		return "TicketReceived"
	case *SessionResolved:
		return "SessionResolved"
	case *SessionEscalated:
		return "SessionEscalated"
	case *RoutingFailed:
		return "RoutingFailed"
	case *StageStarted:
		return "StageStarted"
	case *StageCompleted:
		return "StageCompleted"
	case *RoutingDecided:
		return "RoutingDecided"
	case *GetSessionStatus:
		return "GetSessionStatus"
	case *GetRoutingStats:
		return "GetRoutingStats"
	case *InvalidatePreferenceCache:
		return "InvalidatePreferenceCache"
	default:
		return "Unknown"
	}
}

// LifecycleEventTypes lists the event types the analytics relay forwards.
func LifecycleEventTypes() []string {
	return []string{
		"TicketReceived",
		"StageStarted",
		"StageCompleted",
		"RoutingDecided",
		"SessionResolved",
		"SessionEscalated",
		"RoutingFailed",
	}
}
