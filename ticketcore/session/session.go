package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/typeutil"
)

// Message is one entry in a session's conversation. The conversation is
// append-only; messages are never edited or removed.
type Message struct {
	MessageID string    `json:"message_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditRecord records a single routing hop for later inspection.
type AuditRecord struct {
	Stage       string     `json:"stage"`
	Hop         int        `json:"hop"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int        `json:"duration_ms"`
	Status      string     `json:"status"` // "running", "success", "error"
	Signal      string     `json:"signal,omitempty"`
	Decision    string     `json:"decision,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Preferences is the per-user personalization record.
// Fields merge last-write-wins; an unknown user yields the zero value.
type Preferences struct {
	PreferredLanguage string `json:"preferred_language,omitempty"`
	PreferredChannel  string `json:"preferred_channel,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Merge applies a partial field update, last writer wins per field.
// Recognized fields: preferred_language, preferred_channel, notes.
func (p *Preferences) Merge(fields map[string]string) {
	if v, ok := fields["preferred_language"]; ok {
		p.PreferredLanguage = v
	}
	if v, ok := fields["preferred_channel"]; ok {
		p.PreferredChannel = v
	}
	if v, ok := fields["notes"]; ok {
		p.Notes = v
	}
}

// IsZero reports whether no preference field is set.
func (p Preferences) IsZero() bool {
	return p.PreferredLanguage == "" && p.PreferredChannel == "" && p.Notes == ""
}

// Fields returns the set fields as a partial update map, the inverse
// of Merge.
func (p Preferences) Fields() map[string]string {
	fields := make(map[string]string, 3)
	if p.PreferredLanguage != "" {
		fields["preferred_language"] = p.PreferredLanguage
	}
	if p.PreferredChannel != "" {
		fields["preferred_channel"] = p.PreferredChannel
	}
	if p.Notes != "" {
		fields["notes"] = p.Notes
	}
	return fields
}

// Session is the durable per-ticket state threaded through every stage
// execution. The session ID doubles as the conversation thread key.
//
// Invariants:
//   - Status moves only open -> resolved or open -> escalated, never back.
//   - RetrievalConfidence and Urgency are both set before any routing
//     decision beyond classification.
//   - Conversation is append-only.
type Session struct {
	SessionID      string `json:"session_id"`
	ExternalUserID string `json:"external_user_id,omitempty"`

	// Classification
	IssueType IssueType `json:"issue_type,omitempty"` // empty = unset
	Urgency   Urgency   `json:"urgency,omitempty"`    // empty = unset
	Sentiment Sentiment `json:"sentiment,omitempty"`

	// Retrieval
	RetrievalConfidence *float64 `json:"retrieval_confidence,omitempty"`
	ArticlesFound       int      `json:"articles_found"`

	// Lifecycle
	Status     Status `json:"status"`
	LastSignal string `json:"last_signal,omitempty"`

	Conversation []Message     `json:"conversation"`
	Audit        []AuditRecord `json:"audit"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewSession creates an open session for a previously-unseen ticket ID.
func NewSession(sessionID, externalUserID string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:      sessionID,
		ExternalUserID: externalUserID,
		Status:         StatusOpen,
		Conversation:   []Message{},
		Audit:          []AuditRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendMessage appends a message to the conversation and returns it.
func (s *Session) AppendMessage(role Role, content string) Message {
	msg := Message{
		MessageID: "msg_" + uuid.New().String()[:16],
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.Conversation = append(s.Conversation, msg)
	s.UpdatedAt = msg.CreatedAt
	return msg
}

// LastCustomerVisibleMessage returns the content of the most recent
// assistant message, or empty when none exists.
func (s *Session) LastCustomerVisibleMessage() string {
	for i := len(s.Conversation) - 1; i >= 0; i-- {
		if s.Conversation[i].Role == RoleAssistant {
			return s.Conversation[i].Content
		}
	}
	return ""
}

// LastCustomerMessage returns the most recent customer message content.
func (s *Session) LastCustomerMessage() string {
	for i := len(s.Conversation) - 1; i >= 0; i-- {
		if s.Conversation[i].Role == RoleCustomer {
			return s.Conversation[i].Content
		}
	}
	return ""
}

// LastSystemMessage returns the most recent internal note content.
func (s *Session) LastSystemMessage() string {
	for i := len(s.Conversation) - 1; i >= 0; i-- {
		if s.Conversation[i].Role == RoleSystem {
			return s.Conversation[i].Content
		}
	}
	return ""
}

// MarkResolved transitions the session to resolved.
// Fails if the session is already terminal.
func (s *Session) MarkResolved() error {
	if s.Status.IsTerminal() {
		return fault.NewInvalidTransition(string(s.Status), "mark_resolved")
	}
	now := time.Now().UTC()
	s.Status = StatusResolved
	s.ClosedAt = &now
	s.UpdatedAt = now
	return nil
}

// MarkEscalated transitions the session to escalated.
// Fails if the session is already terminal.
func (s *Session) MarkEscalated() error {
	if s.Status.IsTerminal() {
		return fault.NewInvalidTransition(string(s.Status), "mark_escalated")
	}
	now := time.Now().UTC()
	s.Status = StatusEscalated
	s.ClosedAt = &now
	s.UpdatedAt = now
	return nil
}

// =============================================================================
// Audit Trail
// =============================================================================

// RecordStageStart records the start of a routing hop.
func (s *Session) RecordStageStart(stage string, hop int) {
	s.Audit = append(s.Audit, AuditRecord{
		Stage:     stage,
		Hop:       hop,
		StartedAt: time.Now().UTC(),
		Status:    "running",
	})
}

// RecordStageComplete completes the most recent running record for a stage.
func (s *Session) RecordStageComplete(stage, status, signal, decision string, errMsg *string, durationMS int) {
	for i := len(s.Audit) - 1; i >= 0; i-- {
		rec := &s.Audit[i]
		if rec.Stage == stage && rec.Status == "running" {
			now := time.Now().UTC()
			rec.CompletedAt = &now
			rec.Status = status
			rec.Signal = signal
			rec.Decision = decision
			rec.Error = errMsg
			if durationMS > 0 {
				rec.DurationMS = durationMS
			} else {
				rec.DurationMS = int(now.Sub(rec.StartedAt).Milliseconds())
			}
			break
		}
	}
}

// Hops returns the number of routing hops recorded so far.
func (s *Session) Hops() int {
	return len(s.Audit)
}

// =============================================================================
// Clone - Deep Copy
// =============================================================================

// Clone creates a deep copy of the session.
// Stages mutate clones; the store commits them atomically.
func (s *Session) Clone() *Session {
	clone := &Session{
		SessionID:      s.SessionID,
		ExternalUserID: s.ExternalUserID,
		IssueType:      s.IssueType,
		Urgency:        s.Urgency,
		Sentiment:      s.Sentiment,
		ArticlesFound:  s.ArticlesFound,
		Status:         s.Status,
		LastSignal:     s.LastSignal,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}

	if s.RetrievalConfidence != nil {
		c := *s.RetrievalConfidence
		clone.RetrievalConfidence = &c
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		clone.ClosedAt = &t
	}

	clone.Conversation = make([]Message, len(s.Conversation))
	copy(clone.Conversation, s.Conversation)

	clone.Audit = make([]AuditRecord, len(s.Audit))
	for i, rec := range s.Audit {
		clone.Audit[i] = rec
		if rec.CompletedAt != nil {
			t := *rec.CompletedAt
			clone.Audit[i].CompletedAt = &t
		}
		if rec.Error != nil {
			e := *rec.Error
			clone.Audit[i].Error = &e
		}
	}

	return clone
}

// =============================================================================
// Serialization
// =============================================================================

// ToStateDict converts the session to a state dict for persistence.
func (s *Session) ToStateDict() map[string]any {
	conversation := make([]map[string]any, len(s.Conversation))
	for i, msg := range s.Conversation {
		conversation[i] = map[string]any{
			"message_id": msg.MessageID,
			"role":       string(msg.Role),
			"content":    msg.Content,
			"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
		}
	}

	audit := make([]map[string]any, len(s.Audit))
	for i, rec := range s.Audit {
		entry := map[string]any{
			"stage":       rec.Stage,
			"hop":         rec.Hop,
			"started_at":  rec.StartedAt.Format(time.RFC3339Nano),
			"duration_ms": rec.DurationMS,
			"status":      rec.Status,
			"signal":      rec.Signal,
			"decision":    rec.Decision,
		}
		if rec.CompletedAt != nil {
			entry["completed_at"] = rec.CompletedAt.Format(time.RFC3339Nano)
		}
		if rec.Error != nil {
			entry["error"] = *rec.Error
		}
		audit[i] = entry
	}

	state := map[string]any{
		"session_id":       s.SessionID,
		"external_user_id": s.ExternalUserID,
		"issue_type":       string(s.IssueType),
		"urgency":          string(s.Urgency),
		"sentiment":        string(s.Sentiment),
		"articles_found":   s.ArticlesFound,
		"status":           string(s.Status),
		"last_signal":      s.LastSignal,
		"conversation":     conversation,
		"audit":            audit,
		"created_at":       s.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       s.UpdatedAt.Format(time.RFC3339Nano),
	}
	if s.RetrievalConfidence != nil {
		state["retrieval_confidence"] = *s.RetrievalConfidence
	}
	if s.ClosedAt != nil {
		state["closed_at"] = s.ClosedAt.Format(time.RFC3339Nano)
	}
	return state
}

// FromStateDict reconstructs a session from a state dict.
func FromStateDict(state map[string]any) *Session {
	s := &Session{
		SessionID:      typeutil.SafeStringDefault(state["session_id"], ""),
		ExternalUserID: typeutil.SafeStringDefault(state["external_user_id"], ""),
		IssueType:      IssueType(typeutil.SafeStringDefault(state["issue_type"], "")),
		Urgency:        Urgency(typeutil.SafeStringDefault(state["urgency"], "")),
		Sentiment:      Sentiment(typeutil.SafeStringDefault(state["sentiment"], "")),
		ArticlesFound:  typeutil.SafeIntDefault(state["articles_found"], 0),
		Status:         Status(typeutil.SafeStringDefault(state["status"], string(StatusOpen))),
		LastSignal:     typeutil.SafeStringDefault(state["last_signal"], ""),
		Conversation:   []Message{},
		Audit:          []AuditRecord{},
	}

	if v, ok := typeutil.SafeFloat64(state["retrieval_confidence"]); ok {
		s.RetrievalConfidence = &v
	}
	if v, ok := typeutil.SafeString(state["created_at"]); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.CreatedAt = t
		}
	}
	if v, ok := typeutil.SafeString(state["updated_at"]); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.UpdatedAt = t
		}
	}
	if v, ok := typeutil.SafeString(state["closed_at"]); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.ClosedAt = &t
		}
	}

	if msgs, ok := typeutil.SafeMapSlice(state["conversation"]); ok {
		for _, m := range msgs {
			msg := Message{
				MessageID: typeutil.SafeStringDefault(m["message_id"], ""),
				Role:      Role(typeutil.SafeStringDefault(m["role"], string(RoleCustomer))),
				Content:   typeutil.SafeStringDefault(m["content"], ""),
			}
			if v, ok := typeutil.SafeString(m["created_at"]); ok {
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					msg.CreatedAt = t
				}
			}
			s.Conversation = append(s.Conversation, msg)
		}
	}

	if recs, ok := typeutil.SafeMapSlice(state["audit"]); ok {
		for _, r := range recs {
			rec := AuditRecord{
				Stage:      typeutil.SafeStringDefault(r["stage"], ""),
				Hop:        typeutil.SafeIntDefault(r["hop"], 0),
				DurationMS: typeutil.SafeIntDefault(r["duration_ms"], 0),
				Status:     typeutil.SafeStringDefault(r["status"], ""),
				Signal:     typeutil.SafeStringDefault(r["signal"], ""),
				Decision:   typeutil.SafeStringDefault(r["decision"], ""),
			}
			if v, ok := typeutil.SafeString(r["started_at"]); ok {
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					rec.StartedAt = t
				}
			}
			if v, ok := typeutil.SafeString(r["completed_at"]); ok {
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					rec.CompletedAt = &t
				}
			}
			if v, ok := typeutil.SafeString(r["error"]); ok {
				rec.Error = &v
			}
			s.Audit = append(s.Audit, rec)
		}
	}

	return s
}
