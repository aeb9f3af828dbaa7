// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package are designed for testing the routing core
// in isolation without requiring external dependencies.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/customer"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/knowledge"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// =============================================================================
// MOCK REASONER
// =============================================================================

// MockReasoner implements llm.Reasoner for testing.
// Configure responses by system-prompt prefix or use DefaultResponse.
type MockReasoner struct {
	// Responses maps system-prompt prefixes to responses.
	// First matching prefix wins.
	Responses map[string]string

	// DefaultResponse is returned when no prefix matches.
	DefaultResponse string

	// Delay simulates reasoner latency.
	Delay time.Duration

	// Error causes Infer to return this error.
	Error error

	// CallCount tracks the number of Infer calls.
	CallCount int

	// Calls records all calls for assertion.
	Calls []ReasonerCall

	// InferFunc allows custom logic. If set, it is called instead of
	// the Responses lookup.
	InferFunc func(ctx context.Context, system, user string) (string, error)

	mu sync.Mutex
}

// ReasonerCall records a single Infer call for assertion.
type ReasonerCall struct {
	System string
	User   string
}

// NewMockReasoner creates a MockReasoner with sensible defaults.
func NewMockReasoner() *MockReasoner {
	return &MockReasoner{
		Responses:       make(map[string]string),
		DefaultResponse: `{"issue_type": "general", "urgency": "low", "sentiment": "neutral"}`,
	}
}

// Infer implements llm.Reasoner.
func (m *MockReasoner) Infer(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, ReasonerCall{System: system, User: user})
	customFunc := m.InferFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, system, user)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Error != nil {
		return "", m.Error
	}

	for prefix, response := range m.Responses {
		if len(system) >= len(prefix) && system[:len(prefix)] == prefix {
			return response, nil
		}
	}
	return m.DefaultResponse, nil
}

// WithResponse adds a prefix-based response.
func (m *MockReasoner) WithResponse(prefix, response string) *MockReasoner {
	m.Responses[prefix] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockReasoner) WithError(err error) *MockReasoner {
	m.Error = err
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockReasoner) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// =============================================================================
// MOCK SEARCHER
// =============================================================================

// MockSearcher implements knowledge.Searcher for testing.
type MockSearcher struct {
	// Articles is returned by every Search call.
	Articles []knowledge.Article

	// Error causes Search to return this error.
	Error error

	// CallCount tracks the number of Search calls.
	CallCount int

	// Queries records all queries for assertion.
	Queries []string

	mu sync.Mutex
}

// NewMockSearcher creates a MockSearcher returning the given articles.
func NewMockSearcher(articles ...knowledge.Article) *MockSearcher {
	return &MockSearcher{Articles: articles}
}

// Search implements knowledge.Searcher.
func (m *MockSearcher) Search(ctx context.Context, query string, limit int) ([]knowledge.Article, error) {
	m.mu.Lock()
	m.CallCount++
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()

	if m.Error != nil {
		return nil, m.Error
	}
	if limit > 0 && len(m.Articles) > limit {
		return m.Articles[:limit], nil
	}
	return m.Articles, nil
}

// =============================================================================
// MOCK DIRECTORY
// =============================================================================

// MockDirectory implements customer.Directory for testing.
type MockDirectory struct {
	Account      customer.Account
	AccountErr   error
	Subscription *customer.Subscription
	Reservations []customer.Reservation
	// Availability maps experience IDs to availability records.
	// Unknown IDs yield NotFound, matching the Postgres directory.
	Availability map[string]customer.Availability
	History      []customer.TicketSummary
	Err          error
}

// GetAccount implements customer.Directory.
func (m *MockDirectory) GetAccount(ctx context.Context, userID string) (customer.Account, error) {
	if m.AccountErr != nil {
		return customer.Account{}, m.AccountErr
	}
	if m.Err != nil {
		return customer.Account{}, m.Err
	}
	return m.Account, nil
}

// GetSubscription implements customer.Directory.
func (m *MockDirectory) GetSubscription(ctx context.Context, userID string) (*customer.Subscription, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Subscription, nil
}

// GetReservations implements customer.Directory.
func (m *MockDirectory) GetReservations(ctx context.Context, userID string) ([]customer.Reservation, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Reservations, nil
}

// GetExperienceAvailability implements customer.Directory.
func (m *MockDirectory) GetExperienceAvailability(ctx context.Context, experienceID string) (customer.Availability, error) {
	if m.Err != nil {
		return customer.Availability{}, m.Err
	}
	if av, ok := m.Availability[experienceID]; ok {
		return av, nil
	}
	return customer.Availability{}, fault.NewNotFound("experience", experienceID)
}

// GetTicketHistory implements customer.Directory.
func (m *MockDirectory) GetTicketHistory(ctx context.Context, userID string, excludeTicketID string) ([]customer.TicketSummary, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.History, nil
}

// =============================================================================
// CAPTURING LOGGER
// =============================================================================

// LogEntry is one captured log record.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

// CapturingLogger implements commbus.Logger and records every entry.
type CapturingLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
	bound   []any
}

// NewCapturingLogger creates an empty CapturingLogger.
func NewCapturingLogger() *CapturingLogger {
	return &CapturingLogger{}
}

func (l *CapturingLogger) log(level, msg string, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.bound...), fields...)
	l.Entries = append(l.Entries, LogEntry{Level: level, Message: msg, Fields: all})
}

func (l *CapturingLogger) Debug(msg string, fields ...any) { l.log("debug", msg, fields...) }
func (l *CapturingLogger) Info(msg string, fields ...any)  { l.log("info", msg, fields...) }
func (l *CapturingLogger) Warn(msg string, fields ...any)  { l.log("warn", msg, fields...) }
func (l *CapturingLogger) Error(msg string, fields ...any) { l.log("error", msg, fields...) }

// Bind implements commbus.Logger. The same logger is returned so
// assertions see entries from all bound children.
func (l *CapturingLogger) Bind(fields ...any) commbus.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bound = append(l.bound, fields...)
	return l
}

// HasMessage reports whether any entry carries the given message.
func (l *CapturingLogger) HasMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// =============================================================================
// SESSION FACTORIES
// =============================================================================

// NewClassifiedSession builds an open session that already passed
// classification.
func NewClassifiedSession(id string, urgency session.Urgency) *session.Session {
	sess := session.NewSession(id, "user_"+id)
	sess.AppendMessage(session.RoleCustomer, "I cannot log into my account")
	sess.IssueType = session.IssueLogin
	sess.Urgency = urgency
	sess.Sentiment = session.SentimentNeutral
	return sess
}

// NewRetrievedSession builds a classified session with a committed
// retrieval confidence.
func NewRetrievedSession(id string, urgency session.Urgency, confidence float64) *session.Session {
	sess := NewClassifiedSession(id, urgency)
	sess.RetrievalConfidence = &confidence
	sess.ArticlesFound = 2
	return sess
}
