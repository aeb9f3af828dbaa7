// Package session provides the durable ticket session document and its enums.
package session

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a ticket session.
// Transitions are one-directional: open -> resolved or open -> escalated.
type Status string

const (
	// StatusOpen indicates the ticket is awaiting an automated or human answer.
	StatusOpen Status = "open"
	// StatusResolved indicates the resolver produced an accepted answer.
	StatusResolved Status = "resolved"
	// StatusEscalated indicates the ticket was handed to a human.
	StatusEscalated Status = "escalated"
)

// IsTerminal checks whether no further routing may occur.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusEscalated
}

// StatusFromString parses a status string.
func StatusFromString(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open":
		return StatusOpen, nil
	case "resolved":
		return StatusResolved, nil
	case "escalated":
		return StatusEscalated, nil
	default:
		return "", fmt.Errorf("invalid status '%s'. Must be one of: open, resolved, escalated", value)
	}
}

// IssueType represents the primary category of a support issue.
type IssueType string

const (
	IssueLogin        IssueType = "login"
	IssueBilling      IssueType = "billing"
	IssueReservation  IssueType = "reservation"
	IssueSubscription IssueType = "subscription"
	IssueAccount      IssueType = "account"
	IssueGeneral      IssueType = "general"
)

// IssueTypeFromString parses an issue type string.
// Unknown tokens are an error, never coerced to a default.
func IssueTypeFromString(value string) (IssueType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "login":
		return IssueLogin, nil
	case "billing":
		return IssueBilling, nil
	case "reservation":
		return IssueReservation, nil
	case "subscription":
		return IssueSubscription, nil
	case "account":
		return IssueAccount, nil
	case "general":
		return IssueGeneral, nil
	default:
		return "", fmt.Errorf("invalid issue type '%s'. Must be one of: login, billing, reservation, subscription, account, general", value)
	}
}

// Urgency represents how quickly a ticket needs attention.
//
// Levels:
//
//	high:   blocked accounts, data loss, payment failures
//	medium: functional issues that degrade experience
//	low:    informational or minor questions
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// UrgencyFromString parses an urgency string.
func UrgencyFromString(value string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return UrgencyHigh, nil
	case "medium":
		return UrgencyMedium, nil
	case "low":
		return UrgencyLow, nil
	default:
		return "", fmt.Errorf("invalid urgency '%s'. Must be one of: high, medium, low", value)
	}
}

// Sentiment represents the detected customer sentiment.
type Sentiment string

const (
	SentimentFrustrated Sentiment = "frustrated"
	SentimentNegative   Sentiment = "negative"
	SentimentNeutral    Sentiment = "neutral"
	SentimentPositive   Sentiment = "positive"
)

// SentimentFromString parses a sentiment string.
func SentimentFromString(value string) (Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "frustrated":
		return SentimentFrustrated, nil
	case "negative":
		return SentimentNegative, nil
	case "neutral":
		return SentimentNeutral, nil
	case "positive":
		return SentimentPositive, nil
	default:
		return "", fmt.Errorf("invalid sentiment '%s'. Must be one of: frustrated, negative, neutral, positive", value)
	}
}

// Role represents who authored a conversation message.
type Role string

const (
	// RoleCustomer is an inbound customer message.
	RoleCustomer Role = "customer"
	// RoleAssistant is a customer-visible automated reply.
	RoleAssistant Role = "assistant"
	// RoleSystem is an internal note, never shown to the customer.
	RoleSystem Role = "system"
)

// RoleFromString parses a message role string.
func RoleFromString(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "customer":
		return RoleCustomer, nil
	case "assistant":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	default:
		return "", fmt.Errorf("invalid role '%s'. Must be one of: customer, assistant, system", value)
	}
}
