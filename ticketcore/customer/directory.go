// Package customer provides read access to the customer directory:
// account profiles, subscriptions, reservations, and past tickets.
package customer

import (
	"context"
	"time"
)

// Account is a customer profile record.
type Account struct {
	UserID   string
	FullName string
	Email    string
	// Status is ACTIVE or BLOCKED.
	Status string
}

// Subscription is a customer's current subscription, if any.
type Subscription struct {
	Status    string
	Tier      string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Reservation is one booked experience on a customer account.
type Reservation struct {
	ReservationID   string
	ExperienceID    string
	ExperienceTitle string
	Status          string
	When            *time.Time
}

// Availability describes an experience and its remaining capacity.
type Availability struct {
	ExperienceID   string
	Title          string
	Location       string
	When           *time.Time
	IsPremium      bool
	SlotsAvailable int
}

// TicketSummary is a condensed view of a past support ticket, used to
// give the resolver continuity across a customer's history.
type TicketSummary struct {
	TicketID  string
	IssueType string
	Status    string
	CreatedAt time.Time
}

// Directory is the protocol for the customer data collaborator.
// Only the resolver stage holds a Directory handle.
type Directory interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	GetReservations(ctx context.Context, userID string) ([]Reservation, error)
	GetExperienceAvailability(ctx context.Context, experienceID string) (Availability, error)
	// GetTicketHistory returns the customer's past tickets, most recent
	// first, excluding the ticket identified by excludeTicketID.
	GetTicketHistory(ctx context.Context, userID string, excludeTicketID string) ([]TicketSummary, error)
}
