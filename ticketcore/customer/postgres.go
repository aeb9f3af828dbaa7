package customer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
)

// PGDirectory implements Directory over the CultPass Postgres database.
type PGDirectory struct {
	pool   *pgxpool.Pool
	logger commbus.Logger
}

// NewPGDirectory connects to the customer database and verifies the
// connection before returning.
func NewPGDirectory(ctx context.Context, connString string, logger commbus.Logger) (*PGDirectory, error) {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping customer database: %w", err)
	}
	return &PGDirectory{
		pool:   pool,
		logger: logger.Bind("component", "pg_directory"),
	}, nil
}

// Close releases the connection pool.
func (d *PGDirectory) Close() {
	d.pool.Close()
}

// GetAccount implements the Directory interface.
func (d *PGDirectory) GetAccount(ctx context.Context, userID string) (Account, error) {
	const query = `
		SELECT user_id, full_name, email, is_blocked
		FROM users
		WHERE user_id = $1`

	var acct Account
	var blocked bool
	err := d.pool.QueryRow(ctx, query, userID).Scan(&acct.UserID, &acct.FullName, &acct.Email, &blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fault.NewNotFound("account", userID)
	}
	if err != nil {
		return Account{}, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	if blocked {
		acct.Status = "BLOCKED"
	} else {
		acct.Status = "ACTIVE"
	}
	return acct, nil
}

// GetSubscription implements the Directory interface. A customer without
// a subscription yields (nil, nil).
func (d *PGDirectory) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	const query = `
		SELECT status, tier, started_at, ended_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT 1`

	var sub Subscription
	err := d.pool.QueryRow(ctx, query, userID).Scan(&sub.Status, &sub.Tier, &sub.StartedAt, &sub.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	return &sub, nil
}

// GetReservations implements the Directory interface.
func (d *PGDirectory) GetReservations(ctx context.Context, userID string) ([]Reservation, error) {
	const query = `
		SELECT r.reservation_id, r.experience_id, e.title, r.status, e.occurs_at
		FROM reservations r
		JOIN experiences e ON e.experience_id = r.experience_id
		WHERE r.user_id = $1
		ORDER BY e.occurs_at DESC`

	rows, err := d.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	defer rows.Close()

	var reservations []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ReservationID, &r.ExperienceID, &r.ExperienceTitle, &r.Status, &r.When); err != nil {
			return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	return reservations, nil
}

// GetExperienceAvailability implements the Directory interface.
func (d *PGDirectory) GetExperienceAvailability(ctx context.Context, experienceID string) (Availability, error) {
	const query = `
		SELECT experience_id, title, location, occurs_at, is_premium, slots_available
		FROM experiences
		WHERE experience_id = $1`

	var av Availability
	err := d.pool.QueryRow(ctx, query, experienceID).Scan(
		&av.ExperienceID, &av.Title, &av.Location, &av.When, &av.IsPremium, &av.SlotsAvailable,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Availability{}, fault.NewNotFound("experience", experienceID)
	}
	if err != nil {
		return Availability{}, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	return av, nil
}

// GetTicketHistory implements the Directory interface.
func (d *PGDirectory) GetTicketHistory(ctx context.Context, userID string, excludeTicketID string) ([]TicketSummary, error) {
	const query = `
		SELECT t.ticket_id, COALESCE(m.main_issue_type, ''), COALESCE(m.status, ''), t.created_at
		FROM tickets t
		LEFT JOIN ticket_metadata m ON m.ticket_id = t.ticket_id
		WHERE t.user_id = $1 AND t.ticket_id <> $2
		ORDER BY t.created_at DESC
		LIMIT 10`

	rows, err := d.pool.Query(ctx, query, userID, excludeTicketID)
	if err != nil {
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	defer rows.Close()

	var history []TicketSummary
	for rows.Next() {
		var t TicketSummary
		if err := rows.Scan(&t.TicketID, &t.IssueType, &t.Status, &t.CreatedAt); err != nil {
			return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorCustomerData, err)
	}
	return history, nil
}

// Ensure PGDirectory implements Directory.
var _ Directory = (*PGDirectory)(nil)
