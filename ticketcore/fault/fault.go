// Package fault defines the error taxonomy shared by the router, stages,
// stores, and orchestrator.
//
// Taxonomy:
//   - InvalidTransition: a stage produced a signal impossible for the current
//     session phase. Programmer/contract error, fatal for the run.
//   - RoutingExhausted: the transition bound was exceeded. Fatal, the session
//     stays open for manual retry.
//   - CollaboratorFailure: a reasoning engine, knowledge search, customer
//     data, or persistence call failed. Recoverable via bounded retry.
//   - NotFound: a session or user lookup missed. Recoverable in most stages;
//     fatal only when resuming a session that must exist.
package fault

import (
	"errors"
	"fmt"
)

// CollaboratorKind identifies which external collaborator failed.
type CollaboratorKind string

const (
	// CollaboratorReasoning is the generative reasoning engine.
	CollaboratorReasoning CollaboratorKind = "reasoning"
	// CollaboratorKnowledge is the knowledge-base similarity search.
	CollaboratorKnowledge CollaboratorKind = "knowledge"
	// CollaboratorCustomerData is the user/subscription/reservation source.
	CollaboratorCustomerData CollaboratorKind = "customer_data"
	// CollaboratorPersistence is the session/preference store.
	CollaboratorPersistence CollaboratorKind = "persistence"
)

// InvalidTransition is raised when the router receives a signal that is
// impossible for the session's current phase.
type InvalidTransition struct {
	Phase  string
	Signal string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: signal %s not permitted in phase %s", e.Signal, e.Phase)
}

// NewInvalidTransition creates a new InvalidTransition.
func NewInvalidTransition(phase, signal string) *InvalidTransition {
	return &InvalidTransition{Phase: phase, Signal: signal}
}

// RoutingExhausted is raised when a run exceeds the hard transition bound.
type RoutingExhausted struct {
	SessionID string
	Hops      int
	Bound     int
}

func (e *RoutingExhausted) Error() string {
	return fmt.Sprintf("routing exhausted for session %s: %d hops exceeds bound %d", e.SessionID, e.Hops, e.Bound)
}

// NewRoutingExhausted creates a new RoutingExhausted.
func NewRoutingExhausted(sessionID string, hops, bound int) *RoutingExhausted {
	return &RoutingExhausted{SessionID: sessionID, Hops: hops, Bound: bound}
}

// CollaboratorFailure wraps a failed call into an external collaborator.
type CollaboratorFailure struct {
	Kind CollaboratorKind
	Err  error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("collaborator %s failed: %v", e.Kind, e.Err)
}

func (e *CollaboratorFailure) Unwrap() error {
	return e.Err
}

// NewCollaboratorFailure creates a new CollaboratorFailure.
func NewCollaboratorFailure(kind CollaboratorKind, err error) *CollaboratorFailure {
	return &CollaboratorFailure{Kind: kind, Err: err}
}

// NotFound is raised when a keyed lookup misses.
type NotFound struct {
	Entity string
	Key    string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Entity, e.Key)
}

// NewNotFound creates a new NotFound.
func NewNotFound(entity, key string) *NotFound {
	return &NotFound{Entity: entity, Key: key}
}

// IsNotFound reports whether err is or wraps a NotFound.
func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}

// IsInvalidTransition reports whether err is or wraps an InvalidTransition.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransition
	return errors.As(err, &it)
}

// IsRoutingExhausted reports whether err is or wraps a RoutingExhausted.
func IsRoutingExhausted(err error) bool {
	var re *RoutingExhausted
	return errors.As(err, &re)
}

// IsCollaboratorFailure reports whether err is or wraps a
// CollaboratorFailure, returning the failure when it does.
func IsCollaboratorFailure(err error) (*CollaboratorFailure, bool) {
	var cf *CollaboratorFailure
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}
