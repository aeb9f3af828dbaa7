// Package router provides the pure routing decision core.
//
// Given the session's accumulated classification and the most recent
// stage signal, Next computes the following stage or a terminal outcome.
// No side effects, no I/O.
package router

import (
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/stage"
)

// Config holds the confidence thresholds gating the retrieval branch.
//
// High-urgency issues need stricter evidence before an automated
// response is trusted; the bar to bypass a human is raised.
type Config struct {
	// HighUrgencyMin is the minimum confidence to reach the resolver
	// when session urgency is high.
	HighUrgencyMin float64

	// DefaultMin is the minimum confidence for medium and low urgency.
	DefaultMin float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HighUrgencyMin: 0.75,
		DefaultMin:     0.60,
	}
}

// Decision is the router's output: either the next stage or a terminal
// session status, never both.
type Decision struct {
	Next     stage.Kind
	Terminal session.Status
}

// IsTerminal reports whether the decision ends routing.
func (d Decision) IsTerminal() bool {
	return d.Terminal != ""
}

// String returns the decision tag for audit records.
func (d Decision) String() string {
	if d.IsTerminal() {
		return "terminal:" + string(d.Terminal)
	}
	return "stage:" + string(d.Next)
}

// Router computes routing decisions from signals.
type Router struct {
	cfg Config
}

// New creates a Router with the given thresholds.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Next evaluates the transition table top to bottom, first match wins:
//
//  1. Classified -> retriever, always. Classification precedes retrieval
//     regardless of urgency or type.
//  2. RetrievalResult at high urgency: confidence >= HighUrgencyMin ->
//     resolver, else escalation.
//  3. RetrievalResult at medium/low urgency: confidence >= DefaultMin ->
//     resolver, else escalation.
//  4. ResolutionOutcome{needs_escalation} -> escalation.
//  5. ResolutionOutcome{resolved} -> terminal resolved.
//  6. EscalationComplete -> terminal escalated.
//  7. Anything else is an InvalidTransition.
func (r *Router) Next(sess *session.Session, sig stage.Signal) (Decision, error) {
	if sess.Status.IsTerminal() {
		return Decision{}, fault.NewInvalidTransition(string(sess.Status), stage.SignalName(sig))
	}

	switch s := sig.(type) {
	case stage.Classified:
		return Decision{Next: stage.KindRetriever}, nil

	case stage.RetrievalResult:
		threshold, err := r.threshold(sess)
		if err != nil {
			return Decision{}, err
		}
		if s.Confidence >= threshold {
			return Decision{Next: stage.KindResolver}, nil
		}
		return Decision{Next: stage.KindEscalation}, nil

	case stage.ResolutionOutcome:
		if s.Resolved {
			return Decision{Terminal: session.StatusResolved}, nil
		}
		return Decision{Next: stage.KindEscalation}, nil

	case stage.EscalationComplete:
		return Decision{Terminal: session.StatusEscalated}, nil

	default:
		return Decision{}, fault.NewInvalidTransition(phase(sess), stage.SignalName(sig))
	}
}

// threshold selects the urgency-specific confidence gate. A retrieval
// signal without a committed urgency is a contract violation: the
// classifier must run first.
func (r *Router) threshold(sess *session.Session) (float64, error) {
	switch sess.Urgency {
	case session.UrgencyHigh:
		return r.cfg.HighUrgencyMin, nil
	case session.UrgencyMedium, session.UrgencyLow:
		return r.cfg.DefaultMin, nil
	default:
		return 0, fault.NewInvalidTransition("unclassified", "retrieval_result")
	}
}

func phase(sess *session.Session) string {
	if sess.Urgency == "" || sess.IssueType == "" {
		return "unclassified"
	}
	if sess.RetrievalConfidence == nil {
		return "classified"
	}
	return "retrieved"
}
