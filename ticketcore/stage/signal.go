// Package stage provides the polymorphic stage contract and its four
// variants: classifier, retriever, resolver, and escalation.
//
// Each stage consumes a working copy of the session plus one customer
// message, invokes its assigned collaborators, mutates the copy, and
// returns a routing signal. The orchestrator commits the copy after
// the routing decision.
package stage

import (
	"fmt"
	"strings"

	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// Kind identifies a stage variant.
type Kind string

const (
	KindClassifier Kind = "classifier"
	KindRetriever  Kind = "retriever"
	KindResolver   Kind = "resolver"
	KindEscalation Kind = "escalation"
)

// KindFromString parses a stage kind string.
func KindFromString(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "classifier":
		return KindClassifier, nil
	case "retriever":
		return KindRetriever, nil
	case "resolver":
		return KindResolver, nil
	case "escalation":
		return KindEscalation, nil
	default:
		return "", fmt.Errorf("invalid stage kind '%s'. Must be one of: classifier, retriever, resolver, escalation", value)
	}
}

// Signal is the tagged value a stage emits for the router.
// Signals are not persisted beyond their tag; the session carries the data.
type Signal interface {
	// Name returns the signal tag used for routing and audit records.
	Name() string
}

// Classified is emitted by the classifier once issue type and urgency
// are committed to the session.
type Classified struct {
	IssueType session.IssueType
	Urgency   session.Urgency
	Sentiment session.Sentiment
}

// Name implements the Signal interface.
func (Classified) Name() string { return "classified" }

// RetrievalResult is emitted by the retriever with the scored coverage
// of the knowledge material it found.
type RetrievalResult struct {
	Confidence    float64
	ArticlesFound int
}

// Name implements the Signal interface.
func (RetrievalResult) Name() string { return "retrieval_result" }

// ResolutionOutcome is emitted by the resolver. Resolved=false means the
// reasoning engine judged the issue unresolvable automatically.
type ResolutionOutcome struct {
	Resolved bool
}

// Name implements the Signal interface.
func (r ResolutionOutcome) Name() string {
	if r.Resolved {
		return "resolution_resolved"
	}
	return "resolution_needs_escalation"
}

// EscalationComplete is emitted by the escalation stage after the
// handoff messages are written.
type EscalationComplete struct{}

// Name implements the Signal interface.
func (EscalationComplete) Name() string { return "escalation_complete" }

// SignalName returns the tag for a possibly-nil signal.
func SignalName(sig Signal) string {
	if sig == nil {
		return "none"
	}
	return sig.Name()
}
