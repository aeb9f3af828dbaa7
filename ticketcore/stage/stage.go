package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// Stage is the polymorphic contract all four stage variants implement.
type Stage interface {
	// Kind identifies the variant for routing and audit records.
	Kind() Kind

	// Run executes the stage against a working copy of the session and
	// the triggering customer message. It returns the mutated copy and
	// a routing signal, or an error from the fault taxonomy. Run never
	// mutates sess in place.
	Run(ctx context.Context, sess *session.Session, msg session.Message) (*session.Session, Signal, error)
}

// =============================================================================
// REASONER OUTPUT PARSING
// =============================================================================

// extractAndParseJSON pulls the first complete JSON object out of a
// reasoner response. Responses are often wrapped in prose or code
// fences; a direct parse is tried first, then a brace scan.
func extractAndParseJSON(text string) (map[string]any, error) {
	// Try direct parse first
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	// Try to find JSON object in text
	start := -1
	braceCount := 0
	for i, c := range text {
		if c == '{' {
			if start == -1 {
				start = i
			}
			braceCount++
		} else if c == '}' {
			braceCount--
			if braceCount == 0 && start != -1 {
				jsonStr := text[start : i+1]
				if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
					return result, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}

// wrapReasonerErr classifies a failed reasoner call. Errors already in
// the fault taxonomy pass through untouched.
func wrapReasonerErr(err error) error {
	if _, ok := fault.IsCollaboratorFailure(err); ok {
		return err
	}
	return fault.NewCollaboratorFailure(fault.CollaboratorReasoning, err)
}

// parseFault wraps a malformed reasoner response as a reasoning
// collaborator failure. Malformed output is never defaulted over.
func parseFault(stage Kind, err error) error {
	return fault.NewCollaboratorFailure(fault.CollaboratorReasoning,
		fmt.Errorf("%s output rejected: %w", stage, err))
}

// transcript renders the conversation for a reasoner prompt, one line
// per message.
func transcript(sess *session.Session) string {
	var b strings.Builder
	for _, msg := range sess.Conversation {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
