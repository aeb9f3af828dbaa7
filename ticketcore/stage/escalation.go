package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/llm"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/typeutil"
)

const escalationSystemPrompt = `You are the escalation writer for UDA-Hub, a customer support platform.

A ticket could not be resolved automatically and is being handed to a
human support lead. Produce two texts:

1. "note": a structured escalation note for the support lead containing:
   - issue summary (1-2 sentences)
   - root cause hypothesis
   - what was already attempted
   - recommended action (e.g. manual refund review, account unblock)
   - urgency level
2. "customer_message": an empathetic closing message to the customer that
   acknowledges their issue, confirms a human agent will follow up within
   the stated window, and cites the ticket reference.

Respond with a single JSON object and nothing else:
{"note": "...", "customer_message": "..."}`

// Escalation writes the human handoff: a structured note for the
// support lead and a closing message for the customer. It holds only a
// reasoner handle.
type Escalation struct {
	reasoner llm.Reasoner
	logger   commbus.Logger
}

// NewEscalation creates the escalation stage.
func NewEscalation(reasoner llm.Reasoner, logger commbus.Logger) *Escalation {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &Escalation{
		reasoner: reasoner,
		logger:   logger.Bind("stage", "escalation"),
	}
}

// Kind implements the Stage interface.
func (e *Escalation) Kind() Kind { return KindEscalation }

// followUpWindow is the committed human response time by urgency.
func followUpWindow(urgency session.Urgency) string {
	if urgency == session.UrgencyHigh {
		return "4 hours"
	}
	return "24 hours"
}

// Run implements the Stage interface.
func (e *Escalation) Run(ctx context.Context, sess *session.Session, msg session.Message) (*session.Session, Signal, error) {
	out := sess.Clone()

	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s\nissue_type=%s urgency=%s sentiment=%s\n",
		out.SessionID, out.IssueType, out.Urgency, out.Sentiment)
	if out.RetrievalConfidence != nil {
		fmt.Fprintf(&b, "retrieval_confidence=%.2f articles_found=%d\n",
			*out.RetrievalConfidence, out.ArticlesFound)
	}
	fmt.Fprintf(&b, "Follow-up window to promise: %s\n\n", followUpWindow(out.Urgency))
	fmt.Fprintf(&b, "Conversation:\n%s", transcript(out))

	response, err := e.reasoner.Infer(ctx, escalationSystemPrompt, b.String())
	if err != nil {
		return nil, nil, wrapReasonerErr(err)
	}

	parsed, err := extractAndParseJSON(response)
	if err != nil {
		return nil, nil, parseFault(KindEscalation, err)
	}
	note := strings.TrimSpace(typeutil.SafeStringDefault(parsed["note"], ""))
	customerMsg := strings.TrimSpace(typeutil.SafeStringDefault(parsed["customer_message"], ""))
	if note == "" || customerMsg == "" {
		return nil, nil, parseFault(KindEscalation, fmt.Errorf("missing note or customer_message field"))
	}

	out.AppendMessage(session.RoleSystem, "ESCALATION NOTE\n"+note)
	out.AppendMessage(session.RoleAssistant, customerMsg)

	e.logger.Info("escalation_written",
		"session_id", out.SessionID,
		"urgency", string(out.Urgency),
		"follow_up", followUpWindow(out.Urgency),
	)

	return out, EscalationComplete{}, nil
}

// Ensure Escalation implements Stage.
var _ Stage = (*Escalation)(nil)
