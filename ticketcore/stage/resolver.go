package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/customer"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/llm"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/store"
	"github.com/udahub-cluster/supportcore/ticketcore/typeutil"
)

// escalationToken is the exact resolver output that routes a session to
// the escalation stage instead of replying to the customer.
const escalationToken = "NEEDS_ESCALATION"

const resolverSystemPrompt = `You are the resolver for UDA-Hub, a customer support platform.

Your goal is to RESOLVE the customer's issue.

1. Read the conversation and the retrieved knowledge base articles in
   the context. The articles are your only source of policy and
   procedure information. Never make up policy.
2. If the customer has prior tickets, acknowledge it and avoid asking
   them to repeat information already captured.
3. Apply the customer's stored preferences. Reply in their preferred
   language if one is set.
4. Use the account context to check for blocked status, subscription
   state, and reservations before advising.
5. Compose a clear, empathetic reply with concrete next steps.

Escalate instead of replying if ANY of the following apply:
- the issue involves a billing dispute, charge reversal, or refund request
- the customer's account is blocked and requires manual unblocking
- the retrieved articles do not cover the issue and account context is insufficient
- the customer explicitly requests a human agent
- a prior resolution attempt did not work

When escalating, respond with exactly:
NEEDS_ESCALATION
(nothing before or after)

Otherwise respond with a single JSON object and nothing else:
{"reply": "your message to the customer", "preference_updates": {"preferred_language": "...", "preferred_channel": "...", "notes": "..."}}
Include preference_updates only for preferences the customer revealed in
this conversation; omit the key entirely when there is nothing new.`

// Resolver composes the customer-facing resolution. It holds the
// reasoner, the customer directory, and the preference store. It has
// no knowledge-search handle: retrieval happens strictly before
// resolution, and the resolver works from what the retriever left in
// the conversation.
type Resolver struct {
	reasoner  llm.Reasoner
	directory customer.Directory
	prefs     store.PreferenceStore
	logger    commbus.Logger
}

// NewResolver creates the resolver stage. directory may be nil when no
// customer database is configured; account context is then skipped.
func NewResolver(reasoner llm.Reasoner, directory customer.Directory, prefs store.PreferenceStore, logger commbus.Logger) *Resolver {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &Resolver{
		reasoner:  reasoner,
		directory: directory,
		prefs:     prefs,
		logger:    logger.Bind("stage", "resolver"),
	}
}

// Kind implements the Stage interface.
func (r *Resolver) Kind() Kind { return KindResolver }

// Run implements the Stage interface.
func (r *Resolver) Run(ctx context.Context, sess *session.Session, msg session.Message) (*session.Session, Signal, error) {
	out := sess.Clone()

	userCtx, err := r.buildContext(ctx, out)
	if err != nil {
		return nil, nil, err
	}

	response, err := r.reasoner.Infer(ctx, resolverSystemPrompt, userCtx)
	if err != nil {
		return nil, nil, wrapReasonerErr(err)
	}

	if strings.TrimSpace(response) == escalationToken {
		r.logger.Info("resolution_escalated", "session_id", out.SessionID)
		return out, ResolutionOutcome{Resolved: false}, nil
	}

	parsed, err := extractAndParseJSON(response)
	if err != nil {
		return nil, nil, parseFault(KindResolver, err)
	}
	reply := strings.TrimSpace(typeutil.SafeStringDefault(parsed["reply"], ""))
	if reply == "" {
		return nil, nil, parseFault(KindResolver, fmt.Errorf("missing reply field"))
	}

	if updates, ok := typeutil.SafeStringMap(parsed["preference_updates"]); ok && len(updates) > 0 {
		if err := r.prefs.Put(ctx, out.ExternalUserID, updates); err != nil {
			return nil, nil, err
		}
		r.logger.Info("preferences_updated",
			"session_id", out.SessionID,
			"external_user_id", out.ExternalUserID,
			"fields", len(updates),
		)
	}

	out.AppendMessage(session.RoleAssistant, reply)
	r.logger.Info("resolution_complete", "session_id", out.SessionID)

	return out, ResolutionOutcome{Resolved: true}, nil
}

// buildContext assembles everything the reasoner needs: conversation,
// classification, preferences, ticket history, and account state.
func (r *Resolver) buildContext(ctx context.Context, sess *session.Session) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Ticket %s\nissue_type=%s urgency=%s sentiment=%s\n\n",
		sess.SessionID, sess.IssueType, sess.Urgency, sess.Sentiment)
	fmt.Fprintf(&b, "Conversation:\n%s\n", transcript(sess))

	prefs, err := r.prefs.Get(ctx, sess.ExternalUserID)
	if err != nil {
		return "", err
	}
	if !prefs.IsZero() {
		fmt.Fprintf(&b, "Customer preferences: language=%s channel=%s notes=%s\n",
			prefs.PreferredLanguage, prefs.PreferredChannel, prefs.Notes)
	}

	if r.directory == nil || sess.ExternalUserID == "" {
		return b.String(), nil
	}

	history, err := r.directory.GetTicketHistory(ctx, sess.ExternalUserID, sess.SessionID)
	if err != nil && !fault.IsNotFound(err) {
		return "", err
	}
	if len(history) > 0 {
		b.WriteString("\nPrior tickets:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "- %s: issue_type=%s status=%s opened=%s\n",
				t.TicketID, t.IssueType, t.Status, t.CreatedAt.Format("2006-01-02"))
		}
	}

	acct, err := r.directory.GetAccount(ctx, sess.ExternalUserID)
	if err != nil {
		// A customer unknown to the directory can still be helped from
		// the knowledge base alone.
		if fault.IsNotFound(err) {
			return b.String(), nil
		}
		return "", err
	}
	fmt.Fprintf(&b, "\nAccount: name=%s status=%s\n", acct.FullName, acct.Status)

	if sub, err := r.directory.GetSubscription(ctx, sess.ExternalUserID); err == nil && sub != nil {
		fmt.Fprintf(&b, "Subscription: status=%s tier=%s\n", sub.Status, sub.Tier)
	} else if err != nil {
		return "", err
	}

	if sess.IssueType == session.IssueReservation {
		reservations, err := r.directory.GetReservations(ctx, sess.ExternalUserID)
		if err != nil {
			return "", err
		}
		for _, res := range reservations {
			when := "unscheduled"
			if res.When != nil {
				when = res.When.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(&b, "Reservation %s: %s status=%s when=%s\n",
				res.ReservationID, res.ExperienceTitle, res.Status, when)

			if res.ExperienceID == "" {
				continue
			}
			av, err := r.directory.GetExperienceAvailability(ctx, res.ExperienceID)
			if err != nil {
				// A reservation can outlive its experience listing.
				if fault.IsNotFound(err) {
					continue
				}
				return "", err
			}
			fmt.Fprintf(&b, "  availability: location=%s slots_available=%d premium=%t\n",
				av.Location, av.SlotsAvailable, av.IsPremium)
		}
	}

	return b.String(), nil
}

// Ensure Resolver implements Stage.
var _ Stage = (*Resolver)(nil)
