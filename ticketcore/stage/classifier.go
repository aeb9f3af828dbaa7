package stage

import (
	"context"
	"fmt"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/llm"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/typeutil"
)

const classifierSystemPrompt = `You are the classifier for UDA-Hub, a customer support platform.

Read the conversation and classify the customer's issue.

issue_type must be one of:
- login        : problems signing in, password reset, 2FA issues
- billing      : payment failures, refund requests, invoices
- reservation  : booking, cancellation, waitlist for experiences
- subscription : plan management, upgrades, downgrades, pausing
- account      : blocked accounts, profile issues, data requests
- general      : anything else

urgency must be one of:
- high   : blocked accounts, data loss, payment failures
- medium : functional issues that degrade experience
- low    : informational or minor questions

sentiment must be one of: frustrated, negative, neutral, positive.

Do NOT attempt to resolve the issue.

Respond with a single JSON object and nothing else:
{"issue_type": "...", "urgency": "...", "sentiment": "..."}`

// Classifier determines issue type, urgency, and sentiment from the
// conversation and commits them to the session. It holds only a
// reasoner handle.
type Classifier struct {
	reasoner llm.Reasoner
	logger   commbus.Logger
}

// NewClassifier creates the classifier stage.
func NewClassifier(reasoner llm.Reasoner, logger commbus.Logger) *Classifier {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &Classifier{
		reasoner: reasoner,
		logger:   logger.Bind("stage", "classifier"),
	}
}

// Kind implements the Stage interface.
func (c *Classifier) Kind() Kind { return KindClassifier }

// Run implements the Stage interface.
func (c *Classifier) Run(ctx context.Context, sess *session.Session, msg session.Message) (*session.Session, Signal, error) {
	out := sess.Clone()

	response, err := c.reasoner.Infer(ctx, classifierSystemPrompt, transcript(out))
	if err != nil {
		return nil, nil, wrapReasonerErr(err)
	}

	parsed, err := extractAndParseJSON(response)
	if err != nil {
		return nil, nil, parseFault(KindClassifier, err)
	}

	issueType, err := session.IssueTypeFromString(typeutil.SafeStringDefault(parsed["issue_type"], ""))
	if err != nil {
		return nil, nil, parseFault(KindClassifier, err)
	}
	urgency, err := session.UrgencyFromString(typeutil.SafeStringDefault(parsed["urgency"], ""))
	if err != nil {
		return nil, nil, parseFault(KindClassifier, err)
	}
	sentiment, err := session.SentimentFromString(typeutil.SafeStringDefault(parsed["sentiment"], ""))
	if err != nil {
		return nil, nil, parseFault(KindClassifier, err)
	}

	out.IssueType = issueType
	out.Urgency = urgency
	out.Sentiment = sentiment
	out.AppendMessage(session.RoleSystem, fmt.Sprintf(
		"CLASSIFIED: issue_type=%s, urgency=%s, sentiment=%s", issueType, urgency, sentiment))

	c.logger.Info("classification_complete",
		"session_id", out.SessionID,
		"issue_type", string(issueType),
		"urgency", string(urgency),
		"sentiment", string(sentiment),
	)

	return out, Classified{IssueType: issueType, Urgency: urgency, Sentiment: sentiment}, nil
}

// Ensure Classifier implements Stage.
var _ Stage = (*Classifier)(nil)
