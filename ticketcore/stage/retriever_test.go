package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/knowledge"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/testutil"
)

var testArticles = []knowledge.Article{
	{ArticleID: "kb_1", Title: "Resetting your password", Content: "Use the forgot password link.", Category: "login"},
	{ArticleID: "kb_2", Title: "Two-factor recovery", Content: "Contact support with your recovery code.", Category: "login"},
}

func newRetrieverInput() (*session.Session, session.Message) {
	sess := testutil.NewClassifiedSession("ticket_1", session.UrgencyMedium)
	return sess, sess.Conversation[0]
}

// =============================================================================
// RETRIEVAL AND JUDGMENT
// =============================================================================

func TestRetrieverScoresCoverage(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithResponse("You are the retriever",
		`{"confidence": 0.82, "articles_found": 2}`)
	searcher := testutil.NewMockSearcher(testArticles...)
	retriever := NewRetriever(reasoner, searcher, nil)
	sess, msg := newRetrieverInput()

	out, sig, err := retriever.Run(context.Background(), sess, msg)
	require.NoError(t, err)

	require.NotNil(t, out.RetrievalConfidence)
	assert.Equal(t, 0.82, *out.RetrievalConfidence)
	assert.Equal(t, 2, out.ArticlesFound)

	result, ok := sig.(RetrievalResult)
	require.True(t, ok)
	assert.Equal(t, 0.82, result.Confidence)
	assert.Equal(t, 2, result.ArticlesFound)

	note := out.LastSystemMessage()
	assert.Contains(t, note, "RETRIEVED: confidence=0.82, articles_found=2")
	assert.Contains(t, note, "Resetting your password")
	assert.Contains(t, note, "Use the forgot password link.")
}

func TestRetrieverQueriesLastCustomerMessage(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithResponse("You are the retriever",
		`{"confidence": 0.5, "articles_found": 2}`)
	searcher := testutil.NewMockSearcher(testArticles...)
	retriever := NewRetriever(reasoner, searcher, nil)

	sess, msg := newRetrieverInput()
	sess.AppendMessage(session.RoleSystem, "CLASSIFIED: issue_type=login, urgency=medium, sentiment=neutral")
	sess.AppendMessage(session.RoleCustomer, "also my 2FA codes stopped working")

	_, _, err := retriever.Run(context.Background(), sess, msg)
	require.NoError(t, err)

	require.Len(t, searcher.Queries, 1)
	assert.Equal(t, "also my 2FA codes stopped working", searcher.Queries[0])
}

func TestRetrieverHonorsSearchLimit(t *testing.T) {
	many := append(append([]knowledge.Article{}, testArticles...),
		knowledge.Article{ArticleID: "kb_3", Title: "A", Content: "a"},
		knowledge.Article{ArticleID: "kb_4", Title: "B", Content: "b"},
	)
	reasoner := testutil.NewMockReasoner().WithResponse("You are the retriever",
		`{"confidence": 0.7, "articles_found": 3}`)
	retriever := NewRetriever(reasoner, testutil.NewMockSearcher(many...), nil)
	sess, msg := newRetrieverInput()

	out, _, err := retriever.Run(context.Background(), sess, msg)
	require.NoError(t, err)
	assert.Equal(t, DefaultSearchLimit, out.ArticlesFound)
}

func TestRetrieverNeverTouchesClassification(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithResponse("You are the retriever",
		`{"confidence": 0.9, "articles_found": 2}`)
	retriever := NewRetriever(reasoner, testutil.NewMockSearcher(testArticles...), nil)
	sess, msg := newRetrieverInput()

	out, _, err := retriever.Run(context.Background(), sess, msg)
	require.NoError(t, err)

	assert.Equal(t, sess.IssueType, out.IssueType)
	assert.Equal(t, sess.Urgency, out.Urgency)
	assert.Equal(t, sess.Sentiment, out.Sentiment)
	assert.Nil(t, sess.RetrievalConfidence)
}

// =============================================================================
// EMPTY KNOWLEDGE BASE
// =============================================================================

func TestRetrieverEmptyResultSkipsJudgment(t *testing.T) {
	reasoner := testutil.NewMockReasoner()
	retriever := NewRetriever(reasoner, testutil.NewMockSearcher(), nil)
	sess, msg := newRetrieverInput()

	out, sig, err := retriever.Run(context.Background(), sess, msg)
	require.NoError(t, err)

	assert.Equal(t, 0, reasoner.GetCallCount(), "no articles means no judgment call")
	require.NotNil(t, out.RetrievalConfidence)
	assert.Equal(t, 0.0, *out.RetrievalConfidence)
	assert.Equal(t, 0, out.ArticlesFound)
	assert.Equal(t, "RETRIEVED: confidence=0.00, articles_found=0", out.LastSystemMessage())

	result, ok := sig.(RetrievalResult)
	require.True(t, ok)
	assert.Equal(t, 0.0, result.Confidence)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestRetrieverSearchFailure(t *testing.T) {
	searcher := testutil.NewMockSearcher()
	searcher.Error = errors.New("vector store unreachable")
	retriever := NewRetriever(testutil.NewMockReasoner(), searcher, nil)
	sess, msg := newRetrieverInput()

	_, _, err := retriever.Run(context.Background(), sess, msg)
	require.Error(t, err)

	cf, ok := fault.IsCollaboratorFailure(err)
	require.True(t, ok)
	assert.Equal(t, fault.CollaboratorKnowledge, cf.Kind)
}

func TestRetrieverRejectsMalformedJudgment(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "the articles look relevant"},
		{"missing confidence", `{"articles_found": 2}`},
		{"confidence above range", `{"confidence": 1.3, "articles_found": 2}`},
		{"confidence below range", `{"confidence": -0.1, "articles_found": 2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoner := testutil.NewMockReasoner().WithResponse("You are the retriever", tt.response)
			retriever := NewRetriever(reasoner, testutil.NewMockSearcher(testArticles...), nil)
			sess, msg := newRetrieverInput()

			_, _, err := retriever.Run(context.Background(), sess, msg)
			require.Error(t, err)

			cf, ok := fault.IsCollaboratorFailure(err)
			require.True(t, ok)
			assert.Equal(t, fault.CollaboratorReasoning, cf.Kind)
		})
	}
}
