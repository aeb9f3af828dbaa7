package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// =============================================================================
// REASONER OUTPUT PARSING
// =============================================================================

func TestExtractAndParseJSONDirect(t *testing.T) {
	parsed, err := extractAndParseJSON(`{"confidence": 0.8, "articles_found": 2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.8, parsed["confidence"])
}

func TestExtractAndParseJSONProseWrapped(t *testing.T) {
	parsed, err := extractAndParseJSON(
		`Sure, here is the classification:
{"issue_type": "login", "urgency": "high", "sentiment": "frustrated"}
Let me know if you need anything else.`)
	require.NoError(t, err)
	assert.Equal(t, "login", parsed["issue_type"])
	assert.Equal(t, "high", parsed["urgency"])
}

func TestExtractAndParseJSONCodeFence(t *testing.T) {
	parsed, err := extractAndParseJSON("```json\n{\"reply\": \"hello\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "hello", parsed["reply"])
}

func TestExtractAndParseJSONNested(t *testing.T) {
	parsed, err := extractAndParseJSON(
		`{"reply": "done", "preference_updates": {"preferred_language": "de"}}`)
	require.NoError(t, err)
	updates, ok := parsed["preference_updates"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "de", updates["preferred_language"])
}

func TestExtractAndParseJSONNoObject(t *testing.T) {
	_, err := extractAndParseJSON("I could not produce a classification, sorry.")
	assert.Error(t, err)
}

// =============================================================================
// FAULT WRAPPING
// =============================================================================

func TestWrapReasonerErrPassesThroughFaults(t *testing.T) {
	orig := fault.NewCollaboratorFailure(fault.CollaboratorReasoning, errors.New("timeout"))
	assert.Same(t, error(orig), wrapReasonerErr(orig))
}

func TestWrapReasonerErrWrapsPlainErrors(t *testing.T) {
	wrapped := wrapReasonerErr(errors.New("connection refused"))

	cf, ok := fault.IsCollaboratorFailure(wrapped)
	require.True(t, ok)
	assert.Equal(t, fault.CollaboratorReasoning, cf.Kind)
}

func TestParseFaultNamesTheStage(t *testing.T) {
	err := parseFault(KindClassifier, errors.New("missing field"))

	cf, ok := fault.IsCollaboratorFailure(err)
	require.True(t, ok)
	assert.Equal(t, fault.CollaboratorReasoning, cf.Kind)
	assert.Contains(t, err.Error(), "classifier output rejected")
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

func TestTranscript(t *testing.T) {
	sess := session.NewSession("ticket_1", "user_1")
	sess.AppendMessage(session.RoleCustomer, "my card was charged twice")
	sess.AppendMessage(session.RoleAssistant, "let me check that for you")

	rendered := transcript(sess)
	assert.Equal(t, "customer: my card was charged twice\nassistant: let me check that for you\n", rendered)
}

func TestTranscriptEmptyConversation(t *testing.T) {
	assert.Equal(t, "", transcript(session.NewSession("ticket_1", "user_1")))
}
