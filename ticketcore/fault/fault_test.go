package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ERROR MESSAGES
// =============================================================================

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		"invalid transition: signal retrieval_result not permitted in phase resolved",
		NewInvalidTransition("resolved", "retrieval_result").Error())

	assert.Equal(t,
		"routing exhausted for session ticket_1: 5 hops exceeds bound 5",
		NewRoutingExhausted("ticket_1", 5, 5).Error())

	assert.Equal(t,
		"collaborator reasoning failed: timeout",
		NewCollaboratorFailure(CollaboratorReasoning, errors.New("timeout")).Error())

	assert.Equal(t,
		"session 'ticket_1' not found",
		NewNotFound("session", "ticket_1").Error())
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

func TestIsHelpersMatchTheirOwnKind(t *testing.T) {
	assert.True(t, IsInvalidTransition(NewInvalidTransition("open", "x")))
	assert.True(t, IsRoutingExhausted(NewRoutingExhausted("s", 1, 1)))
	assert.True(t, IsNotFound(NewNotFound("session", "s")))

	cf, ok := IsCollaboratorFailure(NewCollaboratorFailure(CollaboratorKnowledge, errors.New("down")))
	require.True(t, ok)
	assert.Equal(t, CollaboratorKnowledge, cf.Kind)
}

func TestIsHelpersRejectOtherKinds(t *testing.T) {
	err := NewNotFound("session", "s")

	assert.False(t, IsInvalidTransition(err))
	assert.False(t, IsRoutingExhausted(err))
	_, ok := IsCollaboratorFailure(err)
	assert.False(t, ok)

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestIsHelpersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("loading session: %w", NewNotFound("session", "ticket_1"))
	assert.True(t, IsNotFound(wrapped))

	inner := NewCollaboratorFailure(CollaboratorPersistence, errors.New("disk full"))
	cf, ok := IsCollaboratorFailure(fmt.Errorf("commit failed: %w", inner))
	require.True(t, ok)
	assert.Equal(t, CollaboratorPersistence, cf.Kind)
}

func TestCollaboratorFailureUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewCollaboratorFailure(CollaboratorCustomerData, cause)

	assert.True(t, errors.Is(err, cause))
}
