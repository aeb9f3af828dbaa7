package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/knowledge"
	"github.com/udahub-cluster/supportcore/ticketcore/router"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/stage"
	"github.com/udahub-cluster/supportcore/ticketcore/store"
	"github.com/udahub-cluster/supportcore/ticketcore/testutil"
)

// Reasoner responses for a clean end-to-end run. Urgency and confidence
// vary per test.
const (
	classifyLow   = `{"issue_type": "login", "urgency": "low", "sentiment": "neutral"}`
	classifyHigh  = `{"issue_type": "account", "urgency": "high", "sentiment": "frustrated"}`
	judgeStrong   = `{"confidence": 0.80, "articles_found": 2}`
	judgeWeak     = `{"confidence": 0.40, "articles_found": 2}`
	resolveReply  = `{"reply": "Use the forgot password link to reset your password."}`
	escalateReply = `{"note": "Needs manual review.", "customer_message": "A human agent will follow up shortly."}`
)

type fixture struct {
	orch     *Orchestrator
	reasoner *testutil.MockReasoner
	store    *store.MemoryStore
	bus      commbus.CommBus
}

func newFixture(t *testing.T, reasoner *testutil.MockReasoner, cfg Config) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	searcher := testutil.NewMockSearcher(
		knowledge.Article{ArticleID: "kb_1", Title: "Password reset", Content: "Use the forgot password link."},
		knowledge.Article{ArticleID: "kb_2", Title: "Account lockouts", Content: "Locked accounts unlock after 30 minutes."},
	)
	stages := map[stage.Kind]stage.Stage{
		stage.KindClassifier: stage.NewClassifier(reasoner, nil),
		stage.KindRetriever:  stage.NewRetriever(reasoner, searcher, nil),
		stage.KindResolver:   stage.NewResolver(reasoner, nil, st, nil),
		stage.KindEscalation: stage.NewEscalation(reasoner, nil),
	}

	bus := commbus.NewInMemoryCommBus(5*time.Second, nil)
	orch, err := New(router.New(router.DefaultConfig()), stages, st, bus, nil, cfg)
	require.NoError(t, err)

	return &fixture{orch: orch, reasoner: reasoner, store: st, bus: bus}
}

func happyPathReasoner() *testutil.MockReasoner {
	return testutil.NewMockReasoner().
		WithResponse("You are the classifier", classifyLow).
		WithResponse("You are the retriever", judgeStrong).
		WithResponse("You are the resolver", resolveReply).
		WithResponse("You are the escalation writer", escalateReply)
}

// =============================================================================
// END-TO-END ROUTES
// =============================================================================

func TestResolvedRoute(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "I forgot my password")
	require.NoError(t, err)

	assert.Equal(t, session.StatusResolved, result.Status)
	assert.Equal(t, "Use the forgot password link to reset your password.", result.Reply)
	assert.Equal(t, 3, result.Hops, "classifier, retriever, resolver")
	assert.False(t, result.Replayed)

	stored, err := f.store.Load(context.Background(), "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, stored.Status)
	require.NotNil(t, stored.ClosedAt)
	assert.Equal(t, session.IssueLogin, stored.IssueType)
	require.NotNil(t, stored.RetrievalConfidence)
	assert.Equal(t, 0.80, *stored.RetrievalConfidence)

	require.Len(t, stored.Audit, 3)
	for i, wantStage := range []string{"classifier", "retriever", "resolver"} {
		assert.Equal(t, wantStage, stored.Audit[i].Stage)
		assert.Equal(t, i+1, stored.Audit[i].Hop)
		assert.Equal(t, "success", stored.Audit[i].Status)
	}
}

func TestLowConfidenceEscalates(t *testing.T) {
	reasoner := happyPathReasoner().WithResponse("You are the retriever", judgeWeak)
	f := newFixture(t, reasoner, DefaultConfig())

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "my account vanished")
	require.NoError(t, err)

	assert.Equal(t, session.StatusEscalated, result.Status)
	assert.Equal(t, "A human agent will follow up shortly.", result.Reply)
	assert.Equal(t, 3, result.Hops, "classifier, retriever, escalation")

	stored, err := f.store.Load(context.Background(), "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, "escalation", stored.Audit[2].Stage)
}

func TestHighUrgencyGateEscalatesMidConfidence(t *testing.T) {
	// 0.70 would reach the resolver at medium urgency but not at high
	reasoner := happyPathReasoner().
		WithResponse("You are the classifier", classifyHigh).
		WithResponse("You are the retriever", `{"confidence": 0.70, "articles_found": 2}`)
	f := newFixture(t, reasoner, DefaultConfig())

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "my account is blocked")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEscalated, result.Status)
	assert.Equal(t, 3, result.Hops)
}

func TestDefaultThresholdBoundaryResolves(t *testing.T) {
	reasoner := happyPathReasoner().
		WithResponse("You are the retriever", `{"confidence": 0.60, "articles_found": 2}`)
	f := newFixture(t, reasoner, DefaultConfig())

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "how do I log in?")
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, result.Status)
}

func TestResolverEscalationRunsEscalationStage(t *testing.T) {
	reasoner := happyPathReasoner().WithResponse("You are the resolver", "NEEDS_ESCALATION")
	f := newFixture(t, reasoner, DefaultConfig())

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "I demand a refund")
	require.NoError(t, err)

	assert.Equal(t, session.StatusEscalated, result.Status)
	assert.Equal(t, 4, result.Hops, "classifier, retriever, resolver, escalation")
	assert.Equal(t, "A human agent will follow up shortly.", result.Reply)

	stored, err := f.store.Load(context.Background(), "ticket_1")
	require.NoError(t, err)
	assert.Contains(t, stored.LastSystemMessage(), "ESCALATION NOTE")
}

// =============================================================================
// IDEMPOTENT REPLAY
// =============================================================================

func TestTerminalSessionReplays(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())
	ctx := context.Background()

	first, err := f.orch.HandleMessage(ctx, "ticket_1", "user_1", "I forgot my password")
	require.NoError(t, err)
	callsAfterFirst := f.reasoner.GetCallCount()

	second, err := f.orch.HandleMessage(ctx, "ticket_1", "user_1", "are you still there?")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, 0, second.Hops)
	assert.Equal(t, callsAfterFirst, f.reasoner.GetCallCount(), "replay must not reason")

	// the replayed message is not recorded
	stored, err := f.store.Load(ctx, "ticket_1")
	require.NoError(t, err)
	for _, msg := range stored.Conversation {
		assert.NotEqual(t, "are you still there?", msg.Content)
	}
}

// =============================================================================
// FAULTS
// =============================================================================

func TestRoutingExhaustedLeavesSessionOpen(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), Config{MaxTransitions: 2, RetryBackoff: time.Millisecond})

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "I forgot my password")
	require.Error(t, err)
	assert.True(t, fault.IsRoutingExhausted(err))
	assert.Equal(t, session.StatusOpen, result.Status)
	assert.Equal(t, 2, result.Hops)

	stored, err := f.store.Load(context.Background(), "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusOpen, stored.Status, "exhausted runs stay open for manual retry")
	assert.Nil(t, stored.ClosedAt)
	assert.Len(t, stored.Audit, 2, "completed hops remain on the audit trail")
}

func TestCollaboratorFailureRetriesThenSucceeds(t *testing.T) {
	reasoner := happyPathReasoner()
	var mu sync.Mutex
	classifierAttempts := 0
	inner := reasoner.Responses
	reasoner.InferFunc = func(ctx context.Context, system, user string) (string, error) {
		if strings.HasPrefix(system, "You are the classifier") {
			mu.Lock()
			classifierAttempts++
			n := classifierAttempts
			mu.Unlock()
			if n == 1 {
				return "", errors.New("rate limited")
			}
		}
		for prefix, response := range inner {
			if strings.HasPrefix(system, prefix) {
				return response, nil
			}
		}
		return "", errors.New("no response configured")
	}

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	f := newFixture(t, reasoner, cfg)

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "I forgot my password")
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, result.Status)
	assert.Equal(t, 2, classifierAttempts, "first attempt failed, retry succeeded")
}

func TestCollaboratorFailureExhaustsRetries(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithError(errors.New("provider down"))
	f := newFixture(t, reasoner, Config{MaxTransitions: 5, RetryMaxAttempts: 1, RetryBackoff: time.Millisecond})

	result, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "hello")
	require.Error(t, err)

	_, ok := fault.IsCollaboratorFailure(err)
	assert.True(t, ok)
	assert.Equal(t, session.StatusOpen, result.Status)
	assert.Equal(t, 2, reasoner.GetCallCount(), "one attempt plus one retry")

	stored, err := f.store.Load(context.Background(), "ticket_1")
	require.NoError(t, err)
	require.Len(t, stored.Audit, 1)
	assert.Equal(t, "error", stored.Audit[0].Status)
	require.NotNil(t, stored.Audit[0].Error)
}

func TestFailedRunResumesFromLastSignal(t *testing.T) {
	reasoner := happyPathReasoner()
	var mu sync.Mutex
	retrieverDown := true
	classifierCalls := 0
	inner := reasoner.Responses
	reasoner.InferFunc = func(ctx context.Context, system, user string) (string, error) {
		mu.Lock()
		if strings.HasPrefix(system, "You are the classifier") {
			classifierCalls++
		}
		down := retrieverDown
		mu.Unlock()

		if down && strings.HasPrefix(system, "You are the retriever") {
			return "", errors.New("judge unavailable")
		}
		for prefix, response := range inner {
			if strings.HasPrefix(system, prefix) {
				return response, nil
			}
		}
		return "", errors.New("no response configured")
	}

	f := newFixture(t, reasoner, Config{MaxTransitions: 5, RetryMaxAttempts: 0, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, "ticket_1", "user_1", "I forgot my password")
	require.Error(t, err)

	stored, err := f.store.Load(ctx, "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusOpen, stored.Status)
	assert.Equal(t, "classified", stored.LastSignal, "classification survived the failed run")

	mu.Lock()
	retrieverDown = false
	mu.Unlock()

	result, err := f.orch.HandleMessage(ctx, "ticket_1", "user_1", "any luck?")
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, result.Status)
	assert.Equal(t, 2, result.Hops, "retriever, resolver; classification not redone")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, classifierCalls, "resumed run skips the classifier")
}

func TestMissingStageIsRejected(t *testing.T) {
	reasoner := happyPathReasoner()
	st := store.NewMemoryStore()
	stages := map[stage.Kind]stage.Stage{
		stage.KindClassifier: stage.NewClassifier(reasoner, nil),
	}

	_, err := New(router.New(router.DefaultConfig()), stages, st, nil, nil, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing stage")
}

// =============================================================================
// BUS INTEGRATION
// =============================================================================

func TestLifecycleEventsPublished(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())

	var mu sync.Mutex
	var seen []string
	for _, eventType := range commbus.LifecycleEventTypes() {
		et := eventType
		f.bus.Subscribe(et, func(ctx context.Context, message commbus.Message) (any, error) {
			mu.Lock()
			seen = append(seen, et)
			mu.Unlock()
			return nil, nil
		})
	}

	_, err := f.orch.HandleMessage(context.Background(), "ticket_1", "user_1", "I forgot my password")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "TicketReceived")
	assert.Contains(t, seen, "StageStarted")
	assert.Contains(t, seen, "StageCompleted")
	assert.Contains(t, seen, "RoutingDecided")
	assert.Contains(t, seen, "SessionResolved")
	assert.NotContains(t, seen, "RoutingFailed")
}

func TestSessionStatusQuery(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, "ticket_1", "user_1", "I forgot my password")
	require.NoError(t, err)

	resp, err := f.bus.QuerySync(ctx, &commbus.GetSessionStatus{SessionID: "ticket_1"})
	require.NoError(t, err)

	status, ok := resp.(*commbus.SessionStatusResponse)
	require.True(t, ok)
	assert.True(t, status.Found)
	assert.Equal(t, "resolved", status.Status)
	assert.Equal(t, "login", status.IssueType)

	resp, err = f.bus.QuerySync(ctx, &commbus.GetSessionStatus{SessionID: "ticket_missing"})
	require.NoError(t, err)
	status, ok = resp.(*commbus.SessionStatusResponse)
	require.True(t, ok)
	assert.False(t, status.Found)
}

func TestRoutingStatsQuery(t *testing.T) {
	reasoner := happyPathReasoner()
	f := newFixture(t, reasoner, DefaultConfig())
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, "ticket_1", "user_1", "I forgot my password")
	require.NoError(t, err)

	reasoner.Responses["You are the retriever"] = judgeWeak
	_, err = f.orch.HandleMessage(ctx, "ticket_2", "user_2", "my data is gone")
	require.NoError(t, err)

	resp, err := f.bus.QuerySync(ctx, &commbus.GetRoutingStats{})
	require.NoError(t, err)

	stats, ok := resp.(*commbus.RoutingStatsResponse)
	require.True(t, ok)
	assert.Equal(t, 2, stats.SessionsStarted)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Escalated)
	assert.Equal(t, 0, stats.Failed)
}

func TestPreferenceInvalidationCommand(t *testing.T) {
	durable := store.NewMemoryStore()
	tiered := store.NewTieredStore(durable)
	reasoner := happyPathReasoner()
	stages := map[stage.Kind]stage.Stage{
		stage.KindClassifier: stage.NewClassifier(reasoner, nil),
		stage.KindRetriever:  stage.NewRetriever(reasoner, testutil.NewMockSearcher(), nil),
		stage.KindResolver:   stage.NewResolver(reasoner, nil, tiered, nil),
		stage.KindEscalation: stage.NewEscalation(reasoner, nil),
	}
	bus := commbus.NewInMemoryCommBus(5*time.Second, nil)
	_, err := New(router.New(router.DefaultConfig()), stages, tiered, bus, nil, DefaultConfig())
	require.NoError(t, err)
	require.True(t, bus.HasHandler("InvalidatePreferenceCache"))

	ctx := context.Background()
	require.NoError(t, tiered.Put(ctx, "user_1", map[string]string{"preferred_language": "de"}))
	prefs, err := tiered.Get(ctx, "user_1")
	require.NoError(t, err)
	require.Equal(t, "de", prefs.PreferredLanguage)

	// a back-office edit lands in the durable tier only
	require.NoError(t, durable.Put(ctx, "user_1", map[string]string{"preferred_language": "fr"}))
	prefs, err = tiered.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "de", prefs.PreferredLanguage, "hot tier still serves the stale copy")

	require.NoError(t, bus.Send(ctx, &commbus.InvalidatePreferenceCache{UserID: "user_1"}))

	prefs, err = tiered.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "fr", prefs.PreferredLanguage)
}

func TestInvalidationHandlerSkippedWithoutHotTier(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())
	assert.False(t, f.bus.HasHandler("InvalidatePreferenceCache"),
		"a flat store has no cache to invalidate")
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 4)
	errs := make([]error, 4)
	ids := []string{"ticket_a", "ticket_b", "ticket_c", "ticket_d"}

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = f.orch.HandleMessage(ctx, id, "user_"+id, "I forgot my password")
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, id, results[i].SessionID)
		assert.Equal(t, session.StatusResolved, results[i].Status)
	}
}

func TestSessionLocksEvictedWhenIdle(t *testing.T) {
	f := newFixture(t, happyPathReasoner(), DefaultConfig())
	ctx := context.Background()

	for _, id := range []string{"ticket_a", "ticket_b", "ticket_c"} {
		_, err := f.orch.HandleMessage(ctx, id, "user_1", "I forgot my password")
		require.NoError(t, err)
	}

	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	assert.Empty(t, f.orch.locks, "no run in flight, no lock entries retained")
}
