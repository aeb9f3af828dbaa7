// Package orchestrator drives the routing loop: it accepts customer
// messages, runs stages, feeds their signals to the router, and commits
// session state after every hop.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/observability"
	"github.com/udahub-cluster/supportcore/ticketcore/router"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
	"github.com/udahub-cluster/supportcore/ticketcore/stage"
	"github.com/udahub-cluster/supportcore/ticketcore/store"
)

// Config bounds the routing loop and the collaborator retry policy.
type Config struct {
	// MaxTransitions caps routing hops per run. Exceeding it fails the
	// run with RoutingExhausted and leaves the session open.
	MaxTransitions int

	// RetryMaxAttempts is how many retries a CollaboratorFailure earns
	// before the run fails. Zero disables retry.
	RetryMaxAttempts int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxTransitions:   5,
		RetryMaxAttempts: 2,
		RetryBackoff:     200 * time.Millisecond,
	}
}

// Result is the outcome of one HandleMessage call.
type Result struct {
	SessionID string
	Status    session.Status

	// Reply is the last customer-visible message, empty when the run
	// failed before producing one.
	Reply string

	// Hops is how many stage executions this run performed.
	Hops int

	// Replayed is set when a terminal session answered idempotently
	// without running any stage.
	Replayed bool
}

// Orchestrator owns the routing loop. One orchestrator serves many
// sessions concurrently; runs for the same session are serialized.
type Orchestrator struct {
	router *router.Router
	stages map[stage.Kind]stage.Stage
	store  store.Store
	bus    commbus.CommBus
	logger commbus.Logger
	cfg    Config

	mu    sync.Mutex
	locks map[string]*sessionLock

	statsMu sync.Mutex
	stats   commbus.RoutingStatsResponse
}

// New creates an Orchestrator and registers its query handlers on the bus.
func New(r *router.Router, stages map[stage.Kind]stage.Stage, st store.Store, bus commbus.CommBus, logger commbus.Logger, cfg Config) (*Orchestrator, error) {
	for _, kind := range []stage.Kind{stage.KindClassifier, stage.KindRetriever, stage.KindResolver, stage.KindEscalation} {
		if stages[kind] == nil {
			return nil, fmt.Errorf("missing stage: %s", kind)
		}
	}
	if cfg.MaxTransitions < 1 {
		cfg.MaxTransitions = DefaultConfig().MaxTransitions
	}
	if logger == nil {
		logger = commbus.NopLogger{}
	}

	o := &Orchestrator{
		router: r,
		stages: stages,
		store:  st,
		bus:    bus,
		logger: logger.Bind("component", "orchestrator"),
		cfg:    cfg,
		locks:  make(map[string]*sessionLock),
	}

	if bus != nil {
		if err := bus.RegisterHandler("GetSessionStatus", o.handleGetSessionStatus); err != nil {
			return nil, err
		}
		if err := bus.RegisterHandler("GetRoutingStats", o.handleGetRoutingStats); err != nil {
			return nil, err
		}
		if _, ok := st.(PreferenceInvalidator); ok {
			if err := bus.RegisterHandler("InvalidatePreferenceCache", o.handleInvalidatePreferenceCache); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

// PreferenceInvalidator is implemented by stores that keep a hot-tier
// preference cache in front of durable storage.
type PreferenceInvalidator interface {
	InvalidatePreferences(externalUserID string)
}

// sessionLock serializes runs for one session. refs counts holders and
// waiters so the lock table can evict idle entries instead of growing
// with every session the process has ever seen.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// acquireSession blocks until this goroutine owns the session.
func (o *Orchestrator) acquireSession(sessionID string) *sessionLock {
	o.mu.Lock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		o.locks[sessionID] = lock
	}
	lock.refs++
	o.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseSession releases the session and drops the table entry once
// no other goroutine holds or waits on it.
func (o *Orchestrator) releaseSession(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	o.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(o.locks, sessionID)
	}
	o.mu.Unlock()
}

// HandleMessage is the single entry point for customer messages.
//
// The session is loaded or created, the message durably appended, and
// the routing loop run to a terminal state or a fault. Runs for the
// same session execute one at a time; a message for a session that is
// already terminal replays the recorded outcome without side effects.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, externalUserID, text string) (Result, error) {
	lock := o.acquireSession(sessionID)
	defer o.releaseSession(sessionID, lock)

	sess, newSession, err := o.loadOrCreate(ctx, sessionID, externalUserID)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}

	if sess.Status.IsTerminal() {
		o.logger.Info("terminal_replay",
			"session_id", sessionID,
			"status", string(sess.Status),
		)
		return Result{
			SessionID: sessionID,
			Status:    sess.Status,
			Reply:     sess.LastCustomerVisibleMessage(),
			Replayed:  true,
		}, nil
	}

	msg := sess.AppendMessage(session.RoleCustomer, text)
	if newSession {
		err = o.store.Commit(ctx, sess)
	} else {
		err = o.store.AppendMessage(ctx, sessionID, msg)
	}
	if err != nil {
		return Result{SessionID: sessionID, Status: sess.Status}, err
	}

	o.publish(ctx, &commbus.TicketReceived{
		SessionID:      sessionID,
		ExternalUserID: externalUserID,
		NewSession:     newSession,
		MessagePreview: preview(text),
	})

	o.statsMu.Lock()
	o.stats.SessionsStarted++
	o.statsMu.Unlock()

	return o.run(ctx, sess, msg)
}

// loadOrCreate fetches the session or creates a fresh open one.
func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID, externalUserID string) (*session.Session, bool, error) {
	sess, err := o.store.Load(ctx, sessionID)
	if err == nil {
		return sess, false, nil
	}
	if !fault.IsNotFound(err) {
		return nil, false, err
	}
	o.logger.Info("session_created",
		"session_id", sessionID,
		"external_user_id", externalUserID,
	)
	return session.NewSession(sessionID, externalUserID), true, nil
}

// run executes the routing loop until a terminal decision or a fault.
func (o *Orchestrator) run(ctx context.Context, sess *session.Session, msg session.Message) (Result, error) {
	start := time.Now()
	current := o.startingStage(sess)

	for hop := 1; hop <= o.cfg.MaxTransitions; hop++ {
		st := o.stages[current]

		sess.RecordStageStart(string(current), hop)
		o.publish(ctx, &commbus.StageStarted{
			Stage:     string(current),
			SessionID: sess.SessionID,
			Hop:       hop,
		})

		stageStart := time.Now()
		next, sig, err := o.runStage(ctx, st, sess, msg)
		durationMS := int(time.Since(stageStart).Milliseconds())

		if err != nil {
			return o.failRun(ctx, sess, current, hop, durationMS, start, err)
		}

		sess = next
		sess.LastSignal = sig.Name()
		observability.RecordStageExecution(string(current), "success", durationMS)

		decision, err := o.router.Next(sess, sig)
		if err != nil {
			sess.RecordStageComplete(string(current), "success", sig.Name(), "", nil, durationMS)
			return o.failRun(ctx, sess, current, hop, durationMS, start, err)
		}

		sess.RecordStageComplete(string(current), "success", sig.Name(), decision.String(), nil, durationMS)
		observability.RecordRoutingTransition(sig.Name(), decision.String())
		o.publish(ctx, &commbus.StageCompleted{
			Stage:      string(current),
			SessionID:  sess.SessionID,
			Hop:        hop,
			Status:     "success",
			Signal:     sig.Name(),
			DurationMS: durationMS,
		})
		o.publish(ctx, &commbus.RoutingDecided{
			SessionID: sess.SessionID,
			Signal:    sig.Name(),
			NextStage: string(decision.Next),
			Terminal:  string(decision.Terminal),
			Hop:       hop,
		})

		if decision.IsTerminal() {
			return o.finishRun(ctx, sess, decision.Terminal, hop, start)
		}

		if err := o.store.Commit(ctx, sess); err != nil {
			return o.failRun(ctx, sess, current, hop, durationMS, start, err)
		}
		current = decision.Next
	}

	err := fault.NewRoutingExhausted(sess.SessionID, o.cfg.MaxTransitions, o.cfg.MaxTransitions)
	return o.failRun(ctx, sess, current, o.cfg.MaxTransitions, 0, start, err)
}

// startingStage picks the loop's first stage. A fresh session always
// classifies first; an open session whose previous run failed mid-way
// resumes from the stage its last recorded signal routes to, so a
// retry does not redo completed stages.
func (o *Orchestrator) startingStage(sess *session.Session) stage.Kind {
	sig := resumeSignal(sess)
	if sig == nil {
		return stage.KindClassifier
	}

	decision, err := o.router.Next(sess, sig)
	if err != nil || decision.IsTerminal() {
		return stage.KindClassifier
	}

	o.logger.Info("run_resumed",
		"session_id", sess.SessionID,
		"last_signal", sess.LastSignal,
		"stage", string(decision.Next),
	)
	return decision.Next
}

// resumeSignal rebuilds the routing signal of the last completed stage
// from persisted session state. Returns nil when the session has no
// usable signal and must start over at classification.
func resumeSignal(sess *session.Session) stage.Signal {
	switch sess.LastSignal {
	case (stage.Classified{}).Name():
		if sess.IssueType == "" || sess.Urgency == "" {
			return nil
		}
		return stage.Classified{IssueType: sess.IssueType, Urgency: sess.Urgency, Sentiment: sess.Sentiment}
	case (stage.RetrievalResult{}).Name():
		if sess.RetrievalConfidence == nil || sess.Urgency == "" {
			return nil
		}
		return stage.RetrievalResult{Confidence: *sess.RetrievalConfidence, ArticlesFound: sess.ArticlesFound}
	case (stage.ResolutionOutcome{Resolved: false}).Name():
		return stage.ResolutionOutcome{Resolved: false}
	default:
		return nil
	}
}

// runStage invokes one stage with bounded retry on collaborator faults.
func (o *Orchestrator) runStage(ctx context.Context, st stage.Stage, sess *session.Session, msg session.Message) (*session.Session, stage.Signal, error) {
	backoff := o.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			o.logger.Warn("stage_retry",
				"stage", string(st.Kind()),
				"session_id", sess.SessionID,
				"attempt", attempt,
				"error", lastErr.Error(),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			backoff *= 2
		}

		next, sig, err := st.Run(ctx, sess, msg)
		if err == nil {
			return next, sig, nil
		}
		lastErr = err

		// Only collaborator faults are transient. Contract violations
		// and context cancellation fail immediately.
		if _, ok := fault.IsCollaboratorFailure(err); !ok {
			return nil, nil, err
		}
		if ctx.Err() != nil {
			return nil, nil, lastErr
		}
	}
	return nil, nil, lastErr
}

// finishRun applies the terminal status, commits, and reports.
func (o *Orchestrator) finishRun(ctx context.Context, sess *session.Session, terminal session.Status, hops int, start time.Time) (Result, error) {
	var err error
	switch terminal {
	case session.StatusResolved:
		err = sess.MarkResolved()
	case session.StatusEscalated:
		err = sess.MarkEscalated()
	default:
		err = fmt.Errorf("unknown terminal status %q", terminal)
	}
	if err != nil {
		return Result{SessionID: sess.SessionID, Status: sess.Status, Hops: hops}, err
	}

	if err := o.store.Commit(ctx, sess); err != nil {
		return Result{SessionID: sess.SessionID, Status: sess.Status, Hops: hops}, err
	}

	durationMS := int(time.Since(start).Milliseconds())
	o.statsMu.Lock()
	if terminal == session.StatusResolved {
		o.stats.Resolved++
	} else {
		o.stats.Escalated++
	}
	o.statsMu.Unlock()

	if terminal == session.StatusResolved {
		observability.RecordRoutingRun("resolved", durationMS)
		o.publish(ctx, &commbus.SessionResolved{
			SessionID:  sess.SessionID,
			IssueType:  string(sess.IssueType),
			Urgency:    string(sess.Urgency),
			Hops:       hops,
			DurationMS: durationMS,
		})
	} else {
		confidence := 0.0
		if sess.RetrievalConfidence != nil {
			confidence = *sess.RetrievalConfidence
		}
		observability.RecordRoutingRun("escalated", durationMS)
		o.publish(ctx, &commbus.SessionEscalated{
			SessionID:  sess.SessionID,
			IssueType:  string(sess.IssueType),
			Urgency:    string(sess.Urgency),
			Confidence: confidence,
			Hops:       hops,
			DurationMS: durationMS,
		})
	}

	o.logger.Info("routing_complete",
		"session_id", sess.SessionID,
		"status", string(terminal),
		"hops", hops,
		"duration_ms", durationMS,
	)

	return Result{
		SessionID: sess.SessionID,
		Status:    terminal,
		Reply:     sess.LastCustomerVisibleMessage(),
		Hops:      hops,
	}, nil
}

// failRun persists what the run accomplished, reports the fault, and
// leaves the session open.
func (o *Orchestrator) failRun(ctx context.Context, sess *session.Session, current stage.Kind, hop, durationMS int, start time.Time, runErr error) (Result, error) {
	reason := "collaborator_failure"
	outcome := "error"
	switch {
	case fault.IsRoutingExhausted(runErr):
		reason = "routing_exhausted"
		outcome = "exhausted"
	case fault.IsInvalidTransition(runErr):
		reason = "invalid_transition"
	}

	errStr := runErr.Error()
	sess.RecordStageComplete(string(current), "error", "", "", &errStr, durationMS)
	if commitErr := o.store.Commit(ctx, sess); commitErr != nil {
		o.logger.Error("failed_run_commit_failed",
			"session_id", sess.SessionID,
			"error", commitErr.Error(),
		)
	}

	if reason != "routing_exhausted" {
		observability.RecordStageExecution(string(current), "error", durationMS)
		o.publish(ctx, &commbus.StageCompleted{
			Stage:      string(current),
			SessionID:  sess.SessionID,
			Hop:        hop,
			Status:     "error",
			DurationMS: durationMS,
			Error:      &errStr,
		})
	}

	totalMS := int(time.Since(start).Milliseconds())
	observability.RecordRoutingRun(outcome, totalMS)
	o.publish(ctx, &commbus.RoutingFailed{
		SessionID: sess.SessionID,
		Reason:    reason,
		Error:     errStr,
		Hops:      hop,
	})

	o.statsMu.Lock()
	o.stats.Failed++
	o.statsMu.Unlock()

	o.logger.Error("routing_failed",
		"session_id", sess.SessionID,
		"reason", reason,
		"hops", hop,
		"error", errStr,
	)

	return Result{
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Reply:     sess.LastCustomerVisibleMessage(),
		Hops:      hop,
	}, runErr
}

// publish emits a bus event, tolerating a nil bus in tests.
func (o *Orchestrator) publish(ctx context.Context, event commbus.Message) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		o.logger.Warn("event_publish_failed",
			"event", commbus.GetMessageType(event),
			"error", err.Error(),
		)
	}
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

func (o *Orchestrator) handleGetSessionStatus(ctx context.Context, message commbus.Message) (any, error) {
	query, ok := message.(*commbus.GetSessionStatus)
	if !ok {
		return nil, fmt.Errorf("unexpected message type for GetSessionStatus")
	}

	sess, err := o.store.Load(ctx, query.SessionID)
	if fault.IsNotFound(err) {
		return &commbus.SessionStatusResponse{SessionID: query.SessionID, Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &commbus.SessionStatusResponse{
		SessionID: sess.SessionID,
		Found:     true,
		Status:    string(sess.Status),
		IssueType: string(sess.IssueType),
		Urgency:   string(sess.Urgency),
		Messages:  len(sess.Conversation),
	}, nil
}

func (o *Orchestrator) handleInvalidatePreferenceCache(ctx context.Context, message commbus.Message) (any, error) {
	cmd, ok := message.(*commbus.InvalidatePreferenceCache)
	if !ok {
		return nil, fmt.Errorf("unexpected message type for InvalidatePreferenceCache")
	}
	if cmd.UserID == "" {
		return nil, nil
	}

	if inv, ok := o.store.(PreferenceInvalidator); ok {
		inv.InvalidatePreferences(cmd.UserID)
		o.logger.Info("preference_cache_invalidated", "external_user_id", cmd.UserID)
	}
	return nil, nil
}

func (o *Orchestrator) handleGetRoutingStats(ctx context.Context, message commbus.Message) (any, error) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	stats := o.stats
	return &stats, nil
}

// preview truncates a message for event payloads.
func preview(text string) string {
	const max = 80
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
